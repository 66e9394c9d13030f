package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	// DefaultSnapBaseURL — sandbox Snap API.
	DefaultSnapBaseURL   = "https://app.sandbox.midtrans.com"
	snapTransactionsPath = "/snap/v1/transactions"
	maxGatewayBody       = 1 << 20
)

// SnapConfig настраивает HTTP-клиент Snap API.
type SnapConfig struct {
	BaseURL   string
	ServerKey string
	Timeout   time.Duration
	// HTTPClient подменяется в тестах.
	HTTPClient *http.Client
	Breaker    *retry.CircuitBreaker
	Logger     *log.Entry
}

// SnapGateway создаёт транзакции через Snap API (Midtrans).
type SnapGateway struct {
	baseURL   string
	serverKey string
	client    *http.Client
	breaker   *retry.CircuitBreaker
	logger    *log.Entry
}

// NewSnapGateway проверяет конфигурацию и создаёт клиент.
func NewSnapGateway(cfg SnapConfig) (*SnapGateway, error) {
	serverKey := strings.TrimSpace(cfg.ServerKey)
	if serverKey == "" {
		return nil, errors.New("snap gateway: server key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultSnapBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "snap-gateway")
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = retry.NewCircuitBreaker(5, 30*time.Second, logger)
	}
	return &SnapGateway{
		baseURL:   baseURL,
		serverKey: serverKey,
		client:    client,
		breaker:   breaker,
		logger:    logger,
	}, nil
}

type snapTransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type snapItem struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Name     string `json:"name"`
}

type snapRequest struct {
	TransactionDetails snapTransactionDetails `json:"transaction_details"`
	ItemDetails        []snapItem             `json:"item_details,omitempty"`
	CustomerDetails    map[string]string      `json:"customer_details,omitempty"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

// Initiate создаёт Snap-транзакцию. Номер заказа используется как order_id шлюза,
// по нему же приходят уведомления.
func (g *SnapGateway) Initiate(ctx context.Context, req ChargeRequest) (Charge, error) {
	body := snapRequest{
		TransactionDetails: snapTransactionDetails{OrderID: req.OrderNumber, GrossAmount: req.Amount},
	}
	// Snap требует, чтобы сумма позиций совпадала с gross_amount.
	var itemsTotal int64
	for _, item := range req.Items {
		itemsTotal += item.Quantity * item.UnitPrice
		body.ItemDetails = append(body.ItemDetails, snapItem{
			ID: item.ProductID, Price: item.UnitPrice, Quantity: item.Quantity, Name: item.ProductID,
		})
	}
	if itemsTotal != req.Amount {
		body.ItemDetails = nil
	}
	if req.UserID != "" {
		body.CustomerDetails = map[string]string{"customer_id": req.UserID}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Charge{}, fmt.Errorf("marshal snap request: %w", err)
	}

	var charge Charge
	err = g.breaker.Execute("snap_initiate", func() error {
		var callErr error
		charge, callErr = g.post(ctx, payload)
		return callErr
	})
	if errors.Is(err, retry.ErrCircuitOpen) {
		return Charge{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if err != nil {
		g.logger.WithError(err).WithField("order_number", req.OrderNumber).Warn("snap transaction failed")
		return Charge{}, err
	}
	return charge, nil
}

func (g *SnapGateway) post(ctx context.Context, payload []byte) (Charge, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+snapTransactionsPath, bytes.NewReader(payload))
	if err != nil {
		return Charge{}, fmt.Errorf("build snap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.Current().UserAgent())
	httpReq.SetBasicAuth(g.serverKey, "")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Charge{}, fmt.Errorf("%w: snap request: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return Charge{}, fmt.Errorf("%w: read snap response: %v", domain.ErrUnavailable, err)
	}

	var decoded snapResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.Join(decoded.ErrorMessages, "; ")
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return Charge{}, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Temporary:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	if decoded.Token == "" {
		return Charge{}, &GatewayError{StatusCode: resp.StatusCode, Message: "response has no token"}
	}
	return Charge{Token: decoded.Token, RedirectURL: decoded.RedirectURL, Raw: raw}, nil
}

var _ Gateway = (*SnapGateway)(nil)
