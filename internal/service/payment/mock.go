package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockGateway — конфигурируемая заглушка Gateway для разработки и тестов.
type MockGateway struct {
	mu sync.Mutex

	// BaseURL — префикс ссылки оплаты.
	BaseURL string
	Err     error

	calls    int
	requests []ChargeRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{BaseURL: "https://pay.example.test/snap/v2/vtweb/"}
}

// Initiate возвращает детерминированный токен вида mock-<номер заказа>.
func (m *MockGateway) Initiate(_ context.Context, req ChargeRequest) (Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.requests = append(m.requests, req)
	if m.Err != nil {
		return Charge{}, m.Err
	}

	token := "mock-" + req.OrderNumber
	charge := Charge{Token: token, RedirectURL: m.BaseURL + token}
	raw, err := json.Marshal(map[string]any{
		"token":        charge.Token,
		"redirect_url": charge.RedirectURL,
		"order_id":     req.OrderNumber,
		"gross_amount": req.Amount,
	})
	if err != nil {
		return Charge{}, fmt.Errorf("marshal mock response: %w", err)
	}
	charge.Raw = raw
	return charge, nil
}

// Calls возвращает число вызовов Initiate.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests возвращает копию принятых запросов.
func (m *MockGateway) Requests() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChargeRequest(nil), m.requests...)
}

var _ Gateway = (*MockGateway)(nil)
