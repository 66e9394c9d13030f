// Package webhook принимает HTTP-уведомления платёжного шлюза.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
)

// NotificationPath — путь приёма уведомлений относительно корня маршрутизатора.
const NotificationPath = "/v1/payments/notifications"

const defaultMaxBody = 1 << 20

// CallbackProcessor применяет разобранное уведомление.
type CallbackProcessor interface {
	Process(ctx context.Context, cb payment.Callback) (payment.Result, error)
}

// Handler отвечает шлюзу кодами, по которым тот решает, повторять ли доставку:
// 2xx и 4xx окончательны, 5xx повторяются.
type Handler struct {
	processor CallbackProcessor
	logger    *log.Entry
	maxBody   int64
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBody ограничивает размер тела запроса.
func WithMaxBody(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler создаёт обработчик уведомлений.
func NewHandler(processor CallbackProcessor, opts ...Option) *Handler {
	h := &Handler{
		processor: processor,
		logger:    log.WithField("component", "payment-webhook"),
		maxBody:   defaultMaxBody,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes регистрирует маршруты обработчика.
func (h *Handler) Routes(r chi.Router) {
	r.Post(NotificationPath, h.ServeNotification)
}

// ServeNotification разбирает тело, проверяет подпись и применяет уведомление.
func (h *Handler) ServeNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusBadRequest, "payload_too_large", "notification body is too large")
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "unreadable_body", "failed to read notification body")
		return
	}

	cb, err := payment.ParseNotification(body)
	if err != nil {
		h.fail(r.Context(), w, cb, err)
		return
	}

	result, err := h.processor.Process(r.Context(), cb)
	if err != nil {
		h.fail(r.Context(), w, cb, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":        result.Outcome,
		"order_id":       result.OrderID,
		"payment_id":     result.PaymentID,
		"payment_status": result.PaymentStatus,
		"order_status":   result.OrderStatus,
	})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, cb payment.Callback, err error) {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "notification could not be processed, retry later"
	}

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"order_number":   cb.OrderNumber,
		"transaction_id": cb.TransactionID,
		"http_status":    status,
		"request_id":     middleware.GetReqID(ctx),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("payment notification failed")
	} else {
		entry.Warn("payment notification rejected")
	}
	writeError(ctx, w, status, code, message)
}

// classify переводит доменную ошибку в HTTP-статус и машинный код.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid_notification"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	}
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = id
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
