package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// paymentRepository хранит платежи по ID заказа.
type paymentRepository struct {
	view
}

func (r *paymentRepository) Create(_ context.Context, payment domain.Payment) error {
	defer r.lock()()

	st := r.data()
	if _, exists := st.payments[payment.OrderID]; exists {
		return domain.NewConflictError(domain.ConflictDuplicatePayment,
			"payment for order "+payment.OrderID+" already exists", false)
	}
	st.payments[payment.OrderID] = clonePayment(payment)
	return nil
}

func (r *paymentRepository) GetByOrderID(_ context.Context, orderID string) (domain.Payment, error) {
	defer r.rlock()()

	payment, ok := r.data().payments[orderID]
	if !ok {
		return domain.Payment{}, domain.NewNotFoundError("payment", orderID)
	}
	return clonePayment(payment), nil
}

func (r *paymentRepository) GetByOrderIDForUpdate(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r *paymentRepository) Update(_ context.Context, payment domain.Payment) error {
	defer r.lock()()

	st := r.data()
	if _, ok := st.payments[payment.OrderID]; !ok {
		return domain.NewNotFoundError("payment", payment.OrderID)
	}
	st.payments[payment.OrderID] = clonePayment(payment)
	return nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
