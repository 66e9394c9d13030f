package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const paymentColumns = `id, order_id, amount, currency, status, gateway_ref, redirect_url,
	transaction_id, payment_type, gateway_response, paid_at, created_at, updated_at`

type paymentRepository struct {
	q dbtx
}

// Create вставляет платёж; уникальный индекс по order_id гарантирует один платёж на заказ.
func (r *paymentRepository) Create(ctx context.Context, p domain.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		p.ID, p.OrderID, p.Amount, p.Currency, string(p.Status), p.GatewayRef, p.RedirectURL,
		p.TransactionID, p.PaymentType, p.GatewayResponse, nullTime(p.PaidAt), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError(domain.ConflictDuplicatePayment,
				"payment for order "+p.OrderID+" already exists", false)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.get(ctx, orderID, false)
}

func (r *paymentRepository) GetByOrderIDForUpdate(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.get(ctx, orderID, true)
}

func (r *paymentRepository) get(ctx context.Context, orderID string, forUpdate bool) (domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		p      domain.Payment
		status string
		paidAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &status, &p.GatewayRef, &p.RedirectURL,
		&p.TransactionID, &p.PaymentType, &p.GatewayResponse, &paidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.NewNotFoundError("payment", orderID)
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	p.Status = domain.PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		p.PaidAt = &t
	}
	return p, nil
}

func (r *paymentRepository) Update(ctx context.Context, p domain.Payment) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
		    gateway_ref = $3,
		    redirect_url = $4,
		    transaction_id = $5,
		    payment_type = $6,
		    gateway_response = $7,
		    paid_at = $8,
		    updated_at = $9
		WHERE order_id = $1
	`,
		p.OrderID, string(p.Status), p.GatewayRef, p.RedirectURL, p.TransactionID,
		p.PaymentType, p.GatewayResponse, nullTime(p.PaidAt), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for payment update: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError("payment", p.OrderID)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
