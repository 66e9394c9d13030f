// Package cart — минимальные операции с корзиной покупателя.
package cart

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Service управляет строками корзины вызывающего пользователя.
type Service struct {
	tx     domain.TxManager
	logger *log.Entry
}

// NewService создаёт сервис корзины.
func NewService(tx domain.TxManager, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{tx: tx, logger: logger}
}

// Put задаёт количество товара в корзине. Остаток здесь не резервируется:
// окончательная проверка выполняется при оформлении заказа.
func (s *Service) Put(ctx context.Context, caller domain.Caller, productID string, quantity int64) (domain.CartItem, error) {
	productID = strings.TrimSpace(productID)

	var fields []domain.FieldError
	if productID == "" {
		fields = append(fields, domain.FieldError{Field: "product_id", Message: "is required"})
	}
	switch {
	case quantity <= 0:
		fields = append(fields, domain.FieldError{Field: "quantity", Message: "must be greater than zero"})
	case quantity > domain.MaxQuantity:
		fields = append(fields, domain.FieldError{Field: "quantity", Message: fmt.Sprintf("must not exceed %d", domain.MaxQuantity)})
	}
	if len(fields) > 0 {
		return domain.CartItem{}, domain.NewValidationError("invalid cart item", fields...)
	}

	item := domain.CartItem{UserID: caller.UserID, ProductID: productID, Quantity: quantity}
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			return err
		}
		if !product.Available() {
			return &domain.CartValidationError{Problems: []domain.LineProblem{{
				ProductID: productID, Code: domain.LineProblemUnavailable,
				Requested: quantity, Available: product.StockQuantity,
			}}}
		}
		return repos.Carts.Upsert(ctx, item)
	})
	if err != nil {
		return domain.CartItem{}, err
	}

	s.logger.WithFields(log.Fields{
		"user_id":    caller.UserID,
		"product_id": productID,
		"quantity":   quantity,
	}).Debug("cart line set")
	return item, nil
}

// Items возвращает корзину вызывающего.
func (s *Service) Items(ctx context.Context, caller domain.Caller) ([]domain.CartItem, error) {
	return s.tx.Repos().Carts.Items(ctx, caller.UserID)
}
