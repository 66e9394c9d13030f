// Package reorder переносит позиции прошлого заказа обратно в корзину.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// UnavailableItem — позиция, которую не удалось вернуть в корзину.
type UnavailableItem struct {
	ProductID string
	Requested int64
	Code      domain.LineProblemCode
	Available int64
}

// Result — итог повторного заказа.
type Result struct {
	Added            []domain.CartItem
	UnavailableItems []UnavailableItem
}

// Assembler собирает корзину из прошлого заказа.
type Assembler struct {
	tx     domain.TxManager
	logger *log.Entry
}

// NewAssembler создаёт Assembler.
func NewAssembler(tx domain.TxManager, logger *log.Entry) *Assembler {
	if logger == nil {
		logger = log.WithField("component", "reorder")
	}
	return &Assembler{tx: tx, logger: logger}
}

// Reorder добавляет в корзину вызывающего позиции заказа, кроме excluded.
// Позиции обрабатываются независимо: недоступные попадают в UnavailableItems,
// остальные объединяются с уже лежащими в корзине.
func (a *Assembler) Reorder(ctx context.Context, caller domain.Caller, orderID string, excluded []string) (Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Result{}, domain.NewValidationError("invalid request",
			domain.FieldError{Field: "order_id", Message: "is required"})
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[strings.TrimSpace(id)] = struct{}{}
	}

	var result Result
	err := a.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		result = Result{}
		order, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		// Повторить можно только свой заказ, даже администратору: корзина личная.
		if !order.OwnedBy(caller.UserID) {
			return domain.NewForbiddenError("order belongs to another user")
		}

		cart, err := repos.Carts.Items(ctx, caller.UserID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		inCart := make(map[string]int64, len(cart))
		for _, line := range cart {
			inCart[line.ProductID] = line.Quantity
		}

		for _, qty := range mergeItems(order.Items, skip) {
			item, problem, err := a.place(ctx, repos, caller.UserID, qty, inCart)
			if err != nil {
				return err
			}
			if problem != nil {
				result.UnavailableItems = append(result.UnavailableItems, *problem)
				continue
			}
			inCart[item.ProductID] = item.Quantity
			result.Added = append(result.Added, item)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	a.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"user_id":     caller.UserID,
		"added":       len(result.Added),
		"unavailable": len(result.UnavailableItems),
	}).Info("reorder assembled")
	return result, nil
}

type productQty struct {
	productID string
	quantity  int64
}

// mergeItems суммирует повторяющиеся товары заказа, сохраняя порядок первого появления.
func mergeItems(items []domain.OrderItem, skip map[string]struct{}) []productQty {
	index := make(map[string]int, len(items))
	var merged []productQty
	for _, item := range items {
		if _, excluded := skip[item.ProductID]; excluded {
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, productQty{productID: item.ProductID, quantity: item.Quantity})
	}
	return merged
}

func (a *Assembler) place(ctx context.Context, repos domain.Repositories, userID string, want productQty, inCart map[string]int64) (domain.CartItem, *UnavailableItem, error) {
	product, err := repos.Products.Get(ctx, want.productID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CartItem{}, &UnavailableItem{ProductID: want.productID, Requested: want.quantity, Code: domain.LineProblemNotFound}, nil
	}
	if err != nil {
		return domain.CartItem{}, nil, fmt.Errorf("load product %s: %w", want.productID, err)
	}
	if !product.Available() {
		return domain.CartItem{}, &UnavailableItem{
			ProductID: want.productID, Requested: want.quantity,
			Code: domain.LineProblemUnavailable, Available: product.StockQuantity,
		}, nil
	}

	total := inCart[want.productID] + want.quantity
	if total > product.StockQuantity {
		return domain.CartItem{}, &UnavailableItem{
			ProductID: want.productID, Requested: total,
			Code: domain.LineProblemInsufficientStock, Available: product.StockQuantity,
		}, nil
	}

	item := domain.CartItem{UserID: userID, ProductID: want.productID, Quantity: total}
	if err := repos.Carts.Upsert(ctx, item); err != nil {
		return domain.CartItem{}, nil, fmt.Errorf("upsert cart line %s: %w", want.productID, err)
	}
	return item, nil, nil
}
