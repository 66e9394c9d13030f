package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Service — административные операции со складом.
type Service struct {
	tx     domain.TxManager
	ledger *Ledger
	logger *log.Entry
}

// NewService создаёт сервис склада.
func NewService(tx domain.TxManager, ledger *Ledger, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	return &Service{tx: tx, ledger: ledger, logger: logger}
}

// Register заводит товар и открывает его журнал записью initial_stock.
func (s *Service) Register(ctx context.Context, caller domain.Caller, product domain.Product) (domain.Product, error) {
	if !caller.IsAdmin() {
		return domain.Product{}, domain.NewForbiddenError("only admin can register products")
	}

	var fields []domain.FieldError
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		fields = append(fields, domain.FieldError{Field: "id", Message: "is required"})
	}
	switch {
	case product.Price < 0:
		fields = append(fields, domain.FieldError{Field: "price", Message: "must be non-negative"})
	case product.Price > domain.MaxUnitPrice:
		fields = append(fields, domain.FieldError{Field: "price", Message: fmt.Sprintf("must not exceed %d", domain.MaxUnitPrice)})
	}
	switch {
	case product.StockQuantity < 0:
		fields = append(fields, domain.FieldError{Field: "stock_quantity", Message: "must be non-negative"})
	case product.StockQuantity > domain.MaxQuantity:
		fields = append(fields, domain.FieldError{Field: "stock_quantity", Message: fmt.Sprintf("must not exceed %d", domain.MaxQuantity)})
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	if product.Status != domain.ProductStatusActive && product.Status != domain.ProductStatusInactive {
		fields = append(fields, domain.FieldError{Field: "status", Message: "must be active or inactive"})
	}
	if len(fields) > 0 {
		return domain.Product{}, domain.NewValidationError("invalid product", fields...)
	}

	now := time.Now().UTC()
	product.CreatedAt, product.UpdatedAt = now, now

	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Products.Create(ctx, product); err != nil {
			return err
		}
		return s.ledger.append(ctx, repos, domain.InventoryLogEntry{
			ProductID:    product.ID,
			ChangeAmount: product.StockQuantity,
			Reason:       domain.InventoryReasonInitialStock,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"stock":      product.StockQuantity,
	}).Info("product registered")
	return product, nil
}

// AdjustResult — итог ручной корректировки.
type AdjustResult struct {
	Entry    domain.InventoryLogEntry
	NewStock int64
}

// Adjust вносит ручную корректировку остатка (только администратор).
func (s *Service) Adjust(ctx context.Context, caller domain.Caller, productID string, delta int64, note string) (AdjustResult, error) {
	if !caller.IsAdmin() {
		return AdjustResult{}, domain.NewForbiddenError("only admin can adjust stock")
	}
	if strings.TrimSpace(productID) == "" {
		return AdjustResult{}, domain.NewValidationError("invalid adjustment",
			domain.FieldError{Field: "product_id", Message: "is required"})
	}
	if delta == 0 {
		return AdjustResult{}, domain.NewValidationError("invalid adjustment",
			domain.FieldError{Field: "delta", Message: "must not be zero"})
	}

	var result AdjustResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		entry, stock, err := s.ledger.Adjust(ctx, repos, productID, delta, note)
		if err != nil {
			return err
		}
		result = AdjustResult{Entry: entry, NewStock: stock}
		return nil
	})
	if err != nil {
		return AdjustResult{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"delta":      delta,
		"stock":      result.NewStock,
		"actor":      caller.UserID,
	}).Info("stock adjusted")
	return result, nil
}

// Audit сверяет сумму журнала с текущим остатком товара.
func (s *Service) Audit(ctx context.Context, caller domain.Caller, productID string) (domain.StockAudit, error) {
	if !caller.IsAdmin() {
		return domain.StockAudit{}, domain.NewForbiddenError("only admin can audit stock")
	}

	var audit domain.StockAudit
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			return err
		}
		entries, err := repos.Inventory.ListByProduct(ctx, productID)
		if err != nil {
			return err
		}
		audit = domain.StockAudit{ProductID: productID, CurrentStock: product.StockQuantity, Entries: len(entries)}
		for _, entry := range entries {
			audit.LedgerSum += entry.ChangeAmount
		}
		return nil
	})
	if err != nil {
		return domain.StockAudit{}, err
	}

	if !audit.Consistent() {
		s.logger.WithFields(log.Fields{
			"product_id":    productID,
			"current_stock": audit.CurrentStock,
			"ledger_sum":    audit.LedgerSum,
		}).Warn("stock ledger mismatch")
	}
	return audit, nil
}

// SetStatus снимает товар с продажи или возвращает его (только администратор).
func (s *Service) SetStatus(ctx context.Context, caller domain.Caller, productID string, status domain.ProductStatus) (domain.Product, error) {
	if !caller.IsAdmin() {
		return domain.Product{}, domain.NewForbiddenError("only admin can change product status")
	}
	if status != domain.ProductStatusActive && status != domain.ProductStatusInactive {
		return domain.Product{}, domain.NewValidationError("invalid product status",
			domain.FieldError{Field: "status", Message: "must be active or inactive"})
	}

	product, err := s.tx.Repos().Products.SetStatus(ctx, strings.TrimSpace(productID), status)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"status":     product.Status,
		"actor":      caller.UserID,
	}).Info("product status changed")
	return product, nil
}
