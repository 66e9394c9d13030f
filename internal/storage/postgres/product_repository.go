package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type productRepository struct {
	q dbtx
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, status, stock_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, product.ID, product.Name, product.Price, string(product.Status), product.StockQuantity, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError(domain.ConflictDuplicate, "product "+product.ID+" already exists", false)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	var (
		product domain.Product
		status  string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, price, status, stock_quantity, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Price, &status, &product.StockQuantity, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.NewNotFoundError("product", id)
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.Status = domain.ProductStatus(status)
	return product, nil
}

// CompareAndAdjustStock — условное обновление: остаток меняется, только если он всё ещё равен expected.
func (r *productRepository) CompareAndAdjustStock(ctx context.Context, id string, expected, delta int64) (int64, error) {
	var stock int64
	err := r.q.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $3,
		    updated_at = $4
		WHERE id = $1
		  AND stock_quantity = $2
		  AND stock_quantity + $3 >= 0
		RETURNING stock_quantity
	`, id, expected, delta, time.Now().UTC()).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("compare and adjust stock: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if current.StockQuantity != expected {
		return current.StockQuantity, domain.NewConflictError(domain.ConflictStock,
			fmt.Sprintf("stock of product %s changed: expected %d, actual %d", id, expected, current.StockQuantity), true)
	}
	return current.StockQuantity, domain.NewConflictError(domain.ConflictInsufficient,
		fmt.Sprintf("stock of product %s would become negative", id), false)
}

// AdjustStock применяет delta к текущему значению, не допуская отрицательного остатка.
func (r *productRepository) AdjustStock(ctx context.Context, id string, delta int64) (int64, error) {
	var stock int64
	err := r.q.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = $3
		WHERE id = $1
		  AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, id, delta, time.Now().UTC()).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return current.StockQuantity, domain.NewConflictError(domain.ConflictInsufficient,
		fmt.Sprintf("stock of product %s would become negative", id), false)
}

func (r *productRepository) SetStatus(ctx context.Context, id string, status domain.ProductStatus) (domain.Product, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	return r.Get(ctx, id)
}

var _ domain.ProductRepository = (*productRepository)(nil)
