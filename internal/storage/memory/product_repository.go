package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// productRepository — in-memory каталог с остатками.
type productRepository struct {
	view
}

func (r *productRepository) Create(_ context.Context, product domain.Product) error {
	defer r.lock()()

	st := r.data()
	if _, exists := st.products[product.ID]; exists {
		return domain.NewConflictError(domain.ConflictDuplicate, "product "+product.ID+" already exists", false)
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now()
	}
	product.UpdatedAt = product.CreatedAt
	st.products[product.ID] = product
	return nil
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	defer r.rlock()()

	product, ok := r.data().products[id]
	if !ok {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	return product, nil
}

// CompareAndAdjustStock применяет delta, только если остаток не изменился с момента чтения.
func (r *productRepository) CompareAndAdjustStock(_ context.Context, id string, expected, delta int64) (int64, error) {
	defer r.lock()()

	st := r.data()
	product, ok := st.products[id]
	if !ok {
		return 0, domain.NewNotFoundError("product", id)
	}
	if product.StockQuantity != expected {
		return product.StockQuantity, domain.NewConflictError(domain.ConflictStock,
			fmt.Sprintf("stock of product %s changed: expected %d, actual %d", id, expected, product.StockQuantity), true)
	}
	if product.StockQuantity+delta < 0 {
		return product.StockQuantity, domain.NewConflictError(domain.ConflictInsufficient,
			fmt.Sprintf("stock of product %s would become negative", id), false)
	}

	product.StockQuantity += delta
	product.UpdatedAt = now()
	st.products[id] = product
	return product.StockQuantity, nil
}

// AdjustStock применяет delta к текущему остатку.
func (r *productRepository) AdjustStock(_ context.Context, id string, delta int64) (int64, error) {
	defer r.lock()()

	st := r.data()
	product, ok := st.products[id]
	if !ok {
		return 0, domain.NewNotFoundError("product", id)
	}
	if product.StockQuantity+delta < 0 {
		return product.StockQuantity, domain.NewConflictError(domain.ConflictInsufficient,
			fmt.Sprintf("stock of product %s would become negative", id), false)
	}

	product.StockQuantity += delta
	product.UpdatedAt = now()
	st.products[id] = product
	return product.StockQuantity, nil
}

func (r *productRepository) SetStatus(_ context.Context, id string, status domain.ProductStatus) (domain.Product, error) {
	defer r.lock()()

	st := r.data()
	product, ok := st.products[id]
	if !ok {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	product.Status = status
	product.UpdatedAt = now()
	st.products[id] = product
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
