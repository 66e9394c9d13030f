package domain

import "time"

// ProductStatus — флаг доступности товара в каталоге.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Product — то, что движку нужно знать о товаре каталога.
type Product struct {
	ID            string
	Name          string
	Price         int64
	Status        ProductStatus
	StockQuantity int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available сообщает, можно ли продавать товар.
func (p Product) Available() bool {
	return p.Status == ProductStatusActive
}

// CartItem — строка корзины пользователя.
type CartItem struct {
	UserID    string
	ProductID string
	Quantity  int64
	AddedAt   time.Time
	UpdatedAt time.Time
}
