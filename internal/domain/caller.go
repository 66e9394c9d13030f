package domain

import "strings"

// Role — роль вызывающего пользователя.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ParseRole нормализует строковое значение роли.
func ParseRole(raw string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// Caller — идентичность, от имени которой выполняется операция.
type Caller struct {
	UserID string
	Role   Role
}

// SystemPaymentCaller — принципал, от имени которого сверка платежей двигает статус заказа.
var SystemPaymentCaller = Caller{UserID: "system:payment-reconciliation", Role: RoleAdmin}

// IsAdmin сообщает, обладает ли вызывающий правами администратора.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanAccess разрешает доступ администратору или владельцу заказа.
func (c Caller) CanAccess(order Order) bool {
	return c.IsAdmin() || order.OwnedBy(c.UserID)
}
