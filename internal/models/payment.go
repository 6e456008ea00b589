package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PaymentMethod carries a percentage discount that applies to the order
// total when the method is used, not to the individual payment.
type PaymentMethod struct {
	bun.BaseModel `bun:"table:payment_methods"`

	ID          string          `bun:"id,pk" json:"id"`
	TenantID    string          `bun:"tenant_id,notnull" json:"tenant_id"`
	Name        string          `bun:"name,notnull" json:"name"`
	DiscountPct decimal.Decimal `bun:"discount_pct,notnull,type:decimal(5,2)" json:"discount_pct"`
}

// DiscountedTotal applies the method's percentage discount to an order total.
func (m *PaymentMethod) DiscountedTotal(total decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(m.DiscountPct.Div(decimal.NewFromInt(100)))
	return total.Mul(factor).Round(2)
}

// Payment rows are append-only. They are never updated or deleted in the
// normal flow.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID              string          `bun:"id,pk" json:"id"`
	TenantID        string          `bun:"tenant_id,notnull" json:"tenant_id"`
	OrderID         string          `bun:"order_id,notnull" json:"order_id"`
	PaymentMethodID string          `bun:"payment_method_id,notnull" json:"payment_method_id"`
	Amount          decimal.Decimal `bun:"amount,notnull,type:decimal(12,2)" json:"amount"`
	Note            string          `bun:"note,nullzero" json:"note,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
}
