package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further status transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

type DeliveryMode string

const (
	DeliveryTable   DeliveryMode = "table"
	DeliveryCourier DeliveryMode = "delivery"
	DeliveryCounter DeliveryMode = "counter"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID       string       `bun:"id,pk" json:"id"`
	TenantID string       `bun:"tenant_id,notnull" json:"tenant_id"`
	Number   int          `bun:"number,notnull" json:"number"`
	Mode     DeliveryMode `bun:"mode,notnull" json:"mode"`
	Status   OrderStatus  `bun:"status,notnull" json:"status"`

	// TotalAmount is the sum of captured line item and addon prices.
	// ReceivedAmount accumulates partial payments and resets to zero
	// when the order settles.
	TotalAmount    decimal.Decimal `bun:"total_amount,notnull,type:decimal(12,2)" json:"total_amount"`
	ReceivedAmount decimal.Decimal `bun:"received_amount,notnull,type:decimal(12,2)" json:"received_amount"`

	TableID         string `bun:"table_id,nullzero" json:"table_id,omitempty"`
	CustomerID      string `bun:"customer_id,nullzero" json:"customer_id,omitempty"`
	CustomerName    string `bun:"customer_name,nullzero" json:"customer_name,omitempty"`
	DeliveryAddress string `bun:"delivery_address,nullzero" json:"delivery_address,omitempty"`
	Notes           string `bun:"notes,nullzero" json:"notes,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// OrderCounter is the per-tenant source of daily order numbers. The row is
// locked while a number is assigned so two inserts never share one.
type OrderCounter struct {
	bun.BaseModel `bun:"table:order_counters"`

	TenantID   string    `bun:"tenant_id,pk"`
	Day        time.Time `bun:"day,notnull"`
	LastNumber int       `bun:"last_number,notnull"`
}

type OrderLineItem struct {
	bun.BaseModel `bun:"table:order_line_items"`

	ID        string `bun:"id,pk" json:"id"`
	OrderID   string `bun:"order_id,notnull" json:"order_id"`
	ProductID string `bun:"product_id,notnull" json:"product_id"`
	Name      string `bun:"name,notnull" json:"name"`
	Quantity  int    `bun:"quantity,notnull" json:"quantity"`
	// UnitPrice is captured from the catalog at order time and never
	// follows later catalog changes.
	UnitPrice decimal.Decimal `bun:"unit_price,notnull,type:decimal(12,2)" json:"unit_price"`
	Note      string          `bun:"note,nullzero" json:"note,omitempty"`
}

type LineItemAddon struct {
	bun.BaseModel `bun:"table:line_item_addons"`

	ID         string          `bun:"id,pk" json:"id"`
	LineItemID string          `bun:"line_item_id,notnull" json:"line_item_id"`
	OrderID    string          `bun:"order_id,notnull" json:"order_id"`
	ProductID  string          `bun:"product_id,notnull" json:"product_id"`
	Name       string          `bun:"name,notnull" json:"name"`
	Quantity   int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice  decimal.Decimal `bun:"unit_price,notnull,type:decimal(12,2)" json:"unit_price"`
}

// LineTotal is quantity times captured unit price.
func (li *OrderLineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

func (a *LineItemAddon) LineTotal() decimal.Decimal {
	return a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// LineItemWithAddons pairs a line item with its addon rows for hydration.
type LineItemWithAddons struct {
	OrderLineItem
	Addons []LineItemAddon `json:"addons"`
}

// HydratedOrder is the full order payload served by the API and published
// to real-time observers.
type HydratedOrder struct {
	Order
	Items    []LineItemWithAddons `json:"items"`
	Payments []Payment            `json:"payments"`
}
