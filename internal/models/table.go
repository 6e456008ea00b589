package models

import "github.com/uptrace/bun"

type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
)

// Table is mutated only as a side effect of order status transitions.
type Table struct {
	bun.BaseModel `bun:"table:tables"`

	ID       string      `bun:"id,pk" json:"id"`
	TenantID string      `bun:"tenant_id,notnull" json:"tenant_id"`
	Name     string      `bun:"name,notnull" json:"name"`
	Status   TableStatus `bun:"status,notnull" json:"status"`
	OrderID  string      `bun:"order_id,nullzero" json:"order_id,omitempty"`
}
