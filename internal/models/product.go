package models

import (
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Product is the catalog entry orders capture prices from. Catalog
// management lives in another service; this one only reads it.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID       string          `bun:"id,pk" json:"id"`
	TenantID string          `bun:"tenant_id,notnull" json:"tenant_id"`
	Name     string          `bun:"name,notnull" json:"name"`
	Price    decimal.Decimal `bun:"price,notnull,type:decimal(12,2)" json:"price"`
	Active   bool            `bun:"active,notnull,default:true" json:"active"`
}
