package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// CashSession brackets a cashier shift. At most one session per tenant may
// be open at any time.
type CashSession struct {
	bun.BaseModel `bun:"table:cash_sessions"`

	ID       string        `bun:"id,pk" json:"id"`
	TenantID string        `bun:"tenant_id,notnull" json:"tenant_id"`
	Number   int           `bun:"number,notnull" json:"number"`
	Status   SessionStatus `bun:"status,notnull" json:"status"`

	OpeningBalance decimal.Decimal `bun:"opening_balance,notnull,type:decimal(12,2)" json:"opening_balance"`
	OpenedBy       string          `bun:"opened_by,notnull" json:"opened_by"`
	OpenedAt       time.Time       `bun:"opened_at,notnull" json:"opened_at"`

	// Closing figures are written once on Close.
	ExpectedBalance decimal.NullDecimal `bun:"expected_balance,type:decimal(12,2)" json:"expected_balance"`
	CountedBalance  decimal.NullDecimal `bun:"counted_balance,type:decimal(12,2)" json:"counted_balance"`
	Difference      decimal.NullDecimal `bun:"difference,type:decimal(12,2)" json:"difference"`
	ClosingNote     string              `bun:"closing_note,nullzero" json:"closing_note,omitempty"`
	ClosedBy        string              `bun:"closed_by,nullzero" json:"closed_by,omitempty"`
	ClosedAt        *time.Time          `bun:"closed_at,nullzero" json:"closed_at,omitempty"`
}

type MovementKind string

const (
	// Inflow is a manual cash supply ("suprimento"), Outflow a manual
	// withdrawal ("sangria").
	MovementInflow  MovementKind = "inflow"
	MovementOutflow MovementKind = "outflow"
)

// CashMovement rows are append-only.
type CashMovement struct {
	bun.BaseModel `bun:"table:cash_movements"`

	ID              string          `bun:"id,pk" json:"id"`
	TenantID        string          `bun:"tenant_id,notnull" json:"tenant_id"`
	SessionID       string          `bun:"session_id,notnull" json:"session_id"`
	Kind            MovementKind    `bun:"kind,notnull" json:"kind"`
	Amount          decimal.Decimal `bun:"amount,notnull,type:decimal(12,2)" json:"amount"`
	PaymentMethodID string          `bun:"payment_method_id,notnull" json:"payment_method_id"`
	OperatorID      string          `bun:"operator_id,notnull" json:"operator_id"`
	Note            string          `bun:"note,nullzero" json:"note,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// MethodBreakdownRow aggregates settled payments and manual movements for
// one payment method inside a session window.
type MethodBreakdownRow struct {
	PaymentMethodID string          `json:"payment_method_id"`
	Payments        decimal.Decimal `json:"payments"`
	Inflows         decimal.Decimal `json:"inflows"`
	Outflows        decimal.Decimal `json:"outflows"`
	Net             decimal.Decimal `json:"net"`
}

// ModeBreakdownRow aggregates settled payments per delivery mode.
type ModeBreakdownRow struct {
	Mode     DeliveryMode    `json:"mode"`
	Payments decimal.Decimal `json:"payments"`
}

// Reconciliation is the close-time (or on-demand) report for a session.
type Reconciliation struct {
	SessionID       string               `json:"session_id"`
	ExpectedBalance decimal.Decimal      `json:"expected_balance"`
	CountedBalance  decimal.NullDecimal  `json:"counted_balance"`
	Difference      decimal.NullDecimal  `json:"difference"`
	Methods         []MethodBreakdownRow `json:"methods"`
	Modes           []ModeBreakdownRow   `json:"modes"`
}
