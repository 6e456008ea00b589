// Package ledger is the append-only record of monetary receipts against
// orders. Business rules around settling live in the order service; this
// package only appends and aggregates rows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-pos/internal/models"
	"ms-pos/internal/utils"
)

type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// Append inserts one payment row. idb may be a transaction so the append
// commits or aborts together with the order mutation that caused it.
func (l *Ledger) Append(ctx context.Context, idb bun.IDB, p *models.Payment) error {
	if p.ID == "" {
		p.ID = utils.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if _, err := idb.NewInsert().Model(p).Exec(ctx); err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

// SumForOrder returns the total amount paid against an order.
func (l *Ledger) SumForOrder(ctx context.Context, idb bun.IDB, tenantID, orderID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := idb.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("SUM(amount)").
		Where("tenant_id = ?", tenantID).
		Where("order_id = ?", orderID).
		Scan(ctx, &sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments for order %s: %w", orderID, err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// ListForOrder returns an order's payments oldest first.
func (l *Ledger) ListForOrder(ctx context.Context, idb bun.IDB, tenantID, orderID string) ([]models.Payment, error) {
	return l.ListForOrders(ctx, idb, tenantID, []string{orderID})
}

// ListForOrders returns the payments of a batch of orders oldest first.
func (l *Ledger) ListForOrders(ctx context.Context, idb bun.IDB, tenantID string, orderIDs []string) ([]models.Payment, error) {
	var payments []models.Payment
	err := idb.NewSelect().
		Model(&payments).
		Where("tenant_id = ?", tenantID).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments for orders: %w", err)
	}
	return payments, nil
}

// HighestDiscountPct returns the largest payment-method discount among the
// methods already used on an order. Zero when the order has no payments.
func (l *Ledger) HighestDiscountPct(ctx context.Context, idb bun.IDB, tenantID, orderID string) (decimal.Decimal, error) {
	var pct decimal.NullDecimal
	err := idb.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("MAX(pm.discount_pct)").
		Join("JOIN payment_methods pm ON pm.id = payment.payment_method_id").
		Where("payment.tenant_id = ?", tenantID).
		Where("payment.order_id = ?", orderID).
		Scan(ctx, &pct)
	if err != nil {
		return decimal.Zero, fmt.Errorf("highest discount for order %s: %w", orderID, err)
	}
	if !pct.Valid {
		return decimal.Zero, nil
	}
	return pct.Decimal, nil
}
