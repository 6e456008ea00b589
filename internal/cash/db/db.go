package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-pos/internal/apperr"
	"ms-pos/internal/cash"
	"ms-pos/internal/models"
)

// DB implements cash.Store over bun.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx cash.Tx) error) error {
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, bunTx bun.Tx) error {
		return fn(ctx, &Tx{idb: bunTx})
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		if openSessionViolation(err) {
			return apperr.Conflict("another cash session is already open")
		}
		return apperr.Internal("cash transaction failed", err)
	}
	return nil
}

// openSessionViolation reports whether err is the one-open-session unique
// index firing. In a concurrent double open the loser's insert lands here
// because neither transaction saw a row to lock.
func openSessionViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505" && pgErr.Field('n') == "idx_cash_sessions_one_open"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: cash_sessions.tenant_id")
}

func (d *DB) Session(ctx context.Context, tenantID, sessionID string) (*models.CashSession, error) {
	return getSession(ctx, d.Bun, tenantID, sessionID, false)
}

// FindOpenSession returns the tenant's open session or nil.
func (d *DB) FindOpenSession(ctx context.Context, tenantID string) (*models.CashSession, error) {
	return findOpenSession(ctx, d.Bun, tenantID, false)
}

func (d *DB) SettledPaymentsTotal(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	return settledPaymentsTotal(ctx, d.Bun, tenantID, from, to)
}

func (d *DB) MovementsTotal(ctx context.Context, tenantID, sessionID string, kind models.MovementKind) (decimal.Decimal, error) {
	return movementsTotal(ctx, d.Bun, tenantID, sessionID, kind)
}

// MethodBreakdown groups settled payments and manual movements by payment
// method for the window.
func (d *DB) MethodBreakdown(ctx context.Context, tenantID, sessionID string, from, to time.Time) ([]models.MethodBreakdownRow, error) {
	type paymentRow struct {
		PaymentMethodID string              `bun:"payment_method_id"`
		Total           decimal.NullDecimal `bun:"total"`
	}

	var paymentRows []paymentRow
	err := d.Bun.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("payment.payment_method_id").
		ColumnExpr("SUM(payment.amount) AS total").
		Join("JOIN orders o ON o.id = payment.order_id").
		Where("payment.tenant_id = ?", tenantID).
		Where("o.status = ?", models.OrderDelivered).
		Where("payment.created_at >= ?", from).
		Where("payment.created_at < ?", to).
		GroupExpr("payment.payment_method_id").
		Scan(ctx, &paymentRows)
	if err != nil {
		return nil, apperr.Internal("method breakdown payments", err)
	}

	type movementRow struct {
		PaymentMethodID string              `bun:"payment_method_id"`
		Kind            models.MovementKind `bun:"kind"`
		Total           decimal.NullDecimal `bun:"total"`
	}

	var movementRows []movementRow
	err = d.Bun.NewSelect().
		Model((*models.CashMovement)(nil)).
		ColumnExpr("payment_method_id").
		ColumnExpr("kind").
		ColumnExpr("SUM(amount) AS total").
		Where("tenant_id = ?", tenantID).
		Where("session_id = ?", sessionID).
		GroupExpr("payment_method_id, kind").
		Scan(ctx, &movementRows)
	if err != nil {
		return nil, apperr.Internal("method breakdown movements", err)
	}

	byMethod := make(map[string]*models.MethodBreakdownRow)
	rowFor := func(methodID string) *models.MethodBreakdownRow {
		if row, ok := byMethod[methodID]; ok {
			return row
		}
		row := &models.MethodBreakdownRow{
			PaymentMethodID: methodID,
			Payments:        decimal.Zero,
			Inflows:         decimal.Zero,
			Outflows:        decimal.Zero,
		}
		byMethod[methodID] = row
		return row
	}

	var methodOrder []string
	for _, r := range paymentRows {
		if _, seen := byMethod[r.PaymentMethodID]; !seen {
			methodOrder = append(methodOrder, r.PaymentMethodID)
		}
		if r.Total.Valid {
			rowFor(r.PaymentMethodID).Payments = r.Total.Decimal
		}
	}
	for _, r := range movementRows {
		if _, seen := byMethod[r.PaymentMethodID]; !seen {
			methodOrder = append(methodOrder, r.PaymentMethodID)
		}
		row := rowFor(r.PaymentMethodID)
		if !r.Total.Valid {
			continue
		}
		if r.Kind == models.MovementInflow {
			row.Inflows = r.Total.Decimal
		} else {
			row.Outflows = r.Total.Decimal
		}
	}

	result := make([]models.MethodBreakdownRow, 0, len(methodOrder))
	for _, methodID := range methodOrder {
		row := byMethod[methodID]
		row.Net = row.Payments.Add(row.Inflows).Sub(row.Outflows)
		result = append(result, *row)
	}
	return result, nil
}

// ModeBreakdown groups settled payments by the order's delivery mode.
func (d *DB) ModeBreakdown(ctx context.Context, tenantID string, from, to time.Time) ([]models.ModeBreakdownRow, error) {
	type row struct {
		Mode  models.DeliveryMode `bun:"mode"`
		Total decimal.NullDecimal `bun:"total"`
	}

	var rows []row
	err := d.Bun.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("o.mode AS mode").
		ColumnExpr("SUM(payment.amount) AS total").
		Join("JOIN orders o ON o.id = payment.order_id").
		Where("payment.tenant_id = ?", tenantID).
		Where("o.status = ?", models.OrderDelivered).
		Where("payment.created_at >= ?", from).
		Where("payment.created_at < ?", to).
		GroupExpr("o.mode").
		Scan(ctx, &rows)
	if err != nil {
		return nil, apperr.Internal("mode breakdown", err)
	}

	result := make([]models.ModeBreakdownRow, 0, len(rows))
	for _, r := range rows {
		total := decimal.Zero
		if r.Total.Valid {
			total = r.Total.Decimal
		}
		result = append(result, models.ModeBreakdownRow{Mode: r.Mode, Payments: total})
	}
	return result, nil
}

// Tx is the transaction-scoped implementation of cash.Tx.
type Tx struct {
	idb bun.IDB
}

func (t *Tx) FindOpenSessionForUpdate(ctx context.Context, tenantID string) (*models.CashSession, error) {
	return findOpenSession(ctx, t.idb, tenantID, true)
}

func (t *Tx) SessionForUpdate(ctx context.Context, tenantID, sessionID string) (*models.CashSession, error) {
	return getSession(ctx, t.idb, tenantID, sessionID, true)
}

// NextSessionNumber assigns the next sequential number for the tenant+day.
func (t *Tx) NextSessionNumber(ctx context.Context, tenantID string, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var max sql.NullInt64
	err := t.idb.NewSelect().
		Model((*models.CashSession)(nil)).
		ColumnExpr("MAX(number)").
		Where("tenant_id = ?", tenantID).
		Where("opened_at >= ?", start).
		Where("opened_at < ?", end).
		Scan(ctx, &max)
	if err != nil {
		return 0, fmt.Errorf("next session number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func (t *Tx) InsertSession(ctx context.Context, s *models.CashSession) error {
	if _, err := t.idb.NewInsert().Model(s).Exec(ctx); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CloseSession writes the closing figures. The open-session partial unique
// index releases once status leaves open.
func (t *Tx) CloseSession(ctx context.Context, s *models.CashSession) error {
	_, err := t.idb.NewUpdate().
		Model(s).
		Column("status", "expected_balance", "counted_balance", "difference", "closing_note", "closed_by", "closed_at").
		Where("tenant_id = ?", s.TenantID).
		Where("id = ?", s.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("close session %s: %w", s.ID, err)
	}
	return nil
}

func (t *Tx) InsertMovement(ctx context.Context, m *models.CashMovement) error {
	if _, err := t.idb.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (t *Tx) PaymentMethod(ctx context.Context, tenantID, methodID string) (*models.PaymentMethod, error) {
	var m models.PaymentMethod
	err := t.idb.NewSelect().
		Model(&m).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", methodID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("payment method " + methodID + " not found")
		}
		return nil, fmt.Errorf("get payment method %s: %w", methodID, err)
	}
	return &m, nil
}

func (t *Tx) SettledPaymentsTotal(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	return settledPaymentsTotal(ctx, t.idb, tenantID, from, to)
}

func (t *Tx) MovementsTotal(ctx context.Context, tenantID, sessionID string, kind models.MovementKind) (decimal.Decimal, error) {
	return movementsTotal(ctx, t.idb, tenantID, sessionID, kind)
}

// Shared query helpers so the read-only store and the transaction produce
// identical aggregations.

func getSession(ctx context.Context, idb bun.IDB, tenantID, sessionID string, forUpdate bool) (*models.CashSession, error) {
	var s models.CashSession
	q := idb.NewSelect().
		Model(&s).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", sessionID)
	if forUpdate && idb.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("cash session " + sessionID + " not found")
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &s, nil
}

func findOpenSession(ctx context.Context, idb bun.IDB, tenantID string, forUpdate bool) (*models.CashSession, error) {
	var s models.CashSession
	q := idb.NewSelect().
		Model(&s).
		Where("tenant_id = ?", tenantID).
		Where("status = ?", models.SessionOpen).
		Limit(1)
	if forUpdate && idb.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open session: %w", err)
	}
	return &s, nil
}

func settledPaymentsTotal(ctx context.Context, idb bun.IDB, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := idb.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("SUM(payment.amount)").
		Join("JOIN orders o ON o.id = payment.order_id").
		Where("payment.tenant_id = ?", tenantID).
		Where("o.status = ?", models.OrderDelivered).
		Where("payment.created_at >= ?", from).
		Where("payment.created_at < ?", to).
		Scan(ctx, &sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("settled payments total: %w", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func movementsTotal(ctx context.Context, idb bun.IDB, tenantID, sessionID string, kind models.MovementKind) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := idb.NewSelect().
		Model((*models.CashMovement)(nil)).
		ColumnExpr("SUM(amount)").
		Where("tenant_id = ?", tenantID).
		Where("session_id = ?", sessionID).
		Where("kind = ?", kind).
		Scan(ctx, &sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("movements total: %w", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
