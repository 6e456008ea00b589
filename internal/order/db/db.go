package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-pos/internal/apperr"
	"ms-pos/internal/ledger"
	"ms-pos/internal/models"
	"ms-pos/internal/order"
	"ms-pos/internal/tables"
)

// DB implements order.Store over bun. Payment rows go through the ledger
// and table rows through the occupancy coordinator so all three share one
// transaction.
type DB struct {
	Bun    *bun.DB
	Ledger *ledger.Ledger
	Tables *tables.Coordinator
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB, Ledger: ledger.New(), Tables: tables.New()}
}

func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, bunTx bun.Tx) error {
		return fn(ctx, &Tx{idb: bunTx, ledger: d.Ledger, tables: d.Tables})
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperr.Internal("order transaction failed", err)
	}
	return nil
}

// Tx is the transaction-scoped implementation of order.Tx.
type Tx struct {
	idb    bun.IDB
	ledger *ledger.Ledger
	tables *tables.Coordinator
}

// OrderForUpdate loads the order row under a row-level write lock on
// Postgres. The sqlite dialect used in tests has no FOR UPDATE and
// serializes writers on its own.
func (t *Tx) OrderForUpdate(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	var o models.Order
	q := t.idb.NewSelect().
		Model(&o).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", orderID)
	if t.idb.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order " + orderID + " not found")
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &o, nil
}

// NextOrderNumber assigns the next human-readable daily number for the
// tenant. The per-tenant counter row stays locked until the caller's
// transaction ends, so concurrent creates cannot read the same number.
func (t *Tx) NextOrderNumber(ctx context.Context, tenantID string, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	seed := &models.OrderCounter{TenantID: tenantID, Day: start}
	if _, err := t.idb.NewInsert().
		Model(seed).
		On("CONFLICT (tenant_id) DO NOTHING").
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("seed order counter: %w", err)
	}

	counter := new(models.OrderCounter)
	q := t.idb.NewSelect().
		Model(counter).
		Where("tenant_id = ?", tenantID)
	if t.idb.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return 0, fmt.Errorf("lock order counter: %w", err)
	}

	if !counter.Day.Equal(start) {
		counter.Day = start
		counter.LastNumber = 0
	}
	counter.LastNumber++

	if _, err := t.idb.NewUpdate().
		Model(counter).
		Column("day", "last_number").
		WherePK().
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("advance order counter: %w", err)
	}
	return counter.LastNumber, nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *models.Order) error {
	if _, err := t.idb.NewInsert().Model(o).Exec(ctx); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *Tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	_, err := t.idb.NewUpdate().
		Model(o).
		Column("status", "total_amount", "received_amount", "notes", "updated_at").
		Where("tenant_id = ?", o.TenantID).
		Where("id = ?", o.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	return nil
}

// DeleteOrder removes the order together with the rows it owns. Deletion
// order matters without foreign keys (the sqlite test schema has none).
func (t *Tx) DeleteOrder(ctx context.Context, tenantID, orderID string) error {
	if _, err := t.idb.NewDelete().
		Model((*models.Payment)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("order_id = ?", orderID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete payments for order %s: %w", orderID, err)
	}
	if _, err := t.idb.NewDelete().
		Model((*models.LineItemAddon)(nil)).
		Where("order_id = ?", orderID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete addons for order %s: %w", orderID, err)
	}
	if _, err := t.idb.NewDelete().
		Model((*models.OrderLineItem)(nil)).
		Where("order_id = ?", orderID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete line items for order %s: %w", orderID, err)
	}
	if _, err := t.idb.NewDelete().
		Model((*models.Order)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", orderID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return nil
}

func (t *Tx) InsertLineItems(ctx context.Context, items []models.OrderLineItem, addons []models.LineItemAddon) error {
	if len(items) > 0 {
		if _, err := t.idb.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("insert line items: %w", err)
		}
	}
	if len(addons) > 0 {
		if _, err := t.idb.NewInsert().Model(&addons).Exec(ctx); err != nil {
			return fmt.Errorf("insert addons: %w", err)
		}
	}
	return nil
}

func (t *Tx) Product(ctx context.Context, tenantID, productID string) (*models.Product, error) {
	var p models.Product
	err := t.idb.NewSelect().
		Model(&p).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", productID).
		Where("active = ?", true).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product " + productID + " not found")
		}
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	return &p, nil
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

func (t *Tx) AppendPayment(ctx context.Context, p *models.Payment) error {
	return t.ledger.Append(ctx, t.idb, p)
}

func (t *Tx) PaymentsTotal(ctx context.Context, tenantID, orderID string) (decimal.Decimal, error) {
	return t.ledger.SumForOrder(ctx, t.idb, tenantID, orderID)
}

func (t *Tx) HighestDiscountPct(ctx context.Context, tenantID, orderID string) (decimal.Decimal, error) {
	return t.ledger.HighestDiscountPct(ctx, t.idb, tenantID, orderID)
}

func (t *Tx) TableForUpdate(ctx context.Context, tenantID, tableID string) (*models.Table, error) {
	return t.tables.GetForUpdate(ctx, t.idb, tenantID, tableID)
}

func (t *Tx) OccupyTable(ctx context.Context, table *models.Table, orderID string) error {
	return t.tables.Occupy(ctx, t.idb, table, orderID)
}

func (t *Tx) FreeTable(ctx context.Context, table *models.Table) error {
	return t.tables.Free(ctx, t.idb, table)
}

// HydratedOrder loads an order with its items, addons and payments.
func (d *DB) HydratedOrder(ctx context.Context, tenantID, orderID string) (*models.HydratedOrder, error) {
	var o models.Order
	err := d.Bun.NewSelect().
		Model(&o).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", orderID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order " + orderID + " not found")
		}
		return nil, apperr.Internal("load order", err)
	}

	hydrated, err := d.hydrate(ctx, tenantID, []models.Order{o})
	if err != nil {
		return nil, err
	}
	return &hydrated[0], nil
}

// ListOrders returns filtered, fully hydrated orders, newest first.
func (d *DB) ListOrders(ctx context.Context, tenantID string, filter order.ListFilter) ([]models.HydratedOrder, error) {
	var orders []models.Order
	q := d.Bun.NewSelect().
		Model(&orders).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Mode != "" {
		q = q.Where("mode = ?", filter.Mode)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("CAST(number AS TEXT) LIKE ?", pattern).
				WhereOr("customer_name LIKE ?", pattern).
				WhereOr("notes LIKE ?", pattern)
		})
	}

	if err := q.Scan(ctx); err != nil {
		return nil, apperr.Internal("list orders", err)
	}
	if len(orders) == 0 {
		return []models.HydratedOrder{}, nil
	}
	return d.hydrate(ctx, tenantID, orders)
}

// hydrate attaches items, addons and payments to a batch of orders with
// three queries instead of one per order.
func (d *DB) hydrate(ctx context.Context, tenantID string, orders []models.Order) ([]models.HydratedOrder, error) {
	orderIDs := make([]string, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
	}

	var items []models.OrderLineItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Scan(ctx)
	if err != nil {
		return nil, apperr.Internal("load line items", err)
	}

	var addons []models.LineItemAddon
	err = d.Bun.NewSelect().
		Model(&addons).
		Where("order_id IN (?)", bun.In(orderIDs)).
		Scan(ctx)
	if err != nil {
		return nil, apperr.Internal("load addons", err)
	}

	payments, err := d.Ledger.ListForOrders(ctx, d.Bun, tenantID, orderIDs)
	if err != nil {
		return nil, apperr.Internal("load payments", err)
	}

	addonsByItem := make(map[string][]models.LineItemAddon)
	for _, a := range addons {
		addonsByItem[a.LineItemID] = append(addonsByItem[a.LineItemID], a)
	}
	itemsByOrder := make(map[string][]models.LineItemWithAddons)
	for _, li := range items {
		withAddons := models.LineItemWithAddons{OrderLineItem: li, Addons: addonsByItem[li.ID]}
		if withAddons.Addons == nil {
			withAddons.Addons = []models.LineItemAddon{}
		}
		itemsByOrder[li.OrderID] = append(itemsByOrder[li.OrderID], withAddons)
	}
	paymentsByOrder := make(map[string][]models.Payment)
	for _, p := range payments {
		paymentsByOrder[p.OrderID] = append(paymentsByOrder[p.OrderID], p)
	}

	result := make([]models.HydratedOrder, len(orders))
	for i, o := range orders {
		result[i] = models.HydratedOrder{
			Order:    o,
			Items:    itemsByOrder[o.ID],
			Payments: paymentsByOrder[o.ID],
		}
		if result[i].Items == nil {
			result[i].Items = []models.LineItemWithAddons{}
		}
		if result[i].Payments == nil {
			result[i].Payments = []models.Payment{}
		}
	}
	return result, nil
}
