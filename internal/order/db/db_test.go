package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-pos/internal/apperr"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"
	"ms-pos/internal/order"
	"ms-pos/internal/order/db"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	err = bunDB.ResetModel(context.Background(),
		(*models.Order)(nil),
		(*models.OrderCounter)(nil),
		(*models.OrderLineItem)(nil),
		(*models.LineItemAddon)(nil),
		(*models.Payment)(nil),
		(*models.PaymentMethod)(nil),
		(*models.Product)(nil),
		(*models.Table)(nil),
	)
	require.NoError(t, err)

	return db.New(bunDB)
}

func seedCatalog(t *testing.T, d *db.DB) {
	t.Helper()
	ctx := context.Background()

	products := []models.Product{
		{ID: "burger", TenantID: "t1", Name: "Burger", Price: decimal.RequireFromString("10.00"), Active: true},
		{ID: "cheese", TenantID: "t1", Name: "Extra Cheese", Price: decimal.RequireFromString("2.50"), Active: true},
		{ID: "retired", TenantID: "t1", Name: "Old Special", Price: decimal.RequireFromString("9.99"), Active: false},
	}
	_, err := d.Bun.NewInsert().Model(&products).Exec(ctx)
	require.NoError(t, err)

	methods := []models.PaymentMethod{
		{ID: "cash", TenantID: "t1", Name: "Cash", DiscountPct: decimal.Zero},
		{ID: "card", TenantID: "t1", Name: "Card", DiscountPct: decimal.RequireFromString("10")},
	}
	_, err = d.Bun.NewInsert().Model(&methods).Exec(ctx)
	require.NoError(t, err)

	table := models.Table{ID: "table-5", TenantID: "t1", Name: "5", Status: models.TableFree}
	_, err = d.Bun.NewInsert().Model(&table).Exec(ctx)
	require.NoError(t, err)
}

func insertOrder(t *testing.T, d *db.DB, o models.Order) {
	t.Helper()
	_, err := d.Bun.NewInsert().Model(&o).Exec(context.Background())
	require.NoError(t, err)
}

func TestNextOrderNumber(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	err := d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		number, err := tx.NextOrderNumber(ctx, "t1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, number)

		number, err = tx.NextOrderNumber(ctx, "t1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 2, number)

		// Tenants count independently.
		number, err = tx.NextOrderNumber(ctx, "t2", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, number)
		return nil
	})
	require.NoError(t, err)
}

func TestNextOrderNumberRestartsDaily(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	earlier := time.Now().Add(-48 * time.Hour)
	err := d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.NextOrderNumber(ctx, "t1", earlier); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		number, err := tx.NextOrderNumber(ctx, "t1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, number)
		return nil
	})
	require.NoError(t, err)
}

func TestHydratedOrder(t *testing.T) {
	d := setupTestDB(t)
	seedCatalog(t, d)
	ctx := context.Background()

	err := d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		o := &models.Order{
			ID: "o1", TenantID: "t1", Number: 1, Mode: models.DeliveryCounter,
			Status: models.OrderPending, TotalAmount: decimal.RequireFromString("12.50"),
			ReceivedAmount: decimal.Zero, CreatedAt: time.Now(),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		items := []models.OrderLineItem{
			{ID: "li1", OrderID: "o1", ProductID: "burger", Name: "Burger", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		}
		addons := []models.LineItemAddon{
			{ID: "ad1", LineItemID: "li1", OrderID: "o1", ProductID: "cheese", Name: "Extra Cheese", Quantity: 1, UnitPrice: decimal.RequireFromString("2.50")},
		}
		if err := tx.InsertLineItems(ctx, items, addons); err != nil {
			return err
		}
		return tx.AppendPayment(ctx, &models.Payment{
			TenantID: "t1", OrderID: "o1", PaymentMethodID: "cash",
			Amount: decimal.RequireFromString("5.00"),
		})
	})
	require.NoError(t, err)

	hydrated, err := d.HydratedOrder(ctx, "t1", "o1")
	require.NoError(t, err)

	assert.True(t, hydrated.TotalAmount.Equal(decimal.RequireFromString("12.50")))
	require.Len(t, hydrated.Items, 1)
	require.Len(t, hydrated.Items[0].Addons, 1)
	assert.Equal(t, "Extra Cheese", hydrated.Items[0].Addons[0].Name)
	require.Len(t, hydrated.Payments, 1)
	assert.True(t, hydrated.Payments[0].Amount.Equal(decimal.RequireFromString("5.00")))
	assert.NotEmpty(t, hydrated.Payments[0].ID)

	_, err = d.HydratedOrder(ctx, "t1", "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListOrdersFilters(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	insertOrder(t, d, models.Order{
		ID: "o1", TenantID: "t1", Number: 1, Mode: models.DeliveryTable,
		Status: models.OrderPending, TotalAmount: decimal.Zero, ReceivedAmount: decimal.Zero,
		CustomerName: "Alice", CreatedAt: now.Add(-time.Hour),
	})
	insertOrder(t, d, models.Order{
		ID: "o2", TenantID: "t1", Number: 2, Mode: models.DeliveryCourier,
		Status: models.OrderDelivered, TotalAmount: decimal.Zero, ReceivedAmount: decimal.Zero,
		CustomerName: "Bob", DeliveryAddress: "Main St 1", CreatedAt: now,
	})
	insertOrder(t, d, models.Order{
		ID: "o3", TenantID: "t2", Number: 1, Mode: models.DeliveryCounter,
		Status: models.OrderPending, TotalAmount: decimal.Zero, ReceivedAmount: decimal.Zero,
		CreatedAt: now,
	})

	all, err := d.ListOrders(ctx, "t1", order.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, "o2", all[0].ID)

	pending, err := d.ListOrders(ctx, "t1", order.ListFilter{Status: models.OrderPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o1", pending[0].ID)

	courier, err := d.ListOrders(ctx, "t1", order.ListFilter{Mode: models.DeliveryCourier})
	require.NoError(t, err)
	require.Len(t, courier, 1)
	assert.Equal(t, "o2", courier[0].ID)

	byName, err := d.ListOrders(ctx, "t1", order.ListFilter{Search: "Alice"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "o1", byName[0].ID)

	recent, err := d.ListOrders(ctx, "t1", order.ListFilter{From: now.Add(-30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "o2", recent[0].ID)
}

func TestDeleteOrderRemovesOwnedRows(t *testing.T) {
	d := setupTestDB(t)
	seedCatalog(t, d)
	ctx := context.Background()

	err := d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		o := &models.Order{
			ID: "o1", TenantID: "t1", Number: 1, Mode: models.DeliveryCounter,
			Status: models.OrderPending, TotalAmount: decimal.RequireFromString("10.00"),
			ReceivedAmount: decimal.Zero, CreatedAt: time.Now(),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		items := []models.OrderLineItem{
			{ID: "li1", OrderID: "o1", ProductID: "burger", Name: "Burger", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		}
		if err := tx.InsertLineItems(ctx, items, nil); err != nil {
			return err
		}
		return tx.AppendPayment(ctx, &models.Payment{
			TenantID: "t1", OrderID: "o1", PaymentMethodID: "cash",
			Amount: decimal.RequireFromString("4.00"),
		})
	})
	require.NoError(t, err)

	err = d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.DeleteOrder(ctx, "t1", "o1")
	})
	require.NoError(t, err)

	_, err = d.HydratedOrder(ctx, "t1", "o1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	count, err := d.Bun.NewSelect().Model((*models.OrderLineItem)(nil)).Where("order_id = ?", "o1").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = d.Bun.NewSelect().Model((*models.Payment)(nil)).Where("order_id = ?", "o1").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProductLookupSkipsInactive(t *testing.T) {
	d := setupTestDB(t)
	seedCatalog(t, d)
	ctx := context.Background()

	err := d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		p, err := tx.Product(ctx, "t1", "burger")
		require.NoError(t, err)
		assert.Equal(t, "Burger", p.Name)

		_, err = tx.Product(ctx, "t1", "retired")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		return nil
	})
	require.NoError(t, err)
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(string, *models.HydratedOrder)   {}
func (nopPublisher) OrderUpdated(string, *models.HydratedOrder)   {}
func (nopPublisher) OrderFinalized(string, *models.HydratedOrder) {}
func (nopPublisher) TableUpdated(string, *models.Table)           {}

// End to end against the real store: create a table order, pay it off in two
// parts and verify settlement freed the table.
func TestServiceAgainstStore(t *testing.T) {
	d := setupTestDB(t)
	seedCatalog(t, d)
	ctx := context.Background()

	service := order.NewOrderService(d, nopPublisher{}, logger.NewTestLogger())
	waiter := models.Actor{ID: "u-waiter", Role: models.RoleWaiter}
	cashier := models.Actor{ID: "u-cashier", Role: models.RoleCashier}

	created, err := service.Create(ctx, "t1", waiter, order.CreateRequest{
		Mode:    models.DeliveryTable,
		TableID: "table-5",
		Items: []order.ItemRequest{
			{ProductID: "burger", Quantity: 2, Addons: []order.AddonRequest{{ProductID: "cheese", Quantity: 2}}},
		},
	})
	require.NoError(t, err)
	assert.True(t, created.TotalAmount.Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, 1, created.Number)

	// The table is now taken.
	_, err = service.Create(ctx, "t1", waiter, order.CreateRequest{
		Mode:    models.DeliveryTable,
		TableID: "table-5",
		Items:   []order.ItemRequest{{ProductID: "burger", Quantity: 1}},
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	result, err := service.RegisterPayment(ctx, "t1", cashier, created.ID, decimal.RequireFromString("10.00"), "cash", "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, result.Status)
	assert.True(t, result.ReceivedAmount.Equal(decimal.RequireFromString("10.00")))

	result, err = service.RegisterPayment(ctx, "t1", cashier, created.ID, decimal.RequireFromString("15.00"), "cash", "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, result.Status)
	assert.True(t, result.ReceivedAmount.IsZero())
	require.Len(t, result.Order.Payments, 2)

	var table models.Table
	err = d.Bun.NewSelect().Model(&table).Where("id = ?", "table-5").Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, table.Status)
	assert.Empty(t, table.OrderID)
}
