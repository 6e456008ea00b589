// Package tables holds the Free/Occupied state of physical tables. Tables
// are mutated only by the order service, inside the same transaction as the
// order change that triggers the mutation.
package tables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-pos/internal/apperr"
	"ms-pos/internal/models"
)

type Coordinator struct{}

func New() *Coordinator {
	return &Coordinator{}
}

// GetForUpdate loads a table row, taking a row lock when the dialect
// supports it. sqlite (used by tests) serializes writers itself.
func (c *Coordinator) GetForUpdate(ctx context.Context, idb bun.IDB, tenantID, tableID string) (*models.Table, error) {
	var table models.Table
	q := idb.NewSelect().
		Model(&table).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", tableID)
	if idb.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("table " + tableID + " not found")
		}
		return nil, fmt.Errorf("get table %s: %w", tableID, err)
	}
	return &table, nil
}

// Occupy marks the table occupied by an order.
func (c *Coordinator) Occupy(ctx context.Context, idb bun.IDB, table *models.Table, orderID string) error {
	table.Status = models.TableOccupied
	table.OrderID = orderID
	return c.save(ctx, idb, table)
}

// Free releases the table. Freeing an already free table is a no-op so a
// finalization never double-frees.
func (c *Coordinator) Free(ctx context.Context, idb bun.IDB, table *models.Table) error {
	if table.Status == models.TableFree {
		return nil
	}
	table.Status = models.TableFree
	table.OrderID = ""
	return c.save(ctx, idb, table)
}

func (c *Coordinator) save(ctx context.Context, idb bun.IDB, table *models.Table) error {
	_, err := idb.NewUpdate().
		Model(table).
		Column("status", "order_id").
		Where("tenant_id = ?", table.TenantID).
		Where("id = ?", table.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update table %s: %w", table.ID, err)
	}
	return nil
}
