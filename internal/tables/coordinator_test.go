package tables_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-pos/internal/apperr"
	"ms-pos/internal/models"
	"ms-pos/internal/tables"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	err = bunDB.ResetModel(context.Background(), (*models.Table)(nil))
	require.NoError(t, err)

	table := models.Table{ID: "table-5", TenantID: "t1", Name: "5", Status: models.TableFree}
	_, err = bunDB.NewInsert().Model(&table).Exec(context.Background())
	require.NoError(t, err)

	return bunDB
}

func TestOccupyAndFree(t *testing.T) {
	bunDB := setupTestDB(t)
	c := tables.New()
	ctx := context.Background()

	table, err := c.GetForUpdate(ctx, bunDB, "t1", "table-5")
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, table.Status)

	require.NoError(t, c.Occupy(ctx, bunDB, table, "order-1"))

	reloaded, err := c.GetForUpdate(ctx, bunDB, "t1", "table-5")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, reloaded.Status)
	assert.Equal(t, "order-1", reloaded.OrderID)

	require.NoError(t, c.Free(ctx, bunDB, reloaded))

	reloaded, err = c.GetForUpdate(ctx, bunDB, "t1", "table-5")
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, reloaded.Status)
	assert.Empty(t, reloaded.OrderID)
}

func TestFreeIsIdempotent(t *testing.T) {
	bunDB := setupTestDB(t)
	c := tables.New()
	ctx := context.Background()

	table, err := c.GetForUpdate(ctx, bunDB, "t1", "table-5")
	require.NoError(t, err)

	require.NoError(t, c.Free(ctx, bunDB, table))
	require.NoError(t, c.Free(ctx, bunDB, table))
	assert.Equal(t, models.TableFree, table.Status)
}

func TestGetForUpdateNotFound(t *testing.T) {
	bunDB := setupTestDB(t)
	c := tables.New()

	_, err := c.GetForUpdate(context.Background(), bunDB, "t1", "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Wrong tenant is also not found.
	_, err = c.GetForUpdate(context.Background(), bunDB, "t2", "table-5")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
