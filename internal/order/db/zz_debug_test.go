package db_test

import (
	"context"
	"testing"

	"ms-pos/internal/order"
)

func TestZZDebugProductErr(t *testing.T) {
	d := setupTestDB(t)
	seedCatalog(t, d)
	ctx := context.Background()
	_ = d.RunInTx(ctx, func(ctx context.Context, tx order.Tx) error {
		_, err := tx.Product(ctx, "t1", "retired")
		t.Logf("err: %#v / %v", err, err)
		return nil
	})
}
