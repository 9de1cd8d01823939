package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"order-concierge/internal/config"
	"order-concierge/internal/stockdb"
)

func TestSeed_SkipsExistingUnlessOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stock.db")
	t.Setenv("CONCIERGE_INVENTORY_SQLITE_PATH", path)
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	a := &app{}
	require.NoError(t, a.init(cfg))
	defer a.close()

	ctx := context.Background()
	n, err := a.seed(ctx, 50, false)
	require.NoError(t, err)
	require.Equal(t, 13, n)

	store, err := stockdb.Open(path)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SetStock(ctx, "doce", 7))

	n, err = a.seed(ctx, 50, false)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = a.seed(ctx, 20, true)
	require.NoError(t, err)
	require.Equal(t, 13, n)

	items, err := store.LoadStock(ctx)
	require.NoError(t, err)
	for _, it := range items {
		require.Equal(t, 20, it.Stock, it.Slug)
	}

	_, err = a.seed(ctx, -1, false)
	require.Error(t, err)
}
