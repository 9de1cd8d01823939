package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		stock     int
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register the menu's products in the stock store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.seed(cmd.Context(), stock, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&stock, "stock", 50, "initial stock for each product")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "reset products that already exist")
	return cmd
}

// seed writes every concrete menu product. Existing products are left alone
// unless overwrite is set.
func (a *app) seed(ctx context.Context, stock int, overwrite bool) (int, error) {
	if stock < 0 {
		return 0, errors.New("stock must not be negative")
	}
	store, err := a.stockStore(ctx)
	if err != nil {
		return 0, err
	}
	m, err := a.menu()
	if err != nil {
		return 0, err
	}
	existing, err := store.LoadStock(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.Slug] = true
	}

	seeded := 0
	for _, p := range m.Products() {
		if known[p.Slug] && !overwrite {
			continue
		}
		p.Stock = stock
		if err := store.PutProduct(ctx, p); err != nil {
			return seeded, err
		}
		seeded++
		a.logger.Debug("seeded product", zap.String("slug", p.Slug), zap.Int("stock", stock))
	}
	return seeded, nil
}
