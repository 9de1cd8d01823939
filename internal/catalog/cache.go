// Package catalog keeps the last good copy of the product catalog and the
// store's open/closed status, refreshing both periodically.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-concierge/internal/domain"
	"order-concierge/internal/inventory"
	"order-concierge/internal/menu"
)

// ProductSource returns the current product list.
type ProductSource interface {
	FetchProducts(ctx context.Context) ([]domain.MenuItem, error)
}

// StatusSource returns whether the store takes orders right now.
type StatusSource interface {
	FetchStoreStatus(ctx context.Context) (domain.StoreStatus, error)
}

// StockSyncer is the part of the inventory manager a refresh feeds.
type StockSyncer interface {
	Mark() uint64
	Sync(levels []inventory.Level, since uint64)
}

type stockLoader interface {
	LoadStock(ctx context.Context) ([]domain.MenuItem, error)
}

type storeSource struct{ s stockLoader }

func (s storeSource) FetchProducts(ctx context.Context) ([]domain.MenuItem, error) {
	return s.s.LoadStock(ctx)
}

// FromStore adapts a stock database into a ProductSource.
func FromStore(s stockLoader) ProductSource {
	return storeSource{s: s}
}

// Cache serves the last good menu and store status.
type Cache struct {
	mu      sync.RWMutex
	base    *menu.Menu
	current *menu.Menu
	status  domain.StoreStatus
	fetched time.Time

	products ProductSource
	statuses StatusSource
	stock    StockSyncer
	logger   *zap.Logger
}

// New returns a cache serving base until the first successful refresh. The
// store reads as closed until a status has been fetched. stock may be nil.
func New(base *menu.Menu, products ProductSource, statuses StatusSource, stock StockSyncer, logger *zap.Logger) (*Cache, error) {
	if base == nil {
		return nil, errors.New("catalog: base menu must not be nil")
	}
	if products == nil {
		return nil, errors.New("catalog: product source must not be nil")
	}
	if statuses == nil {
		return nil, errors.New("catalog: status source must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		base:     base,
		current:  base,
		status:   domain.StoreStatus{Open: false, Message: "Estamos fechados no momento."},
		products: products,
		statuses: statuses,
		stock:    stock,
		logger:   logger,
	}, nil
}

// Menu returns the current menu.
func (c *Cache) Menu() *menu.Menu {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Status returns the last known store status.
func (c *Cache) Status() domain.StoreStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// FetchedAt returns when the product list was last refreshed successfully.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

// Refresh fetches products and status. A failing source leaves its previous
// value in place; both failures are reported joined.
func (c *Cache) Refresh(ctx context.Context) error {
	var errs []error
	if err := c.refreshProducts(ctx); err != nil {
		c.logger.Warn("catalog refresh failed, keeping last good catalog", zap.Error(err))
		errs = append(errs, err)
	}
	status, err := c.statuses.FetchStoreStatus(ctx)
	if err != nil {
		c.logger.Warn("store status refresh failed, keeping last status", zap.Error(err))
		errs = append(errs, fmt.Errorf("catalog: store status: %w", err))
	} else {
		c.mu.Lock()
		changed := c.status.Open != status.Open
		c.status = status
		c.mu.Unlock()
		if changed {
			c.logger.Info("store status changed", zap.Bool("open", status.Open), zap.String("message", status.Message))
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) refreshProducts(ctx context.Context) error {
	var mark uint64
	if c.stock != nil {
		mark = c.stock.Mark()
	}
	products, err := c.products.FetchProducts(ctx)
	if err != nil {
		return fmt.Errorf("catalog: fetch products: %w", err)
	}
	m, err := c.base.WithCatalog(products)
	if err != nil {
		return fmt.Errorf("catalog: apply products: %w", err)
	}
	c.mu.Lock()
	c.current = m
	c.fetched = time.Now()
	c.mu.Unlock()
	if c.stock != nil {
		c.stock.Sync(Levels(products), mark)
	}
	c.logger.Debug("catalog refreshed", zap.Int("products", len(products)))
	return nil
}

// Run refreshes every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Levels converts catalog products into ledger seed levels.
func Levels(products []domain.MenuItem) []inventory.Level {
	out := make([]inventory.Level, 0, len(products))
	for _, p := range products {
		if p.Ambiguous || p.Slug == "" {
			continue
		}
		out = append(out, inventory.Level{Slug: p.Slug, Quantity: max(p.Stock, 0), Tracked: p.Tracked})
	}
	return out
}
