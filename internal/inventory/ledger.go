// Package inventory keeps the in-memory stock ledger and the per-connection
// carts that place soft holds against it.
package inventory

import (
	"maps"

	"order-concierge/internal/domain"
)

// Level is the persisted stock of one product.
type Level struct {
	Slug     string
	Quantity int
	Tracked  bool
}

// Ledger is the authoritative in-memory view of available stock. It is not
// safe for concurrent use; Manager serialises every access.
//
// Untracked products are known to the ledger but never limited.
type Ledger struct {
	available map[string]int
	tracked   map[string]bool
}

// NewLedger seeds a ledger from persisted stock.
func NewLedger(levels []Level) *Ledger {
	l := &Ledger{
		available: make(map[string]int, len(levels)),
		tracked:   make(map[string]bool, len(levels)),
	}
	for _, lv := range levels {
		l.put(lv)
	}
	return l
}

func (l *Ledger) put(lv Level) {
	l.tracked[lv.Slug] = lv.Tracked
	if lv.Tracked {
		l.available[lv.Slug] = lv.Quantity
	} else {
		delete(l.available, lv.Slug)
	}
}

// Known reports whether slug is sellable at all.
func (l *Ledger) Known(slug string) bool {
	_, ok := l.tracked[slug]
	return ok
}

// Tracked reports whether holds on slug are limited by stock.
func (l *Ledger) Tracked(slug string) bool {
	return l.tracked[slug]
}

// Available returns the unheld quantity of a tracked slug.
func (l *Ledger) Available(slug string) int {
	return l.available[slug]
}

// Take decrements a tracked slug, or fails without mutation when fewer than
// qty units remain.
func (l *Ledger) Take(slug string, qty int) error {
	if !l.tracked[slug] {
		return nil
	}
	if avail := l.available[slug]; avail < qty {
		return &domain.InsufficientStockError{Slug: slug, Requested: qty, Available: max(avail, 0)}
	}
	l.available[slug] -= qty
	return nil
}

// Restore returns qty units of a tracked slug.
func (l *Ledger) Restore(slug string, qty int) {
	if l.tracked[slug] {
		l.available[slug] += qty
	}
}

// Set overwrites the available quantity of a tracked slug.
func (l *Ledger) Set(slug string, qty int) {
	if l.tracked[slug] {
		l.available[slug] = qty
	}
}

// Snapshot copies the available quantity of every tracked slug.
func (l *Ledger) Snapshot() map[string]int {
	return maps.Clone(l.available)
}
