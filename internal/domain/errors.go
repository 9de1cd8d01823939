package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session, cart, or stock row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic version check fails.
	ErrConflict = errors.New("version conflict")
)

// InsufficientStockError reports a line that could not be held or committed.
type InsufficientStockError struct {
	Slug      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Slug, e.Requested, e.Available)
}
