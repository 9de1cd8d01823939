package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-concierge/internal/domain"
)

var (
	ErrUnknownCart        = errors.New("inventory: unknown cart")
	ErrUnknownProduct     = errors.New("inventory: unknown product")
	ErrInvalidQuantity    = errors.New("inventory: quantity must be positive")
	ErrEmptyCart          = errors.New("inventory: cart is empty")
	ErrCheckoutInProgress = errors.New("inventory: checkout in progress")
)

// Broadcaster receives ledger changes. Calls happen inside the manager's
// critical section so observers see changes in commit order; implementations
// must not block and must not call back into the Manager.
type Broadcaster interface {
	StockChanged(slug string, available int)
	CartReset(connectionID string)
}

// Gateway performs the durable, transactional stock decrement at checkout.
type Gateway interface {
	Commit(ctx context.Context, lines []domain.OrderLine) (map[string]int, error)
}

// StockSetter overwrites persisted stock, for staff edits.
type StockSetter interface {
	SetStock(ctx context.Context, slug string, qty int) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) StockChanged(string, int) {}
func (nopBroadcaster) CartReset(string)         {}

// Manager owns the ledger and every cart. All mutations run under one mutex,
// so for each tracked slug ledger + active holds equals persisted stock
// whenever the lock is free and no commit is in flight.
//
// Commits change the ledger by delta. Absolute quantities reported by the
// store are adopted only from a commit no other commit on the same slug
// overlapped, since overlapping commits may report in any order.
type Manager struct {
	mu     sync.Mutex
	ledger *Ledger
	carts  map[string]*Cart
	held   map[string]int

	inflight  map[string]int
	contended map[string]bool
	changed   map[string]uint64
	seq       uint64

	bcast  Broadcaster
	now    func() time.Time
	window time.Duration
	logger *zap.Logger
}

type Option func(*Manager)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIdleWindow sets how long a cart may stay untouched before a sweep
// releases it.
func WithIdleWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) {
		if b != nil {
			m.bcast = b
		}
	}
}

// NewManager seeds a manager from persisted stock.
func NewManager(levels []Level, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		ledger: NewLedger(levels),
		carts:  map[string]*Cart{},
		held:   map[string]int{},

		inflight:  map[string]int{},
		contended: map[string]bool{},
		changed:   map[string]uint64{},

		bcast:  nopBroadcaster{},
		now:    time.Now,
		window: 15 * time.Minute,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetBroadcaster swaps the observer. The real-time hub is usually built after
// the manager because it needs the manager to route intents.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b == nil {
		b = nopBroadcaster{}
	}
	m.bcast = b
}

// Open registers an empty cart for a connection. Opening an existing cart
// only refreshes its activity time.
func (m *Manager) Open(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[connID]; ok {
		c.LastActivity = m.now()
		return
	}
	m.carts[connID] = &Cart{ConnectionID: connID, LastActivity: m.now()}
}

// Add places a soft hold for li. When any tracked slug the line needs has
// fewer units than requested the call fails with *domain.InsufficientStockError
// carrying the current ledger value, and nothing changes.
func (m *Manager) Add(connID string, li LineItem) error {
	if li.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if li.IsBundle {
		if len(li.Components) == 0 {
			return fmt.Errorf("%w: bundle %q has no components", ErrUnknownProduct, li.Slug)
		}
		for _, c := range li.Components {
			if c.Qty <= 0 {
				return ErrInvalidQuantity
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[connID]
	if !ok {
		return ErrUnknownCart
	}
	if cart.checkingOut {
		return ErrCheckoutInProgress
	}
	need := li.holds()
	slugs := sortedKeys(need)
	for _, slug := range slugs {
		if !m.ledger.Known(slug) {
			return fmt.Errorf("%w: %q", ErrUnknownProduct, slug)
		}
		if m.ledger.Tracked(slug) && m.ledger.Available(slug) < need[slug] {
			return &domain.InsufficientStockError{Slug: slug, Requested: need[slug], Available: max(m.ledger.Available(slug), 0)}
		}
	}
	for _, slug := range slugs {
		// Checked above; cannot fail.
		_ = m.ledger.Take(slug, need[slug])
		m.held[slug] += need[slug]
		m.emit(slug)
	}
	cart.merge(li)
	cart.LastActivity = m.now()
	return nil
}

// Remove drops every line with the given slug and restores its holds.
func (m *Manager) Remove(connID, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[connID]
	if !ok {
		return ErrUnknownCart
	}
	if cart.checkingOut {
		return ErrCheckoutInProgress
	}
	kept := cart.Lines[:0]
	var removed []LineItem
	for _, li := range cart.Lines {
		if li.Slug == slug {
			removed = append(removed, li)
			continue
		}
		kept = append(kept, li)
	}
	cart.Lines = kept
	for _, li := range removed {
		m.releaseLocked(li.holds())
	}
	cart.LastActivity = m.now()
	return nil
}

// Clear empties the cart and restores all of its holds.
func (m *Manager) Clear(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[connID]
	if !ok {
		return ErrUnknownCart
	}
	if cart.checkingOut {
		return ErrCheckoutInProgress
	}
	m.releaseLocked(cart.holds())
	cart.Lines = nil
	cart.LastActivity = m.now()
	return nil
}

// Disconnect releases and forgets a connection's cart. A cart that is in the
// middle of checkout is released by Checkout once the commit outcome is known.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[connID]
	if !ok {
		return
	}
	if cart.checkingOut {
		cart.closed = true
		return
	}
	m.releaseLocked(cart.holds())
	delete(m.carts, connID)
}

// Sweep releases every cart idle for longer than the idle window and tells
// its connection to reset. It returns the released connection ids.
func (m *Manager) Sweep() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var released []string
	for id, cart := range m.carts {
		if cart.checkingOut || now.Sub(cart.LastActivity) <= m.window {
			continue
		}
		m.releaseLocked(cart.holds())
		delete(m.carts, id)
		released = append(released, id)
		m.bcast.CartReset(id)
	}
	sort.Strings(released)
	if len(released) > 0 {
		m.logger.Info("released idle carts", zap.Strings("connections", released))
	}
	return released
}

// Checkout commits the cart through gw. The commit runs outside the lock; the
// cart is frozen meanwhile so no other intent or sweep can touch its holds.
// On success the holds are consumed, not restored: their units already left
// the ledger when they were placed. On failure the cart is left as it was.
func (m *Manager) Checkout(ctx context.Context, connID string, gw Gateway) (map[string]int, error) {
	m.mu.Lock()
	cart, ok := m.carts[connID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUnknownCart
	}
	if cart.checkingOut {
		m.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	if len(cart.Lines) == 0 {
		m.mu.Unlock()
		return nil, ErrEmptyCart
	}
	holds := cart.holds()
	lines := domain.OrderLines(holds)
	slugs := sortedKeys(holds)
	cart.checkingOut = true
	m.beginLocked(slugs)
	m.mu.Unlock()

	persisted, err := gw.Commit(ctx, lines)

	m.mu.Lock()
	defer m.mu.Unlock()
	trusted := m.endLocked(slugs)
	cart.checkingOut = false
	cart.LastActivity = m.now()
	if err != nil {
		m.adoptShortage(err, trusted)
		if cart.closed {
			m.releaseLocked(cart.holds())
			delete(m.carts, connID)
		}
		return nil, err
	}
	for slug, qty := range holds {
		m.held[slug] -= qty
		if m.held[slug] <= 0 {
			delete(m.held, slug)
		}
	}
	delete(m.carts, connID)
	m.adoptLocked(persisted, trusted)
	return persisted, nil
}

// CommitOrder commits lines that hold nothing in the ledger, as a chat order
// does. On success the committed units leave the ledger. A shortage reported
// by the store corrects the ledger when no other commit overlapped.
func (m *Manager) CommitOrder(ctx context.Context, gw Gateway, lines []domain.OrderLine) (map[string]int, error) {
	need := make(map[string]int, len(lines))
	for _, l := range lines {
		need[l.Slug] += l.Qty
	}
	slugs := sortedKeys(need)
	m.mu.Lock()
	m.beginLocked(slugs)
	m.mu.Unlock()

	persisted, err := gw.Commit(ctx, lines)

	m.mu.Lock()
	defer m.mu.Unlock()
	trusted := m.endLocked(slugs)
	if err != nil {
		m.adoptShortage(err, trusted)
		return nil, err
	}
	for _, slug := range slugs {
		if m.ledger.Tracked(slug) {
			m.ledger.Set(slug, m.ledger.Available(slug)-need[slug])
			m.emit(slug)
		}
	}
	m.adoptLocked(persisted, trusted)
	return persisted, nil
}

// AdjustStock writes a staff stock edit through store and reconciles the
// ledger with it. Open holds keep their units. An edit that raced a commit
// on the same slug is left for the next catalog refresh to pick up.
func (m *Manager) AdjustStock(ctx context.Context, store StockSetter, slug string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}
	m.mu.Lock()
	if !m.ledger.Known(slug) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownProduct, slug)
	}
	m.beginLocked([]string{slug})
	m.mu.Unlock()

	err := store.SetStock(ctx, slug, qty)

	m.mu.Lock()
	defer m.mu.Unlock()
	trusted := m.endLocked([]string{slug})
	if err != nil {
		return fmt.Errorf("inventory: AdjustStock: %w", err)
	}
	if !trusted[slug] {
		m.logger.Warn("stock edit overlapped a commit, ledger waits for refresh", zap.String("slug", slug))
		return nil
	}
	m.adoptLocked(map[string]int{slug: qty}, trusted)
	m.logger.Info("stock adjusted", zap.String("slug", slug), zap.Int("persisted", qty))
	return nil
}

// beginLocked registers a store write on slugs.
func (m *Manager) beginLocked(slugs []string) {
	m.seq++
	for _, slug := range slugs {
		if m.inflight[slug] > 0 {
			m.contended[slug] = true
		}
		m.inflight[slug]++
		m.changed[slug] = m.seq
	}
}

// endLocked closes a store write on slugs and reports the slugs whose store
// quantities can be adopted: no other write overlapped this one.
func (m *Manager) endLocked(slugs []string) map[string]bool {
	m.seq++
	trusted := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		trusted[slug] = !m.contended[slug]
		m.changed[slug] = m.seq
		m.inflight[slug]--
		if m.inflight[slug] <= 0 {
			delete(m.inflight, slug)
			delete(m.contended, slug)
		}
	}
	return trusted
}

// adoptLocked takes store quantities for trusted slugs. Units still held by
// open carts stay subtracted.
func (m *Manager) adoptLocked(persisted map[string]int, trusted map[string]bool) {
	for _, slug := range sortedKeys(persisted) {
		if !trusted[slug] || !m.ledger.Tracked(slug) {
			continue
		}
		m.ledger.Set(slug, persisted[slug]-m.held[slug])
		m.emit(slug)
	}
}

func (m *Manager) adoptShortage(err error, trusted map[string]bool) {
	var short *domain.InsufficientStockError
	if errors.As(err, &short) {
		m.adoptLocked(map[string]int{short.Slug: short.Available}, trusted)
	}
}

// Mark returns a token to pass to Sync. Take it before reading stock from
// the store.
func (m *Manager) Mark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Sync applies a catalog refresh read after Mark returned since: new products
// are added and known tracked slugs are reconciled against the catalog's
// stock. Slugs written since the mark, or being written now, keep the ledger's
// value because the read may predate the write.
func (m *Manager) Sync(levels []Level, since uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lv := range levels {
		if !m.ledger.Known(lv.Slug) || m.ledger.Tracked(lv.Slug) != lv.Tracked {
			m.ledger.put(Level{Slug: lv.Slug, Quantity: lv.Quantity - m.held[lv.Slug], Tracked: lv.Tracked})
			m.emit(lv.Slug)
			continue
		}
		if !lv.Tracked || m.inflight[lv.Slug] > 0 || m.changed[lv.Slug] > since {
			continue
		}
		m.ledger.Set(lv.Slug, lv.Quantity-m.held[lv.Slug])
		m.emit(lv.Slug)
	}
}

// Available returns the unheld stock of slug and whether it is tracked.
func (m *Manager) Available(slug string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ledger.Tracked(slug) {
		return 0, false
	}
	return max(m.ledger.Available(slug), 0), true
}

// Held returns the units of slug currently reserved by open carts.
func (m *Manager) Held(slug string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[slug]
}

// Snapshot returns the available quantity of every tracked slug.
func (m *Manager) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.ledger.Snapshot()
	for slug, v := range snap {
		snap[slug] = max(v, 0)
	}
	return snap
}

// Cart returns a copy of a connection's cart.
func (m *Manager) Cart(connID string) (Cart, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[connID]
	if !ok {
		return Cart{}, false
	}
	return c.clone(), true
}

func (m *Manager) releaseLocked(holds map[string]int) {
	for _, slug := range sortedKeys(holds) {
		qty := holds[slug]
		m.ledger.Restore(slug, qty)
		m.held[slug] -= qty
		if m.held[slug] <= 0 {
			delete(m.held, slug)
		}
		m.emit(slug)
	}
}

func (m *Manager) emit(slug string) {
	if m.ledger.Tracked(slug) {
		m.bcast.StockChanged(slug, max(m.ledger.Available(slug), 0))
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
