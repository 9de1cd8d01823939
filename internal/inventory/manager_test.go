package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"order-concierge/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	stock  map[string]int
	resets []string
}

func newRecorder() *recorder { return &recorder{stock: map[string]int{}} }

func (r *recorder) StockChanged(slug string, available int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[slug] = available
}

func (r *recorder) CartReset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, id)
}

type fakeGateway struct {
	mu      sync.Mutex
	stock   map[string]int
	block   chan struct{}
	entered chan struct{}
	err     error
	calls   [][]domain.OrderLine
}

func (g *fakeGateway) Commit(_ context.Context, lines []domain.OrderLine) (map[string]int, error) {
	if g.entered != nil {
		close(g.entered)
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, lines)
	if g.err != nil {
		return nil, g.err
	}
	for _, l := range lines {
		if g.stock[l.Slug] < l.Qty {
			return nil, &domain.InsufficientStockError{Slug: l.Slug, Requested: l.Qty, Available: g.stock[l.Slug]}
		}
	}
	out := map[string]int{}
	for _, l := range lines {
		g.stock[l.Slug] -= l.Qty
		out[l.Slug] = g.stock[l.Slug]
	}
	return out, nil
}

func levels() []Level {
	return []Level{
		{Slug: "doce", Quantity: 5, Tracked: true},
		{Slug: "sal", Quantity: 1, Tracked: true},
		{Slug: "cafe", Tracked: false},
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock, *recorder) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rec := newRecorder()
	opts = append([]Option{WithClock(clock.Now), WithBroadcaster(rec), WithIdleWindow(15 * time.Minute)}, opts...)
	return NewManager(levels(), nil, opts...), clock, rec
}

func TestAdd_DecrementsAndBroadcasts(t *testing.T) {
	m, _, rec := newTestManager(t)
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 1}))

	avail, tracked := m.Available("doce")
	require.True(t, tracked)
	require.Equal(t, 2, avail)
	require.Equal(t, 2, rec.stock["doce"])

	cart, ok := m.Cart("c1")
	require.True(t, ok)
	require.Equal(t, []LineItem{{Slug: "doce", Qty: 3}}, cart.Lines)
}

func TestAdd_InsufficientLeavesStateUntouched(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Open("c1")
	err := m.Add("c1", LineItem{Slug: "doce", Qty: 6})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 5, insufficient.Available)

	avail, _ := m.Available("doce")
	require.Equal(t, 5, avail)
	cart, _ := m.Cart("c1")
	require.Empty(t, cart.Lines)
}

func TestAdd_UntrackedIsUnlimited(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "cafe", Qty: 1000}))
	_, tracked := m.Available("cafe")
	require.False(t, tracked)
}

func TestAdd_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.ErrorIs(t, m.Add("nobody", LineItem{Slug: "doce", Qty: 1}), ErrUnknownCart)
	m.Open("c1")
	require.ErrorIs(t, m.Add("c1", LineItem{Slug: "doce", Qty: 0}), ErrInvalidQuantity)
	require.ErrorIs(t, m.Add("c1", LineItem{Slug: "mystery", Qty: 1}), ErrUnknownProduct)
	require.ErrorIs(t, m.Add("c1", LineItem{Slug: "combo", Qty: 1, IsBundle: true}), ErrUnknownProduct)
}

func TestAdd_BundleHoldsComponentsAllOrNothing(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Open("c1")
	combo := LineItem{Slug: "combo-1", Qty: 1, IsBundle: true, Components: []Component{
		{Slug: "doce", Qty: 2},
		{Slug: "sal", Qty: 1},
	}}
	require.NoError(t, m.Add("c1", combo))
	require.Equal(t, 2, m.Held("doce"))
	require.Equal(t, 1, m.Held("sal"))

	err := m.Add("c1", combo)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "sal", insufficient.Slug)
	require.Equal(t, 0, insufficient.Available)
	// doce was not touched by the failed second bundle.
	avail, _ := m.Available("doce")
	require.Equal(t, 3, avail)

	require.NoError(t, m.Remove("c1", "combo-1"))
	avail, _ = m.Available("doce")
	require.Equal(t, 5, avail)
	avail, _ = m.Available("sal")
	require.Equal(t, 1, avail)
}

func TestConcurrentAdd_LastUnitGoesToExactlyOne(t *testing.T) {
	for round := 0; round < 50; round++ {
		m, _, _ := newTestManager(t)
		m.Open("a")
		m.Open("b")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				errs[i] = m.Add(id, LineItem{Slug: "sal", Qty: 1})
			}(i, id)
		}
		wg.Wait()

		var ok, rejected int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			var insufficient *domain.InsufficientStockError
			require.ErrorAs(t, err, &insufficient)
			require.Equal(t, 0, insufficient.Available)
			rejected++
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, rejected)
	}
}

func TestInvariant_RandomAddRemoveTimeout(t *testing.T) {
	m, clock, _ := newTestManager(t)
	const persisted = 5
	rng := rand.New(rand.NewSource(42))
	conns := []string{"c1", "c2", "c3", "c4"}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				id := conns[r.Intn(len(conns))]
				switch r.Intn(6) {
				case 0:
					m.Open(id)
				case 1, 2:
					_ = m.Add(id, LineItem{Slug: "doce", Qty: 1 + r.Intn(3)})
				case 3:
					_ = m.Remove(id, "doce")
				case 4:
					_ = m.Clear(id)
				case 5:
					m.Disconnect(id)
				}
				if r.Intn(20) == 0 {
					mu.Lock()
					clock.Advance(10 * time.Minute)
					mu.Unlock()
					m.Sweep()
				}
			}
		}(rng.Int63())
	}
	wg.Wait()

	avail, _ := m.Available("doce")
	require.Equal(t, persisted, avail+m.Held("doce"))

	var inCarts int
	for _, id := range conns {
		if c, ok := m.Cart(id); ok {
			inCarts += c.holds()["doce"]
		}
	}
	require.Equal(t, m.Held("doce"), inCarts)
}

func TestDisconnect_RestoresHolds(t *testing.T) {
	m, _, rec := newTestManager(t)
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))
	m.Disconnect("c1")

	avail, _ := m.Available("doce")
	require.Equal(t, 5, avail)
	require.Equal(t, 5, rec.stock["doce"])
	_, ok := m.Cart("c1")
	require.False(t, ok)

	// Releasing twice must not double-restore.
	m.Disconnect("c1")
	avail, _ = m.Available("doce")
	require.Equal(t, 5, avail)
}

func TestSweep_ReleasesIdleCartsWithinOneInterval(t *testing.T) {
	m, clock, rec := newTestManager(t)
	m.Open("idle")
	m.Open("busy")
	require.NoError(t, m.Add("idle", LineItem{Slug: "doce", Qty: 2}))
	require.NoError(t, m.Add("busy", LineItem{Slug: "doce", Qty: 1}))

	clock.Advance(14 * time.Minute)
	require.NoError(t, m.Add("busy", LineItem{Slug: "doce", Qty: 1}))
	require.Empty(t, m.Sweep())

	clock.Advance(2 * time.Minute)
	require.Equal(t, []string{"idle"}, m.Sweep())
	require.Equal(t, []string{"idle"}, rec.resets)

	avail, _ := m.Available("doce")
	require.Equal(t, 3, avail)
	require.Equal(t, 2, m.Held("doce"))
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	m, clock, _ := newTestManager(t)
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		avail, _ := m.Available("doce")
		return avail == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestCheckout_ConsumesHoldsAndReconciles(t *testing.T) {
	m, _, rec := newTestManager(t)
	gw := &fakeGateway{stock: map[string]int{"doce": 5, "sal": 1}}
	m.Open("buyer")
	m.Open("browser")
	require.NoError(t, m.Add("buyer", LineItem{Slug: "doce", Qty: 2}))
	require.NoError(t, m.Add("browser", LineItem{Slug: "doce", Qty: 1}))

	persisted, err := m.Checkout(context.Background(), "buyer", gw)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doce": 3}, persisted)

	avail, _ := m.Available("doce")
	require.Equal(t, 2, avail, "3 persisted minus 1 still held by browser")
	require.Equal(t, 1, m.Held("doce"))
	require.Equal(t, 2, rec.stock["doce"])
	_, ok := m.Cart("buyer")
	require.False(t, ok)
}

func TestCheckout_RejectedAtomicallyWhenStockConsumedElsewhere(t *testing.T) {
	m, _, _ := newTestManager(t)
	// Another channel already sold the unit this cart is holding.
	gw := &fakeGateway{stock: map[string]int{"doce": 5, "sal": 0}}
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))
	require.NoError(t, m.Add("c1", LineItem{Slug: "sal", Qty: 1}))

	_, err := m.Checkout(context.Background(), "c1", gw)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "sal", insufficient.Slug)
	require.Equal(t, map[string]int{"doce": 5, "sal": 0}, gw.stock)

	// Holds stay in place for the customer to correct the cart.
	cart, ok := m.Cart("c1")
	require.True(t, ok)
	require.Len(t, cart.Lines, 2)
	require.NoError(t, m.Remove("c1", "sal"))
}

func TestCheckout_CartFrozenWhileCommitting(t *testing.T) {
	m, clock, _ := newTestManager(t)
	gw := &fakeGateway{
		stock:   map[string]int{"doce": 5},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))

	type result struct {
		persisted map[string]int
		err       error
	}
	done := make(chan result, 1)
	go func() {
		p, err := m.Checkout(context.Background(), "c1", gw)
		done <- result{p, err}
	}()
	<-gw.entered

	require.ErrorIs(t, m.Add("c1", LineItem{Slug: "doce", Qty: 1}), ErrCheckoutInProgress)
	require.ErrorIs(t, m.Clear("c1"), ErrCheckoutInProgress)
	clock.Advance(time.Hour)
	require.Empty(t, m.Sweep())
	m.Disconnect("c1")
	require.Equal(t, 2, m.Held("doce"))

	close(gw.block)
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, 0, m.Held("doce"))
	avail, _ := m.Available("doce")
	require.Equal(t, 3, avail)
}

func TestCheckout_FailedCommitAfterDisconnectReleases(t *testing.T) {
	m, _, _ := newTestManager(t)
	gw := &fakeGateway{
		err:     errors.New("db down"),
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Checkout(context.Background(), "c1", gw)
		errCh <- err
	}()
	<-gw.entered
	m.Disconnect("c1")
	close(gw.block)

	require.Error(t, <-errCh)
	avail, _ := m.Available("doce")
	require.Equal(t, 5, avail)
	_, ok := m.Cart("c1")
	require.False(t, ok)
}

func TestCheckout_Errors(t *testing.T) {
	m, _, _ := newTestManager(t)
	gw := &fakeGateway{stock: map[string]int{}}
	_, err := m.Checkout(context.Background(), "none", gw)
	require.ErrorIs(t, err, ErrUnknownCart)
	m.Open("c1")
	_, err = m.Checkout(context.Background(), "c1", gw)
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestSync_ReconcilesAgainstHoldsAndAddsProducts(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))

	m.Sync([]Level{
		{Slug: "doce", Quantity: 10, Tracked: true},
		{Slug: "canjica", Quantity: 4, Tracked: true},
	}, m.Mark())
	avail, _ := m.Available("doce")
	require.Equal(t, 8, avail)
	avail, tracked := m.Available("canjica")
	require.True(t, tracked)
	require.Equal(t, 4, avail)
	require.Equal(t, map[string]int{"doce": 8, "sal": 1, "canjica": 4}, m.Snapshot())
}

type fakeSetter struct {
	set map[string]int
	err error
}

func (s *fakeSetter) SetStock(_ context.Context, slug string, qty int) error {
	if s.err != nil {
		return s.err
	}
	s.set[slug] = qty
	return nil
}

func TestAdjustStock_WritesThroughAndKeepsHolds(t *testing.T) {
	m, _, rec := newTestManager(t)
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 2}))

	store := &fakeSetter{set: map[string]int{}}
	require.NoError(t, m.AdjustStock(context.Background(), store, "doce", 20))
	require.Equal(t, 20, store.set["doce"])
	avail, _ := m.Available("doce")
	require.Equal(t, 18, avail)
	require.Equal(t, 18, rec.stock["doce"])

	require.ErrorIs(t, m.AdjustStock(context.Background(), store, "nope", 1), ErrUnknownProduct)
	require.ErrorIs(t, m.AdjustStock(context.Background(), store, "doce", -1), ErrInvalidQuantity)

	boom := errors.New("boom")
	err := m.AdjustStock(context.Background(), &fakeSetter{err: boom}, "doce", 1)
	require.ErrorIs(t, err, boom)
	avail, _ = m.Available("doce")
	require.Equal(t, 18, avail)
}

// stagedGateway applies every commit as soon as it arrives, then holds the
// result until the test opens that call's gate. Results can so be returned in
// a different order than the store applied them.
type stagedGateway struct {
	mu      sync.Mutex
	stock   map[string]int
	calls   int
	applied chan int
	gates   []chan struct{}
}

func newStagedGateway(stock map[string]int, calls int) *stagedGateway {
	g := &stagedGateway{stock: stock, applied: make(chan int, calls)}
	for range calls {
		g.gates = append(g.gates, make(chan struct{}))
	}
	return g
}

func (g *stagedGateway) Commit(_ context.Context, lines []domain.OrderLine) (map[string]int, error) {
	g.mu.Lock()
	call := g.calls
	g.calls++
	out := map[string]int{}
	var err error
	for _, l := range lines {
		if g.stock[l.Slug] < l.Qty {
			err = &domain.InsufficientStockError{Slug: l.Slug, Requested: l.Qty, Available: g.stock[l.Slug]}
		}
	}
	if err == nil {
		for _, l := range lines {
			g.stock[l.Slug] -= l.Qty
			out[l.Slug] = g.stock[l.Slug]
		}
	}
	g.mu.Unlock()

	g.applied <- call
	<-g.gates[call]
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *stagedGateway) Stock(slug string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stock[slug]
}

func TestCheckout_OverlappingCommitsReturningOutOfOrder(t *testing.T) {
	m := NewManager([]Level{{Slug: "doce", Quantity: 10, Tracked: true}}, nil)
	gw := newStagedGateway(map[string]int{"doce": 10}, 2)
	m.Open("a")
	m.Open("b")
	require.NoError(t, m.Add("a", LineItem{Slug: "doce", Qty: 3}))
	require.NoError(t, m.Add("b", LineItem{Slug: "doce", Qty: 2}))

	errA := make(chan error, 1)
	go func() {
		_, err := m.Checkout(context.Background(), "a", gw)
		errA <- err
	}()
	require.Equal(t, 0, <-gw.applied)

	errB := make(chan error, 1)
	go func() {
		_, err := m.Checkout(context.Background(), "b", gw)
		errB <- err
	}()
	require.Equal(t, 1, <-gw.applied)

	// The later commit reports first; the earlier one reports a stale 7.
	close(gw.gates[1])
	require.NoError(t, <-errB)
	close(gw.gates[0])
	require.NoError(t, <-errA)

	require.Equal(t, 5, gw.Stock("doce"))
	avail, _ := m.Available("doce")
	require.Equal(t, 5, avail)
	require.Equal(t, 0, m.Held("doce"))
}

func TestCommitOrder_OverlappingCartCheckout(t *testing.T) {
	m := NewManager([]Level{{Slug: "doce", Quantity: 10, Tracked: true}}, nil)
	gw := newStagedGateway(map[string]int{"doce": 10}, 2)
	m.Open("browser")
	m.Open("buyer")
	require.NoError(t, m.Add("buyer", LineItem{Slug: "doce", Qty: 2}))
	require.NoError(t, m.Add("browser", LineItem{Slug: "doce", Qty: 1}))

	chatErr := make(chan error, 1)
	go func() {
		_, err := m.CommitOrder(context.Background(), gw, []domain.OrderLine{{Slug: "doce", Qty: 4}})
		chatErr <- err
	}()
	require.Equal(t, 0, <-gw.applied)

	cartErr := make(chan error, 1)
	go func() {
		_, err := m.Checkout(context.Background(), "buyer", gw)
		cartErr <- err
	}()
	require.Equal(t, 1, <-gw.applied)

	close(gw.gates[1])
	require.NoError(t, <-cartErr)
	close(gw.gates[0])
	require.NoError(t, <-chatErr)

	// 10 - 4 - 2 persisted, 1 still held by the browser.
	require.Equal(t, 4, gw.Stock("doce"))
	avail, _ := m.Available("doce")
	require.Equal(t, 3, avail)
	require.Equal(t, 1, m.Held("doce"))
}

func TestCommitOrder_AdoptsStoreQuantityWhenAlone(t *testing.T) {
	m, _, rec := newTestManager(t)
	// The store was restocked behind the ledger's back.
	gw := &fakeGateway{stock: map[string]int{"doce": 9}}
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 1}))

	persisted, err := m.CommitOrder(context.Background(), gw, []domain.OrderLine{{Slug: "doce", Qty: 2}})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"doce": 7}, persisted)

	avail, _ := m.Available("doce")
	require.Equal(t, 6, avail)
	require.Equal(t, 6, rec.stock["doce"])
}

func TestCommitOrder_ShortageCorrectsLedger(t *testing.T) {
	m, _, _ := newTestManager(t)
	gw := &fakeGateway{stock: map[string]int{"doce": 1}}

	_, err := m.CommitOrder(context.Background(), gw, []domain.OrderLine{{Slug: "doce", Qty: 3}})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	avail, _ := m.Available("doce")
	require.Equal(t, 1, avail)
}

func TestCheckout_ShortageCorrectsLedger(t *testing.T) {
	m, _, rec := newTestManager(t)
	// Three units were sold through another channel.
	gw := &fakeGateway{stock: map[string]int{"doce": 2}}
	m.Open("c1")
	require.NoError(t, m.Add("c1", LineItem{Slug: "doce", Qty: 3}))

	_, err := m.Checkout(context.Background(), "c1", gw)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, 2, insufficient.Available)

	avail, _ := m.Available("doce")
	require.Equal(t, 0, avail)
	require.Equal(t, 0, rec.stock["doce"])
	require.Equal(t, 3, m.Held("doce"))

	require.NoError(t, m.Remove("c1", "doce"))
	avail, _ = m.Available("doce")
	require.Equal(t, 2, avail, "ledger matches the store once the hold is gone")
}

func TestSync_SkipsSlugsWrittenSinceMark(t *testing.T) {
	m, _, _ := newTestManager(t)
	gw := &fakeGateway{stock: map[string]int{"doce": 5, "sal": 1}}

	mark := m.Mark()
	// A refresh reads doce=5, then a chat order commits before it is applied.
	_, err := m.CommitOrder(context.Background(), gw, []domain.OrderLine{{Slug: "doce", Qty: 2}})
	require.NoError(t, err)
	m.Sync([]Level{
		{Slug: "doce", Quantity: 5, Tracked: true},
		{Slug: "sal", Quantity: 4, Tracked: true},
	}, mark)

	avail, _ := m.Available("doce")
	require.Equal(t, 3, avail)
	avail, _ = m.Available("sal")
	require.Equal(t, 4, avail)

	m.Sync([]Level{{Slug: "doce", Quantity: 8, Tracked: true}}, m.Mark())
	avail, _ = m.Available("doce")
	require.Equal(t, 8, avail)
}

func TestSync_SkipsSlugsWithCommitInFlight(t *testing.T) {
	m, _, _ := newTestManager(t)
	gw := newStagedGateway(map[string]int{"doce": 5}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := m.CommitOrder(context.Background(), gw, []domain.OrderLine{{Slug: "doce", Qty: 1}})
		done <- err
	}()
	<-gw.applied
	m.Sync([]Level{{Slug: "doce", Quantity: 5, Tracked: true}}, m.Mark())
	close(gw.gates[0])
	require.NoError(t, <-done)

	avail, _ := m.Available("doce")
	require.Equal(t, 4, avail)
}

func TestAdjustStock_OverlappingCommitLeavesLedger(t *testing.T) {
	m, _, _ := newTestManager(t)
	gw := newStagedGateway(map[string]int{"doce": 5}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := m.CommitOrder(context.Background(), gw, []domain.OrderLine{{Slug: "doce", Qty: 1}})
		done <- err
	}()
	<-gw.applied

	store := &fakeSetter{set: map[string]int{}}
	require.NoError(t, m.AdjustStock(context.Background(), store, "doce", 20))
	require.Equal(t, 20, store.set["doce"])
	avail, _ := m.Available("doce")
	require.Equal(t, 5, avail)

	close(gw.gates[0])
	require.NoError(t, <-done)
	avail, _ = m.Available("doce")
	require.Equal(t, 4, avail)
}
