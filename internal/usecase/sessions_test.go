package usecase

import (
	"context"
	"errors"
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

type snapshotCall struct {
	ids  []string
	gone []string
}

type fakeSnapshots struct {
	mu    sync.Mutex
	calls []snapshotCall
	err   error
}

func (f *fakeSnapshots) Snapshot(_ context.Context, sessions []*domain.Session, gone []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ChatID)
	}
	f.calls = append(f.calls, snapshotCall{ids: ids, gone: gone})
	return f.err
}

func (f *fakeSnapshots) snapshot() []snapshotCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]snapshotCall(nil), f.calls...)
}

func TestMemoryStore_VersionCheck(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s := domain.NewSession("c1", time.Now())
	require.NoError(t, m.Save(ctx, s))
	require.Equal(t, int64(1), s.Version)

	a, err := m.Load(ctx, "c1")
	require.NoError(t, err)
	b, err := m.Load(ctx, "c1")
	require.NoError(t, err)

	a.State = domain.StateMenuWait
	require.NoError(t, m.Save(ctx, a))
	require.ErrorIs(t, m.Save(ctx, b), domain.ErrConflict)

	stale := domain.NewSession("c2", time.Now())
	stale.Version = 3
	require.ErrorIs(t, m.Save(ctx, stale), domain.ErrConflict)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := domain.NewSession("c1", time.Now())
	s.PendingOrder["doce"] = 1
	require.NoError(t, m.Save(ctx, s))

	got, err := m.Load(ctx, "c1")
	require.NoError(t, err)
	got.PendingOrder["doce"] = 9

	again, err := m.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 1, again.PendingOrder["doce"])
}

func TestMemoryStore_DeleteAndAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, m.Save(ctx, domain.NewSession(id, time.Now())))
	}
	require.ErrorIs(t, m.Delete(ctx, "b", 0), domain.ErrConflict)
	require.NoError(t, m.Delete(ctx, "b", 1))
	require.NoError(t, m.Delete(ctx, "missing", 3))

	_, err := m.Load(ctx, "b")
	require.ErrorIs(t, err, domain.ErrNotFound)

	all, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].ChatID)
	require.Equal(t, "c", all[1].ChatID)
}

func TestMemoryStore_FlushSendsChangesOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	w := &fakeSnapshots{}

	require.NoError(t, m.Save(ctx, domain.NewSession("a", time.Now())))
	require.NoError(t, m.Save(ctx, domain.NewSession("b", time.Now())))
	require.NoError(t, m.Delete(ctx, "b", 1))

	require.NoError(t, m.Flush(ctx, w))
	require.NoError(t, m.Flush(ctx, w))

	calls := w.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"a"}, calls[0].ids)
	require.Equal(t, []string{"b"}, calls[0].gone)
}

func TestMemoryStore_FlushFailureRequeues(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	w := &fakeSnapshots{err: errors.New("throttled")}

	require.NoError(t, m.Save(ctx, domain.NewSession("a", time.Now())))
	require.NoError(t, m.Save(ctx, domain.NewSession("gone", time.Now())))
	require.NoError(t, m.Delete(ctx, "gone", 1))
	require.Error(t, m.Flush(ctx, w))

	w.err = nil
	require.NoError(t, m.Flush(ctx, w))
	calls := w.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, calls[0], calls[1])
}

func TestMemoryStore_RestoreIsNotDirty(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	w := &fakeSnapshots{}
	restored := domain.NewSession("a", time.Now())
	restored.Version = 4
	m.Restore([]*domain.Session{restored, nil})

	require.NoError(t, m.Flush(ctx, w))
	require.Empty(t, w.snapshot())

	s, err := m.Load(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, s))
	require.Equal(t, int64(5), s.Version)
}

func TestMemoryStore_RunSnapshotsFlushesOnShutdown(t *testing.T) {
	m := NewMemoryStore()
	w := &fakeSnapshots{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunSnapshots(ctx, w, time.Hour, nil)
	}()

	require.NoError(t, m.Save(context.Background(), domain.NewSession("a", time.Now())))
	cancel()
	<-done

	calls := w.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"a"}, calls[0].ids)
}

func TestChatLocks(t *testing.T) {
	l := newChatLocks()

	unlock := l.Lock("a")
	_, ok := l.TryLock("a")
	require.False(t, ok)

	other, ok := l.TryLock("b")
	require.True(t, ok)
	other()

	acquired := make(chan struct{})
	go func() {
		u := l.Lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second Lock must wait for the holder")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired

	require.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 5*time.Millisecond)
}
