package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-concierge/internal/domain"
)

// SessionStore persists conversations keyed by chat id. Load returns
// domain.ErrNotFound for unknown chats; Save and Delete return
// domain.ErrConflict when the stored version moved since the session was
// loaded. Deleting a missing session succeeds.
type SessionStore interface {
	Load(ctx context.Context, chatID string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, chatID string, version int64) error
	All(ctx context.Context) ([]*domain.Session, error)
}

// SnapshotWriter receives batches of changed sessions.
// *repository.Client satisfies it.
type SnapshotWriter interface {
	Snapshot(ctx context.Context, sessions []*domain.Session, gone []string) error
}

// MemoryStore keeps sessions in process and tracks which ones changed since
// the last snapshot.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	dirty    map[string]struct{}
	gone     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*domain.Session{},
		dirty:    map[string]struct{}{},
		gone:     map[string]struct{}{},
	}
}

// Restore loads previously snapshotted sessions without marking them dirty.
func (m *MemoryStore) Restore(sessions []*domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		if s == nil || s.ChatID == "" {
			continue
		}
		m.sessions[s.ChatID] = s.Clone()
	}
}

func (m *MemoryStore) Load(_ context.Context, chatID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ChatID]
	switch {
	case ok && cur.Version != s.Version:
		return domain.ErrConflict
	case !ok && s.Version != 0:
		return domain.ErrConflict
	}
	s.Version++
	m.sessions[s.ChatID] = s.Clone()
	m.dirty[s.ChatID] = struct{}{}
	delete(m.gone, s.ChatID)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, chatID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[chatID]
	if !ok {
		return nil
	}
	if cur.Version != version {
		return domain.ErrConflict
	}
	delete(m.sessions, chatID)
	delete(m.dirty, chatID)
	m.gone[chatID] = struct{}{}
	return nil
}

// All returns copies of every session ordered by chat id.
func (m *MemoryStore) All(_ context.Context) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (m *MemoryStore) drain() ([]*domain.Session, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := make([]*domain.Session, 0, len(m.dirty))
	for id := range m.dirty {
		changed = append(changed, m.sessions[id].Clone())
	}
	gone := make([]string, 0, len(m.gone))
	for id := range m.gone {
		gone = append(gone, id)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ChatID < changed[j].ChatID })
	sort.Strings(gone)
	m.dirty = map[string]struct{}{}
	m.gone = map[string]struct{}{}
	return changed, gone
}

// requeue marks a failed batch dirty again unless newer changes superseded it.
func (m *MemoryStore) requeue(changed []*domain.Session, gone []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range changed {
		if _, alive := m.sessions[s.ChatID]; alive {
			m.dirty[s.ChatID] = struct{}{}
		}
	}
	for _, id := range gone {
		if _, alive := m.sessions[id]; !alive {
			m.gone[id] = struct{}{}
		}
	}
}

// Flush writes every change since the previous flush to w.
func (m *MemoryStore) Flush(ctx context.Context, w SnapshotWriter) error {
	changed, gone := m.drain()
	if len(changed) == 0 && len(gone) == 0 {
		return nil
	}
	if err := w.Snapshot(ctx, changed, gone); err != nil {
		m.requeue(changed, gone)
		return err
	}
	return nil
}

// RunSnapshots flushes to w every interval and once more when ctx ends.
func (m *MemoryStore) RunSnapshots(ctx context.Context, w SnapshotWriter, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := m.Flush(final, w); err != nil {
				logger.Error("final session snapshot failed", zap.Error(err))
			}
			cancel()
			return
		case <-t.C:
			if err := m.Flush(ctx, w); err != nil {
				logger.Warn("session snapshot failed", zap.Error(err))
			}
		}
	}
}
