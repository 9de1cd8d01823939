package inventory

import (
	"context"
	"time"
)

// RunSweeper calls Sweep every interval until ctx is cancelled. It shares the
// manager's lock, so a sweep never interleaves with an intent.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
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
			m.Sweep()
		}
	}
}
