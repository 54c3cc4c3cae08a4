package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// syncer is the engine's background WAL-durability worker for AckInterval
// mode (spec §6's wal_sync_mode "interval_ms:N"): it calls WAL.Sync on a
// fixed tick so a buffered Append becomes durable no later than one
// interval after it returns, rather than only on segment rotation or an
// explicit Sync call. Mirrors the compactor's supervision pattern.
type syncer struct {
	e        *Engine
	interval time.Duration
	g        *errgroup.Group
	cancel   context.CancelFunc
}

func newSyncer(e *Engine, interval time.Duration) *syncer {
	return &syncer{e: e, interval: interval}
}

// Start launches the worker goroutine. It runs until Stop is called.
func (s *syncer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	s.g = g

	g.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := s.e.wal.Sync(); err != nil {
					s.e.log.Error("interval wal sync failed", "error", err)
				}
			}
		}
	})
}

// Stop cancels the worker and waits for it to return.
func (s *syncer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.g.Wait()
}
