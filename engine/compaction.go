package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxLevels bounds how many levels the background worker scans on each
// pass; a collection that never reaches this depth of compaction never
// touches the higher levels at all.
const maxLevels = 6

const compactionPollInterval = 200 * time.Millisecond

// compactor is the engine's dedicated background compaction worker. Spec
// §5 requires at most one worker per engine; the weighted semaphore
// enforces that even if Wake is called while a pass is still running, and
// the errgroup gives Stop a clean way to wait for that pass to finish
// before returning, the same pattern the teacher uses to supervise its
// server goroutines against a cancellable context.
type compactor struct {
	e      *Engine
	sem    *semaphore.Weighted
	g      *errgroup.Group
	cancel context.CancelFunc
	wake   chan struct{}
}

func newCompactor(e *Engine) *compactor {
	return &compactor{e: e, sem: semaphore.NewWeighted(1), wake: make(chan struct{}, 1)}
}

// Start launches the worker goroutine. It runs until Stop is called.
func (c *compactor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	c.g = g

	g.Go(func() error {
		ticker := time.NewTicker(compactionPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				c.runPass()
			case <-c.wake:
				c.runPass()
			}
		}
	})
}

// Wake nudges the worker to check for compaction-eligible levels sooner
// than its next poll, without blocking the caller if a pass is already
// queued.
func (c *compactor) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *compactor) runPass() {
	if !c.sem.TryAcquire(1) {
		return
	}
	defer c.sem.Release(1)

	for level := 0; level < maxLevels; level++ {
		if !c.e.levels.ShouldCompact(level, c.e.opts.CompactionThreshold) {
			continue
		}
		if err := c.e.levels.Compact(level); err != nil {
			c.e.log.Error("compaction failed", "level", level, "error", err)
		}
	}
}

// Stop cancels the worker and waits for its current pass, if any, to
// finish.
func (c *compactor) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.g.Wait()
}
