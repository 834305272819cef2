package sched

import (
	"context"
	"sync"
	"time"

	"guardiand/internal/cursor"
	"guardiand/internal/logging"
)

// Backstop is the second scheduling layer: a coarse periodic timer that
// runs a full sync regardless of what the continuous loops are doing. If
// the continuous layer has silently died, the backstop still moves data;
// if both run, merge-by-id makes the overlap harmless.
type Backstop struct {
	coord    *Coordinator
	store    *cursor.Store
	interval time.Duration
	bootID   int64
	log      *logging.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBackstop creates the backstop layer.
func NewBackstop(coord *Coordinator, store *cursor.Store, interval time.Duration, bootID int64, log *logging.Logger) *Backstop {
	return &Backstop{
		coord:    coord,
		store:    store,
		interval: interval,
		bootID:   bootID,
		log:      log.WithComponent("backstop"),
		done:     make(chan struct{}),
	}
}

// Start registers the backstop task and launches its loop. Registration
// keeps an existing record so a daemon restart does not reset the
// schedule's phase.
func (b *Backstop) Start(ctx context.Context) error {
	created, err := b.store.RegisterTask(TaskPeriodicBackstop, b.bootID, true)
	if err != nil {
		return err
	}
	if created {
		b.log.Info("backstop registered", "interval", b.interval)
	}

	b.wg.Add(1)
	go b.run(ctx)
	return nil
}

// Stop terminates the loop.
func (b *Backstop) Stop() {
	close(b.done)
	b.wg.Wait()
}

func (b *Backstop) run(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Re-assert the registration each tick; a wiped state directory
		// heals on the next firing instead of silently disarming.
		if _, err := b.store.RegisterTask(TaskPeriodicBackstop, b.bootID, true); err != nil {
			b.log.Warn("backstop re-registration failed", "error", err)
		}
		if err := b.coord.SyncAll(ctx); err != nil && ctx.Err() == nil {
			b.log.Warn("backstop cycle incomplete", "error", err)
		}
	}
}
