package sched

import (
	"context"
	"sync"
	"time"

	"guardiand/internal/logging"
)

// WindowRunner is a scheduling layer that grants the pipeline bounded
// execution budgets: each firing re-arms the next window BEFORE doing
// any work, so a crash or an over-budget run can never disarm the chain.
// Two instances run in production, a frequent short window and a rarer
// long one with a larger budget.
type WindowRunner struct {
	coord    *Coordinator
	task     string
	interval time.Duration
	budget   time.Duration
	log      *logging.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWindowRunner creates a window layer.
func NewWindowRunner(coord *Coordinator, task string, interval, budget time.Duration, log *logging.Logger) *WindowRunner {
	return &WindowRunner{
		coord:    coord,
		task:     task,
		interval: interval,
		budget:   budget,
		log:      log.WithComponent(task),
		done:     make(chan struct{}),
	}
}

// Start launches the window chain.
func (w *WindowRunner) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop terminates the chain.
func (w *WindowRunner) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *WindowRunner) run(ctx context.Context) {
	defer w.wg.Done()
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Re-arm before working.
		timer.Reset(w.interval)
		w.fire(ctx)
	}
}

// fire runs one budget-bounded sync. Work still in flight when the
// budget expires is cancelled; the cursor keeps whatever chunks were
// confirmed, and the next window resumes from there.
func (w *WindowRunner) fire(ctx context.Context) {
	budgetCtx, cancel := context.WithTimeout(ctx, w.budget)
	defer cancel()

	if err := w.coord.SyncAll(budgetCtx); err != nil && ctx.Err() == nil {
		w.log.Debug("window expired before full sync", "budget", w.budget, "error", err)
	}
}
