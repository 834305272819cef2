package sched

import (
	"context"
	"sync"
	"time"

	"guardiand/internal/config"
	"guardiand/internal/logging"
)

// Continuous is the primary scheduling layer: in-process tickers for the
// message sources, the usage journal, and the control poll, plus a kick
// channel for immediate out-of-band cycles.
type Continuous struct {
	coord *Coordinator
	cfg   config.SyncConfig
	log   *logging.Logger

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewContinuous creates the continuous layer.
func NewContinuous(coord *Coordinator, cfg config.SyncConfig, log *logging.Logger) *Continuous {
	return &Continuous{
		coord: coord,
		cfg:   cfg,
		log:   log.WithComponent("continuous"),
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the loops. Each runs until Stop or context cancellation.
func (c *Continuous) Start(ctx context.Context) {
	c.wg.Add(3)
	go c.messageLoop(ctx)
	go c.usageLoop(ctx)
	go c.controlLoop(ctx)
}

// Stop terminates the loops and waits for them to drain.
func (c *Continuous) Stop() {
	close(c.done)
	c.wg.Wait()
}

// Kick requests an immediate message cycle without waiting for the next
// tick. Coalesces if one is already pending.
func (c *Continuous) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Continuous) messageLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.MessageIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		if err := c.coord.SyncMessages(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("message cycle incomplete", "error", err)
		}
	}
}

func (c *Continuous) usageLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.UsageIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.coord.SyncUsage(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("usage cycle incomplete", "error", err)
		}
	}
}

func (c *Continuous) controlLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.ControlPollMin) * time.Minute)
	defer ticker.Stop()

	// First poll runs at startup so a fresh install picks up policy
	// without waiting out the interval.
	if err := c.coord.SyncControls(ctx); err != nil && ctx.Err() == nil {
		c.log.Warn("control poll failed", "error", err)
	}

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.coord.SyncControls(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("control poll failed", "error", err)
		}
	}
}
