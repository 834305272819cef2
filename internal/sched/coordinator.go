package sched

import (
	"context"
	"errors"
	"time"

	"guardiand/internal/cursor"
	"guardiand/internal/dedup"
	"guardiand/internal/event"
	"guardiand/internal/extract"
	"guardiand/internal/health"
	"guardiand/internal/logging"
	"guardiand/internal/metrics"
	"guardiand/internal/remote"
	"guardiand/internal/source"
	"guardiand/internal/uploader"
)

// StatusSender posts the daemon heartbeat; satisfied by *remote.Client.
type StatusSender interface {
	SendHeartbeat(ctx context.Context, hb remote.Heartbeat) error
}

// ControlSyncer pulls and applies the controller's policy document;
// satisfied by *control.Manager.
type ControlSyncer interface {
	Sync(ctx context.Context) (bool, error)
}

// Options wires a Coordinator.
type Options struct {
	Store     *cursor.Store
	Adapters  []source.Adapter
	Extractor *extract.Engine
	Dedup     *dedup.Deduper
	Uploader  *uploader.Uploader
	Status    StatusSender
	Controls  ControlSyncer
	Health    *health.Checker
	Metrics   *metrics.Registry
	Log       *logging.Logger
	DeviceID  string
	Version   string
}

// Coordinator runs the fetch → extract → dedup → upload pipeline across
// all adapters. It is safe to invoke from multiple scheduling layers at
// once: cursor advancement is monotonic and uploads merge by id, so
// overlapping runs converge instead of duplicating.
type Coordinator struct {
	opts Options
	log  *logging.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{opts: opts, log: opts.Log.WithComponent("sched")}
}

// SyncMessages runs the pipeline for every message-bearing adapter (all
// but the usage journal). Per-source failures are joined, never allowed
// to stop the remaining sources.
func (c *Coordinator) SyncMessages(ctx context.Context) error {
	return c.syncWhere(ctx, func(a source.Adapter) bool {
		return a.Kind() != event.SourceUsage
	})
}

// SyncUsage runs the pipeline for the usage journal.
func (c *Coordinator) SyncUsage(ctx context.Context) error {
	return c.syncWhere(ctx, func(a source.Adapter) bool {
		return a.Kind() == event.SourceUsage
	})
}

// SyncAll runs the full pipeline over every adapter and then posts a
// heartbeat. Backstop and window layers call this.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	err := c.syncWhere(ctx, func(source.Adapter) bool { return true })
	c.heartbeat(ctx)
	return err
}

// OnWake is the reduced-scope path for supervisor wake-ups: refresh the
// control document and post a heartbeat, but leave capture to the
// regular layers.
func (c *Coordinator) OnWake(ctx context.Context) {
	if c.opts.Controls != nil {
		if _, err := c.opts.Controls.Sync(ctx); err != nil {
			c.log.Warn("control sync on wake failed", "error", err)
		}
	}
	c.heartbeat(ctx)
}

// SyncControls runs one control poll.
func (c *Coordinator) SyncControls(ctx context.Context) error {
	if c.opts.Controls == nil {
		return nil
	}
	_, err := c.opts.Controls.Sync(ctx)
	return err
}

func (c *Coordinator) syncWhere(ctx context.Context, keep func(source.Adapter) bool) error {
	c.opts.Metrics.Counter("cycles_total").Inc()

	var errs []error
	for _, a := range c.opts.Adapters {
		if !keep(a) {
			continue
		}
		if err := c.syncSource(ctx, a); err != nil {
			c.opts.Health.RecordError(a.Name(), err)
			c.opts.Metrics.Counter("cycle_failures_total").Inc()
			c.log.Warn("source sync failed", "source", a.Name(), "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.opts.Health.RecordSuccess(a.Name(), time.Now())
	}
	if len(errs) == 0 {
		c.opts.Metrics.Gauge("last_cycle_unix").Set(time.Now().Unix())
	}
	return errors.Join(errs...)
}

// syncSource runs one adapter through the pipeline. The cursor advances
// per confirmed chunk during the upload and to the newest observation
// after full success, so an interrupted run resumes from exactly what
// the ledger confirmed.
func (c *Coordinator) syncSource(ctx context.Context, a source.Adapter) error {
	since, err := c.opts.Store.FetchSince(a.Kind(), a.Lookback())
	if err != nil {
		return err
	}

	it, err := a.Fetch(ctx, since)
	if err != nil {
		return err
	}
	defer it.Close()

	var (
		msgs        []event.NormalizedMessage
		samples     []event.UsageSample
		observed    = make(map[string]time.Time)
		contentKeys = make(map[string]string)
		batchKeys   = make(map[string]struct{})
		newest      time.Time
	)
	for {
		ev, ok, err := it.Next(ctx)
		if !ok {
			if err != nil {
				// The stream itself failed (cancellation, or a broken
				// source mid-sequence); abandon this source's cycle.
				return err
			}
			break
		}
		if err != nil {
			// A single malformed event; drop it and keep streaming.
			c.opts.Metrics.Counter("events_malformed_total").Inc()
			continue
		}
		if ev.ObservedAt.After(newest) {
			newest = ev.ObservedAt
		}

		if s, isUsage := ev.Payload.(event.UsageSample); isUsage {
			samples = append(samples, s)
			continue
		}

		if key, keyed := envelopeKey(ev.Payload); keyed && !c.opts.Dedup.Window.ShouldEmit(key) {
			c.opts.Metrics.Counter("dedup_window_suppressed_total").Inc()
			continue
		}

		extracted, err := c.opts.Extractor.Extract(ev)
		if err != nil {
			c.opts.Metrics.Counter("events_malformed_total").Inc()
			continue
		}
		c.opts.Metrics.Counter("events_extracted_total").Add(int64(len(extracted)))

		for _, m := range extracted {
			key := event.ContentKey(m.SourceApp, m.Body)
			if c.opts.Dedup.Content.Contains(key) {
				c.opts.Metrics.Counter("dedup_content_suppressed_total").Inc()
				continue
			}
			if _, dup := batchKeys[key]; dup {
				continue
			}
			if _, dup := observed[m.ID]; dup {
				continue
			}
			batchKeys[key] = struct{}{}
			contentKeys[m.ID] = key
			observed[m.ID] = ev.ObservedAt
			msgs = append(msgs, m)
		}
	}

	if a.Kind() == event.SourceUsage {
		records := uploader.UsageRecords(extract.AggregateUsage(samples))
		if _, err := c.opts.Uploader.Upload(ctx, remote.CollectionUsage, records, nil); err != nil {
			return err
		}
		c.opts.Metrics.Counter("usage_uploaded_total").Add(int64(len(records)))
	} else {
		records := uploader.MessageRecords(msgs)
		res, err := c.opts.Uploader.Upload(ctx, remote.CollectionMessages, records, func(chunk []remote.Record) {
			// Content keys and the cursor are recorded only for confirmed
			// chunks: a failed or cancelled cycle leaves both untouched,
			// so the next trigger re-fetches and re-attempts delivery.
			var maxTs time.Time
			for _, r := range chunk {
				if ts := observed[r.ID]; ts.After(maxTs) {
					maxTs = ts
				}
				if key, ok := contentKeys[r.ID]; ok {
					c.opts.Dedup.Content.Add(key)
				}
			}
			if !maxTs.IsZero() {
				if err := c.opts.Store.Advance(a.Kind(), maxTs); err != nil {
					c.log.Warn("cursor advance failed", "source", a.Name(), "error", err)
				}
			}
		})
		c.opts.Metrics.Counter("messages_uploaded_total").Add(int64(res.Committed))
		if err != nil {
			return err
		}
	}

	// Everything fetched was either uploaded or deliberately suppressed;
	// the watermark may cover the whole batch.
	if !newest.IsZero() {
		if err := c.opts.Store.Advance(a.Kind(), newest); err != nil {
			return err
		}
	}
	return nil
}

// envelopeKey extracts the window-dedup key for payloads that carry an
// origin identity.
func envelopeKey(p event.Payload) (string, bool) {
	switch v := p.(type) {
	case event.StandardEnvelope:
		if v.OriginID != "" {
			return event.EnvelopeKey(v.App, v.OriginID), true
		}
	case event.RichBundle:
		if v.OriginID != "" {
			return event.EnvelopeKey(v.App, v.OriginID), true
		}
	}
	return "", false
}

// heartbeat posts the status document with per-source watermarks. A
// failed heartbeat is logged and dropped; the next layer to run sends a
// fresh one.
func (c *Coordinator) heartbeat(ctx context.Context) {
	if c.opts.Status == nil {
		return
	}
	watermarks := make(map[string]string, len(c.opts.Adapters))
	for _, a := range c.opts.Adapters {
		last, err := c.opts.Store.LastSync(a.Kind())
		if err != nil || last.IsZero() {
			continue
		}
		watermarks[string(a.Kind())] = last.Format(time.RFC3339Nano)
	}
	hb := remote.Heartbeat{
		DeviceID:   c.opts.DeviceID,
		At:         time.Now().UTC(),
		Watermarks: watermarks,
		Version:    c.opts.Version,
	}
	if err := c.opts.Status.SendHeartbeat(ctx, hb); err != nil {
		c.log.Warn("heartbeat failed", "error", err)
		return
	}
	c.opts.Metrics.Counter("heartbeats_total").Inc()
}
