package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"guardiand/internal/config"
	"guardiand/internal/event"
	"guardiand/internal/logging"
)

// NotifyAdapter captures the desktop notification feed by monitoring
// Notify calls on the session bus. A background collector parses each
// call into an envelope payload and appends it to a bounded buffer;
// Fetch drains copies of the buffered envelopes newer than the cursor.
// Envelopes stay buffered until they age past the lookback cap, so a
// failed upload cycle can re-fetch them on the next run.
type NotifyAdapter struct {
	lookback time.Duration
	bufSize  int
	log      *logging.Logger

	mu          sync.Mutex
	buf         []event.RawEvent
	generations map[string]int

	conn *dbus.Conn
	done chan struct{}
	wg   sync.WaitGroup
}

// NewNotifyAdapter creates the notification feed adapter.
func NewNotifyAdapter(cfg config.NotifySourceConfig, log *logging.Logger) *NotifyAdapter {
	return &NotifyAdapter{
		lookback:    time.Duration(cfg.LookbackCapHours) * time.Hour,
		bufSize:     cfg.BufferSize,
		log:         log.WithComponent("source.notify"),
		generations: make(map[string]int),
		done:        make(chan struct{}),
	}
}

func (a *NotifyAdapter) Name() string            { return "notify" }
func (a *NotifyAdapter) Kind() event.SourceKind  { return event.SourceNotify }
func (a *NotifyAdapter) Lookback() time.Duration { return a.lookback }

// Start connects to the session bus and begins collecting. Failure to
// connect or to become a monitor is a permission problem: it is logged
// and the adapter simply produces empty sequences.
func (a *NotifyAdapter) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		a.log.Warn("session bus unavailable, notification feed disabled", "error", err)
		return nil
	}

	rules := []string{
		"type='method_call',interface='org.freedesktop.Notifications',member='Notify'",
	}
	call := conn.BusObject().Call("org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, rules, uint32(0))
	if call.Err != nil {
		a.log.Warn("monitor access denied, notification feed disabled", "error", call.Err)
		conn.Close()
		return nil
	}

	ch := make(chan *dbus.Message, 64)
	conn.Eavesdrop(ch)
	a.conn = conn

	a.wg.Add(1)
	go a.collect(ch)
	return nil
}

// Stop shuts down the collector.
func (a *NotifyAdapter) Stop() {
	close(a.done)
	if a.conn != nil {
		a.conn.Close()
	}
	a.wg.Wait()
}

// Fetch returns buffered envelopes observed after since, oldest first.
func (a *NotifyAdapter) Fetch(ctx context.Context, since time.Time) (Iterator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneLocked(time.Now())

	var out []event.RawEvent
	for _, ev := range a.buf {
		if ev.ObservedAt.After(since) {
			out = append(out, ev)
		}
	}
	return FromSlice(out), nil
}

// collect drains the monitor channel into the buffer.
func (a *NotifyAdapter) collect(ch chan *dbus.Message) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil || msg.Type != dbus.TypeMethodCall {
				continue
			}
			a.ingest(msg)
		}
	}
}

// ingest parses one Notify call and appends the resulting payload.
func (a *NotifyAdapter) ingest(msg *dbus.Message) {
	now := time.Now().UTC()
	payload := a.parseNotify(msg.Body, now)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, event.RawEvent{
		Source:     event.SourceNotify,
		Payload:    payload,
		ObservedAt: now,
	})
	a.pruneLocked(now)
}

// pruneLocked drops envelopes past the lookback horizon and enforces the
// buffer cap (oldest first). Callers hold a.mu.
func (a *NotifyAdapter) pruneLocked(now time.Time) {
	horizon := now.Add(-a.lookback)
	keep := a.buf[:0]
	for _, ev := range a.buf {
		if ev.ObservedAt.After(horizon) {
			keep = append(keep, ev)
		}
	}
	a.buf = keep
	if over := len(a.buf) - a.bufSize; over > 0 {
		a.buf = a.buf[over:]
	}
}

// parseNotify maps the org.freedesktop.Notifications.Notify signature
// (app_name, replaces_id, app_icon, summary, body, actions, hints,
// expire_timeout) onto the closed payload set. Any shape surprise yields
// Unrecognized; the extraction engine drops those as malformed instead of
// this code accessing loosely-typed fields speculatively.
func (a *NotifyAdapter) parseNotify(body []interface{}, now time.Time) event.Payload {
	if len(body) < 8 {
		return event.Unrecognized{Reason: fmt.Sprintf("notify call with %d arguments", len(body))}
	}

	appName, ok1 := body[0].(string)
	replacesID, ok2 := body[1].(uint32)
	summary, ok3 := body[3].(string)
	text, ok4 := body[4].(string)
	hints, ok5 := body[6].(map[string]dbus.Variant)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return event.Unrecognized{Reason: "notify call with unexpected argument types"}
	}

	app := strings.ToLower(appName)

	// replaces_id is zero for every fresh notification; only a positive
	// value identifies a re-render of an earlier one. A fresh
	// notification therefore carries no origin, so distinct messages
	// from one app never share a window-dedup key.
	var origin string
	gen := 1
	if replacesID > 0 {
		origin = fmt.Sprintf("%s:%d", app, replacesID)
		a.mu.Lock()
		a.generations[origin]++
		gen = a.generations[origin]
		a.mu.Unlock()
	}

	env := event.StandardEnvelope{
		App:              app,
		Sender:           summary,
		Title:            summary,
		Body:             text,
		OriginID:         origin,
		RenderGeneration: gen,
		Posted:           now,
	}

	items, summaryOnly := parseMessageHints(hints, now)
	if items != nil || summaryOnly {
		return event.RichBundle{
			StandardEnvelope: env,
			Items:            items,
			Summary:          summaryOnly,
		}
	}
	return env
}

// parseMessageHints extracts conversation-style sub-messages that
// messaging apps attach under the x-messages hint, and the x-summary
// marker for aggregate envelopes.
func parseMessageHints(hints map[string]dbus.Variant, fallback time.Time) ([]event.BundleItem, bool) {
	summaryOnly := false
	if v, ok := hints["x-summary"]; ok {
		if b, ok := v.Value().(bool); ok {
			summaryOnly = b
		}
	}

	v, ok := hints["x-messages"]
	if !ok {
		return nil, summaryOnly
	}
	entries, ok := v.Value().([]map[string]dbus.Variant)
	if !ok {
		return nil, summaryOnly
	}

	var items []event.BundleItem
	for _, entry := range entries {
		item := event.BundleItem{Timestamp: fallback}
		if sv, ok := entry["sender"]; ok {
			if s, ok := sv.Value().(string); ok {
				item.Sender = s
			}
		}
		if bv, ok := entry["body"]; ok {
			if s, ok := bv.Value().(string); ok {
				item.Body = s
			}
		}
		if tv, ok := entry["timestamp"]; ok {
			if ns, ok := tv.Value().(int64); ok && ns > 0 {
				item.Timestamp = time.Unix(0, ns).UTC()
			}
		}
		items = append(items, item)
	}
	return items, summaryOnly
}
