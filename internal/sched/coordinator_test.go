package sched

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeAdapter struct {
	name     string
	kind     event.SourceKind
	events   []event.RawEvent
	fetchErr error
	since    time.Time
}

func (a *fakeAdapter) Name() string            { return a.name }
func (a *fakeAdapter) Kind() event.SourceKind  { return a.kind }
func (a *fakeAdapter) Lookback() time.Duration { return 24 * time.Hour }

func (a *fakeAdapter) Fetch(ctx context.Context, since time.Time) (source.Iterator, error) {
	a.since = since
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	var out []event.RawEvent
	for _, ev := range a.events {
		if ev.ObservedAt.After(since) {
			out = append(out, ev)
		}
	}
	return source.FromSlice(out), nil
}

type fakeWriter struct {
	mu       sync.Mutex
	calls    int
	failures map[int]error
	records  map[string][]remote.Record
}

func (w *fakeWriter) BatchWrite(ctx context.Context, collection string, records []remote.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	call := w.calls
	w.calls++
	if err, ok := w.failures[call]; ok {
		return err
	}
	if w.records == nil {
		w.records = make(map[string][]remote.Record)
	}
	w.records[collection] = append(w.records[collection], records...)
	return nil
}

type fakeStatus struct {
	mu    sync.Mutex
	beats []remote.Heartbeat
}

func (s *fakeStatus) SendHeartbeat(ctx context.Context, hb remote.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats = append(s.beats, hb)
	return nil
}

func newTestCoordinator(t *testing.T, w uploader.Writer, adapters ...source.Adapter) (*Coordinator, *cursor.Store) {
	t.Helper()
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dd, err := dedup.New(10*time.Second, 500)
	require.NoError(t, err)

	log := logging.Discard()
	coord := NewCoordinator(Options{
		Store:     store,
		Adapters:  adapters,
		Extractor: extract.New(log),
		Dedup:     dd,
		Uploader:  uploader.New(w, 400, uploader.RetryPolicy{Attempts: 0, Base: time.Millisecond}, log),
		Health:    health.NewChecker("test", time.Hour),
		Metrics:   metrics.NewRegistry(),
		Log:       log,
		DeviceID:  "dev-1",
		Version:   "test",
	})
	return coord, store
}

func envelopeEvents(n int, base time.Time) []event.RawEvent {
	events := make([]event.RawEvent, n)
	for i := range events {
		at := base.Add(time.Duration(i) * time.Second)
		events[i] = event.RawEvent{
			Source:     event.SourceNotify,
			ObservedAt: at,
			Payload: event.StandardEnvelope{
				App:      "whatsapp",
				Sender:   "Alice",
				Body:     fmt.Sprintf("message %d", i),
				OriginID: fmt.Sprintf("origin-%d", i),
				Posted:   at,
			},
		}
	}
	return events
}

func TestSyncUploadsAndAdvancesCursor(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(5, base)}
	w := &fakeWriter{}
	coord, store := newTestCoordinator(t, w, adapter)

	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Len(t, w.records[remote.CollectionMessages], 5)

	last, err := store.LastSync(event.SourceNotify)
	require.NoError(t, err)
	assert.Equal(t, base.Add(4*time.Second).UnixNano(), last.UnixNano(),
		"cursor lands on the newest observation")

	// Second cycle fetches from the watermark and finds nothing new.
	w.records = nil
	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Empty(t, w.records[remote.CollectionMessages])
	assert.Equal(t, last.UnixNano(), adapter.since.UnixNano())
}

func TestCursorReflectsOnlyConfirmedChunks(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(500, base)}
	// First chunk (400 records) commits, second fails fatally.
	w := &fakeWriter{failures: map[int]error{
		1: &remote.Error{Status: 403, Transient: false, Msg: "forbidden"},
	}}
	coord, store := newTestCoordinator(t, w, adapter)

	err := coord.SyncMessages(context.Background())
	require.Error(t, err)

	last, err := store.LastSync(event.SourceNotify)
	require.NoError(t, err)
	assert.Equal(t, base.Add(399*time.Second).UnixNano(), last.UnixNano(),
		"watermark covers exactly the confirmed chunk, nothing past it")
}

func TestDeniedSourceDoesNotBlockOthers(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	denied := &fakeAdapter{name: "snapshot", kind: event.SourceSnapshot, fetchErr: errors.New("permission denied")}
	healthy := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(3, base)}
	w := &fakeWriter{}
	coord, store := newTestCoordinator(t, w, denied, healthy)

	err := coord.SyncMessages(context.Background())
	require.Error(t, err, "the denied source still surfaces its failure")
	assert.Len(t, w.records[remote.CollectionMessages], 3, "the healthy source synced anyway")

	last, err := store.LastSync(event.SourceNotify)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	deniedLast, err := store.LastSync(event.SourceSnapshot)
	require.NoError(t, err)
	assert.True(t, deniedLast.IsZero(), "the failed source must not advance")
}

func TestWindowDedupAcrossRerenders(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	// The same origin re-rendered two seconds later under a new
	// generation: one upload.
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: []event.RawEvent{
		{
			Source: event.SourceNotify, ObservedAt: base,
			Payload: event.StandardEnvelope{
				App: "whatsapp", Sender: "Alice", Body: "hello",
				OriginID: "origin-1", RenderGeneration: 1, Posted: base,
			},
		},
		{
			Source: event.SourceNotify, ObservedAt: base.Add(2 * time.Second),
			Payload: event.StandardEnvelope{
				App: "whatsapp", Sender: "Alice", Body: "hello",
				OriginID: "origin-1", RenderGeneration: 2, Posted: base.Add(2 * time.Second),
			},
		},
	}}
	w := &fakeWriter{}
	coord, store := newTestCoordinator(t, w, adapter)

	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Len(t, w.records[remote.CollectionMessages], 1)

	// The suppressed event still moves the watermark: it was handled.
	last, err := store.LastSync(event.SourceNotify)
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Second).UnixNano(), last.UnixNano())
}

func TestContentDedupAcrossSources(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: []event.RawEvent{
		{
			Source: event.SourceNotify, ObservedAt: base,
			Payload: event.StandardEnvelope{
				App: "whatsapp", Sender: "Alice", Body: "same words",
				OriginID: "origin-1", Posted: base,
			},
		},
		{
			// Different origin, same normalized content.
			Source: event.SourceNotify, ObservedAt: base.Add(time.Minute),
			Payload: event.StandardEnvelope{
				App: "whatsapp", Sender: "Alice", Body: "Same   Words",
				OriginID: "origin-2", Posted: base.Add(time.Minute),
			},
		},
	}}
	w := &fakeWriter{}
	coord, _ := newTestCoordinator(t, w, adapter)

	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Len(t, w.records[remote.CollectionMessages], 1)
}

func TestUsageAggregationUploaded(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	// Both samples start at the same instant so they land on one local
	// date regardless of when the test runs.
	adapter := &fakeAdapter{name: "usage", kind: event.SourceUsage, events: []event.RawEvent{
		{
			Source: event.SourceUsage, ObservedAt: base,
			Payload: event.UsageSample{App: "youtube", Start: base, Duration: 10 * time.Minute, Launch: true},
		},
		{
			Source: event.SourceUsage, ObservedAt: base.Add(30 * time.Minute),
			Payload: event.UsageSample{App: "youtube", Start: base, Duration: 5 * time.Minute},
		},
	}}
	w := &fakeWriter{}
	coord, store := newTestCoordinator(t, w, adapter)

	require.NoError(t, coord.SyncUsage(context.Background()))
	records := w.records[remote.CollectionUsage]
	require.Len(t, records, 1, "samples aggregate to one per-app-per-day record")
	assert.Equal(t, int64(15*time.Minute/time.Millisecond), records[0].Fields["foreground_ms"])
	assert.Equal(t, 1, records[0].Fields["launches"])

	last, err := store.LastSync(event.SourceUsage)
	require.NoError(t, err)
	assert.Equal(t, base.Add(30*time.Minute).UnixNano(), last.UnixNano())
}

// brokenStreamAdapter yields an iterator whose stream fails and keeps
// failing, the way a database cursor with a sticky error does.
type brokenStreamAdapter struct {
	err error
}

func (a *brokenStreamAdapter) Name() string            { return "usage" }
func (a *brokenStreamAdapter) Kind() event.SourceKind  { return event.SourceUsage }
func (a *brokenStreamAdapter) Lookback() time.Duration { return 24 * time.Hour }

func (a *brokenStreamAdapter) Fetch(ctx context.Context, since time.Time) (source.Iterator, error) {
	return &brokenStreamIterator{err: a.err}, nil
}

type brokenStreamIterator struct{ err error }

func (it *brokenStreamIterator) Next(ctx context.Context) (event.RawEvent, bool, error) {
	return event.RawEvent{}, false, it.err
}

func (it *brokenStreamIterator) Close() error { return nil }

func TestStreamErrorAbortsSourceCycle(t *testing.T) {
	streamErr := errors.New("database disk image is malformed")
	broken := &brokenStreamAdapter{err: streamErr}
	base := time.Now().Add(-time.Hour).UTC()
	healthy := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(2, base)}
	w := &fakeWriter{}
	coord, store := newTestCoordinator(t, w, broken, healthy)

	done := make(chan error, 1)
	go func() {
		done <- coord.SyncAll(context.Background())
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, streamErr)
	case <-time.After(5 * time.Second):
		t.Fatal("a persistently failing stream must abort the cycle, not spin")
	}

	// The broken source neither advances nor blocks the others.
	last, err := store.LastSync(event.SourceUsage)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
	assert.Len(t, w.records[remote.CollectionMessages], 2)
}

func TestFailedCycleLeavesDedupCleanForRetry(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(1, base)}
	// First cycle fails fatally before anything commits.
	w := &fakeWriter{failures: map[int]error{
		0: &remote.Error{Status: 503, Transient: true, Msg: "unavailable"},
	}}
	coord, store := newTestCoordinator(t, w, adapter)

	require.Error(t, coord.SyncMessages(context.Background()))
	assert.Empty(t, w.records[remote.CollectionMessages])
	last, err := store.LastSync(event.SourceNotify)
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "nothing committed, nothing advanced")

	// The retry re-fetches the same events; the content cache must not
	// have been poisoned by the failed attempt.
	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Len(t, w.records[remote.CollectionMessages], 1, "record delivered on retry")
	last, err = store.LastSync(event.SourceNotify)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestFreshNotificationsNotWindowSuppressed(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	// Two distinct messages from one app seconds apart, neither a
	// re-render: both carry an empty origin and both must upload.
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: []event.RawEvent{
		{
			Source: event.SourceNotify, ObservedAt: base,
			Payload: event.StandardEnvelope{
				App: "whatsapp", Sender: "Alice", Body: "are you coming?", Posted: base,
			},
		},
		{
			Source: event.SourceNotify, ObservedAt: base.Add(2 * time.Second),
			Payload: event.StandardEnvelope{
				App: "whatsapp", Sender: "Alice", Body: "we're at the gate",
				Posted: base.Add(2 * time.Second),
			},
		},
	}}
	w := &fakeWriter{}
	coord, _ := newTestCoordinator(t, w, adapter)

	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Len(t, w.records[remote.CollectionMessages], 2)
}

func TestMalformedEventsDroppedNotFatal(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	events := envelopeEvents(2, base)
	events = append(events, event.RawEvent{
		Source: event.SourceNotify, ObservedAt: base.Add(time.Minute),
		Payload: event.Unrecognized{Reason: "unexpected shape"},
	})
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: events}
	w := &fakeWriter{}
	coord, _ := newTestCoordinator(t, w, adapter)

	require.NoError(t, coord.SyncMessages(context.Background()))
	assert.Len(t, w.records[remote.CollectionMessages], 2)
}

func TestSyncAllSendsHeartbeatWithWatermarks(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(1, base)}
	w := &fakeWriter{}
	coord, _ := newTestCoordinator(t, w, adapter)
	status := &fakeStatus{}
	coord.opts.Status = status

	require.NoError(t, coord.SyncAll(context.Background()))
	require.Len(t, status.beats, 1)
	hb := status.beats[0]
	assert.Equal(t, "dev-1", hb.DeviceID)
	assert.Contains(t, hb.Watermarks, string(event.SourceNotify))
}

func TestBootCatchUpRunsOncePerBoot(t *testing.T) {
	base := time.Now().Add(-time.Hour).UTC()
	adapter := &fakeAdapter{name: "notify", kind: event.SourceNotify, events: envelopeEvents(1, base)}
	w := &fakeWriter{}
	coord, store := newTestCoordinator(t, w, adapter)
	ctx := context.Background()

	require.NoError(t, EnsureBootRestart(ctx, coord, store, 111, logging.Discard()))
	assert.Len(t, w.records[remote.CollectionMessages], 1, "first start since boot runs a catch-up")

	calls := w.calls
	require.NoError(t, EnsureBootRestart(ctx, coord, store, 111, logging.Discard()))
	assert.Equal(t, calls, w.calls, "same boot, no second catch-up")

	require.NoError(t, EnsureBootRestart(ctx, coord, store, 222, logging.Discard()))
	reg, err := store.Task(TaskBootRestart)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, int64(222), reg.BootID, "a new boot replaces the registration")
}
