// Package source defines the adapter contract for raw event channels and
// the three concrete adapters: the app-usage journal, the desktop
// notification feed, and the UI-tree snapshot spool.
package source

import (
	"context"
	"time"

	"guardiand/internal/event"
)

// Adapter produces raw events from one input channel.
//
// Fetch re-queries from `since` on every call; the returned iterator is
// finite and not restartable mid-sequence. Lack of permission and lack of
// data both yield an empty iterator; the adapter logs the warning itself
// so a denied channel never stops the others.
type Adapter interface {
	// Name is the adapter's log/metric label.
	Name() string

	// Kind is the source this adapter feeds, keying its sync cursor.
	Kind() event.SourceKind

	// Lookback bounds how far back a fetch may reach on first run.
	Lookback() time.Duration

	// Fetch returns events observed after since, oldest first. Results
	// are streamed: large backlogs must not be materialized wholesale.
	Fetch(ctx context.Context, since time.Time) (Iterator, error)
}

// Iterator streams raw events. Next returns ok=false when the sequence
// ends: with a nil error it is exhausted, with a non-nil error the stream
// itself failed and the caller must abandon the source's cycle. An error
// with ok=true means that single event is malformed; the caller drops it
// and keeps iterating.
type Iterator interface {
	Next(ctx context.Context) (ev event.RawEvent, ok bool, err error)
	Close() error
}

// Empty returns an iterator with no events.
func Empty() Iterator {
	return &sliceIterator{}
}

// FromSlice returns an iterator over pre-collected events; used by the
// notification adapter's drained buffer and by tests.
func FromSlice(events []event.RawEvent) Iterator {
	return &sliceIterator{events: events}
}

type sliceIterator struct {
	events []event.RawEvent
	pos    int
}

func (it *sliceIterator) Next(ctx context.Context) (event.RawEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return event.RawEvent{}, false, err
	}
	if it.pos >= len(it.events) {
		return event.RawEvent{}, false, nil
	}
	ev := it.events[it.pos]
	it.pos++
	return ev, true, nil
}

func (it *sliceIterator) Close() error { return nil }
