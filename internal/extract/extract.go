// Package extract converts adapter payloads into normalized message and
// usage records.
//
// Two strategies are composed: structured extraction for payloads that
// already carry sender/body fields (notification envelopes and rich
// bundles), and heuristic extraction over UI-tree snapshots. Both are
// best-effort: a payload that cannot be parsed is dropped and reported as
// malformed, never allowed to abort the rest of a batch.
package extract

import (
	"errors"

	"guardiand/internal/event"
	"guardiand/internal/logging"
)

// ErrMalformedEvent marks a raw event that could not be interpreted. The
// caller drops the event and continues with the remainder of the stream.
var ErrMalformedEvent = errors.New("malformed event")

// Engine turns raw events into normalized records.
type Engine struct {
	log *logging.Logger
}

// New creates an extraction engine.
func New(log *logging.Logger) *Engine {
	return &Engine{log: log}
}

// Extract converts one raw event into zero or more normalized messages.
// Usage samples yield no messages here; they are aggregated separately by
// AggregateUsage.
func (e *Engine) Extract(raw event.RawEvent) ([]event.NormalizedMessage, error) {
	switch p := raw.Payload.(type) {
	case event.StandardEnvelope:
		return e.fromEnvelope(p), nil
	case event.RichBundle:
		return e.fromBundle(p), nil
	case event.TreeSnapshot:
		return e.fromTree(p), nil
	case event.UsageSample:
		return nil, nil
	case event.Unrecognized:
		e.log.Warn("dropping unrecognized payload", "source", string(raw.Source), "reason", p.Reason)
		return nil, ErrMalformedEvent
	default:
		return nil, ErrMalformedEvent
	}
}

// truncateBody caps a body before the id is derived so that repeated
// extraction of an over-long body converges on one record.
func truncateBody(body string) string {
	if len(body) > event.MaxBodyLength {
		return body[:event.MaxBodyLength]
	}
	return body
}
