// Package event defines the records that flow through the capture pipeline:
// raw adapter output, normalized messages, and usage records.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SourceKind identifies the input channel an event originated from.
type SourceKind string

const (
	// SourceUsage is the structured app-usage journal.
	SourceUsage SourceKind = "usage_journal"

	// SourceNotify is the semi-structured desktop notification feed.
	SourceNotify SourceKind = "notification_feed"

	// SourceSnapshot is the unstructured accessibility UI-tree snapshot spool.
	SourceSnapshot SourceKind = "ui_snapshot"
)

// Direction indicates who authored a message relative to the device owner.
type Direction int

const (
	// DirectionReceived is the conservative default: attribution heuristics
	// that fail to match never promote a message to sent.
	DirectionReceived Direction = iota

	// DirectionSent indicates the device owner authored the message.
	DirectionSent
)

// String returns the wire name for the direction.
func (d Direction) String() string {
	if d == DirectionSent {
		return "sent"
	}
	return "received"
}

// MaxBodyLength caps normalized message bodies. Longer bodies are truncated
// before the id is derived so re-extraction stays deterministic.
const MaxBodyLength = 4096

// RawEvent is one observation produced by an adapter. It is consumed
// immediately by the extraction engine and never persisted.
type RawEvent struct {
	Source     SourceKind
	Payload    Payload
	ObservedAt time.Time
}

// NormalizedMessage is the common record shape for captured messages.
type NormalizedMessage struct {
	ID             string    `json:"id"`
	SourceApp      string    `json:"source_app"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	Direction      Direction `json:"-"`
	ConversationID string    `json:"conversation_id"`
	ContentVisible bool      `json:"content_visible"`
	Timestamp      time.Time `json:"timestamp"`
}

// UsageRecord aggregates foreground time for one app on one day.
// Its id is stable across re-uploads so the remote merge is idempotent.
type UsageRecord struct {
	ID           string    `json:"id"`
	App          string    `json:"app"`
	Date         string    `json:"date"` // YYYY-MM-DD, device-local
	ForegroundMs int64     `json:"foreground_ms"`
	Launches     int       `json:"launches"`
	LastSeen     time.Time `json:"last_seen"`
}

// MessageID derives the deterministic message id from the identifying
// fields. Timestamps are bucketed to the minute so that redundant
// extraction of the same logical message (whose observed timestamps can
// drift by rendering latency) converges on one id.
func MessageID(sourceApp, conversationID, body string, ts time.Time) string {
	bucket := ts.UTC().Truncate(time.Minute).Unix()
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", sourceApp, conversationID, body, bucket)
	return hex.EncodeToString(h.Sum(nil))
}

// UsageID derives the `{date}_{appKey}` document id for a usage record.
func UsageID(date, appKey string) string {
	return date + "_" + appKey
}
