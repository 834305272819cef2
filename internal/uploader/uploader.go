// Package uploader delivers deduplicated records to the ledger in
// bounded, ordered, independently retried chunks.
package uploader

import (
	"context"
	"time"

	"guardiand/internal/event"
	"guardiand/internal/logging"
	"guardiand/internal/remote"
)

// Writer is the ledger write surface the uploader needs; satisfied by
// *remote.Client and by test fakes.
type Writer interface {
	BatchWrite(ctx context.Context, collection string, records []remote.Record) error
}

// RetryPolicy bounds transient-failure retries per chunk. Attempts is the
// retry budget after the first try; Base doubles per attempt.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// Uploader chunks records and commits them in order.
type Uploader struct {
	writer    Writer
	chunkSize int
	retry     RetryPolicy
	log       *logging.Logger
}

// New creates an uploader. chunkSize must already be validated to sit
// below the ledger's batch ceiling.
func New(writer Writer, chunkSize int, retry RetryPolicy, log *logging.Logger) *Uploader {
	return &Uploader{
		writer:    writer,
		chunkSize: chunkSize,
		retry:     retry,
		log:       log.WithComponent("uploader"),
	}
}

// Result reports how much of an upload was confirmed committed.
type Result struct {
	// Committed is the count of records in confirmed chunks.
	Committed int

	// Chunks is the number of chunks confirmed.
	Chunks int
}

// Upload partitions records into chunks of at most the configured size
// and commits each chunk with merge semantics, in input order. After each
// confirmed chunk, onCommit (if non-nil) is invoked with the records of
// that chunk; callers use it to advance watermarks so a cancelled or
// failed run never claims more than what the ledger confirmed.
//
// Chunk failures are independent: a transient failure is retried in
// place with exponential backoff, and a chunk that ultimately succeeds
// lets the following chunks proceed. A fatal failure, an exhausted retry
// budget, or cancellation aborts the remainder; already committed chunks
// stay committed.
func (u *Uploader) Upload(ctx context.Context, collection string, records []remote.Record, onCommit func([]remote.Record)) (Result, error) {
	var res Result
	for start := 0; start < len(records); start += u.chunkSize {
		end := start + u.chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		if err := u.commitChunk(ctx, collection, chunk); err != nil {
			u.log.Warn("chunk commit abandoned",
				"collection", collection,
				"chunk", res.Chunks,
				"records", len(chunk),
				"error", err)
			return res, err
		}

		res.Committed += len(chunk)
		res.Chunks++
		if onCommit != nil {
			onCommit(chunk)
		}
	}
	return res, nil
}

// commitChunk writes one chunk, retrying transient failures.
func (u *Uploader) commitChunk(ctx context.Context, collection string, chunk []remote.Record) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = u.writer.BatchWrite(ctx, collection, chunk)
		if err == nil {
			return nil
		}
		if !remote.IsTransient(err) || attempt >= u.retry.Attempts {
			return err
		}

		delay := u.retry.Base << attempt
		u.log.Debug("transient chunk failure, backing off",
			"collection", collection, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// MessageRecords converts normalized messages to ledger records for the
// messages collection.
func MessageRecords(msgs []event.NormalizedMessage) []remote.Record {
	records := make([]remote.Record, len(msgs))
	for i, m := range msgs {
		records[i] = remote.Record{
			ID: m.ID,
			Fields: map[string]any{
				"source_app":      m.SourceApp,
				"sender":          m.Sender,
				"body":            m.Body,
				"direction":       m.Direction.String(),
				"conversation_id": m.ConversationID,
				"content_visible": m.ContentVisible,
				"timestamp":       m.Timestamp.UTC().Format(time.RFC3339Nano),
			},
		}
	}
	return records
}

// UsageRecords converts usage aggregates to ledger records for the usage
// collection.
func UsageRecords(usages []event.UsageRecord) []remote.Record {
	records := make([]remote.Record, len(usages))
	for i, r := range usages {
		records[i] = remote.Record{
			ID: r.ID,
			Fields: map[string]any{
				"app":           r.App,
				"date":          r.Date,
				"foreground_ms": r.ForegroundMs,
				"launches":      r.Launches,
				"last_seen":     r.LastSeen.UTC().Format(time.RFC3339Nano),
			},
		}
	}
	return records
}
