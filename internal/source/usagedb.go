package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"guardiand/internal/config"
	"guardiand/internal/event"
	"guardiand/internal/logging"
)

// UsageAdapter reads foreground app sessions from the platform's sqlite
// usage journal. Rows are streamed through the sql cursor rather than
// materialized, so a multi-day first run stays bounded in memory.
type UsageAdapter struct {
	journalPath string
	lookback    time.Duration
	log         *logging.Logger
}

// NewUsageAdapter creates the usage journal adapter.
func NewUsageAdapter(cfg config.UsageSourceConfig, log *logging.Logger) *UsageAdapter {
	return &UsageAdapter{
		journalPath: cfg.JournalPath,
		lookback:    time.Duration(cfg.LookbackCapHours) * time.Hour,
		log:         log.WithComponent("source.usage"),
	}
}

func (a *UsageAdapter) Name() string           { return "usage" }
func (a *UsageAdapter) Kind() event.SourceKind { return event.SourceUsage }
func (a *UsageAdapter) Lookback() time.Duration {
	return a.lookback
}

// Fetch streams usage sessions that started after since. A missing or
// unreadable journal is a permission problem, not a pipeline failure: it
// is logged and yields an empty sequence.
func (a *UsageAdapter) Fetch(ctx context.Context, since time.Time) (Iterator, error) {
	if _, err := os.Stat(a.journalPath); err != nil {
		a.log.Warn("usage journal not accessible", "path", a.journalPath, "error", err)
		return Empty(), nil
	}

	db, err := sql.Open("sqlite3", "file:"+a.journalPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		a.log.Warn("usage journal open failed", "path", a.journalPath, "error", err)
		return Empty(), nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT app, start_ns, duration_ms, launch
		FROM app_sessions
		WHERE start_ns > ?
		ORDER BY start_ns`,
		since.UnixNano(),
	)
	if err != nil {
		db.Close()
		a.log.Warn("usage journal query failed", "error", err)
		return Empty(), nil
	}

	return &usageIterator{db: db, rows: rows}, nil
}

type usageIterator struct {
	db   *sql.DB
	rows *sql.Rows
}

func (it *usageIterator) Next(ctx context.Context) (event.RawEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return event.RawEvent{}, false, err
	}
	if !it.rows.Next() {
		return event.RawEvent{}, false, it.rows.Err()
	}

	var app string
	var startNs, durationMs int64
	var launch bool
	if err := it.rows.Scan(&app, &startNs, &durationMs, &launch); err != nil {
		// One bad row is malformed, not fatal to the sequence.
		return event.RawEvent{}, true, fmt.Errorf("scan usage row: %w", err)
	}

	start := time.Unix(0, startNs).UTC()
	return event.RawEvent{
		Source: event.SourceUsage,
		Payload: event.UsageSample{
			App:      app,
			Start:    start,
			Duration: time.Duration(durationMs) * time.Millisecond,
			Launch:   launch,
		},
		ObservedAt: start.Add(time.Duration(durationMs) * time.Millisecond),
	}, true, nil
}

func (it *usageIterator) Close() error {
	it.rows.Close()
	return it.db.Close()
}
