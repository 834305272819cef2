// Package cursor persists per-source synchronization watermarks and the
// registry of active schedule tasks.
package cursor

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"guardiand/internal/event"
)

// Schema for the guardiand cursor store.
const schema = `
CREATE TABLE IF NOT EXISTS cursors (
    source        TEXT PRIMARY KEY,
    last_sync_ns  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    kind             TEXT PRIMARY KEY,
    registered_at_ns INTEGER NOT NULL,
    boot_id          INTEGER NOT NULL
);
`

// Store is the sqlite-backed cursor store. It is safe for use from
// multiple goroutines; watermark advancement is a monotonic max so that
// racing contexts can never move a cursor backward.
type Store struct {
	db *sql.DB
}

// Open opens or creates the cursor database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cursor database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// LastSync returns the stored watermark for a source. An unknown source
// returns the zero time.
func (s *Store) LastSync(source event.SourceKind) (time.Time, error) {
	var ns int64
	err := s.db.QueryRow(`SELECT last_sync_ns FROM cursors WHERE source = ?`, string(source)).Scan(&ns)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read cursor: %w", err)
	}
	return time.Unix(0, ns).UTC(), nil
}

// Advance moves the watermark for a source forward to ts. If the stored
// watermark is already at or past ts the call is a no-op: independent
// execution contexts may race to update after separately successful
// uploads, and the later-finishing one must not regress the cursor.
func (s *Store) Advance(source event.SourceKind, ts time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO cursors (source, last_sync_ns) VALUES (?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_sync_ns = MAX(last_sync_ns, excluded.last_sync_ns)`,
		string(source), ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// EffectiveSince bounds a fetch start: the later of the stored watermark
// and now minus the lookback cap. A zero watermark (first run, or a very
// old one) therefore never produces an unbounded first fetch.
func EffectiveSince(last time.Time, lookback time.Duration, now time.Time) time.Time {
	floor := now.Add(-lookback)
	if last.After(floor) {
		return last
	}
	return floor
}

// FetchSince computes the effective fetch start for a source.
func (s *Store) FetchSince(source event.SourceKind, lookback time.Duration) (time.Time, error) {
	last, err := s.LastSync(source)
	if err != nil {
		return time.Time{}, err
	}
	return EffectiveSince(last, lookback, time.Now().UTC()), nil
}

// Registration records that a schedule task is active.
type Registration struct {
	Kind         string
	RegisteredAt time.Time
	BootID       int64
}

// RegisterTask records a task registration. With keepExisting true an
// already-registered kind is left untouched (the "keep existing" policy:
// re-registering must not reset the underlying timer) and the call
// reports created=false. With keepExisting false the record is replaced.
func (s *Store) RegisterTask(kind string, bootID int64, keepExisting bool) (created bool, err error) {
	now := time.Now().UTC().UnixNano()
	if keepExisting {
		res, err := s.db.Exec(`
			INSERT INTO tasks (kind, registered_at_ns, boot_id) VALUES (?, ?, ?)
			ON CONFLICT(kind) DO NOTHING`,
			kind, now, bootID,
		)
		if err != nil {
			return false, fmt.Errorf("register task: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (kind, registered_at_ns, boot_id) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			registered_at_ns = excluded.registered_at_ns,
			boot_id = excluded.boot_id`,
		kind, now, bootID,
	)
	if err != nil {
		return false, fmt.Errorf("register task: %w", err)
	}
	return true, nil
}

// Task returns the registration for a kind, or nil if not registered.
func (s *Store) Task(kind string) (*Registration, error) {
	var reg Registration
	var ns int64
	err := s.db.QueryRow(
		`SELECT kind, registered_at_ns, boot_id FROM tasks WHERE kind = ?`, kind,
	).Scan(&reg.Kind, &ns, &reg.BootID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	reg.RegisteredAt = time.Unix(0, ns).UTC()
	return &reg, nil
}

// UnregisterTask removes a task registration (account unlink).
func (s *Store) UnregisterTask(kind string) error {
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("unregister task: %w", err)
	}
	return nil
}

// Ping verifies the store is reachable; used by the health checker.
func (s *Store) Ping() error {
	return s.db.Ping()
}
