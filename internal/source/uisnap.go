package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"guardiand/internal/config"
	"guardiand/internal/event"
	"guardiand/internal/logging"
)

// SnapshotAdapter reads UI-tree snapshots from a spool directory. The
// platform capture helper drops one JSON file per snapshot; the adapter
// lists files newer than the cursor and decodes them lazily, one per
// iterator step, so a large backlog is never held in memory at once.
type SnapshotAdapter struct {
	spoolDir string
	lookback time.Duration
	log      *logging.Logger
}

// treeFile is the on-disk snapshot shape.
type treeFile struct {
	App        string          `json:"app"`
	CapturedNs int64           `json:"captured_ns"`
	Root       *event.TreeNode `json:"root"`
}

// NewSnapshotAdapter creates the snapshot spool adapter.
func NewSnapshotAdapter(cfg config.SnapshotSourceConfig, log *logging.Logger) *SnapshotAdapter {
	return &SnapshotAdapter{
		spoolDir: cfg.SpoolDir,
		lookback: time.Duration(cfg.LookbackCapHours) * time.Hour,
		log:      log.WithComponent("source.snapshot"),
	}
}

func (a *SnapshotAdapter) Name() string            { return "snapshot" }
func (a *SnapshotAdapter) Kind() event.SourceKind  { return event.SourceSnapshot }
func (a *SnapshotAdapter) Lookback() time.Duration { return a.lookback }

// Fetch lists spool files modified after since, oldest first. An absent
// or unreadable spool directory is logged and yields an empty sequence.
func (a *SnapshotAdapter) Fetch(ctx context.Context, since time.Time) (Iterator, error) {
	entries, err := os.ReadDir(a.spoolDir)
	if err != nil {
		a.log.Warn("snapshot spool not accessible", "dir", a.spoolDir, "error", err)
		return Empty(), nil
	}

	type spoolEntry struct {
		path string
		mod  time.Time
	}
	var pending []spoolEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(since) {
			pending = append(pending, spoolEntry{
				path: filepath.Join(a.spoolDir, entry.Name()),
				mod:  info.ModTime(),
			})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].mod.Before(pending[j].mod) })

	paths := make([]string, len(pending))
	mods := make([]time.Time, len(pending))
	for i, p := range pending {
		paths[i] = p.path
		mods[i] = p.mod
	}
	return &snapshotIterator{paths: paths, mods: mods}, nil
}

type snapshotIterator struct {
	paths []string
	mods  []time.Time
	pos   int
}

func (it *snapshotIterator) Next(ctx context.Context) (event.RawEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return event.RawEvent{}, false, err
	}
	if it.pos >= len(it.paths) {
		return event.RawEvent{}, false, nil
	}

	path := it.paths[it.pos]
	mod := it.mods[it.pos]
	it.pos++

	data, err := os.ReadFile(path)
	if err != nil {
		return event.RawEvent{}, true, fmt.Errorf("read snapshot %s: %w", filepath.Base(path), err)
	}

	var tf treeFile
	if err := json.Unmarshal(data, &tf); err != nil || tf.Root == nil || tf.App == "" {
		// Hand the engine an explicit unrecognized payload so malformed
		// files are counted, then dropped, without stopping the stream.
		return event.RawEvent{
			Source:     event.SourceSnapshot,
			Payload:    event.Unrecognized{Reason: "undecodable snapshot " + filepath.Base(path)},
			ObservedAt: mod,
		}, true, nil
	}

	captured := time.Unix(0, tf.CapturedNs).UTC()
	if tf.CapturedNs == 0 {
		captured = mod.UTC()
	}
	return event.RawEvent{
		Source: event.SourceSnapshot,
		Payload: event.TreeSnapshot{
			App:      tf.App,
			Captured: captured,
			Root:     tf.Root,
		},
		ObservedAt: mod.UTC(),
	}, true, nil
}

func (it *snapshotIterator) Close() error { return nil }
