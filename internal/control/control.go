// Package control polls the controller's restriction document and holds
// the currently applied policy.
package control

import (
	"context"
	"sync"

	"guardiand/internal/logging"
	"guardiand/internal/remote"
)

// Fetcher is the ledger surface the manager needs.
type Fetcher interface {
	FetchControls(ctx context.Context) (*remote.ControlDocument, error)
	AckControls(ctx context.Context, doc *remote.ControlDocument) error
}

// Manager fetches, applies, and acknowledges control documents. Policy
// application is idempotent: a document is acknowledged only when its
// updated_at advances past the one already applied.
type Manager struct {
	fetcher Fetcher
	log     *logging.Logger

	mu      sync.RWMutex
	current *remote.ControlDocument
}

// NewManager creates a control manager.
func NewManager(fetcher Fetcher, log *logging.Logger) *Manager {
	return &Manager{fetcher: fetcher, log: log.WithComponent("control")}
}

// Sync fetches the latest control document and applies it if newer than
// the one currently held. Returns true when a new document was applied.
func (m *Manager) Sync(ctx context.Context) (bool, error) {
	doc, err := m.fetcher.FetchControls(ctx)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	m.mu.Lock()
	if m.current != nil && !doc.UpdatedAt.After(m.current.UpdatedAt) {
		m.mu.Unlock()
		return false, nil
	}
	m.current = doc
	m.mu.Unlock()

	m.log.Info("control document applied",
		"updated_at", doc.UpdatedAt,
		"restrictions", len(doc.Restrictions),
		"limits", len(doc.Limits))

	if err := m.fetcher.AckControls(ctx, doc); err != nil {
		// The document is applied locally either way; the ack retries on
		// the next poll because updated_at has not advanced remotely.
		m.log.Warn("control ack failed", "error", err)
	}
	return true, nil
}

// Current returns the currently applied document, or nil before the
// first successful sync.
func (m *Manager) Current() *remote.ControlDocument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Blocked reports whether an app is blocked under the current policy.
func (m *Manager) Blocked(app string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return false
	}
	for _, r := range m.current.Restrictions {
		if r.App == app {
			return r.Blocked
		}
	}
	return false
}

// DailyLimitMin returns the daily foreground limit in minutes for an
// app, or (0, false) when none is set.
func (m *Manager) DailyLimitMin(app string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return 0, false
	}
	for _, l := range m.current.Limits {
		if l.App == app {
			return l.DailyLimitMin, true
		}
	}
	return 0, false
}
