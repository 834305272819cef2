// Package config handles configuration loading, validation, and defaults
// for guardiand.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration. It is constructed once
// at startup and passed explicitly to every component; there is no global
// accessor.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// StateDir is where guardiand keeps its cursor database, wake file,
	// and identity key.
	StateDir string `toml:"state_dir" json:"state_dir" yaml:"state_dir"`

	// Identity names this device within its family.
	Identity IdentityConfig `toml:"identity" json:"identity" yaml:"identity"`

	// Sources configures the three capture channels.
	Sources SourcesConfig `toml:"sources" json:"sources" yaml:"sources"`

	// Dedup configures the duplicate-suppression caches.
	Dedup DedupConfig `toml:"dedup" json:"dedup" yaml:"dedup"`

	// Upload configures batching toward the remote ledger.
	Upload UploadConfig `toml:"upload" json:"upload" yaml:"upload"`

	// Remote configures the family ledger endpoint.
	Remote RemoteConfig `toml:"remote" json:"remote" yaml:"remote"`

	// Sync configures scheduling intervals and retry policy.
	Sync SyncConfig `toml:"sync" json:"sync" yaml:"sync"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Health configures the local status endpoint.
	Health HealthConfig `toml:"health" json:"health" yaml:"health"`
}

// IdentityConfig identifies the device and its family pairing. The key at
// KeyPath signs every ledger write; if it is absent the uploader fails
// fast instead of attempting network calls the ledger would reject.
type IdentityConfig struct {
	FamilyID string `toml:"family_id" json:"family_id" yaml:"family_id"`
	ChildID  string `toml:"child_id" json:"child_id" yaml:"child_id"`
	DeviceID string `toml:"device_id" json:"device_id" yaml:"device_id"`

	// KeyPath is the ed25519 private key file for request signing.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`
}

// SourcesConfig holds per-channel adapter configuration.
type SourcesConfig struct {
	Usage    UsageSourceConfig    `toml:"usage" json:"usage" yaml:"usage"`
	Notify   NotifySourceConfig   `toml:"notify" json:"notify" yaml:"notify"`
	Snapshot SnapshotSourceConfig `toml:"snapshot" json:"snapshot" yaml:"snapshot"`
}

// UsageSourceConfig configures the structured app-usage journal adapter.
type UsageSourceConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// JournalPath is the sqlite usage journal maintained by the platform.
	JournalPath string `toml:"journal_path" json:"journal_path" yaml:"journal_path"`

	// LookbackCapHours bounds how far back the first fetch may reach,
	// regardless of how old the stored watermark is.
	LookbackCapHours int `toml:"lookback_cap_hours" json:"lookback_cap_hours" yaml:"lookback_cap_hours"`
}

// NotifySourceConfig configures the notification feed adapter.
type NotifySourceConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// BufferSize bounds the in-memory envelope buffer fed by the bus
	// monitor between fetches.
	BufferSize int `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`

	LookbackCapHours int `toml:"lookback_cap_hours" json:"lookback_cap_hours" yaml:"lookback_cap_hours"`
}

// SnapshotSourceConfig configures the UI-tree snapshot spool adapter.
type SnapshotSourceConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SpoolDir receives one JSON tree snapshot per file from the
	// platform capture helper.
	SpoolDir string `toml:"spool_dir" json:"spool_dir" yaml:"spool_dir"`

	LookbackCapHours int `toml:"lookback_cap_hours" json:"lookback_cap_hours" yaml:"lookback_cap_hours"`
}

// DedupConfig sizes the duplicate-suppression caches.
type DedupConfig struct {
	// WindowSec is the time-windowed cache horizon for envelope
	// re-renders.
	WindowSec int `toml:"window_sec" json:"window_sec" yaml:"window_sec"`

	// ContentCacheSize bounds the content-keyed LRU.
	ContentCacheSize int `toml:"content_cache_size" json:"content_cache_size" yaml:"content_cache_size"`
}

// UploadConfig bounds batches toward the ledger.
type UploadConfig struct {
	// ChunkSize is the hard per-write record cap. The ledger rejects
	// batches above 500; the default stays at 400 for margin.
	ChunkSize int `toml:"chunk_size" json:"chunk_size" yaml:"chunk_size"`
}

// RemoteConfig locates the family ledger.
type RemoteConfig struct {
	BaseURL    string `toml:"base_url" json:"base_url" yaml:"base_url"`
	TimeoutSec int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// SyncConfig holds scheduling intervals and the retry policy.
type SyncConfig struct {
	// MessageIntervalSec is the continuous-loop interval for the
	// low-latency message sources (notify, snapshot).
	MessageIntervalSec int `toml:"message_interval_sec" json:"message_interval_sec" yaml:"message_interval_sec"`

	// UsageIntervalSec is the continuous-loop interval for the expensive
	// aggregate usage source.
	UsageIntervalSec int `toml:"usage_interval_sec" json:"usage_interval_sec" yaml:"usage_interval_sec"`

	// BackstopIntervalMin is the periodic backstop cadence. The backstop
	// fires independently of the continuous loop's process lifetime.
	BackstopIntervalMin int `toml:"backstop_interval_min" json:"backstop_interval_min" yaml:"backstop_interval_min"`

	// ShortWindowBudgetSec and LongWindowBudgetSec bound time-boxed
	// window runs.
	ShortWindowBudgetSec int `toml:"short_window_budget_sec" json:"short_window_budget_sec" yaml:"short_window_budget_sec"`
	LongWindowBudgetSec  int `toml:"long_window_budget_sec" json:"long_window_budget_sec" yaml:"long_window_budget_sec"`

	// RetryMax is the transient-failure retry budget per cycle.
	RetryMax int `toml:"retry_max" json:"retry_max" yaml:"retry_max"`

	// RetryBaseMs is the initial backoff delay; it doubles per attempt.
	RetryBaseMs int `toml:"retry_base_ms" json:"retry_base_ms" yaml:"retry_base_ms"`

	// ControlPollMin is the cadence for fetching controller documents.
	ControlPollMin int `toml:"control_poll_min" json:"control_poll_min" yaml:"control_poll_min"`
}

// LoggingConfig holds the logging configuration.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// HealthConfig configures the local status/metrics endpoint.
type HealthConfig struct {
	// ListenAddr is the local HTTP listen address; empty disables the
	// endpoint.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	state := defaultStateDir()
	return &Config{
		Version:  Version,
		StateDir: state,
		Identity: IdentityConfig{
			KeyPath: filepath.Join(state, "device.key"),
		},
		Sources: SourcesConfig{
			Usage: UsageSourceConfig{
				Enabled:          true,
				JournalPath:      filepath.Join(state, "usage.db"),
				LookbackCapHours: 72,
			},
			Notify: NotifySourceConfig{
				Enabled:          true,
				BufferSize:       1024,
				LookbackCapHours: 24,
			},
			Snapshot: SnapshotSourceConfig{
				Enabled:          true,
				SpoolDir:         filepath.Join(state, "spool"),
				LookbackCapHours: 24,
			},
		},
		Dedup: DedupConfig{
			WindowSec:        10,
			ContentCacheSize: 500,
		},
		Upload: UploadConfig{
			ChunkSize: 400,
		},
		Remote: RemoteConfig{
			TimeoutSec: 30,
		},
		Sync: SyncConfig{
			MessageIntervalSec:   15,
			UsageIntervalSec:     300,
			BackstopIntervalMin:  15,
			ShortWindowBudgetSec: 25,
			LongWindowBudgetSec:  170,
			RetryMax:             3,
			RetryBaseMs:          500,
			ControlPollMin:       5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Health: HealthConfig{
			ListenAddr: "127.0.0.1:9417",
		},
	}
}

// defaultStateDir returns the platform-specific state directory.
func defaultStateDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "guardiand")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "guardiand")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			home, _ := os.UserHomeDir()
			stateHome = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(stateHome, "guardiand")
	}
}
