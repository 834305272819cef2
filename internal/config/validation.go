package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ledgerBatchCeiling is the remote ledger's hard per-batch operation
// limit. Configured chunk sizes must stay strictly below it.
const ledgerBatchCeiling = 500

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if c.StateDir == "" {
		errs = append(errs, ValidationError{Field: "state_dir", Message: "must not be empty"})
	}

	errs = append(errs, c.validateIdentity()...)
	errs = append(errs, c.validateSources()...)
	errs = append(errs, c.validateDedup()...)
	errs = append(errs, c.validateUpload()...)
	errs = append(errs, c.validateRemote()...)
	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateIdentity() ValidationErrors {
	var errs ValidationErrors
	id := &c.Identity
	if id.FamilyID == "" {
		errs = append(errs, ValidationError{Field: "identity.family_id", Message: "must not be empty"})
	}
	if id.ChildID == "" {
		errs = append(errs, ValidationError{Field: "identity.child_id", Message: "must not be empty"})
	}
	if id.DeviceID == "" {
		errs = append(errs, ValidationError{Field: "identity.device_id", Message: "must not be empty"})
	}
	if id.KeyPath == "" {
		errs = append(errs, ValidationError{Field: "identity.key_path", Message: "must not be empty"})
	}
	return errs
}

func (c *Config) validateSources() ValidationErrors {
	var errs ValidationErrors
	s := &c.Sources
	if s.Usage.Enabled && s.Usage.JournalPath == "" {
		errs = append(errs, ValidationError{Field: "sources.usage.journal_path", Message: "required when enabled"})
	}
	if s.Snapshot.Enabled && s.Snapshot.SpoolDir == "" {
		errs = append(errs, ValidationError{Field: "sources.snapshot.spool_dir", Message: "required when enabled"})
	}
	if s.Notify.Enabled && s.Notify.BufferSize <= 0 {
		errs = append(errs, ValidationError{Field: "sources.notify.buffer_size", Message: "must be positive"})
	}
	for field, hours := range map[string]int{
		"sources.usage.lookback_cap_hours":    s.Usage.LookbackCapHours,
		"sources.notify.lookback_cap_hours":   s.Notify.LookbackCapHours,
		"sources.snapshot.lookback_cap_hours": s.Snapshot.LookbackCapHours,
	} {
		if hours <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}
	return errs
}

func (c *Config) validateDedup() ValidationErrors {
	var errs ValidationErrors
	if c.Dedup.WindowSec <= 0 {
		errs = append(errs, ValidationError{Field: "dedup.window_sec", Message: "must be positive"})
	}
	if c.Dedup.ContentCacheSize <= 0 {
		errs = append(errs, ValidationError{Field: "dedup.content_cache_size", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateUpload() ValidationErrors {
	var errs ValidationErrors
	if c.Upload.ChunkSize <= 0 {
		errs = append(errs, ValidationError{Field: "upload.chunk_size", Message: "must be positive"})
	} else if c.Upload.ChunkSize >= ledgerBatchCeiling {
		errs = append(errs, ValidationError{
			Field:   "upload.chunk_size",
			Message: fmt.Sprintf("must stay below the ledger batch ceiling of %d", ledgerBatchCeiling),
		})
	}
	return errs
}

func (c *Config) validateRemote() ValidationErrors {
	var errs ValidationErrors
	if c.Remote.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "remote.base_url", Message: "must not be empty"})
	} else if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{Field: "remote.base_url", Message: "must be an absolute URL"})
	}
	if c.Remote.TimeoutSec <= 0 {
		errs = append(errs, ValidationError{Field: "remote.timeout_sec", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateSync() ValidationErrors {
	var errs ValidationErrors
	for field, v := range map[string]int{
		"sync.message_interval_sec":    c.Sync.MessageIntervalSec,
		"sync.usage_interval_sec":      c.Sync.UsageIntervalSec,
		"sync.backstop_interval_min":   c.Sync.BackstopIntervalMin,
		"sync.short_window_budget_sec": c.Sync.ShortWindowBudgetSec,
		"sync.long_window_budget_sec":  c.Sync.LongWindowBudgetSec,
		"sync.retry_base_ms":           c.Sync.RetryBaseMs,
		"sync.control_poll_min":        c.Sync.ControlPollMin,
	} {
		if v <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}
	if c.Sync.RetryMax < 0 {
		errs = append(errs, ValidationError{Field: "sync.retry_max", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateLogging() ValidationErrors {
	var errs ValidationErrors
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "logging.level", Message: "must be debug, info, warn, or error"})
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Message: "must be text or json"})
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file":
		if c.Logging.Output == "file" && c.Logging.FilePath == "" {
			errs = append(errs, ValidationError{Field: "logging.file_path", Message: "required when output is file"})
		}
	default:
		errs = append(errs, ValidationError{Field: "logging.output", Message: "must be stdout, stderr, or file"})
	}
	return errs
}
