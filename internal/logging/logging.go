// Package logging provides structured logging with slog for guardiand.
//
// Captured message bodies and sender names are sensitive: they are
// redacted from log output unless the level is debug, and credential-like
// attribute keys are always redacted.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cfgpkg "guardiand/internal/config"
)

// Logger wraps slog.Logger with component scoping.
type Logger struct {
	*slog.Logger
	level slog.Level
}

// New creates a Logger from the daemon logging configuration. The logger
// is constructed once in main and handed to components explicitly.
func New(cfg cfgpkg.LoggingConfig, component string) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
	default:
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key, level) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", component)})
	}

	return &Logger{Logger: slog.New(handler), level: level}, nil
}

// Discard returns a logger that drops all records; used in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler), level: slog.LevelInfo}
}

// WithComponent returns a child logger labelled with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", name)),
		level:  l.level,
	}
}

// contentKeys are attribute keys that carry captured message content.
// They are logged only at debug level.
var contentKeys = []string{"body", "sender", "title", "text"}

// credentialKeys are always redacted regardless of level.
var credentialKeys = []string{
	"password", "secret", "token", "credential", "private_key", "signature",
}

func shouldRedact(key string, level slog.Level) bool {
	keyLower := strings.ToLower(key)
	for _, k := range credentialKeys {
		if strings.Contains(keyLower, k) {
			return true
		}
	}
	if level <= slog.LevelDebug {
		return false
	}
	for _, k := range contentKeys {
		if keyLower == k {
			return true
		}
	}
	return false
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
