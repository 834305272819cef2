package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrIdentityMissing means the device key is absent. Uploads fail fast on
// this before any network call: the ledger would reject the write anyway,
// and burning retry budget on it would mask the real problem.
var ErrIdentityMissing = errors.New("device identity credentials missing")

// Error is a classified ledger failure. Transient failures (network,
// availability) are worth retrying; fatal ones (authorization, quota,
// malformed request) abort the cycle immediately.
type Error struct {
	Status    int
	Transient bool
	Msg       string
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("ledger: %s failure (HTTP %d): %s", kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("ledger: %s failure: %s", kind, e.Msg)
}

// IsTransient reports whether err is worth retrying. Untyped errors
// (transport-level: refused, reset, timeout) count as transient; only an
// explicit fatal classification or a missing identity stops a cycle.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIdentityMissing) {
		return false
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Transient
	}
	return true
}

// classifyStatus maps an HTTP status to a classified error.
func classifyStatus(status int, msg string) *Error {
	transient := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
	return &Error{Status: status, Transient: transient, Msg: msg}
}
