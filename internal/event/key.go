package event

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ContentKey builds the dedup key for the content LRU cache. The key
// covers the originating app plus the full normalized body, hashed with
// blake2b-256. A narrower hash (anything 32-bit) is not collision-safe at
// the cache's retention horizon and must not be used here.
func ContentKey(sourceApp, body string) string {
	sum := blake2b.Sum256([]byte(sourceApp + "::" + NormalizeBody(body)))
	return hex.EncodeToString(sum[:])
}

// EnvelopeKey builds the dedup key for the time-windowed cache. Identity
// is the origin within its app; re-renders of the same origin under a new
// render generation are exactly the churn the window suppresses, so the
// generation is deliberately excluded.
func EnvelopeKey(sourceApp, originID string) string {
	return fmt.Sprintf("%s:%s", sourceApp, originID)
}

// NormalizeBody lowercases and collapses interior whitespace so that
// re-renders differing only in layout whitespace dedup to one key.
func NormalizeBody(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}
