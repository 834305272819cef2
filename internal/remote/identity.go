package remote

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"guardiand/internal/config"
)

// Identity is the device's ledger credentials. The ledger restricts
// writes so only the owning device identity may write its own event
// collections; guardiand checks for the key locally and refuses to start
// a write without it.
type Identity struct {
	FamilyID string
	ChildID  string
	DeviceID string
	Key      ed25519.PrivateKey
}

// LoadIdentity reads the device key and assembles the identity. A missing
// or unreadable key yields ErrIdentityMissing.
func LoadIdentity(cfg config.IdentityConfig) (*Identity, error) {
	data, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityMissing, cfg.KeyPath)
	}

	key, err := parseKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}

	return &Identity{
		FamilyID: cfg.FamilyID,
		ChildID:  cfg.ChildID,
		DeviceID: cfg.DeviceID,
		Key:      key,
	}, nil
}

// parseKey accepts a raw ed25519 private key, a raw seed, or either
// hex-encoded.
func parseKey(data []byte) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if decoded, err := hex.DecodeString(trimmed); err == nil {
		data = decoded
	}
	switch len(data) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(data), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(data), nil
	default:
		return nil, fmt.Errorf("device key has unexpected length %d", len(data))
	}
}
