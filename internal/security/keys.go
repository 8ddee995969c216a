// Package security implements API key authentication, role checks, and
// per-key token-bucket rate limiting.
package security

import (
	"strings"
	"sync"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// Identity is the resolved caller attached to every request after auth.
type Identity struct {
	KeyID     string
	Role      config.Role
	Tier      config.Tier
	Anonymous bool
}

// Anonymous is the identity used when no key is presented (or auth is off).
func Anonymous() Identity {
	return Identity{
		KeyID:     "anonymous",
		Role:      config.RoleReadonly,
		Tier:      config.TierStandard,
		Anonymous: true,
	}
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == config.RoleAdmin }

// CanWrite reports whether the identity may call mutating endpoints.
func (i Identity) CanWrite() bool {
	return i.Role == config.RoleAdmin || i.Role == config.RoleUser
}

// Keystore resolves raw key strings to identities. Lookups are lock-free
// after construction; ReplaceKeys swaps the whole table for runtime config
// updates.
type Keystore struct {
	mu   sync.RWMutex
	keys map[string]config.APIKey
}

// NewKeystore indexes the configured key table.
func NewKeystore(keys []config.APIKey) *Keystore {
	ks := &Keystore{}
	ks.ReplaceKeys(keys)
	return ks
}

// ReplaceKeys swaps in a new key table.
func (ks *Keystore) ReplaceKeys(keys []config.APIKey) {
	m := make(map[string]config.APIKey, len(keys))
	for _, k := range keys {
		m[k.Key] = k
	}
	ks.mu.Lock()
	ks.keys = m
	ks.mu.Unlock()
}

// Lookup resolves a raw key string. The bool is false for unknown keys;
// disabled keys are returned with ok=true so callers can distinguish
// "invalid" from "disabled".
func (ks *Keystore) Lookup(raw string) (config.APIKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[raw]
	return k, ok
}

// ExtractStatus classifies the outcome of ExtractKey, so callers can tell a
// request with no credentials apart from one with an unusable header.
type ExtractStatus int

const (
	ExtractOK        ExtractStatus = iota
	ExtractMissing                 // no header carried a key
	ExtractMalformed               // a header was present but not a usable scheme
)

// ExtractKey pulls the raw API key from the Authorization or X-Api-Key
// header values. Both "Bearer <key>" and a bare key are accepted; a value
// with interior spaces that is not a bearer scheme is malformed.
func ExtractKey(authorization, xAPIKey string) (string, ExtractStatus) {
	malformed := false
	for _, v := range []string{authorization, xAPIKey} {
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "Bearer ") {
			return strings.TrimPrefix(v, "Bearer "), ExtractOK
		}
		if strings.HasPrefix(v, "bearer ") {
			return strings.TrimPrefix(v, "bearer "), ExtractOK
		}
		if !strings.Contains(v, " ") {
			return v, ExtractOK
		}
		malformed = true
	}
	if malformed {
		return "", ExtractMalformed
	}
	return "", ExtractMissing
}

// KeyPrefix returns the first 8 characters of a key for logging. Full keys
// never reach the logs.
func KeyPrefix(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// IsExemptPath reports whether a path skips authentication when anonymous
// health access is allowed.
func IsExemptPath(path string) bool {
	switch path {
	case "/", "/health", "/healthz", "/ready", "/readyz", "/metrics", "/version":
		return true
	}
	return false
}

// IsAdminPath reports whether a path is under the admin surface.
func IsAdminPath(path string) bool {
	return strings.HasPrefix(path, "/admin")
}
