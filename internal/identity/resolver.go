// Package identity derives stable, privacy-preserving customer keys from
// PII. A keyed hash (HMAC, not a plain digest) prevents offline dictionary
// attacks against the stored hashes.
package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type Resolver struct {
	key []byte
}

// NewResolver creates a resolver with the given secret key. An empty secret
// falls back to a random process-local key, which still hashes consistently
// within one process but will not match across restarts.
func NewResolver(secret string) *Resolver {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-identity-key")
		}
	}

	return &Resolver{key: key}
}

// HashPII normalizes (lowercase, trim) then applies HMAC-SHA256. Empty input
// yields "", never a hash of the empty string.
func (r *Resolver) HashPII(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ""
	}

	mac := hmac.New(sha256.New, r.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// ResolveCustomer prefers email over phone. A record with neither PII field
// resolves to ""; anonymous orders are valid.
func (r *Resolver) ResolveCustomer(email, phone string) string {
	if h := r.HashPII(email); h != "" {
		return h
	}
	return r.HashPII(phone)
}
