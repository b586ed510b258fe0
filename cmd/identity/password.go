package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// Password secrets are opaque values compared verbatim. The comparison is
// constant-time so lookups do not leak how much of a candidate matched.
// Salted hashing before storage remains the caller's deployment concern.

// SecretsEqual compares two opaque password secrets in constant time.
func SecretsEqual(stored, candidate string) bool {
	if len(stored) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// NewOpaqueSecret returns a random placeholder secret for federated users.
// It is unguessable and never communicated, so password login stays
// impossible for accounts that only ever authenticated via a provider.
func NewOpaqueSecret(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
