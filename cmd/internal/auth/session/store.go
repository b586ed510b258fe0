package session

import (
	"context"
	"time"
)

// RevokedToken is one entry in the revocation set. Tokens are stored by
// hash only; see cmd/security/token for the hashing scheme.
type RevokedToken struct {
	// TokenHash is the hex-encoded hash of the revoked token.
	TokenHash string

	// RevokedAt records when the token was revoked.
	RevokedAt time.Time

	// ExpiresAt mirrors the token's own expiry. Once a token has expired
	// it can no longer validate, so its revocation record becomes
	// redundant and may be pruned.
	ExpiresAt time.Time

	// Reason is a short label for audit purposes ("logout", "rotation").
	Reason string
}

// RevocationStore persists the set of revoked token hashes.
type RevocationStore interface {
	// Revoke adds a token hash to the revocation set. The first return
	// value reports whether this call inserted the record, false when the
	// hash was already present. Callers rotating refresh tokens rely on
	// this to detect a concurrently consumed token.
	Revoke(ctx context.Context, in RevokedToken) (first bool, err error)

	// IsRevoked reports whether the given token hash is in the set.
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)

	// PruneExpired removes records whose ExpiresAt is at or before now
	// and returns the number of records removed.
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}
