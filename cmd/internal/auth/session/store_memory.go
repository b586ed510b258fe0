package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRevocationStore is an in-memory RevocationStore for development
// and tests. Safe for concurrent use; state does not survive restarts.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]RevokedToken
}

// NewMemoryRevocationStore constructs an empty in-memory revocation set.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		revoked: make(map[string]RevokedToken),
	}
}

func (s *MemoryRevocationStore) Revoke(ctx context.Context, in RevokedToken) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(in.TokenHash) == "" {
		return false, fmt.Errorf("session: empty token hash")
	}

	if in.RevokedAt.IsZero() {
		in.RevokedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.revoked[in.TokenHash]; ok {
		return false, nil
	}
	s.revoked[in.TokenHash] = in
	return true, nil
}

func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return false, fmt.Errorf("session: empty token hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.revoked[tokenHash]
	return ok, nil
}

func (s *MemoryRevocationStore) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for hash, rec := range s.revoked {
		if !rec.ExpiresAt.After(now) {
			delete(s.revoked, hash)
			pruned++
		}
	}
	return pruned, nil
}
