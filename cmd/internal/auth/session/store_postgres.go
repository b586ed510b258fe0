package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRevocationStore implements RevocationStore over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Revoke is a single INSERT ... ON CONFLICT DO NOTHING, so exactly one
//   of any set of racing revocations of the same hash observes first=true.
type PostgresRevocationStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresRevocationOption configures the store.
type PostgresRevocationOption func(*PostgresRevocationStore) error

// WithRevocationSchema sets the Postgres schema (default "till").
func WithRevocationSchema(schema string) PostgresRevocationOption {
	return func(s *PostgresRevocationStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("session: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresRevocationStore constructs a PostgresRevocationStore.
func NewPostgresRevocationStore(pool *pgxpool.Pool, opts ...PostgresRevocationOption) (*PostgresRevocationStore, error) {
	st := &PostgresRevocationStore{
		pool:   pool,
		schema: "till",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresRevocationStore) table() string {
	return pgx.Identifier{s.schema, "revoked_tokens"}.Sanitize()
}

func (s *PostgresRevocationStore) Revoke(ctx context.Context, in RevokedToken) (bool, error) {
	if strings.TrimSpace(in.TokenHash) == "" {
		return false, fmt.Errorf("session: empty token hash")
	}

	revokedAt := in.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (token_hash, revoked_at, expires_at, reason)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token_hash) DO NOTHING`,
		in.TokenHash, revokedAt, in.ExpiresAt, in.Reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresRevocationStore) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if strings.TrimSpace(tokenHash) == "" {
		return false, fmt.Errorf("session: empty token hash")
	}

	var revoked bool
	err := s.pool.QueryRow(ctx,
		`SELECT true FROM `+s.table()+` WHERE token_hash = $1`, tokenHash,
	).Scan(&revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (s *PostgresRevocationStore) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
