package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"till/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Record mutations rely on row-level atomicity (single UPDATE/INSERT statements
//   or short ReadCommitted transactions), which closes the read-then-write races
//   of a whole-document store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the identity store (default "till").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, email_norm, password_secret, display_name, provider, federated_subject, created_at, updated_at`

// FindUserByEmail resolves a user by case-insensitive email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, pgInvalid(op, "empty email")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE email_norm = $1`, norm)
	return scanUser(op, row)
}

// FindUserByID resolves a user by identifier.
func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, pgInvalid(op, "empty id")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1`, id)
	return scanUser(op, row)
}

// CreateUser creates a new local user.
// Duplicate emails surface as ConflictError{Field: "email"}.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}
	if in.PasswordSecret == "" {
		return User{}, pgInvalid(op, "password is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:             userID,
		Email:          email,
		EmailNorm:      NormalizeEmail(email),
		PasswordSecret: in.PasswordSecret,
		DisplayName:    pgTrimPtr(in.DisplayName),
		Provider:       ProviderLocal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	users := pgIdent(s.schema, "users")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.EmailNorm, u.PasswordSecret, u.DisplayName,
		u.Provider, u.FederatedSubject, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return u, nil
}

// UpsertFederatedUser implements the federated-login upsert: match by
// subject, then by normalized email; attach/confirm the subject and
// backfill the display name; otherwise create a federated user with a
// random opaque password placeholder.
func (s *PostgresStore) UpsertFederatedUser(ctx context.Context, in UpsertFederatedInput) (User, error) {
	const op = "identity.UpsertFederatedUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	subject := strings.TrimSpace(in.Subject)
	if email == "" || subject == "" {
		return User{}, pgInvalid(op, "email and subject are required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	name := pgTrimPtr(in.Name)
	norm := NormalizeEmail(email)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(s.schema, "users")

	// Subject match wins; lock the row so racing upserts serialize.
	row := tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE federated_subject = $1 FOR UPDATE`, subject)
	u, err := scanUser(op, row)
	switch {
	case err == nil:
		if u.DisplayName == nil && name != nil {
			u.DisplayName = name
			u.UpdatedAt = now
			if _, err := tx.Exec(ctx,
				`UPDATE `+users+` SET display_name = $2, updated_at = $3 WHERE id = $1`,
				u.ID, u.DisplayName, now); err != nil {
				return User{}, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return User{}, err
		}
		return u, nil
	case !IsNotFound(err):
		return User{}, err
	}

	// Email match: attach/confirm subject, backfill name.
	row = tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE email_norm = $1 FOR UPDATE`, norm)
	u, err = scanUser(op, row)
	switch {
	case err == nil:
		u.FederatedSubject = &subject
		if u.DisplayName == nil {
			u.DisplayName = name
		}
		u.UpdatedAt = now
		if _, err := tx.Exec(ctx,
			`UPDATE `+users+`
			    SET federated_subject = $2, display_name = $3, updated_at = $4
			  WHERE id = $1`,
			u.ID, u.FederatedSubject, u.DisplayName, now); err != nil {
			if field, ok := pgClassifyUniqueViolation(err); ok {
				return User{}, ConflictError{Op: op, Field: field}
			}
			return User{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return User{}, err
		}
		return u, nil
	case !IsNotFound(err):
		return User{}, err
	}

	// No match: create a federated user.
	placeholder, err := NewOpaqueSecret(32)
	if err != nil {
		return User{}, err
	}
	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u = User{
		ID:               userID,
		Email:            email,
		EmailNorm:        norm,
		PasswordSecret:   placeholder,
		DisplayName:      name,
		Provider:         ProviderFederated,
		FederatedSubject: &subject,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.EmailNorm, u.PasswordSecret, u.DisplayName,
		u.Provider, u.FederatedSubject, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// UpdatePassword replaces the user's opaque secret.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, secret string, now time.Time) error {
	const op = "identity.UpdatePassword"

	if strings.TrimSpace(userID) == "" || secret == "" {
		return pgInvalid(op, "user id and secret are required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET password_secret = $2, updated_at = $3 WHERE id = $1`,
		userID, secret, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// CreateResetTicket inserts a single-use reset ticket.
func (s *PostgresStore) CreateResetTicket(ctx context.Context, in CreateTicketInput) (ResetTicket, error) {
	const op = "identity.CreateResetTicket"

	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return ResetTicket{}, pgInvalid(op, "user id and token hash are required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ticketID, err := ids.NewULID(now)
	if err != nil {
		return ResetTicket{}, err
	}

	tickets := pgIdent(s.schema, "reset_tickets")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+tickets+` (id, user_id, token_hash, created_at, consumed_at)
		 VALUES ($1, $2, $3, $4, NULL)`,
		ticketID, in.UserID, in.TokenHash, now)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ResetTicket{}, ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return ResetTicket{}, NotFoundError{Op: op, Resource: "user"}
		}
		return ResetTicket{}, err
	}

	return ResetTicket{
		ID:        ticketID,
		UserID:    in.UserID,
		TokenHash: in.TokenHash,
		CreatedAt: now,
	}, nil
}

// ConsumeResetTicket marks the matching unconsumed ticket consumed.
// The single UPDATE ... WHERE consumed_at IS NULL makes consumption atomic:
// one of two racing consumers observes ErrNotActive.
func (s *PostgresStore) ConsumeResetTicket(ctx context.Context, tokenHash string, now time.Time) (ResetTicket, error) {
	const op = "identity.ConsumeResetTicket"

	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return ResetTicket{}, pgInvalid(op, "empty token hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tickets := pgIdent(s.schema, "reset_tickets")

	var out ResetTicket
	err := s.pool.QueryRow(ctx,
		`UPDATE `+tickets+`
		    SET consumed_at = $1
		  WHERE token_hash = $2
		    AND consumed_at IS NULL
		RETURNING id, user_id, token_hash, created_at, consumed_at`,
		now, tokenHash,
	).Scan(&out.ID, &out.UserID, &out.TokenHash, &out.CreatedAt, &out.ConsumedAt)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ResetTicket{}, err
	}

	// Distinguish not-found vs already-consumed for logging; callers collapse both.
	var exists bool
	if selErr := s.pool.QueryRow(ctx,
		`SELECT true FROM `+tickets+` WHERE token_hash = $1`, tokenHash,
	).Scan(&exists); selErr != nil {
		if errors.Is(selErr, pgx.ErrNoRows) {
			return ResetTicket{}, NotFoundError{Op: op, Resource: "reset_ticket"}
		}
		return ResetTicket{}, selErr
	}
	return ResetTicket{}, OpError{Op: op, Kind: ErrNotActive, Msg: "ticket already consumed"}
}

// ---- helpers ----

func scanUser(op string, row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailNorm,
		&u.PasswordSecret,
		&u.DisplayName,
		&u.Provider,
		&u.FederatedSubject,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func pgTrimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func pgClassifyUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return "email", true
	case strings.Contains(pgErr.ConstraintName, "federated_subject"):
		return "federated_subject", true
	case strings.Contains(pgErr.ConstraintName, "token_hash"):
		return "reset_token", true
	default:
		return pgErr.ConstraintName, true
	}
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
