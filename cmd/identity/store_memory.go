package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"till/cmd/identity/ids"
)

// MemoryStore is an in-memory Store for dev mode and tests.
//
// A single mutex serializes every mutation, which gives the same
// atomicity guarantees as the Postgres store: two racing federated
// upserts resolve to one user and two racing ticket consumptions let
// exactly one succeed.
type MemoryStore struct {
	mu sync.Mutex

	usersByID map[string]User
	tickets   map[string]ResetTicket // keyed by token hash
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usersByID: make(map[string]User),
		tickets:   make(map[string]ResetTicket),
	}
}

// FindUserByEmail resolves a user by case-insensitive email.
func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, pgInvalid(op, "empty email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.findByEmailLocked(norm); ok {
		return u, nil
	}
	return User{}, NotFoundError{Op: op, Resource: "user"}
}

// FindUserByID resolves a user by identifier.
func (s *MemoryStore) FindUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

// CreateUser creates a new local user.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizeEmail(email)
	if _, ok := s.findByEmailLocked(norm); ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:             userID,
		Email:          email,
		EmailNorm:      norm,
		PasswordSecret: in.PasswordSecret,
		DisplayName:    pgTrimPtr(in.DisplayName),
		Provider:       ProviderLocal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.usersByID[u.ID] = u
	return u, nil
}

// UpsertFederatedUser matches by subject, then email, else creates.
func (s *MemoryStore) UpsertFederatedUser(ctx context.Context, in UpsertFederatedInput) (User, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.usersByID {
		if u.FederatedSubject != nil && *u.FederatedSubject == subject {
			if u.DisplayName == nil && name != nil {
				u.DisplayName = name
				u.UpdatedAt = now
				s.usersByID[id] = u
			}
			return u, nil
		}
	}

	if u, ok := s.findByEmailLocked(norm); ok {
		u.FederatedSubject = &subject
		if u.DisplayName == nil {
			u.DisplayName = name
		}
		u.UpdatedAt = now
		s.usersByID[u.ID] = u
		return u, nil
	}

	placeholder, err := NewOpaqueSecret(32)
	if err != nil {
		return User{}, err
	}
	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
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
	s.usersByID[u.ID] = u
	return u, nil
}

// UpdatePassword replaces the user's opaque secret.
func (s *MemoryStore) UpdatePassword(ctx context.Context, userID, secret string, now time.Time) error {
	const op = "identity.UpdatePassword"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || secret == "" {
		return pgInvalid(op, "user id and secret are required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.PasswordSecret = secret
	u.UpdatedAt = now
	s.usersByID[userID] = u
	return nil
}

// CreateResetTicket inserts a single-use reset ticket.
func (s *MemoryStore) CreateResetTicket(ctx context.Context, in CreateTicketInput) (ResetTicket, error) {
	const op = "identity.CreateResetTicket"

	if err := ctx.Err(); err != nil {
		return ResetTicket{}, err
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return ResetTicket{}, pgInvalid(op, "user id and token hash are required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[in.UserID]; !ok {
		return ResetTicket{}, NotFoundError{Op: op, Resource: "user"}
	}
	if _, ok := s.tickets[in.TokenHash]; ok {
		return ResetTicket{}, ConflictError{Op: op, Field: "reset_token"}
	}

	ticketID, err := ids.NewULID(now)
	if err != nil {
		return ResetTicket{}, err
	}

	tk := ResetTicket{
		ID:        ticketID,
		UserID:    in.UserID,
		TokenHash: in.TokenHash,
		CreatedAt: now,
	}
	s.tickets[in.TokenHash] = tk
	return tk, nil
}

// ConsumeResetTicket marks the matching unconsumed ticket consumed.
func (s *MemoryStore) ConsumeResetTicket(ctx context.Context, tokenHash string, now time.Time) (ResetTicket, error) {
	const op = "identity.ConsumeResetTicket"

	if err := ctx.Err(); err != nil {
		return ResetTicket{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return ResetTicket{}, pgInvalid(op, "empty token hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tk, ok := s.tickets[tokenHash]
	if !ok {
		return ResetTicket{}, NotFoundError{Op: op, Resource: "reset_ticket"}
	}
	if tk.ConsumedAt != nil {
		return ResetTicket{}, OpError{Op: op, Kind: ErrNotActive, Msg: "ticket already consumed"}
	}

	consumed := now
	tk.ConsumedAt = &consumed
	s.tickets[tokenHash] = tk
	return tk, nil
}

func (s *MemoryStore) findByEmailLocked(norm string) (User, bool) {
	for _, u := range s.usersByID {
		if u.EmailNorm == norm {
			return u, true
		}
	}
	return User{}, false
}
