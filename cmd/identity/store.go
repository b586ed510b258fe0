package identity

import (
	"context"
	"time"
)

// Provider tags how a user account was established.
const (
	ProviderLocal     = "local"
	ProviderFederated = "federated"
)

// User is Till's canonical security principal.
//
// PasswordSecret is opaque: the store persists and compares it verbatim.
// FederatedSubject is the identity-provider subject; unique when present.
type User struct {
	ID               string
	Email            string
	EmailNorm        string
	PasswordSecret   string
	DisplayName      *string
	Provider         string
	FederatedSubject *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResetTicket is a single-use password-reset record.
// IMPORTANT: TokenHash is stored server-side; the plain ticket token is never stored.
// A non-nil ConsumedAt makes the ticket permanently unusable.
type ResetTicket struct {
	ID         string
	UserID     string
	TokenHash  string
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// CreateUserInput describes a local registration.
type CreateUserInput struct {
	Email          string
	PasswordSecret string
	DisplayName    *string
	Now            time.Time
}

// UpsertFederatedInput describes a federated-login upsert.
// Subject is matched first, then normalized email; on no match a new
// federated user is created with a random opaque password placeholder.
type UpsertFederatedInput struct {
	Email   string
	Name    *string
	Subject string
	Now     time.Time
}

// CreateTicketInput describes a reset-ticket insert.
type CreateTicketInput struct {
	UserID    string
	TokenHash string
	Now       time.Time
}

// Store is the identity persistence boundary.
//
// Implementations must make every mutation atomic at the record level;
// in particular ConsumeResetTicket must let exactly one of two racing
// consumers succeed.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	UpsertFederatedUser(ctx context.Context, in UpsertFederatedInput) (User, error)

	// UpdatePassword replaces the user's opaque secret and bumps updated_at.
	UpdatePassword(ctx context.Context, userID, secret string, now time.Time) error

	CreateResetTicket(ctx context.Context, in CreateTicketInput) (ResetTicket, error)

	// ConsumeResetTicket marks the ticket for tokenHash consumed.
	// Returns ErrNotFound when no ticket matches and ErrNotActive when the
	// ticket was already consumed.
	ConsumeResetTicket(ctx context.Context, tokenHash string, now time.Time) (ResetTicket, error)
}
