package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"till/cmd/identity"
	"till/cmd/internal/auth/federation"
	sectoken "till/cmd/security/token"
)

// Revocation reasons recorded alongside revoked token hashes.
const (
	revokeReasonLogout   = "logout"
	revokeReasonRotation = "rotation"
)

// Session is the result of a successful authentication: the resolved
// user plus a fresh access/refresh token pair.
type Session struct {
	User         identity.User
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Service implements the authentication protocol: registration, login,
// federated login, token refresh with rotation, logout, identity echo,
// and the password-reset flow.
//
// Revocation is layered on top of token verification: a token that
// validates cryptographically is still rejected if its hash is in the
// revocation set. Refresh rotation revokes the presented token with a
// compare-and-revoke, so of two racing refreshes of the same token
// exactly one wins and the other observes ErrRevoked.
type Service struct {
	cfg     Config
	log     *slog.Logger
	users   identity.Store
	revoked RevocationStore
	tokens  TokenManager
	claims  federation.ClaimVerifier
	clock   func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// NewService constructs the session service. All collaborators are required
// except claims, which may be nil when federated login is disabled.
func NewService(cfg Config, log *slog.Logger, users identity.Store, revoked RevocationStore, tokens TokenManager, claims federation.ClaimVerifier, opts ...ServiceOption) (*Service, error) {
	if log == nil || users == nil || revoked == nil || tokens == nil {
		return nil, fmt.Errorf("session: missing collaborator")
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		users:   users,
		revoked: revoked,
		tokens:  tokens,
		claims:  claims,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// storeCtx bounds a protocol operation's storage I/O. Exceeded deadlines
// surface as context.DeadlineExceeded, which the transport layer maps to
// a retryable outcome rather than an authentication failure.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// Register creates a local account and signs it in.
func (s *Service) Register(ctx context.Context, email, password string, displayName *string) (Session, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock()

	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:          email,
		PasswordSecret: password,
		DisplayName:    displayName,
		Now:            now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			return Session{}, ErrEmailTaken
		}
		return Session{}, err
	}

	s.log.Info("auth.register", "user_id", u.ID)
	return s.issueSession(u, now)
}

// Login authenticates a local account by email and password.
//
// Unknown email and wrong password collapse into the single
// ErrInvalidCredentials so responses do not reveal which part failed.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock()

	u, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !identity.SecretsEqual(u.PasswordSecret, password) {
		return Session{}, ErrInvalidCredentials
	}

	s.log.Info("auth.login", "user_id", u.ID)
	return s.issueSession(u, now)
}

// FederatedLogin verifies a provider token and signs in the asserted
// identity, creating or linking the account as needed.
func (s *Service) FederatedLogin(ctx context.Context, providerToken string) (Session, error) {
	if s.claims == nil {
		return Session{}, federation.ErrMalformedClaim
	}

	claim, err := s.claims.Verify(ctx, providerToken)
	if err != nil {
		return Session{}, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock()

	var name *string
	if n := strings.TrimSpace(claim.Name); n != "" {
		name = &n
	}

	u, err := s.users.UpsertFederatedUser(ctx, identity.UpsertFederatedInput{
		Email:   claim.Email,
		Name:    name,
		Subject: claim.Subject,
		Now:     now,
	})
	if err != nil {
		return Session{}, err
	}

	s.log.Info("auth.federated_login", "user_id", u.ID)
	return s.issueSession(u, now)
}

// Logout revokes whichever of the two tokens the caller presented.
//
// It is idempotent: unknown, expired, or already-revoked tokens do not
// fail the call. Each revocation record mirrors the token's own expiry
// so the sweeper can prune it once the token would no longer validate.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock()

	for _, tok := range []string{accessToken, refreshToken} {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		_, err := s.revoked.Revoke(ctx, RevokedToken{
			TokenHash: sectoken.HashTokenHex(tok),
			RevokedAt: now,
			ExpiresAt: s.tokens.ExpiryHint(tok, now),
			Reason:    revokeReasonLogout,
		})
		if err != nil {
			return err
		}
	}

	s.log.Info("auth.logout")
	return nil
}

// Refresh rotates a refresh token: it validates the presented token,
// revokes it, and issues a fresh access/refresh pair.
//
// The presented token becomes unusable even if issuing the new pair
// fails afterwards; rotation fails closed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrNoRefreshToken
	}

	now := s.clock()

	claims, err := s.tokens.Verify(refreshToken, now)
	if err != nil {
		return Session{}, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return Session{}, ErrWrongTokenType
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	hash := sectoken.HashTokenHex(refreshToken)

	revoked, err := s.revoked.IsRevoked(ctx, hash)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, ErrRevoked
	}

	u, err := s.users.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			// Valid signature for a user that no longer exists. Worth its
			// own log line; the caller still sees a plain auth failure.
			s.log.Warn("auth.refresh.user_missing", "user_id", claims.Subject)
			return Session{}, ErrUserNotFound
		}
		return Session{}, err
	}

	// Compare-and-revoke: only the caller that inserts the revocation
	// record proceeds to a new pair. A concurrent refresh of the same
	// token loses and is told the token is revoked.
	first, err := s.revoked.Revoke(ctx, RevokedToken{
		TokenHash: hash,
		RevokedAt: now,
		ExpiresAt: s.tokens.ExpiryHint(refreshToken, now),
		Reason:    revokeReasonRotation,
	})
	if err != nil {
		return Session{}, err
	}
	if !first {
		return Session{}, ErrRevoked
	}

	s.log.Info("auth.refresh", "user_id", u.ID)
	return s.issueSession(u, now)
}

// Me resolves the current user from an access token.
func (s *Service) Me(ctx context.Context, accessToken string) (identity.User, error) {
	now := s.clock()

	claims, err := s.tokens.Verify(accessToken, now)
	if err != nil {
		return identity.User{}, err
	}
	if claims.TokenType != TokenTypeAccess {
		return identity.User{}, ErrWrongTokenType
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	revoked, err := s.revoked.IsRevoked(ctx, sectoken.HashTokenHex(accessToken))
	if err != nil {
		return identity.User{}, err
	}
	if revoked {
		return identity.User{}, ErrRevoked
	}

	u, err := s.users.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			s.log.Warn("auth.me.user_missing", "user_id", claims.Subject)
			return identity.User{}, ErrUserNotFound
		}
		return identity.User{}, err
	}
	return u, nil
}

// ForgotPassword mints a single-use reset ticket for the account, if it
// exists. Only the ticket token's hash is stored; the plain token is
// returned once for out-of-band delivery. Unknown emails report
// found=false with no error so responses stay uniform.
func (s *Service) ForgotPassword(ctx context.Context, email string) (token string, found bool, err error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock()

	u, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return "", false, nil
		}
		return "", false, err
	}

	plain, err := identity.NewOpaqueSecret(s.cfg.ResetTokenBytes)
	if err != nil {
		return "", false, err
	}

	if _, err := s.users.CreateResetTicket(ctx, identity.CreateTicketInput{
		UserID:    u.ID,
		TokenHash: sectoken.HashTokenHex(plain),
		Now:       now,
	}); err != nil {
		return "", false, err
	}

	s.log.Info("auth.forgot_password", "user_id", u.ID)
	return plain, true, nil
}

// ResetPassword consumes a reset ticket and replaces the account password.
//
// Unknown and already-consumed tickets collapse into ErrTicketInvalid.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" || newPassword == "" {
		return ErrTicketInvalid
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock()

	ticket, err := s.users.ConsumeResetTicket(ctx, sectoken.HashTokenHex(token), now)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsNotActive(err) {
			return ErrTicketInvalid
		}
		return err
	}

	if err := s.users.UpdatePassword(ctx, ticket.UserID, newPassword, now); err != nil {
		if identity.IsNotFound(err) {
			s.log.Warn("auth.reset_password.user_missing", "user_id", ticket.UserID)
			return ErrTicketInvalid
		}
		return err
	}

	s.log.Info("auth.reset_password", "user_id", ticket.UserID)
	return nil
}

func (s *Service) issueSession(u identity.User, now time.Time) (Session, error) {
	access, accessExp, err := s.tokens.IssueAccess(u.ID, u.Email, now)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(u.ID, u.Email, now)
	if err != nil {
		return Session{}, err
	}
	return Session{
		User:         u,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, nil
}
