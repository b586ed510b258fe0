package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"till/cmd/identity"
	"till/cmd/internal/auth/federation"
)

type serviceFixture struct {
	svc   *Service
	users *identity.MemoryStore
	now   time.Time
	mu    sync.Mutex
}

func (f *serviceFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *serviceFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Secret = "service-test-secret"

	tokens, err := NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	f := &serviceFixture{
		users: identity.NewMemoryStore(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(cfg, log, f.users, NewMemoryRevocationStore(), tokens, nil, WithClock(f.clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func TestService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.User.Email != "p@example.com" {
		t.Fatalf("Email = %q", sess.User.Email)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected both tokens issued")
	}
	if sess.AccessToken == sess.RefreshToken {
		t.Fatalf("access and refresh tokens must differ")
	}

	again, err := f.svc.Login(ctx, "P@Example.COM", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if again.User.ID != sess.User.ID {
		t.Fatalf("login resolved a different user: %q vs %q", again.User.ID, sess.User.ID)
	}
}

func TestService_RegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	if _, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.Register(ctx, "P@example.com", "other", nil); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestService_LoginFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	if _, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.svc.Login(ctx, "nobody@example.com", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "p@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "p@example.com", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty password: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_RefreshRotates(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	rotated, err := f.svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == sess.RefreshToken {
		t.Fatalf("rotation must issue a new refresh token")
	}
	if rotated.User.ID != sess.User.ID {
		t.Fatalf("rotation changed the user")
	}

	// Replaying the consumed token must fail.
	if _, err := f.svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("replay: expected ErrRevoked, got %v", err)
	}

	// The rotated token is usable.
	if _, err := f.svc.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token refresh: %v", err)
	}
}

func TestService_RefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, sess.AccessToken); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}

func TestService_RefreshExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.advance(8 * 24 * time.Hour)

	if _, err := f.svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestService_LogoutRevokesBothTokens(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.svc.Me(ctx, sess.AccessToken); err != nil {
		t.Fatalf("Me before logout: %v", err)
	}

	if err := f.svc.Logout(ctx, sess.AccessToken, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := f.svc.Me(ctx, sess.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("Me after logout: expected ErrRevoked, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("Refresh after logout: expected ErrRevoked, got %v", err)
	}

	// Logout is idempotent.
	if err := f.svc.Logout(ctx, sess.AccessToken, sess.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	// And tolerates partial or garbage input.
	if err := f.svc.Logout(ctx, "", "garbage"); err != nil {
		t.Fatalf("Logout with garbage token: %v", err)
	}
}

func TestService_Me(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	sess, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	u, err := f.svc.Me(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if u.ID != sess.User.ID {
		t.Fatalf("Me resolved a different user")
	}

	if _, err := f.svc.Me(ctx, sess.RefreshToken); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("refresh token at Me: expected ErrWrongTokenType, got %v", err)
	}

	f.advance(16 * time.Minute)
	if _, err := f.svc.Me(ctx, sess.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired access token: expected ErrTokenExpired, got %v", err)
	}
}

func TestService_PasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	if _, err := f.svc.Register(ctx, "p@example.com", "hunter2", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, found, err := f.svc.ForgotPassword(ctx, "p@example.com")
	if err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if !found || token == "" {
		t.Fatalf("expected a reset token for a known account")
	}

	if err := f.svc.ResetPassword(ctx, token, "new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := f.svc.Login(ctx, "p@example.com", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must no longer work, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "p@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	// Tickets are single use.
	if err := f.svc.ResetPassword(ctx, token, "another"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("reused ticket: expected ErrTicketInvalid, got %v", err)
	}
}

func TestService_FederatedLogin(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Secret = "service-test-secret"
	tokens, err := NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(cfg, log, identity.NewMemoryStore(), NewMemoryRevocationStore(), tokens, federation.InsecureVerifier{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	sess, err := svc.FederatedLogin(ctx, `{"email":"p@example.com","name":"Pat","sub":"google-123"}`)
	if err != nil {
		t.Fatalf("FederatedLogin: %v", err)
	}
	if sess.User.Provider != identity.ProviderFederated {
		t.Fatalf("Provider = %q, want federated", sess.User.Provider)
	}
	if sess.User.FederatedSubject == nil || *sess.User.FederatedSubject != "google-123" {
		t.Fatalf("FederatedSubject = %v", sess.User.FederatedSubject)
	}

	// Logging in again with the same subject resolves the same account.
	again, err := svc.FederatedLogin(ctx, `{"email":"p@example.com","name":"Pat","sub":"google-123"}`)
	if err != nil {
		t.Fatalf("second FederatedLogin: %v", err)
	}
	if again.User.ID != sess.User.ID {
		t.Fatalf("federated login created a duplicate account")
	}

	if _, err := svc.FederatedLogin(ctx, "not-json"); !errors.Is(err, federation.ErrMalformedClaim) {
		t.Fatalf("expected ErrMalformedClaim, got %v", err)
	}
}

func TestService_ForgotPasswordUnknownEmail(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	token, found, err := f.svc.ForgotPassword(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if found || token != "" {
		t.Fatalf("unknown email must report found=false with no token")
	}
}

func TestService_ResetPasswordInvalidTickets(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	if err := f.svc.ResetPassword(ctx, "no-such-token", "pw"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("unknown ticket: expected ErrTicketInvalid, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "", "pw"); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("empty ticket: expected ErrTicketInvalid, got %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "tok", ""); !errors.Is(err, ErrTicketInvalid) {
		t.Fatalf("empty password: expected ErrTicketInvalid, got %v", err)
	}
}
