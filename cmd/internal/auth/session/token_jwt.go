package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminators carried in the "typ" claim. An access token
// must never be accepted where a refresh token is required, and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the payload carried by every issued token.
//
// Subject holds the user ID, Email the account email at issue time, and
// TokenType one of TokenTypeAccess or TokenTypeRefresh. Refresh tokens
// additionally carry a unique ID (jti) so each rotation produces a
// distinct token even within the same clock second.
type Claims struct {
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies signed session tokens.
//
// Verify checks integrity and expiry only. Revocation is a separate,
// layered concern handled by the Service against its RevocationStore.
type TokenManager interface {
	// IssueAccess creates a short-lived access token for the given user.
	IssueAccess(userID, email string, now time.Time) (string, time.Time, error)

	// IssueRefresh creates a long-lived refresh token for the given user.
	IssueRefresh(userID, email string, now time.Time) (string, time.Time, error)

	// Verify parses and validates a token's signature and time claims.
	// It returns ErrMalformedToken, ErrBadSignature, or ErrTokenExpired
	// on failure.
	Verify(token string, now time.Time) (Claims, error)

	// ExpiryHint extracts the expiry of a token without verifying it.
	// Used to bound revocation-record retention for tokens that may not
	// validate. Falls back to now plus the refresh TTL when the token
	// carries no usable expiry.
	ExpiryHint(token string, now time.Time) time.Time
}

// HS256Manager signs tokens with HMAC-SHA256 using a single shared secret.
type HS256Manager struct {
	issuer     string
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	skew       time.Duration
}

// NewHS256Manager builds a TokenManager from the session configuration.
func NewHS256Manager(cfg Config) (*HS256Manager, error) {
	if cfg.Secret == "" {
		return nil, ErrConfig
	}
	return &HS256Manager{
		issuer:     cfg.Issuer,
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		skew:       cfg.ClockSkew,
	}, nil
}

func (m *HS256Manager) IssueAccess(userID, email string, now time.Time) (string, time.Time, error) {
	return m.issue(userID, email, TokenTypeAccess, now, m.accessTTL, "")
}

func (m *HS256Manager) IssueRefresh(userID, email string, now time.Time) (string, time.Time, error) {
	return m.issue(userID, email, TokenTypeRefresh, now, m.refreshTTL, uuid.NewString())
}

func (m *HS256Manager) issue(userID, email, typ string, now time.Time, ttl time.Duration, jti string) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Email:     email,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *HS256Manager) Verify(token string, now time.Time) (Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(m.skew),
		jwt.WithIssuer(m.issuer),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrBadSignature
		default:
			return Claims{}, ErrMalformedToken
		}
	}

	if claims.Subject == "" {
		return Claims{}, ErrMalformedToken
	}
	return claims, nil
}

func (m *HS256Manager) ExpiryHint(token string, now time.Time) time.Time {
	fallback := now.Add(m.refreshTTL)

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fallback
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.IsZero() {
		return fallback
	}
	return claims.ExpiresAt.Time
}
