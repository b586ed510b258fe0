package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, reset-token entropy,
// the storage I/O deadline, and the shared HMAC-SHA256 signing secret.
//
// The struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code
// changes, and so tests can run with multiple secrets side by side.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued tokens.
	Issuer string

	// Secret is the shared HMAC-SHA256 signing secret, known only to this
	// service. Read-only after startup; pass copies of Config, never share
	// a mutable global.
	Secret string

	// AccessTokenTTL defines the lifetime of access tokens (short-lived).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defines the lifetime of refresh tokens (long-lived).
	RefreshTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// ResetTokenBytes defines the number of random bytes used to generate
	// password-reset ticket tokens.
	ResetTokenBytes int

	// StoreTimeout bounds record-store I/O per protocol operation.
	// Exceeding it surfaces as a retryable service-unavailable outcome,
	// distinct from any authentication failure.
	StoreTimeout time.Duration
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:          "till",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
		ResetTokenBytes: 32,
		StoreTimeout:    5 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - TILL_AUTH_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - TILL_AUTH_ISSUER
//   - TILL_AUTH_ACCESS_TTL
//   - TILL_AUTH_REFRESH_TTL
//   - TILL_AUTH_CLOCK_SKEW
//   - TILL_AUTH_RESET_TOKEN_BYTES
//   - TILL_AUTH_STORE_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("TILL_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("TILL_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("TILL_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("TILL_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("TILL_AUTH_RESET_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.ResetTokenBytes = n
	}

	if v := os.Getenv("TILL_AUTH_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	cfg.Secret = os.Getenv("TILL_AUTH_SECRET")
	if cfg.Secret == "" {
		return Config{}, ErrConfig
	}

	// Invariants: a refresh token must out-live the access tokens it renews.
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
