package session

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("AccessTokenTTL = %v, want 15m", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("RefreshTokenTTL = %v, want 168h", cfg.RefreshTokenTTL)
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		t.Fatalf("refresh TTL must exceed access TTL")
	}
	if cfg.ResetTokenBytes != 32 {
		t.Fatalf("ResetTokenBytes = %d, want 32", cfg.ResetTokenBytes)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("TILL_AUTH_SECRET", "")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("TILL_AUTH_SECRET", "test-secret")
	t.Setenv("TILL_AUTH_ISSUER", "till-test")
	t.Setenv("TILL_AUTH_ACCESS_TTL", "5m")
	t.Setenv("TILL_AUTH_REFRESH_TTL", "48h")
	t.Setenv("TILL_AUTH_CLOCK_SKEW", "10s")
	t.Setenv("TILL_AUTH_RESET_TOKEN_BYTES", "24")
	t.Setenv("TILL_AUTH_STORE_TIMEOUT", "2s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if cfg.Issuer != "till-test" {
		t.Fatalf("Issuer = %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 48*time.Hour {
		t.Fatalf("RefreshTokenTTL = %v", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 10*time.Second {
		t.Fatalf("ClockSkew = %v", cfg.ClockSkew)
	}
	if cfg.ResetTokenBytes != 24 {
		t.Fatalf("ResetTokenBytes = %d", cfg.ResetTokenBytes)
	}
	if cfg.StoreTimeout != 2*time.Second {
		t.Fatalf("StoreTimeout = %v", cfg.StoreTimeout)
	}
}

func TestLoadConfigFromEnv_RefreshMustExceedAccess(t *testing.T) {
	t.Setenv("TILL_AUTH_SECRET", "test-secret")
	t.Setenv("TILL_AUTH_ACCESS_TTL", "1h")
	t.Setenv("TILL_AUTH_REFRESH_TTL", "30m")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_BadDuration(t *testing.T) {
	t.Setenv("TILL_AUTH_SECRET", "test-secret")
	t.Setenv("TILL_AUTH_ACCESS_TTL", "soon")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_ResetTokenBytesBounds(t *testing.T) {
	t.Setenv("TILL_AUTH_SECRET", "test-secret")
	t.Setenv("TILL_AUTH_RESET_TOKEN_BYTES", "4")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
