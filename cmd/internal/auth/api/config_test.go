package authapi

import (
	"net/http"
	"testing"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"TILL_AUTH_REFRESH_COOKIE_NAME",
		"TILL_AUTH_COOKIE_SECURE",
		"TILL_AUTH_COOKIE_SAMESITE",
		"TILL_AUTH_REFRESH_IN_BODY",
		"TILL_AUTH_EXPOSE_RESET_TOKEN",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfigFromEnv()

	if cfg.RefreshCookieName != "till_refresh_token" {
		t.Fatalf("RefreshCookieName = %q", cfg.RefreshCookieName)
	}
	if cfg.CookiePath != "/" {
		t.Fatalf("CookiePath = %q", cfg.CookiePath)
	}
	if cfg.CookieSameSite != http.SameSiteLaxMode {
		t.Fatalf("CookieSameSite = %v, want Lax", cfg.CookieSameSite)
	}
	if !cfg.RefreshInBody {
		t.Fatalf("RefreshInBody should default to true")
	}
	if cfg.ExposeResetToken {
		t.Fatalf("ExposeResetToken should default to false")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("TILL_AUTH_REFRESH_COOKIE_NAME", "sid")
	t.Setenv("TILL_AUTH_COOKIE_SECURE", "true")
	t.Setenv("TILL_AUTH_COOKIE_SAMESITE", "strict")
	t.Setenv("TILL_AUTH_REFRESH_IN_BODY", "false")
	t.Setenv("TILL_AUTH_MAX_BODY_BYTES", "4096")

	cfg := LoadConfigFromEnv()

	if cfg.RefreshCookieName != "sid" {
		t.Fatalf("RefreshCookieName = %q", cfg.RefreshCookieName)
	}
	if !cfg.CookieSecure {
		t.Fatalf("CookieSecure should be true")
	}
	if cfg.CookieSameSite != http.SameSiteStrictMode {
		t.Fatalf("CookieSameSite = %v, want Strict", cfg.CookieSameSite)
	}
	if cfg.RefreshInBody {
		t.Fatalf("RefreshInBody should be false")
	}
	if cfg.MaxBodyBytes != 4096 {
		t.Fatalf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
}
