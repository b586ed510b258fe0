package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls auth API transport behavior: cookie attributes, body
// limits, and which secrets are echoed in response bodies.
type Config struct {
	// RefreshCookieName is the HttpOnly cookie carrying the refresh token.
	RefreshCookieName string

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64

	// TrustProxy enables X-Forwarded-For when resolving the client IP.
	TrustProxy bool

	// RefreshInBody additionally returns the refresh token in the JSON
	// body of register/login/federated responses, for non-browser
	// clients that cannot use the cookie.
	RefreshInBody bool

	// ExposeResetToken echoes the password-reset token in the
	// forgot-password response. Development only; production delivers
	// the token out of band.
	ExposeResetToken bool
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		RefreshCookieName: envString("TILL_AUTH_REFRESH_COOKIE_NAME", "till_refresh_token"),
		CookiePath:        envString("TILL_AUTH_COOKIE_PATH", "/"),
		CookieDomain:      envString("TILL_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("TILL_AUTH_COOKIE_SECURE", false),
		CookieSameSite:    envSameSite("TILL_AUTH_COOKIE_SAMESITE", http.SameSiteLaxMode),
		MaxBodyBytes:      envInt64("TILL_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		TrustProxy:        envBool("TILL_AUTH_TRUST_PROXY", false),
		RefreshInBody:     envBool("TILL_AUTH_REFRESH_IN_BODY", true),
		ExposeResetToken:  envBool("TILL_AUTH_EXPOSE_RESET_TOKEN", false),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if strings.TrimSpace(cfg.RefreshCookieName) == "" {
		cfg.RefreshCookieName = "till_refresh_token"
	}
	if strings.TrimSpace(cfg.CookiePath) == "" {
		cfg.CookiePath = "/"
	}

	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envSameSite(key string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return def
	}
}
