package app

import (
	"errors"

	"till/cmd/security/token"
)

// ValidateSecurityConfig enforces the token-hashing policy at startup.
//
// When TILL_REQUIRE_TOKEN_HMAC is set, the process refuses to start
// unless revoked-token and reset-ticket hashing runs in HMAC mode with a
// sufficiently long key. The check goes through the same module that
// performs the hashing so policy and behavior cannot drift apart.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// 32 bytes minimum for an HMAC-SHA256 key, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: TILL_REQUIRE_TOKEN_HMAC=true but TILL_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: TILL_REQUIRE_TOKEN_HMAC=true but TILL_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: TILL_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
