package federation

import (
	"context"
	"encoding/json"
	"strings"
)

// InsecureVerifier accepts a raw JSON identity document as the provider
// token and trusts it without any signature or issuer check.
//
// It exists for development and integration tests only. Enabling it in
// production lets any caller assert any identity.
type InsecureVerifier struct{}

type insecureClaim struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Subject string `json:"sub"`
}

func (InsecureVerifier) Verify(_ context.Context, token string) (Claim, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claim{}, ErrMalformedClaim
	}

	var raw insecureClaim
	if err := json.Unmarshal([]byte(token), &raw); err != nil {
		return Claim{}, ErrMalformedClaim
	}

	claim := Claim{
		Email:   strings.TrimSpace(raw.Email),
		Name:    strings.TrimSpace(raw.Name),
		Subject: strings.TrimSpace(raw.Subject),
	}
	if err := claim.validate(); err != nil {
		return Claim{}, err
	}
	return claim, nil
}
