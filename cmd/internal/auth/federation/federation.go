// Package federation verifies identity claims presented by external
// identity providers during federated login.
//
// The session service never inspects provider tokens itself; it hands
// them to a ClaimVerifier and trusts only the Claim that comes back.
package federation

import (
	"context"
	"errors"
	"strings"
)

// ErrMalformedClaim reports a provider token that could not be verified
// or did not carry a usable identity.
var ErrMalformedClaim = errors.New("federation: malformed identity claim")

// Claim is the verified identity asserted by an external provider.
type Claim struct {
	// Email is the account email asserted by the provider.
	Email string

	// Name is the display name asserted by the provider, may be empty.
	Name string

	// Subject is the provider-scoped stable account identifier.
	Subject string
}

// ClaimVerifier validates a provider token and extracts the identity claim.
type ClaimVerifier interface {
	Verify(ctx context.Context, token string) (Claim, error)
}

func (c Claim) validate() error {
	if strings.TrimSpace(c.Email) == "" || strings.TrimSpace(c.Subject) == "" {
		return ErrMalformedClaim
	}
	return nil
}
