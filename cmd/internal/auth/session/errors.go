package session

import "errors"

var (
	// ErrMalformedToken is returned when a token cannot be parsed as a signed envelope.
	ErrMalformedToken = errors.New("malformed token")

	// ErrBadSignature is returned when a token's signature does not verify.
	ErrBadSignature = errors.New("bad token signature")

	// ErrTokenExpired is returned when a token is past its embedded expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongTokenType is returned when an access token is presented where a
	// refresh token is required, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrRevoked is returned when a token is present in the revocation set.
	// The losing side of a racing double refresh observes this too.
	ErrRevoked = errors.New("token revoked")

	// ErrNoRefreshToken is returned by Refresh when no refresh cookie was presented.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrInvalidCredentials is returned for unknown emails and wrong passwords
	// alike, so callers cannot probe which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned by Register when the email already resolves.
	ErrEmailTaken = errors.New("email taken")

	// ErrUserNotFound is returned when a verified token's subject no longer
	// resolves to a user. It signals data inconsistency and is logged
	// distinctly; the API still answers a generic unauthorized.
	ErrUserNotFound = errors.New("user not found")

	// ErrTicketInvalid is returned by ResetPassword when no unconsumed ticket
	// matches the presented token.
	ErrTicketInvalid = errors.New("invalid or used reset token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
