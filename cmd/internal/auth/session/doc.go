// Package session implements Till's session protocol.
//
// It issues signed access/refresh token pairs, validates presented
// tokens, and owns the rotation and revocation invariants: consuming a
// refresh token durably revokes it before a replacement is issued, and
// revoked tokens stay unusable regardless of their embedded expiry.
//
// Tokens are JWTs signed with a single shared HMAC-SHA256 secret held in
// an immutable Config constructed at startup. Revoked tokens are stored
// hashed, with an expiry mirror so a background sweep can prune entries
// whose token would already fail expiry verification.
package session
