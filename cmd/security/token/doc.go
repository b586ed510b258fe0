// Package token provides token hashing primitives for Till.
//
// It is the single source of truth for at-rest token hashing: revoked
// access/refresh tokens and password-reset tickets are stored as hashes,
// never as the plain bearer string.
//
// Design goals:
// - Default dev mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - TILL_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
