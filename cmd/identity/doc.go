// Package identity is Till's record store for user accounts and
// password-reset tickets.
//
// It exposes a storage-neutral Store contract with two implementations:
// PostgreSQL (pgx) for production and a mutex-guarded in-memory map for
// dev mode and tests. Both offer atomic single-record mutation, so
// concurrent writers never observe partially applied state.
//
// Password secrets are treated as opaque values compared verbatim
// (constant-time); hashing them is a deployment concern that lives
// outside this package's contract.
package identity
