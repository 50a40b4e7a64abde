// Package auth is the Chatgate authentication and session core.
//
// It issues, rotates, validates and revokes paired access/refresh tokens:
//   - Codec signs and verifies compact JWTs (HS256/384/512)
//   - PasswordVerifier checks Argon2id hashes with a constant-effort path
//   - SQLiteLedger records refresh tokens and revokes them with conditional
//     updates, which are the only arbiter between concurrent rotations
//   - Service orchestrates login, rotation, logout and credential changes
//
// Access tokens are stateless: signature and expiry only. Refresh tokens also
// need a live ledger row with a matching jti and user id, and every successful
// refresh consumes the presented token.
//
// Scopes are flat string tags. A user's effective scope is the union of the
// scopes of their enabled groups, restricted to enabled scopes. It is frozen
// into the refresh token at login and can only narrow on rotation.
package auth
