// Package api implements the HTTP surface of Chatgate Core.
//
// This package provides:
//   - User endpoints for registration, login, rotation and logout
//   - Profile endpoints for renaming, credential changes, sessions and activity
//   - Bearer-token middleware plus RequireScopes for the rest of the backend
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Health and Prometheus metrics endpoints
//
// # Tokens on the wire
//
// Access tokens travel in the Authorization header as "Bearer <token>".
// Refresh tokens are set as an HTTP-only cookie and also returned in the
// response body. Endpoints that consume a refresh token read the cookie
// first and fall back to a "refresh_token" field in the JSON body.
//
// # Error mapping
//
// Authentication failures are 401, missing scopes 403, email conflicts 409,
// validation failures 400 and storage failures 503. Unknown email and wrong
// password share one message so the response does not reveal which accounts
// exist.
package api
