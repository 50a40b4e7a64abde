package auth

import (
	"errors"
	"fmt"
)

// Token errors. Callers match with errors.Is; a failure is often wrapped in
// both a public kind and its codec-level cause, e.g.
// fmt.Errorf("%w: %w", ErrExpiredAccessToken, ErrTokenExpired).
var (
	ErrMalformedToken          = errors.New("malformed token")
	ErrTokenExpired            = errors.New("token has expired")
	ErrExpiredAccessToken      = errors.New("access token has expired")
	ErrExpiredRefreshToken     = errors.New("refresh token has expired")
	ErrInvalidAccessToken      = errors.New("invalid access token")
	ErrInvalidRefreshToken     = errors.New("invalid refresh token")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)

// Credential and account errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrEmailExists        = errors.New("email already registered")
	ErrGroupNotFound      = errors.New("group not found")
	ErrScopeNotFound      = errors.New("scope not found")
	ErrTokenNotFound      = errors.New("refresh token not found")
)

// Validation errors.
var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidScope    = errors.New("invalid scope name")
)

// Profile change errors: the new value equals the current one.
var (
	ErrSameName     = errors.New("new name is the same as the current one")
	ErrSameEmail    = errors.New("new email is the same as the current one")
	ErrSamePassword = errors.New("new password is the same as the current one")
)

// ErrStorage marks a failure in the backing store. It is transient: the
// enclosing transaction has been rolled back and the caller may retry.
var ErrStorage = errors.New("storage error")

// ErrDuplicateTokenID is a jti collision on insert. It always travels
// wrapped in ErrStorage and the service retries it with a fresh jti.
var ErrDuplicateTokenID = errors.New("duplicate refresh token id")

// storageError wraps a driver error so both ErrStorage and the cause match.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
