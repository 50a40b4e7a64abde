package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// Field limits for user input.
const (
	minPasswordLength = 6
	maxPasswordLength = 128
	maxNameLength     = 50
	maxEmailLength    = 254
)

// User is an account with its enabled group names and effective scope.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"` // never serialised
	Enabled      bool      `json:"enabled"`
	Groups       []string  `json:"groups"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Group is a named set of scope grants.
type Group struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Scopes  []string `json:"scopes"`
}

// Scope is a flat permission tag such as "add_more_model_config".
type Scope struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// RefreshTokenRecord is a ledger row. Active only ever moves from true to false.
type RefreshTokenRecord struct {
	JTI       string    `json:"jti"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenKind distinguishes access tokens from refresh tokens on the wire.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the validated claim set carried by a token.
type Claims struct {
	Kind      TokenKind `json:"token_use"`
	Subject   int64     `json:"sub"`
	Scope     []string  `json:"scope"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
	// ID is the refresh token's jti. Access tokens inherit it from the
	// refresh token minted alongside them.
	ID string `json:"jti"`
}

// TokenPair is the result of a login, rotation or credential change.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Scope            []string  `json:"scope"`
	JTI              string    `json:"-"`
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address (no display name).
func ValidateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidEmail, maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q is not an address", ErrInvalidEmail, email)
	}
	return nil
}

// NormalizeName trims surrounding whitespace from a display name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateName checks a normalised display name.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxNameLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidatePassword enforces the password length policy.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: must be %d-%d characters", ErrInvalidPassword, minPasswordLength, maxPasswordLength)
	}
	return nil
}
