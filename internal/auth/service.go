package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// tokenTypeBearer is the token_type reported with every pair.
	tokenTypeBearer = "bearer"

	// maxIssueAttempts bounds retries after a jti collision on insert.
	maxIssueAttempts = 3
)

// ServiceConfig holds the session lifetimes and registration defaults.
type ServiceConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// DefaultGroup is assigned to newly registered users. Empty assigns none.
	DefaultGroup string
}

// ServiceDeps are the collaborators of a Service. Events, Logger and Now
// are optional.
type ServiceDeps struct {
	Users     UserStore
	Ledger    Ledger
	Tx        Transactor
	Codec     *Codec
	Passwords *PasswordVerifier
	Events    EventSink
	Logger    *slog.Logger
	Now       func() time.Time
	Config    ServiceConfig
}

// Service orchestrates login, rotation, logout and credential changes.
//
// It holds no locks. Exclusivity between concurrent rotations of one refresh
// token comes solely from the ledger's conditional revoke.
type Service struct {
	users     UserStore
	ledger    Ledger
	tx        Transactor
	codec     *Codec
	passwords *PasswordVerifier
	events    EventSink
	logger    *slog.Logger
	now       func() time.Time
	cfg       ServiceConfig
}

// NewService validates deps and creates a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth service requires a user store")
	case deps.Ledger == nil:
		return nil, errors.New("auth service requires a token ledger")
	case deps.Tx == nil:
		return nil, errors.New("auth service requires a transactor")
	case deps.Codec == nil:
		return nil, errors.New("auth service requires a token codec")
	case deps.Passwords == nil:
		return nil, errors.New("auth service requires a password verifier")
	}
	if deps.Config.AccessTTL <= 0 || deps.Config.RefreshTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}

	s := &Service{
		users:     deps.Users,
		ledger:    deps.Ledger,
		tx:        deps.Tx,
		codec:     deps.Codec,
		passwords: deps.Passwords,
		events:    deps.Events,
		logger:    deps.Logger,
		now:       deps.Now,
		cfg:       deps.Config,
	}
	if s.events == nil {
		s.events = NopSink{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Login checks email and password and starts a session.
//
// The password hash runs even when no account matches, so the three failure
// outcomes (ErrUserNotFound, ErrInvalidCredentials, ErrUserDisabled) take the
// same time. A disabled account is only reported to a caller that supplied
// the right password. scopes optionally narrows the access token; asking for
// a scope outside the user's grant fails with ErrInsufficientPermissions.
func (s *Service) Login(ctx context.Context, email, password string, scopes ...string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	var storedHash string
	if user != nil {
		storedHash = user.PasswordHash
	}
	ok, err := s.passwords.Verify(ctx, password, storedHash)
	if err != nil {
		return nil, err
	}

	switch {
	case user == nil:
		s.record(ctx, Event{Type: EventLoginFailed, Reason: "unknown_user"})
		return nil, ErrUserNotFound
	case !ok:
		s.record(ctx, Event{Type: EventLoginFailed, UserID: user.ID, Reason: "bad_password"})
		return nil, ErrInvalidCredentials
	case !user.Enabled:
		s.record(ctx, Event{Type: EventLoginFailed, UserID: user.ID, Reason: "disabled"})
		return nil, ErrUserDisabled
	}

	if missing := MissingScopes(scopes, user.Scopes); len(missing) > 0 {
		return nil, insufficient(missing)
	}

	var pair *TokenPair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pair, err = s.issueSession(ctx, user.ID, user.Scopes, scopes)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded", "user_id", user.ID, "jti", pair.JTI)
	s.record(ctx, Event{Type: EventLogin, UserID: user.ID, JTI: pair.JTI})
	return pair, nil
}

// Refresh consumes refreshToken and returns a new pair.
//
// Either the presented token is revoked and a fresh pair is returned, or
// nothing changes. Of two concurrent calls with the same token exactly one
// succeeds; the other fails with ErrInvalidRefreshToken. The new grant is the
// original scope narrowed to the user's current effective scope, and scopes
// must be a subset of the original grant.
func (s *Service) Refresh(ctx context.Context, refreshToken string, scopes ...string) (*TokenPair, error) {
	claims, err := s.AuthenticateRefresh(ctx, refreshToken)
	if err != nil {
		s.record(ctx, Event{Type: EventRefreshRejected, Reason: rejectReason(err)})
		return nil, err
	}

	if missing := MissingScopes(scopes, claims.Scope); len(missing) > 0 {
		return nil, insufficient(missing)
	}

	user, err := s.refreshOwner(ctx, claims)
	if err != nil {
		return nil, err
	}
	if !user.Enabled {
		s.record(ctx, Event{Type: EventRefreshRejected, UserID: user.ID, JTI: claims.ID, Reason: "disabled"})
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, ErrUserDisabled)
	}

	granted := IntersectScopes(claims.Scope, user.Scopes)
	if missing := MissingScopes(scopes, granted); len(missing) > 0 {
		return nil, insufficient(missing)
	}

	var pair *TokenPair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		revoked, err := s.ledger.Revoke(ctx, claims.ID, claims.Subject)
		if err != nil {
			return err
		}
		if revoked == 0 {
			return fmt.Errorf("%w: already consumed", ErrInvalidRefreshToken)
		}
		pair, err = s.issueSession(ctx, claims.Subject, granted, scopes)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			s.logger.Warn("refresh token replayed", "user_id", claims.Subject, "jti", claims.ID)
			s.record(ctx, Event{Type: EventRefreshRejected, UserID: claims.Subject, JTI: claims.ID, Reason: "consumed"})
		}
		return nil, err
	}

	s.record(ctx, Event{Type: EventRefresh, UserID: claims.Subject, JTI: pair.JTI})
	return pair, nil
}

// AuthenticateAccess verifies an access token and checks that it carries
// every required scope. It never touches storage.
func (s *Service) AuthenticateAccess(accessToken string, required ...string) (*Claims, error) {
	claims, err := s.codec.Verify(accessToken, TokenAccess)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpiredAccessToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}

	if missing := MissingScopes(required, claims.Scope); len(missing) > 0 {
		return nil, insufficient(missing)
	}
	return claims, nil
}

// Authorize is AuthenticateAccess under the name used by request handlers.
func (s *Service) Authorize(accessToken string, required ...string) (*Claims, error) {
	return s.AuthenticateAccess(accessToken, required...)
}

// AuthenticateRefresh verifies a refresh token and checks its ledger record.
// Unknown, revoked and foreign tokens are all ErrInvalidRefreshToken; a token
// whose claim or ledger expiry has passed is ErrExpiredRefreshToken.
func (s *Service) AuthenticateRefresh(ctx context.Context, refreshToken string) (*Claims, error) {
	claims, err := s.codec.Verify(refreshToken, TokenRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpiredRefreshToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	active, expiresAt, err := s.ledger.IsActive(ctx, claims.ID, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: not active", ErrInvalidRefreshToken)
	}
	if !s.now().Before(expiresAt) {
		return nil, fmt.Errorf("%w: %w", ErrExpiredRefreshToken, ErrTokenExpired)
	}
	return claims, nil
}

// Logout revokes refreshToken. Repeating it, or passing an expired token,
// is a no-op; only a token that fails verification is an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Verify(refreshToken, TokenRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	revoked, err := s.ledger.Revoke(ctx, claims.ID, claims.Subject)
	if err != nil {
		return err
	}

	if revoked > 0 {
		s.logger.Info("logout", "user_id", claims.Subject, "jti", claims.ID)
	}
	s.record(ctx, Event{Type: EventLogout, UserID: claims.Subject, JTI: claims.ID, Count: revoked})
	return nil
}

// RevokeAllSessions revokes every active refresh token of userID and
// returns how many were revoked. Access tokens already issued stay valid
// until they expire.
func (s *Service) RevokeAllSessions(ctx context.Context, userID int64) (int64, error) {
	revoked, err := s.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.logger.Info("all sessions revoked", "user_id", userID, "count", revoked)
	s.record(ctx, Event{Type: EventRevokeAll, UserID: userID, Count: revoked})
	return revoked, nil
}

// Register creates an enabled account in the default group and starts its
// first session.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, *TokenPair, error) {
	email = NormalizeEmail(email)
	name = NormalizeName(name)
	if err := ValidateEmail(email); err != nil {
		return nil, nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, nil, err
	}

	// Hash before the transaction so the write lock is not held for it.
	hash, err := s.passwords.Hash(ctx, password)
	if err != nil {
		return nil, nil, err
	}

	var groups []string
	if s.cfg.DefaultGroup != "" {
		groups = []string{s.cfg.DefaultGroup}
	}

	var user *User
	var pair *TokenPair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created := &User{Email: email, Name: name, PasswordHash: hash, Enabled: true}
		if err := s.users.Create(ctx, created, groups...); err != nil {
			return err
		}
		var err error
		if user, err = s.users.GetByID(ctx, created.ID); err != nil {
			return err
		}
		pair, err = s.issueSession(ctx, user.ID, user.Scopes, nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID)
	s.record(ctx, Event{Type: EventRegister, UserID: user.ID, JTI: pair.JTI})
	return user, pair, nil
}

// ChangePassword sets a new password for the owner of refreshToken, revokes
// all of their sessions and returns a fresh pair, in one transaction. The
// current password fails with ErrSamePassword and changes nothing.
func (s *Service) ChangePassword(ctx context.Context, refreshToken, newPassword string) (*TokenPair, error) {
	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	claims, err := s.AuthenticateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	// changeCredential consumes the presented token, so a concurrent change
	// landing after this check fails there.
	user, err := s.refreshOwner(ctx, claims)
	if err != nil {
		return nil, err
	}
	same, err := s.passwords.Verify(ctx, newPassword, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if same {
		return nil, ErrSamePassword
	}

	hash, err := s.passwords.Hash(ctx, newPassword)
	if err != nil {
		return nil, err
	}

	return s.changeCredential(ctx, claims, EventPasswordChanged, func(ctx context.Context, _ *User) error {
		return s.users.UpdatePassword(ctx, claims.Subject, hash)
	})
}

// ChangeEmail sets a new email for the owner of refreshToken, revokes all of
// their sessions and returns a fresh pair, in one transaction. A taken
// address fails with ErrEmailExists and the current one with ErrSameEmail;
// neither changes anything.
func (s *Service) ChangeEmail(ctx context.Context, refreshToken, newEmail string) (*TokenPair, error) {
	newEmail = NormalizeEmail(newEmail)
	if err := ValidateEmail(newEmail); err != nil {
		return nil, err
	}

	claims, err := s.AuthenticateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	return s.changeCredential(ctx, claims, EventEmailChanged, func(ctx context.Context, user *User) error {
		if user.Email == newEmail {
			return ErrSameEmail
		}
		return s.users.UpdateEmail(ctx, claims.Subject, newEmail)
	})
}

// changeCredential consumes the presented refresh token, runs mutate,
// revokes every other session of its owner and issues a fresh pair. An
// interruption at any step rolls everything back. A token revoked since it
// was authenticated fails with ErrInvalidRefreshToken before mutate runs.
func (s *Service) changeCredential(ctx context.Context, claims *Claims, evt EventType, mutate func(ctx context.Context, user *User) error) (*TokenPair, error) {
	userID := claims.Subject
	var pair *TokenPair
	var revoked int64

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.refreshOwner(ctx, claims)
		if err != nil {
			return err
		}
		if !user.Enabled {
			return ErrUserDisabled
		}

		consumed, err := s.ledger.Revoke(ctx, claims.ID, userID)
		if err != nil {
			return err
		}
		if consumed == 0 {
			return fmt.Errorf("%w: not active", ErrInvalidRefreshToken)
		}

		if err := mutate(ctx, user); err != nil {
			return err
		}
		others, err := s.ledger.RevokeAllForUser(ctx, userID)
		if err != nil {
			return err
		}
		revoked = consumed + others

		pair, err = s.issueSession(ctx, userID, user.Scopes, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credentials changed", "user_id", userID, "change", string(evt), "sessions_revoked", revoked)
	s.record(ctx, Event{Type: evt, UserID: userID, JTI: pair.JTI})
	s.record(ctx, Event{Type: EventRevokeAll, UserID: userID, Count: revoked})
	return pair, nil
}

// refreshOwner loads the user a refresh token was issued to. A deleted
// account makes the token invalid rather than a lookup miss.
func (s *Service) refreshOwner(ctx context.Context, claims *Claims) (*User, error) {
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
		}
		return nil, err
	}
	return user, nil
}

// Rename changes the display name of userID. The current name fails with
// ErrSameName.
func (s *Service) Rename(ctx context.Context, userID int64, name string) (*User, error) {
	name = NormalizeName(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var user *User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.accessOwner(ctx, userID)
		if err != nil {
			return err
		}
		if current.Name == name {
			return ErrSameName
		}
		if err := s.users.UpdateName(ctx, userID, name); err != nil {
			return err
		}
		user, err = s.users.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Profile returns the account of userID.
func (s *Service) Profile(ctx context.Context, userID int64) (*User, error) {
	return s.accessOwner(ctx, userID)
}

// accessOwner loads the subject of an access token. A deleted account makes
// the token invalid rather than a lookup miss.
func (s *Service) accessOwner(ctx context.Context, userID int64) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
		}
		return nil, err
	}
	return user, nil
}

// Sessions lists the active, unexpired refresh tokens of userID.
func (s *Service) Sessions(ctx context.Context, userID int64) ([]RefreshTokenRecord, error) {
	return s.ledger.ListActiveByUser(ctx, userID)
}

// issueSession records a new refresh token and mints the pair. granted is
// frozen into the refresh token; the access token carries requested when
// given, else granted. Callers have already checked requested ⊆ granted.
func (s *Service) issueSession(ctx context.Context, userID int64, granted, requested []string) (*TokenPair, error) {
	accessScope := granted
	if len(requested) > 0 {
		accessScope = requested
	}

	for attempt := 1; ; attempt++ {
		refreshToken, refreshClaims, err := s.codec.Issue(Claims{
			Kind:    TokenRefresh,
			Subject: userID,
			Scope:   granted,
		}, s.cfg.RefreshTTL)
		if err != nil {
			return nil, err
		}

		err = s.ledger.Create(ctx, refreshClaims.ID, userID, refreshClaims.ExpiresAt)
		if errors.Is(err, ErrDuplicateTokenID) && attempt < maxIssueAttempts {
			s.logger.Warn("refresh token id collision, retrying", "user_id", userID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		accessToken, accessClaims, err := s.codec.Issue(Claims{
			Kind:    TokenAccess,
			Subject: userID,
			Scope:   accessScope,
			ID:      refreshClaims.ID,
		}, s.cfg.AccessTTL)
		if err != nil {
			return nil, err
		}

		return &TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     refreshToken,
			TokenType:        tokenTypeBearer,
			AccessExpiresAt:  accessClaims.ExpiresAt,
			RefreshExpiresAt: refreshClaims.ExpiresAt,
			Scope:            accessClaims.Scope,
			JTI:              refreshClaims.ID,
		}, nil
	}
}

func (s *Service) record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	s.events.Record(ctx, e)
}

func insufficient(missing []string) error {
	return fmt.Errorf("%w: missing %s", ErrInsufficientPermissions, strings.Join(missing, " "))
}

// rejectReason classifies a refresh failure for events.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredRefreshToken):
		return "expired"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "inactive"
	}
}
