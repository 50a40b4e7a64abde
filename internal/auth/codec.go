package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// minSecretLength is the shortest HMAC secret the codec accepts.
const minSecretLength = 32

// signingMethods are the supported algorithms, keyed by their JOSE name.
var signingMethods = map[string]jwt.SigningMethod{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

// CodecConfig configures a Codec.
type CodecConfig struct {
	Secret    []byte
	Algorithm string // HS256 (default), HS384 or HS512

	// Leeway tolerates clock skew between issuer and verifier on exp.
	Leeway time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Codec signs and verifies tokens. It performs no I/O and is safe for
// concurrent use.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	leeway time.Duration
	now    func() time.Time
}

// wireClaims is the JWT payload.
type wireClaims struct {
	jwt.RegisteredClaims
	Scope    string    `json:"scope"`
	TokenUse TokenKind `json:"token_use"`
}

// NewCodec creates a Codec. The secret must be at least 32 bytes.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretLength)
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := signingMethods[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Codec{
		secret: append([]byte(nil), cfg.Secret...),
		method: method,
		leeway: cfg.Leeway,
		now:    now,
	}, nil
}

// Issue signs claims valid for ttl and returns the token together with the
// claims as they were encoded.
//
// IssuedAt and ExpiresAt are set from the codec clock, truncated to whole
// seconds. A refresh token without an ID gets a fresh UUIDv4 jti; an access
// token must carry the jti of its refresh token.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, Claims, error) {
	if ttl < time.Second {
		return "", Claims{}, fmt.Errorf("token ttl %v is below one second", ttl)
	}
	if claims.Subject <= 0 {
		return "", Claims{}, fmt.Errorf("token subject must be positive, got %d", claims.Subject)
	}
	for _, s := range claims.Scope {
		if err := ValidateScopeName(s); err != nil {
			return "", Claims{}, err
		}
	}

	switch claims.Kind {
	case TokenRefresh:
		if claims.ID == "" {
			claims.ID = uuid.NewString()
		}
	case TokenAccess:
		if claims.ID == "" {
			return "", Claims{}, errors.New("access token requires the refresh token jti")
		}
	default:
		return "", Claims{}, fmt.Errorf("unknown token kind %q", claims.Kind)
	}

	now := c.now().UTC().Truncate(time.Second)
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)
	claims.Scope = NormalizeScopes(claims.Scope)

	wire := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(claims.Subject, 10),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        claims.ID,
		},
		Scope:    joinScopes(claims.Scope),
		TokenUse: claims.Kind,
	}

	signed, err := jwt.NewWithClaims(c.method, wire).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("signing %s token: %w", claims.Kind, err)
	}
	return signed, claims, nil
}

// Verify checks the signature, algorithm, expiry and kind of token.
//
// It fails with ErrTokenExpired once exp (plus leeway) has passed and with
// ErrMalformedToken for anything else: bad signature or structure, a token of
// the other kind, or a missing sub, jti or exp.
func (c *Codec) Verify(token string, kind TokenKind) (*Claims, error) {
	var wire wireClaims
	_, err := jwt.ParseWithClaims(token, &wire, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	if wire.TokenUse != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrMalformedToken, kind, wire.TokenUse)
	}
	if wire.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrMalformedToken)
	}
	sub, err := strconv.ParseInt(wire.Subject, 10, 64)
	if err != nil || sub <= 0 {
		return nil, fmt.Errorf("%w: invalid subject %q", ErrMalformedToken, wire.Subject)
	}

	claims := &Claims{
		Kind:      wire.TokenUse,
		Subject:   sub,
		Scope:     parseScopes(wire.Scope),
		ExpiresAt: wire.ExpiresAt.Time.UTC(),
		ID:        wire.ID,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time.UTC()
	}
	return claims, nil
}
