package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Argon2id parameters — OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length

	// defaultMaxConcurrentHashes bounds memory: each hash holds argonMemory KiB.
	defaultMaxConcurrentHashes = 4
)

// dummyPassword is hashed once at start-up; logins for unknown accounts
// verify against that hash so they cost the same as a wrong password.
const dummyPassword = "chatgate-dummy-password-for-timing"

// PasswordParams are the Argon2id cost parameters.
type PasswordParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8

	// MaxConcurrent bounds hashes in flight across the process.
	MaxConcurrent int64
}

// DefaultPasswordParams returns the production parameters.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		Time:          argonTime,
		MemoryKiB:     argonMemory,
		Threads:       argonThreads,
		MaxConcurrent: defaultMaxConcurrentHashes,
	}
}

// PasswordVerifier hashes and verifies passwords with a constant-effort
// path: Verify always runs the hash primitive, whether or not a stored hash
// exists.
type PasswordVerifier struct {
	params    PasswordParams
	dummyHash string
	sem       *semaphore.Weighted
}

// NewPasswordVerifier precomputes the dummy hash with params.
func NewPasswordVerifier(params PasswordParams) (*PasswordVerifier, error) {
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return nil, errors.New("argon2 time, memory and threads must be positive")
	}
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = defaultMaxConcurrentHashes
	}

	dummy, err := hashWithParams(dummyPassword, params)
	if err != nil {
		return nil, fmt.Errorf("computing dummy hash: %w", err)
	}

	return &PasswordVerifier{
		params:    params,
		dummyHash: dummy,
		sem:       semaphore.NewWeighted(params.MaxConcurrent),
	}, nil
}

// Hash returns the PHC string for plaintext.
func (v *PasswordVerifier) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer v.sem.Release(1)

	return hashWithParams(plaintext, v.params)
}

// Verify reports whether candidate matches storedHash. An empty or
// undecodable storedHash is checked against the dummy hash and always
// yields false. The only error is ctx ending while waiting for a slot.
func (v *PasswordVerifier) Verify(ctx context.Context, candidate, storedHash string) (bool, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer v.sem.Release(1)

	known := true
	salt, hash, params, err := decodePHC(storedHash)
	if err != nil {
		known = false
		salt, hash, params, _ = decodePHC(v.dummyHash) //nolint:errcheck // produced by hashWithParams
	}

	ok := compareHash(candidate, salt, hash, params)
	return ok && known, nil
}

// HashPassword hashes a plaintext password using Argon2id and returns it
// in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return hashWithParams(password, DefaultPasswordParams())
}

// VerifyPassword checks a plaintext password against an Argon2id PHC hash string.
// Returns true if the password matches.
func VerifyPassword(password, encodedHash string) (bool, error) {
	salt, hash, params, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return compareHash(password, salt, hash, params), nil
}

func hashWithParams(password string, p PasswordParams) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Threads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func compareHash(password string, salt, hash []byte, p argonParams) bool {
	candidate := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32
	return subtle.ConstantTimeCompare(hash, candidate) == 1
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string format into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, errors.New("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}
	if params.memory == 0 || params.time == 0 || params.threads == 0 {
		return nil, nil, params, errors.New("argon2 parameters must be positive")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil, params, errors.New("empty hash")
	}

	return salt, hash, params, nil
}
