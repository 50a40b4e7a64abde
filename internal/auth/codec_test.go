package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	codec, err := NewCodec(CodecConfig{Secret: []byte(testSecret), Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return codec
}

func TestCodec_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	in := Claims{Kind: TokenRefresh, Subject: 42, Scope: []string{"conversation", "chat", "chat"}}
	token, issued, err := codec.Issue(in, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if issued.ID == "" {
		t.Fatal("Issue() should assign a jti to a refresh token")
	}
	if !issued.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, clock.Now().Add(time.Hour))
	}

	got, err := codec.Verify(token, TokenRefresh)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.Subject != 42 {
		t.Errorf("Subject = %d, want 42", got.Subject)
	}
	if !slices.Equal(got.Scope, []string{"chat", "conversation"}) {
		t.Errorf("Scope = %v, want [chat conversation]", got.Scope)
	}
	if got.ID != issued.ID {
		t.Errorf("ID = %q, want %q", got.ID, issued.ID)
	}
	if !got.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, issued.ExpiresAt)
	}
	if got.Kind != TokenRefresh {
		t.Errorf("Kind = %q, want %q", got.Kind, TokenRefresh)
	}
}

func TestCodec_RefreshTokensGetUniqueIDs(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())

	seen := make(map[string]bool)
	for range 50 {
		_, c, err := codec.Issue(Claims{Kind: TokenRefresh, Subject: 1}, time.Hour)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if seen[c.ID] {
			t.Fatalf("duplicate jti %q", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestCodec_AccessTokenInheritsID(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())

	if _, _, err := codec.Issue(Claims{Kind: TokenAccess, Subject: 1}, time.Minute); err == nil {
		t.Error("Issue() access token without jti should fail")
	}

	token, _, err := codec.Issue(Claims{Kind: TokenAccess, Subject: 1, ID: "parent-jti"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	got, err := codec.Verify(token, TokenAccess)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.ID != "parent-jti" {
		t.Errorf("ID = %q, want parent-jti", got.ID)
	}
}

func TestCodec_Expiry(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, _, err := codec.Issue(Claims{Kind: TokenRefresh, Subject: 1}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := codec.Verify(token, TokenRefresh); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	clock.Advance(2 * time.Second)
	_, err = codec.Verify(token, TokenRefresh)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() after expiry error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, ErrMalformedToken) {
		t.Error("expired token should not be reported as malformed")
	}
}

func TestCodec_Leeway(t *testing.T) {
	clock := newFakeClock()
	codec, err := NewCodec(CodecConfig{Secret: []byte(testSecret), Leeway: 30 * time.Second, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	token, _, err := codec.Issue(Claims{Kind: TokenRefresh, Subject: 1}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clock.Advance(time.Minute + 10*time.Second)
	if _, err := codec.Verify(token, TokenRefresh); err != nil {
		t.Errorf("Verify() within leeway error = %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := codec.Verify(token, TokenRefresh); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() past leeway error = %v, want ErrTokenExpired", err)
	}
}

func TestCodec_Malformed(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	refresh, _, err := codec.Issue(Claims{Kind: TokenRefresh, Subject: 7}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other, err := NewCodec(CodecConfig{Secret: []byte(strings.Repeat("x", 40)), Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	foreign, _, err := other.Issue(Claims{Kind: TokenRefresh, Subject: 7}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	hs512, err := NewCodec(CodecConfig{Secret: []byte(testSecret), Algorithm: "HS512", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec(HS512) error = %v", err)
	}
	wrongAlg, _, err := hs512.Issue(Claims{Kind: TokenRefresh, Subject: 7}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	sign := func(c jwt.Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	exp := jwt.NewNumericDate(clock.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
		kind  TokenKind
	}{
		{"garbage", "not-a-valid-jwt", TokenRefresh},
		{"empty", "", TokenRefresh},
		{"wrong secret", foreign, TokenRefresh},
		{"wrong algorithm", wrongAlg, TokenRefresh},
		{"tampered signature", refresh[:len(refresh)-4] + "AAAA", TokenRefresh},
		{"refresh presented as access", refresh, TokenAccess},
		{"missing subject", sign(wireClaims{
			RegisteredClaims: jwt.RegisteredClaims{ID: "j", ExpiresAt: exp},
			TokenUse:         TokenRefresh,
		}), TokenRefresh},
		{"non-numeric subject", sign(wireClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-1", ID: "j", ExpiresAt: exp},
			TokenUse:         TokenRefresh,
		}), TokenRefresh},
		{"missing jti", sign(wireClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "1", ExpiresAt: exp},
			TokenUse:         TokenRefresh,
		}), TokenRefresh},
		{"missing exp", sign(wireClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "1", ID: "j"},
			TokenUse:         TokenRefresh,
		}), TokenRefresh},
		{"missing token_use", sign(wireClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "1", ID: "j", ExpiresAt: exp},
		}), TokenRefresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.token, tt.kind)
			if !errors.Is(err, ErrMalformedToken) {
				t.Errorf("Verify() error = %v, want ErrMalformedToken", err)
			}
		})
	}
}

func TestCodec_IssueRejectsBadClaims(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())

	tests := []struct {
		name   string
		claims Claims
		ttl    time.Duration
	}{
		{"zero ttl", Claims{Kind: TokenRefresh, Subject: 1}, 0},
		{"sub-second ttl", Claims{Kind: TokenRefresh, Subject: 1}, time.Millisecond},
		{"no subject", Claims{Kind: TokenRefresh}, time.Hour},
		{"unknown kind", Claims{Kind: "id", Subject: 1}, time.Hour},
		{"scope with space", Claims{Kind: TokenRefresh, Subject: 1, Scope: []string{"a b"}}, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := codec.Issue(tt.claims, tt.ttl); err == nil {
				t.Error("Issue() should fail")
			}
		})
	}
}

func TestNewCodec_Validation(t *testing.T) {
	if _, err := NewCodec(CodecConfig{Secret: []byte("short")}); err == nil {
		t.Error("NewCodec() should reject a short secret")
	}
	if _, err := NewCodec(CodecConfig{Secret: []byte(testSecret), Algorithm: "RS256"}); err == nil {
		t.Error("NewCodec() should reject a non-HMAC algorithm")
	}
	for _, alg := range []string{"", "HS256", "HS384", "HS512"} {
		if _, err := NewCodec(CodecConfig{Secret: []byte(testSecret), Algorithm: alg}); err != nil {
			t.Errorf("NewCodec(%q) error = %v", alg, err)
		}
	}
}
