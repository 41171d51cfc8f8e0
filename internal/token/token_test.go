package token

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate.org/internal/domain"
	"authgate.org/internal/keys"
	"authgate.org/internal/result"
)

var testSettings = Settings{Issuer: "authgate", Audience: "authgate-clients", ExpiryMinutes: 60}

func newKeyManager(t *testing.T) *keys.Manager {
	t.Helper()
	m := keys.NewManager(filepath.Join(t.TempDir(), "keys"), keys.WithKeyBits(1024))
	if _, err := m.EnsureKeysExist(); err != nil {
		t.Fatalf("EnsureKeysExist: %v", err)
	}
	return m
}

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func issueAt(t *testing.T, m *keys.Manager, at time.Time) (string, time.Time, *domain.User) {
	t.Helper()
	u := domain.NewUser("a@x.com", "hash", at)
	iss := NewIssuer(m, testSettings, WithIssuerClock(fixedClock(at)))
	tok, exp, err := iss.GenerateToken(u)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok, exp, u
}

func newValidator(t *testing.T, m *keys.Manager, at time.Time, opts ...ValidatorOption) *Validator {
	t.Helper()
	opts = append([]ValidatorOption{WithValidatorClock(fixedClock(at))}, opts...)
	return NewValidator(m, testSettings, opts...)
}

func TestGenerateAndValidate(t *testing.T) {
	m := newKeyManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, exp, u := issueAt(t, m, now)

	if !exp.Equal(now.Add(60 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}

	res := newValidator(t, m, now).Validate(tok)
	if !res.OK() {
		t.Fatalf("expected valid token, got %q (%s)", res.Message(), res.Code())
	}
	claims := res.Data()
	if claims.Subject != u.ID.String() || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "authgate" || len(claims.Audience) != 1 || claims.Audience[0] != "authgate-clients" {
		t.Fatalf("unexpected issuer/audience: %+v", claims.RegisteredClaims)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(tok, &Claims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if parsed.Header["kid"] != keys.KeyID || parsed.Header["alg"] != "RS256" {
		t.Fatalf("unexpected header: %v", parsed.Header)
	}
}

func TestExpiryBoundary(t *testing.T) {
	m := newKeyManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, exp, _ := issueAt(t, m, now)

	if res := newValidator(t, m, exp.Add(-time.Second)).Validate(tok); !res.OK() {
		t.Fatalf("one second before expiry must pass: %s", res.Code())
	}
	res := newValidator(t, m, exp).Validate(tok)
	if res.OK() || res.Code() != result.CodeTokenExpired {
		t.Fatalf("token at expiry must fail as expired, got ok=%v code=%s", res.OK(), res.Code())
	}
	if res := newValidator(t, m, exp.Add(time.Second)).Validate(tok); res.Code() != result.CodeTokenExpired {
		t.Fatalf("expected expired, got %s", res.Code())
	}
}

func TestClockSkewIsExplicit(t *testing.T) {
	m := newKeyManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, exp, _ := issueAt(t, m, now)

	v := newValidator(t, m, exp.Add(10*time.Second), WithClockSkew(30*time.Second))
	if res := v.Validate(tok); !res.OK() {
		t.Fatalf("skew must tolerate late validation: %s", res.Code())
	}
	v = newValidator(t, m, exp.Add(30*time.Second), WithClockSkew(30*time.Second))
	if res := v.Validate(tok); res.Code() != result.CodeTokenExpired {
		t.Fatalf("expected expired at exp+skew, got %s", res.Code())
	}
}

func TestSingleBitSignatureFlip(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	tok, _, _ := issueAt(t, m, now)

	parts := strings.Split(tok, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[len(sig)/2] ^= 0x01
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(sig)

	res := newValidator(t, m, now).Validate(tampered)
	if res.OK() || res.Code() != result.CodeTokenSignature {
		t.Fatalf("expected signature failure, got ok=%v code=%s", res.OK(), res.Code())
	}
}

func TestForeignKeyRejected(t *testing.T) {
	signer := newKeyManager(t)
	verifier := newKeyManager(t)
	now := time.Now()
	tok, _, _ := issueAt(t, signer, now)

	if res := newValidator(t, verifier, now).Validate(tok); res.Code() != result.CodeTokenSignature {
		t.Fatalf("expected signature failure, got %s", res.Code())
	}
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	claims := Claims{Email: "a@x.com", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "someone",
		Issuer:    testSettings.Issuer,
		Audience:  jwt.ClaimStrings{testSettings.Audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign HS256: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	v := newValidator(t, m, now)
	for name, tok := range map[string]string{"hs256": hs, "none": none} {
		if res := v.Validate(tok); res.OK() {
			t.Fatalf("%s token must be rejected", name)
		}
	}
}

func TestIssuerAndAudienceMismatch(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	u := domain.NewUser("a@x.com", "hash", now)
	cases := []struct {
		name     string
		settings Settings
		want     result.Code
	}{
		{"issuer", Settings{Issuer: "other", Audience: testSettings.Audience}, result.CodeTokenIssuer},
		{"audience", Settings{Issuer: testSettings.Issuer, Audience: "other"}, result.CodeTokenAudience},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, _, err := NewIssuer(m, tc.settings).GenerateToken(u)
			if err != nil {
				t.Fatalf("GenerateToken: %v", err)
			}
			res := NewValidator(m, testSettings).Validate(tok)
			if res.Code() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Code())
			}
		})
	}
}

func TestMalformedToken(t *testing.T) {
	m := newKeyManager(t)
	v := newValidator(t, m, time.Now())
	for _, raw := range []string{"", "abc", "a.b.c", "Bearer x.y.z"} {
		res := v.Validate(raw)
		if res.OK() || res.Code() != result.CodeTokenMalformed {
			t.Fatalf("%q: expected malformed, got ok=%v code=%s", raw, res.OK(), res.Code())
		}
	}
}

func TestGenerateWithoutKeys(t *testing.T) {
	m := keys.NewManager(filepath.Join(t.TempDir(), "missing"))
	_, _, err := NewIssuer(m, testSettings).GenerateToken(domain.NewUser("a@x.com", "h", time.Now()))
	if !errors.Is(err, ErrKeySigning) || !errors.Is(err, keys.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeySigning wrapping ErrKeyNotFound, got %v", err)
	}
}

func TestIssuerPicksUpRotatedKey(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	iss := NewIssuer(m, testSettings)
	u := domain.NewUser("a@x.com", "h", now)

	if err := m.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	tok, _, err := iss.GenerateToken(u)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if res := newValidator(t, m, now).Validate(tok); !res.OK() {
		t.Fatalf("token signed after rotation must verify with the new key: %s", res.Code())
	}
}

func TestValidatorFollowsRotation(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	v := newValidator(t, m, now)
	old, _, _ := issueAt(t, m, now)

	if err := m.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	fresh, _, _ := issueAt(t, m, now)
	if res := v.Validate(fresh); !res.OK() {
		t.Fatalf("token signed with the rotated key must verify: %s", res.Code())
	}
	if res := v.Validate(old); res.Code() != result.CodeTokenSignature {
		t.Fatalf("token signed with the replaced key must fail signature, got %s", res.Code())
	}
}

func TestValidatorWithoutKeys(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	tok, _, _ := issueAt(t, m, now)
	v := newValidator(t, m, now)
	if err := m.DeleteKeys(); err != nil {
		t.Fatalf("DeleteKeys: %v", err)
	}
	if res := v.Validate(tok); res.OK() || res.Code() != result.CodeInternal {
		t.Fatalf("expected internal failure without a key, got ok=%v code=%s", res.OK(), res.Code())
	}
}

func TestStaticKey(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	tok, _, _ := issueAt(t, m, now)
	pub, err := m.LoadPublicKey()
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	v := NewValidator(StaticKey{Key: pub}, testSettings, WithValidatorClock(fixedClock(now)))
	if res := v.Validate(tok); !res.OK() {
		t.Fatalf("static key validation failed: %s", res.Code())
	}
}

func TestValidateConcurrently(t *testing.T) {
	m := newKeyManager(t)
	now := time.Now()
	tok, _, _ := issueAt(t, m, now)
	v := newValidator(t, m, now)

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := v.Validate(tok); !res.OK() {
				errs <- string(res.Code())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for code := range errs {
		t.Fatalf("concurrent validation failed: %s", code)
	}
}

func TestRefreshTokens(t *testing.T) {
	a, hashA, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	b, _, _ := NewRefreshToken()
	if a == b {
		t.Fatalf("refresh tokens must be unique")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil || len(raw) != 32 {
		t.Fatalf("expected 32 random bytes, got %d (%v)", len(raw), err)
	}
	if HashRefreshToken(a) != hashA || hashA == a {
		t.Fatalf("hash must be deterministic and differ from the token")
	}
}
