package token

import (
	"crypto/rsa"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate.org/internal/result"
)

// PublicKeySource yields the current verification key.
type PublicKeySource interface {
	LoadPublicKey() (*rsa.PublicKey, error)
}

// StaticKey is a PublicKeySource that always returns the same key.
type StaticKey struct {
	Key *rsa.PublicKey
}

func (s StaticKey) LoadPublicKey() (*rsa.PublicKey, error) {
	if s.Key == nil {
		return nil, errors.New("token: no public key")
	}
	return s.Key, nil
}

// Validator checks access tokens. The public key is read from its source on
// every call, so a rotated pair is honoured as soon as it is written. It
// holds no mutable state and is safe for concurrent use.
type Validator struct {
	keys     PublicKeySource
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClockSkew tolerates tokens up to skew past their expiry. Default zero.
func WithClockSkew(skew time.Duration) ValidatorOption {
	return func(v *Validator) {
		if skew > 0 {
			v.skew = skew
		}
	}
}

// WithValidatorClock overrides the time source.
func WithValidatorClock(fn func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewValidator pins verification to RS256 and the keys from src.
func NewValidator(src PublicKeySource, settings Settings, opts ...ValidatorOption) *Validator {
	v := &Validator{
		keys:     src,
		issuer:   settings.Issuer,
		audience: settings.Audience,
		now:      time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate verifies signature, issuer, audience and expiry. A token is
// accepted only while now is strictly before exp plus the clock skew.
func (v *Validator) Validate(raw string) result.Result[*Claims] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fail(result.CodeTokenMalformed, "token is empty")
	}
	if v.keys == nil {
		return fail(result.CodeInternal, "verification key unavailable")
	}
	key, err := v.keys.LoadPublicKey()
	if err != nil {
		return fail(result.CodeInternal, "verification key unavailable")
	}

	claims := &Claims{}
	_, err = v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fail(result.CodeTokenSignature, "token signature is invalid")
	default:
		return fail(result.CodeTokenMalformed, "token is malformed")
	}

	if claims.ExpiresAt == nil || strings.TrimSpace(claims.Subject) == "" {
		return fail(result.CodeTokenClaims, "token is missing required claims")
	}
	if claims.Issuer != v.issuer {
		return fail(result.CodeTokenIssuer, "token issuer mismatch")
	}
	if v.audience != "" && !slices.Contains(claims.Audience, v.audience) {
		return fail(result.CodeTokenAudience, "token audience mismatch")
	}
	if !v.now().Before(claims.ExpiresAt.Time.Add(v.skew)) {
		return fail(result.CodeTokenExpired, "token has expired")
	}
	return result.Success(claims, "")
}

func fail(code result.Code, msg string) result.Result[*Claims] {
	return result.Failure[*Claims](msg, result.WithCode(code))
}
