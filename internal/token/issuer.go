package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate.org/internal/domain"
	"authgate.org/internal/ids"
	"authgate.org/internal/keys"
)

const DefaultExpiryMinutes = 60

// ErrKeySigning indicates the signing key could not be loaded or used.
var ErrKeySigning = errors.New("token: signing failed")

// Claims is the signed assertion carried by access tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Settings holds the token parameters taken from configuration.
type Settings struct {
	Issuer        string
	Audience      string
	ExpiryMinutes int
}

func (s Settings) lifetime() time.Duration {
	if s.ExpiryMinutes <= 0 {
		return DefaultExpiryMinutes * time.Minute
	}
	return time.Duration(s.ExpiryMinutes) * time.Minute
}

// PrivateKeySource yields the current signing key.
type PrivateKeySource interface {
	LoadPrivateKey() (*rsa.PrivateKey, error)
}

// Issuer mints RS256 access tokens. The private key is read from its source
// on every call so a rotated key is picked up immediately.
type Issuer struct {
	keys     PrivateKeySource
	settings Settings
	now      func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

func NewIssuer(src PrivateKeySource, settings Settings, opts ...IssuerOption) *Issuer {
	i := &Issuer{keys: src, settings: settings, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Lifetime reports how long issued tokens stay valid.
func (i *Issuer) Lifetime() time.Duration { return i.settings.lifetime() }

// GenerateToken signs a token for the user and returns it with its expiry.
func (i *Issuer) GenerateToken(u *domain.User) (string, time.Time, error) {
	if u == nil || strings.TrimSpace(u.Email) == "" {
		return "", time.Time{}, errors.New("token: user with email is required")
	}
	key, err := i.keys.LoadPrivateKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrKeySigning, err)
	}

	now := i.now().UTC()
	exp := now.Add(i.settings.lifetime())
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    i.settings.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	if i.settings.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.settings.Audience}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = keys.KeyID
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrKeySigning, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}
