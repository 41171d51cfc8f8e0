// Package config loads service settings from AUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"

	"authgate.org/internal/password"
	"authgate.org/internal/token"
)

const Prefix = "AUTH_"

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":9090"`
	PGDSN           string        `env:"PG_DSN"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	KeysDir         string        `env:"KEYS_DIR" envDefault:"keys"`
	KeyBits         int           `env:"KEY_BITS" envDefault:"2048"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	JWT       JWT       `envPrefix:"JWT_"`
	Password  Password  `envPrefix:"PASSWORD_"`
	HTTP      HTTP      `envPrefix:"HTTP_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
}

type JWT struct {
	Issuer   string `env:"ISSUER" envDefault:"authgate"`
	Audience string `env:"AUDIENCE" envDefault:"authgate-clients"`
	// SecretKey is accepted for compatibility with older deployments; tokens
	// are always signed with the RSA key pair.
	SecretKey     string        `env:"SECRET_KEY"`
	ExpiryMinutes int           `env:"EXPIRY_MINUTES" envDefault:"60"`
	ClockSkew     time.Duration `env:"CLOCK_SKEW" envDefault:"0s"`
}

type Password struct {
	Algorithm  string `env:"ALGORITHM" envDefault:"bcrypt"`
	BcryptCost int    `env:"BCRYPT_COST" envDefault:"10"`
}

type HTTP struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	// TrustedProxies are CIDRs or single addresses whose X-Forwarded-For
	// header is honoured. Empty means the peer address is always used.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

type RateLimit struct {
	PerMinute int `env:"PER_MINUTE" envDefault:"100"`
	Burst     int `env:"BURST" envDefault:"10"`
}

// ParseEnv loads configuration from AUTH_-prefixed environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.JWT.ExpiryMinutes <= 0 {
		errs = append(errs, fmt.Errorf("%sJWT_EXPIRY_MINUTES must be positive", Prefix))
	}
	if c.JWT.ClockSkew < 0 {
		errs = append(errs, fmt.Errorf("%sJWT_CLOCK_SKEW must not be negative", Prefix))
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		errs = append(errs, fmt.Errorf("%sJWT_ISSUER and %sJWT_AUDIENCE are required", Prefix, Prefix))
	}
	switch password.Algorithm(c.Password.Algorithm) {
	case password.Bcrypt, password.Argon2id:
	default:
		errs = append(errs, fmt.Errorf("%sPASSWORD_ALGORITHM %q: %w", Prefix, c.Password.Algorithm, password.ErrUnknownAlgorithm))
	}
	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("%sPASSWORD_BCRYPT_COST must be between %d and %d", Prefix, bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.KeyBits < 1024 {
		errs = append(errs, fmt.Errorf("%sKEY_BITS must be at least 1024", Prefix))
	}
	if strings.TrimSpace(c.KeysDir) == "" {
		errs = append(errs, fmt.Errorf("%sKEYS_DIR is required", Prefix))
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("%sRATE_LIMIT_PER_MINUTE and %sRATE_LIMIT_BURST must be positive", Prefix, Prefix))
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("%sHTTP_MAX_BODY_BYTES must be positive", Prefix))
	}
	return errors.Join(errs...)
}

// TrustedProxies parses HTTP.TrustedProxies. Bare addresses become
// single-host prefixes.
func (c Config) TrustedProxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.HTTP.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("%sHTTP_TRUSTED_PROXIES: %w", Prefix, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%sHTTP_TRUSTED_PROXIES: %w", Prefix, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// TokenSettings returns the issuer and validator parameters.
func (c Config) TokenSettings() token.Settings {
	return token.Settings{
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		ExpiryMinutes: c.JWT.ExpiryMinutes,
	}
}

// HasherOptions returns the password hasher options for the configured algorithm.
func (c Config) HasherOptions() []password.Option {
	return []password.Option{
		password.WithAlgorithm(password.Algorithm(c.Password.Algorithm)),
		password.WithBcryptCost(c.Password.BcryptCost),
	}
}
