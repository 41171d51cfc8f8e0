package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm selects the digest produced by Hash.
type Algorithm string

const (
	Bcrypt   Algorithm = "bcrypt"
	Argon2id Algorithm = "argon2id"
)

// MaxBytes is the longest password accepted by Hash. bcrypt ignores or
// rejects input beyond 72 bytes; the limit applies to every algorithm so a
// digest never depends on which one produced it.
const MaxBytes = 72

var (
	ErrEmptyPassword    = errors.New("password: empty password")
	ErrPasswordTooLong  = fmt.Errorf("password: longer than %d bytes", MaxBytes)
	ErrUnknownAlgorithm = errors.New("password: unknown algorithm")
)

const argon2Version = 19

// Argon2Params tunes argon2id hashing.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params matches the settings used for stored argon2id digests.
var DefaultArgon2Params = Argon2Params{
	MemoryKiB:   64 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher produces salted one-way digests and verifies plaintext against them.
// Verify understands every supported format regardless of the configured
// algorithm, so digests survive an algorithm change.
type Hasher struct {
	algo       Algorithm
	bcryptCost int
	argon      Argon2Params
}

// Option configures a Hasher.
type Option func(*Hasher) error

// WithAlgorithm chooses the algorithm used for new digests.
func WithAlgorithm(algo Algorithm) Option {
	return func(h *Hasher) error {
		switch algo {
		case "":
			return nil
		case Bcrypt, Argon2id:
			h.algo = algo
			return nil
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
		}
	}
}

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) Option {
	return func(h *Hasher) error {
		if cost == 0 {
			return nil
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("password: bcrypt cost %d out of range", cost)
		}
		h.bcryptCost = cost
		return nil
	}
}

// WithArgon2Params overrides argon2id tuning.
func WithArgon2Params(p Argon2Params) Option {
	return func(h *Hasher) error {
		if p.Iterations == 0 || p.MemoryKiB == 0 || p.Parallelism == 0 || p.SaltLength < 8 || p.KeyLength < 16 {
			return errors.New("password: invalid argon2 parameters")
		}
		h.argon = p
		return nil
	}
}

// NewHasher defaults to bcrypt at bcrypt.DefaultCost.
func NewHasher(opts ...Option) (*Hasher, error) {
	h := &Hasher{
		algo:       Bcrypt,
		bcryptCost: bcrypt.DefaultCost,
		argon:      DefaultArgon2Params,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Hash returns a self-describing digest with an embedded random salt.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	if len(plain) > MaxBytes {
		return "", ErrPasswordTooLong
	}
	switch h.algo {
	case Argon2id:
		return h.hashArgon2(plain)
	default:
		digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("password: bcrypt: %w", err)
		}
		return string(digest), nil
	}
}

// Verify reports whether plain matches digest. Unknown or malformed
// digests never match.
func (h *Hasher) Verify(plain, digest string) bool {
	switch {
	case digest == "":
		return false
	case strings.HasPrefix(digest, "$argon2id$"):
		return h.verifyArgon2(plain, digest)
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
	default:
		return false
	}
}

func (h *Hasher) hashArgon2(plain string) (string, error) {
	p := h.argon
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Hasher) verifyArgon2(plain, digest string) bool {
	p, salt, expected, err := decodeArgon2(digest)
	if err != nil {
		return false
	}
	// refuse digests far above our own cost to bound verification work
	if p.MemoryKiB > h.argon.MemoryKiB*4 || p.Iterations > h.argon.Iterations*4 {
		return false
	}
	key := argon2.IDKey([]byte(plain), salt, p.Iterations, p.MemoryKiB, p.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}

var errMalformedDigest = errors.New("password: malformed argon2id digest")

func decodeArgon2(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2Params{}, nil, nil, errMalformedDigest
	}
	return Argon2Params{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}, salt, key, nil
}
