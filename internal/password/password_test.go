package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

var fastArgon = Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newFastHasher(t *testing.T, algo Algorithm) *Hasher {
	t.Helper()
	h, err := NewHasher(WithAlgorithm(algo), WithBcryptCost(bcrypt.MinCost), WithArgon2Params(fastArgon))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	for _, algo := range []Algorithm{Bcrypt, Argon2id} {
		t.Run(string(algo), func(t *testing.T) {
			h := newFastHasher(t, algo)
			digest, err := h.Hash("secret1")
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if strings.Contains(digest, "secret1") {
				t.Fatalf("digest leaks plaintext: %s", digest)
			}
			if !h.Verify("secret1", digest) {
				t.Fatalf("expected match")
			}
			if h.Verify("secret2", digest) {
				t.Fatalf("expected mismatch")
			}
		})
	}
}

func TestHashIsSalted(t *testing.T) {
	h := newFastHasher(t, Argon2id)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatalf("expected distinct digests for repeated hashing")
	}
}

func TestVerifyAcrossAlgorithms(t *testing.T) {
	legacy := newFastHasher(t, Bcrypt)
	digest, err := legacy.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	current := newFastHasher(t, Argon2id)
	if !current.Verify("secret1", digest) {
		t.Fatalf("argon2id hasher must still verify bcrypt digests")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := newFastHasher(t, Argon2id)
	for _, digest := range []string{
		"",
		"plaintext",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	} {
		if h.Verify("secret", digest) {
			t.Fatalf("expected %q to be rejected", digest)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	if _, err := NewHasher(WithAlgorithm("md5")); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
	if _, err := NewHasher(WithBcryptCost(99)); err == nil {
		t.Fatalf("expected bcrypt cost error")
	}
	h := newFastHasher(t, Bcrypt)
	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestHashRejectsOverlongPasswords(t *testing.T) {
	for _, algo := range []Algorithm{Bcrypt, Argon2id} {
		h := newFastHasher(t, algo)
		if _, err := h.Hash(strings.Repeat("a", MaxBytes)); err != nil {
			t.Fatalf("%s: %d bytes must be accepted: %v", algo, MaxBytes, err)
		}
		if _, err := h.Hash(strings.Repeat("a", MaxBytes+8)); !errors.Is(err, ErrPasswordTooLong) {
			t.Fatalf("%s: expected ErrPasswordTooLong, got %v", algo, err)
		}
		// multi-byte runes count by encoded length
		if _, err := h.Hash(strings.Repeat("ж", 40)); !errors.Is(err, ErrPasswordTooLong) {
			t.Fatalf("%s: expected ErrPasswordTooLong for 80 encoded bytes, got %v", algo, err)
		}
	}
}
