package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	DefaultDir      = "keys"
	PrivateKeyFile  = "private.key"
	PublicKeyFile   = "public.key"
	DefaultKeyBits  = 2048
	KeyID           = "RSA-1"
	privateFileMode = 0o600
	publicFileMode  = 0o644
)

var (
	ErrKeyNotFound = errors.New("keys: key file not found")
	ErrKeyCorrupt  = errors.New("keys: key file corrupt")
)

// Manager owns the RSA keypair persisted as raw DER files under one
// directory. EnsureKeysExist must run once, before concurrent use; the
// loaders are read-only and never generate.
type Manager struct {
	dir        string
	bits       int
	onGenerate func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeyBits overrides the modulus size. Intended for tests.
func WithKeyBits(bits int) Option {
	return func(m *Manager) {
		if bits >= 1024 {
			m.bits = bits
		}
	}
}

// WithGenerateHook registers a callback invoked after each generation.
func WithGenerateHook(fn func()) Option {
	return func(m *Manager) { m.onGenerate = fn }
}

// NewManager returns a manager rooted at dir, or DefaultDir when empty.
// Relative directories resolve against the process working directory.
func NewManager(dir string, opts ...Option) *Manager {
	if dir == "" {
		dir = DefaultDir
	}
	m := &Manager{dir: dir, bits: DefaultKeyBits}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) privatePath() string { return filepath.Join(m.dir, PrivateKeyFile) }
func (m *Manager) publicPath() string  { return filepath.Join(m.dir, PublicKeyFile) }

// EnsureKeysExist generates and persists a fresh pair when either file is
// missing, or when the stored halves are unreadable or do not match. Both
// files are always replaced together. It reports whether it generated.
func (m *Manager) EnsureKeysExist() (bool, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return false, fmt.Errorf("keys: create dir: %w", err)
	}
	if m.pairUsable() {
		return false, nil
	}
	if err := m.generate(); err != nil {
		return false, err
	}
	if m.onGenerate != nil {
		m.onGenerate()
	}
	return true, nil
}

func (m *Manager) pairUsable() bool {
	priv, err := m.LoadPrivateKey()
	if err != nil {
		return false
	}
	pub, err := m.LoadPublicKey()
	if err != nil {
		return false
	}
	return priv.PublicKey.Equal(pub)
}

func (m *Manager) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, m.bits)
	if err != nil {
		return fmt.Errorf("keys: generate: %w", err)
	}
	if err := writeAtomic(m.privatePath(), x509.MarshalPKCS1PrivateKey(key), privateFileMode); err != nil {
		return err
	}
	return writeAtomic(m.publicPath(), x509.MarshalPKCS1PublicKey(&key.PublicKey), publicFileMode)
}

// LoadPrivateKey reads and parses the signing key.
func (m *Manager) LoadPrivateKey() (*rsa.PrivateKey, error) {
	raw, err := readKey(m.privatePath())
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyCorrupt, PrivateKeyFile, err)
	}
	return key, nil
}

// LoadPublicKey reads and parses the verification key.
func (m *Manager) LoadPublicKey() (*rsa.PublicKey, error) {
	raw, err := readKey(m.publicPath())
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyCorrupt, PublicKeyFile, err)
	}
	return key, nil
}

// DeleteKeys removes both key files. Missing files are ignored.
func (m *Manager) DeleteKeys() error {
	for _, p := range []string{m.privatePath(), m.publicPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("keys: delete %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// Rotate replaces the pair unconditionally.
func (m *Manager) Rotate() error {
	if err := m.DeleteKeys(); err != nil {
		return err
	}
	_, err := m.EnsureKeysExist()
	return err
}

func readKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("keys: read %s: %w", filepath.Base(path), err)
	}
	return raw, nil
}

// writeAtomic writes through a temp file in the same directory and renames
// it into place so readers never observe a partial key.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("keys: temp file: %w", err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("keys: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("keys: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("keys: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keys: close: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("keys: rename: %w", err)
	}
	return nil
}
