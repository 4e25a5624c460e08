// Package keystore loads or creates the process key material: the symmetric
// data key used for field encryption and the RSA keypair used to sign
// credentials.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/config"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

const (
	// DataKeySize is the AES-256 key length in bytes.
	DataKeySize = 32
	// SigningKeyBits is the RSA modulus size for newly generated keypairs.
	SigningKeyBits = 2048

	dataKeyFile    = "data.key"
	privateKeyFile = "signing_key.pem"
	publicKeyFile  = "signing_pub.pem"
)

// Material is the immutable key material shared by every component.
type Material struct {
	DataKey    []byte
	SigningKey *rsa.PrivateKey
}

// PublicKey returns the verification half of the signing keypair.
func (m *Material) PublicKey() *rsa.PublicKey {
	return &m.SigningKey.PublicKey
}

// Store owns the key material for the lifetime of the process.
type Store struct {
	cfg    config.KeysConfig
	logger *zap.Logger

	once     sync.Once
	material *Material
	err      error

	// keyBits is overridable so tests can generate small keys quickly.
	keyBits int
}

// New builds a Store. No I/O happens until LoadOrGenerate is called.
func New(cfg config.KeysConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, logger: logger, keyBits: SigningKeyBits}
}

// LoadOrGenerate returns the key material, loading persisted keys or creating
// and persisting new ones on first use. Concurrent callers observe the same
// material; a malformed stored key yields an ErrConfiguration error every time.
func (s *Store) LoadOrGenerate() (*Material, error) {
	s.once.Do(func() {
		s.material, s.err = s.load()
		if s.err != nil {
			s.err = fmt.Errorf("%w: %v", apperrors.ErrConfiguration, s.err)
		}
	})
	return s.material, s.err
}

// Close wipes the data key from memory. The store must not be used afterwards.
func (s *Store) Close() {
	if s.material == nil {
		return
	}
	for i := range s.material.DataKey {
		s.material.DataKey[i] = 0
	}
}

func (s *Store) load() (*Material, error) {
	if s.cfg.Dir != "" {
		if err := os.MkdirAll(s.cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
	}

	dataKey, err := s.loadDataKey()
	if err != nil {
		return nil, err
	}
	signingKey, err := s.loadSigningKey()
	if err != nil {
		return nil, err
	}
	return &Material{DataKey: dataKey, SigningKey: signingKey}, nil
}

func (s *Store) loadDataKey() ([]byte, error) {
	if s.cfg.DataKey != "" {
		return decodeDataKey(s.cfg.DataKey)
	}

	path := filepath.Join(s.cfg.Dir, dataKeyFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		return decodeDataKey(string(raw))
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read data key: %w", err)
	}

	key := make([]byte, DataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	created, err := writeExclusive(path, []byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("persist data key: %w", err)
	}
	if !created {
		// Another process persisted a key between our read and write.
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read data key: %w", err)
		}
		return decodeDataKey(string(raw))
	}
	s.logger.Warn("generated new data key", zap.String("path", path))
	return key, nil
}

func (s *Store) loadSigningKey() (*rsa.PrivateKey, error) {
	path := s.cfg.SigningKeyPath
	if path == "" {
		path = filepath.Join(s.cfg.Dir, privateKeyFile)
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		key, err := ParsePrivateKeyPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("signing key %s: %w", path, err)
		}
		return key, s.ensurePublicKey(key)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	if s.cfg.SigningKeyPath != "" {
		return nil, fmt.Errorf("signing key %s does not exist", path)
	}

	key, err := rsa.GenerateKey(rand.Reader, s.keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode signing key: %w", err)
	}
	created, err := writeExclusive(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	if err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	if !created {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		if key, err = ParsePrivateKeyPEM(raw); err != nil {
			return nil, fmt.Errorf("signing key %s: %w", path, err)
		}
	} else {
		s.logger.Warn("generated new signing keypair", zap.String("path", path))
	}
	return key, s.ensurePublicKey(key)
}

// ensurePublicKey writes the PEM public key next to the keys directory so
// admin clients and verifiers can pick it up. A file holding another key is
// replaced, so it always matches the signing key in use.
func (s *Store) ensurePublicKey(key *rsa.PrivateKey) error {
	if s.cfg.Dir == "" {
		return nil
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	content := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	path := filepath.Join(s.cfg.Dir, publicKeyFile)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		created, err := writeExclusive(path, content)
		if err != nil || created {
			return err
		}
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	if existing, err := ParsePublicKeyPEM(raw); err == nil && existing.Equal(&key.PublicKey) {
		return nil
	}

	s.logger.Warn("public key file does not match signing key; replacing", zap.String("path", path))
	if err := writeReplace(path, content); err != nil {
		return fmt.Errorf("replace public key: %w", err)
	}
	return nil
}

// writeExclusive atomically creates path with content. It reports false when
// the file already exists; readers never observe a partially written file.
func writeExclusive(path string, content []byte) (bool, error) {
	tmpName, err := writeTemp(path, content)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// writeReplace atomically overwrites path with content.
func writeReplace(path string, content []byte) error {
	tmpName, err := writeTemp(path, content)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func writeTemp(path string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	if _, err := tmp.Write(content); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

func decodeDataKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("data key is not base64: %w", err)
	}
	if len(key) != DataKeySize {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", DataKeySize, len(key))
	}
	return key, nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 or PKCS#1 RSA private key.
func ParsePrivateKeyPEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return key, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// ParsePublicKeyPEM decodes a PKIX or PKCS#1 RSA public key.
func ParsePublicKeyPEM(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return key, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// LoadPublicKeyFile reads a PEM public key from disk.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", apperrors.ErrConfiguration, err)
	}
	key, err := ParsePublicKeyPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key %s: %v", apperrors.ErrConfiguration, path, err)
	}
	return key, nil
}
