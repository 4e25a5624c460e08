// Package security holds the field-level encryption, masking and detached
// signature verification used by the payment flows.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// EncryptedField is a text-safe ciphertext blob: base64(nonce || ciphertext || tag).
type EncryptedField string

// NoValue is the encrypted form of an absent plaintext.
const NoValue EncryptedField = ""

// IsEmpty reports whether the field carries no value.
func (f EncryptedField) IsEmpty() bool { return f == NoValue }

// Protector encrypts and decrypts sensitive field values with AES-256-GCM.
// It is safe for concurrent use.
type Protector struct {
	aead   cipher.AEAD
	random io.Reader
}

// NewProtector builds a Protector from a 32-byte data key.
func NewProtector(dataKey []byte) (*Protector, error) {
	if len(dataKey) != 32 {
		return nil, fmt.Errorf("%w: data key must be 32 bytes", apperrors.ErrConfiguration)
	}
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	return &Protector{aead: gcm, random: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce. Empty plaintext yields NoValue.
func (p *Protector) Encrypt(plaintext string) (EncryptedField, error) {
	if plaintext == "" {
		return NoValue, nil
	}

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(p.random, nonce); err != nil {
		return NoValue, fmt.Errorf("rand nonce: %w", err)
	}

	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedField(base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt returns the original plaintext. Corrupt, truncated, tampered or
// foreign-key ciphertext yields an ErrDecryption error and an empty string.
func (p *Protector) Decrypt(field EncryptedField) (string, error) {
	if field.IsEmpty() {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(string(field))
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", apperrors.ErrDecryption)
	}

	nonceSize := p.aead.NonceSize()
	if len(data) < nonceSize+p.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", apperrors.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", apperrors.ErrDecryption)
	}
	return string(plaintext), nil
}
