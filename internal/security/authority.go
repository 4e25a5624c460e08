package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// pssVerifyOptions accepts signatures produced with any salt length,
// including the maximum salt length used by admin clients.
var pssVerifyOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}

// Authority verifies detached RSA-PSS/SHA-256 signatures that admins attach
// to payment-triggering requests.
type Authority struct {
	pub *rsa.PublicKey
}

// NewAuthority builds an Authority around the verification key.
func NewAuthority(pub *rsa.PublicKey) (*Authority, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: no authorization verification key", apperrors.ErrConfiguration)
	}
	return &Authority{pub: pub}, nil
}

// VerifyAuthorization checks signature over message. Any failure wraps ErrValidation.
func (a *Authority) VerifyAuthorization(message, signature []byte) error {
	if len(signature) != a.pub.Size() {
		return fmt.Errorf("%w: signature has wrong length", apperrors.ErrValidation)
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPSS(a.pub, crypto.SHA256, digest[:], signature, pssVerifyOptions); err != nil {
		return fmt.Errorf("%w: bad authorization signature", apperrors.ErrValidation)
	}
	return nil
}

// VerifyAuthorizationHex is VerifyAuthorization for hex-encoded signatures as
// they arrive over HTTP. Non-hex input is a verification failure.
func (a *Authority) VerifyAuthorizationHex(message []byte, signatureHex string) error {
	signature, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", apperrors.ErrValidation)
	}
	return a.VerifyAuthorization(message, signature)
}

// SignAuthorization produces the signature an admin client attaches to a
// payment request. Salt length is the maximum the key allows.
func SignAuthorization(key *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
}
