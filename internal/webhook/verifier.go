// Package webhook authenticates payment-processor callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// SignatureHeader is the header carrying the processor's MAC.
const SignatureHeader = "FastPay-Signature"

const signaturePrefix = "sha256="

// Verifier checks HMAC-SHA256 signatures computed over raw request bodies.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the shared webhook secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret is empty", apperrors.ErrConfiguration)
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify authenticates rawBody against the signature header value, which is
// hex, optionally prefixed with "sha256=". It must run before the body is
// parsed. Failures wrap ErrIntegrity.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) error {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing signature", apperrors.ErrIntegrity)
	}
	sig = strings.TrimPrefix(sig, signaturePrefix)

	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return fmt.Errorf("%w: malformed signature", apperrors.ErrIntegrity)
	}

	if !hmac.Equal(got, v.mac(rawBody)) {
		return fmt.Errorf("%w: signature mismatch", apperrors.ErrIntegrity)
	}
	return nil
}

// Sign computes the header value for rawBody. The processor side and tests use it.
func (v *Verifier) Sign(rawBody []byte) string {
	return signaturePrefix + hex.EncodeToString(v.mac(rawBody))
}

func (v *Verifier) mac(rawBody []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write(rawBody)
	return m.Sum(nil)
}
