package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/backoffice/internal/domain"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

const tokenIssuer = "backoffice"

// Directory resolves whether a subject may still authenticate. Unknown
// subjects are reported with pgx.ErrNoRows.
type Directory interface {
	IsSubjectActive(ctx context.Context, subjectID int64) (bool, error)
}

// Rejection names why a credential was not accepted.
type Rejection string

const (
	RejectMalformed            Rejection = "malformed"
	RejectBadSignature         Rejection = "bad_signature"
	RejectExpired              Rejection = "expired"
	RejectInvalidClaims        Rejection = "invalid_claims"
	RejectSubjectInactive      Rejection = "subject_inactive"
	RejectSubjectNotFound      Rejection = "subject_not_found"
	RejectDirectoryUnavailable Rejection = "directory_unavailable"
)

// ValidationError is returned for every rejected credential. It matches
// errorutil.ErrValidation under errors.Is.
type ValidationError struct {
	Reason Rejection
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential rejected (%s)", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == apperrors.ErrValidation }

// RejectionOf extracts the rejection reason from err, if any.
func RejectionOf(err error) (Rejection, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return "", false
}

func reject(reason Rejection, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// Claims describes the credential payload.
type Claims struct {
	domain.Identity
	jwt.RegisteredClaims
}

// TokenService issues RS256 credentials and validates them in two phases:
// signature verification, then a liveness lookup in the user directory.
type TokenService struct {
	signingKey *rsa.PrivateKey
	directory  Directory
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenService builds a service. A zero ttl issues credentials without
// an embedded expiry.
func NewTokenService(signingKey *rsa.PrivateKey, directory Directory, ttl time.Duration) *TokenService {
	return &TokenService{signingKey: signingKey, directory: directory, ttl: ttl, now: time.Now}
}

// Issue signs a credential for the identity.
func (s *TokenService) Issue(identity domain.Identity) (string, error) {
	if s.signingKey == nil {
		return "", fmt.Errorf("%w: no signing key configured", apperrors.ErrConfiguration)
	}

	now := s.now()
	claims := &Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Validate accepts a credential only if its signature is valid and its
// subject is still active. Directory failures reject the credential.
func (s *TokenService) Validate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if err := s.CheckLiveness(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Verify performs the cryptographic phase only. It does no I/O.
func (s *TokenService) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, reject(RejectMalformed, errors.New("empty credential"))
	}
	if s.signingKey == nil {
		return nil, fmt.Errorf("%w: no verification key configured", apperrors.ErrConfiguration)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return &s.signingKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, reject(RejectMalformed, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, reject(RejectBadSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, reject(RejectExpired, err)
		default:
			return nil, reject(RejectInvalidClaims, err)
		}
	}
	if !parsed.Valid || claims.SubjectID <= 0 || claims.CompanyID <= 0 {
		return nil, reject(RejectInvalidClaims, errors.New("missing subject or company"))
	}
	return claims, nil
}

// CheckLiveness consults the user directory for the credential subject.
func (s *TokenService) CheckLiveness(ctx context.Context, claims *Claims) error {
	if s.directory == nil {
		return reject(RejectDirectoryUnavailable, errors.New("no user directory configured"))
	}
	active, err := s.directory.IsSubjectActive(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return reject(RejectSubjectNotFound, nil)
		}
		return reject(RejectDirectoryUnavailable, err)
	}
	if !active {
		return reject(RejectSubjectInactive, nil)
	}
	return nil
}
