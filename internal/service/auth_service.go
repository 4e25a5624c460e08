package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/repository"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// AuthService coordinates login and logout.
type AuthService struct {
	users   repository.UserRepository
	tokens  *auth.TokenService
	auditor payment.Auditor
	logger  *zap.Logger
}

// AuthDependencies encapsulates requirements for the auth service.
type AuthDependencies struct {
	UserRepo repository.UserRepository
	Tokens   *auth.TokenService
	Auditor  payment.Auditor
	Logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:   deps.UserRepo,
		tokens:  deps.Tokens,
		auditor: deps.Auditor,
		logger:  logger,
	}
}

// LoginResult carries the authenticated user and its credential.
type LoginResult struct {
	User  *domain.User
	Token string
}

// Login authenticates a user by email and password, marks the user active
// and issues a credential.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperrors.NewValidationError("email and password are required", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		auth.BurnComparison(password)
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed", zap.Int64("user_id", user.ID))
		return nil, err
	}

	if err := s.users.SetActive(ctx, user.ID, true); err != nil {
		return nil, err
	}
	user.Active = true

	token, err := s.tokens.Issue(domain.IdentityOf(user))
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.Int64("user_id", user.ID), zap.Int64("company_id", user.CompanyID))
	return &LoginResult{User: user, Token: token}, nil
}

// Logout marks the caller inactive. Every credential the caller holds is
// rejected from then on, including ones issued before the logout.
func (s *AuthService) Logout(ctx context.Context, principal *auth.Principal) error {
	if principal == nil {
		return apperrors.NewUnauthorized("not authenticated")
	}
	if err := s.users.SetActive(ctx, principal.SubjectID, false); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.Record(domain.AuditEvent{
			ActorID:       principal.SubjectID,
			CompanyID:     principal.CompanyID,
			Action:        domain.AuditActionLogout,
			MaskedPayload: map[string]any{},
			Outcome:       domain.AuditOutcomeSuccess,
		})
	}
	s.logger.Info("user logged out", zap.Int64("user_id", principal.SubjectID))
	return nil
}
