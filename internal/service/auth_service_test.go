package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/domain"
)

func newAuthFixture(t *testing.T) (*AuthService, *fakeUsers, *auth.TokenService, *captureAuditor) {
	t.Helper()
	hash, err := auth.HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)

	users := newFakeUsers(&domain.User{
		ID:           1,
		CompanyID:    10,
		Email:        "admin@acme.test",
		PasswordHash: hash,
		IsAdmin:      true,
	})
	tokens := auth.NewTokenService(testKey(t), users, 0)
	auditor := &captureAuditor{}
	svc := NewAuthService(AuthDependencies{UserRepo: users, Tokens: tokens, Auditor: auditor})
	return svc, users, tokens, auditor
}

func TestLoginIssuesLiveCredential(t *testing.T) {
	svc, users, tokens, _ := newAuthFixture(t)

	result, err := svc.Login(context.Background(), "ADMIN@acme.test", "correct horse")
	require.NoError(t, err)
	assert.True(t, result.User.Active)
	assert.True(t, users.byID[1].Active)

	claims, err := tokens.Validate(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.SubjectID)
	assert.Equal(t, int64(10), claims.CompanyID)
	assert.True(t, claims.IsAdmin)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, users, _, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), "admin@acme.test", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@acme.test", "correct horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "", "")
	assert.Error(t, err)

	assert.False(t, users.byID[1].Active)
}

func TestLogoutRevokesOutstandingCredentials(t *testing.T) {
	svc, _, tokens, auditor := newAuthFixture(t)

	first, err := svc.Login(context.Background(), "admin@acme.test", "correct horse")
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), "admin@acme.test", "correct horse")
	require.NoError(t, err)

	claims, err := tokens.Validate(context.Background(), second.Token)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(context.Background(), &auth.Principal{Identity: claims.Identity, Credential: second.Token}))

	for _, token := range []string{first.Token, second.Token} {
		_, err := tokens.Validate(context.Background(), token)
		reason, ok := auth.RejectionOf(err)
		require.True(t, ok)
		assert.Equal(t, auth.RejectSubjectInactive, reason)
	}

	events := auditor.byAction(domain.AuditActionLogout)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].ActorID)
}
