package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlearn/openlearn-api/internal/models"
	appErrors "github.com/openlearn/openlearn-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	refreshTokens    map[string]*models.RefreshToken
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil && m.userByID.ID == id {
		return m.userByID, nil
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
			token.RevokedAt = &now
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newTestAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "openlearn-api-test",
	})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "u1", Email: "user@example.com", PasswordHash: string(password), Active: true, Role: models.RoleStudent,
	}}
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "u1", res.User.ID)
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "u1", Email: "user@example.com", PasswordHash: string(password), Active: true,
	}}
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "u1", Email: "user@example.com", PasswordHash: string(password), Active: false,
	}}
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := &mockAuthRepo{
		userByEmail: &models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleStudent},
		refreshTokens: map[string]*models.RefreshToken{
			"old-token": {ID: "rt1", UserID: "u1", Token: "old-token", ExpiresAt: time.Now().UTC().Add(time.Hour)},
		},
	}
	svc := newTestAuthService(repo)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old-token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "old-token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["old-token"].Revoked)
}

func TestAuthServiceRefreshRejectsExpired(t *testing.T) {
	repo := &mockAuthRepo{
		refreshTokens: map[string]*models.RefreshToken{
			"stale": {ID: "rt1", UserID: "u1", Token: "stale", ExpiresAt: time.Now().UTC().Add(-time.Hour)},
		},
	}
	svc := newTestAuthService(repo)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogout(t *testing.T) {
	repo := &mockAuthRepo{
		refreshTokens: map[string]*models.RefreshToken{
			"tok": {ID: "rt1", UserID: "u1", Token: "tok", ExpiresAt: time.Now().UTC().Add(time.Hour)},
		},
	}
	svc := newTestAuthService(repo)

	require.NoError(t, svc.Logout(context.Background(), "tok", "u1"))
	assert.True(t, repo.refreshTokens["tok"].Revoked)

	err := svc.Logout(context.Background(), "tok", "someone-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{})

	_, err := svc.ValidateToken("not-a-jwt")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
