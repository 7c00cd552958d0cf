package repository

import (
	"context"
	"testing"
	"time"

	"wisefido-ota/internal/domain"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTokensRepo(t *testing.T) (*PostgresAccessTokensRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresAccessTokensRepository(db), mock
}

func TestIssueToken_RevokesExistingInOneTx(t *testing.T) {
	repo, mock := setupTokensRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE ota_access_tokens`).
		WithArgs(testDeviceID).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("old.jwt.one").AddRow("old.jwt.two"))
	mock.ExpectExec(`INSERT INTO ota_access_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	token := &domain.AccessToken{
		DeviceID:   testDeviceID,
		Token:      "new.jwt.token",
		ExpireTime: time.Now().Add(168 * time.Hour),
	}
	revoked, err := repo.IssueToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.jwt.one", "old.jwt.two"}, revoked)
	assert.NotEmpty(t, token.TokenID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetValidTokenByDevice_Absent(t *testing.T) {
	repo, mock := setupTokensRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM ota_access_tokens`).
		WithArgs(testDeviceID, now).
		WillReturnRows(sqlmock.NewRows([]string{"token_id", "device_id", "token", "is_revoked", "expire_time", "created_at"}))

	token, err := repo.GetValidTokenByDevice(context.Background(), testDeviceID, now)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAllByDevice_ReturnsRevokedTokens(t *testing.T) {
	repo, mock := setupTokensRepo(t)

	mock.ExpectQuery(`UPDATE ota_access_tokens`).
		WithArgs(testDeviceID).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("live.jwt.token"))

	revoked, err := repo.RevokeAllByDevice(context.Background(), testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live.jwt.token"}, revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeToken_IdempotentOnAlreadyRevoked(t *testing.T) {
	repo, mock := setupTokensRepo(t)
	tokenID := "70ce0000-1111-4222-8333-444455556666"

	mock.ExpectExec(`UPDATE ota_access_tokens SET is_revoked = TRUE`).
		WithArgs(tokenID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.RevokeToken(context.Background(), tokenID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
