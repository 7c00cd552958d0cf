package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/google/uuid"
)

// PostgresAccessTokensRepository 访问令牌Repository实现
type PostgresAccessTokensRepository struct {
	db *sql.DB
}

// NewPostgresAccessTokensRepository 创建访问令牌Repository
func NewPostgresAccessTokensRepository(db *sql.DB) *PostgresAccessTokensRepository {
	return &PostgresAccessTokensRepository{db: db}
}

var _ AccessTokensRepository = (*PostgresAccessTokensRepository)(nil)

const accessTokenColumns = `
	token_id::text,
	device_id::text,
	token,
	is_revoked,
	expire_time,
	created_at
`

func scanAccessToken(scan func(dest ...any) error) (*domain.AccessToken, error) {
	var t domain.AccessToken
	err := scan(&t.TokenID, &t.DeviceID, &t.Token, &t.IsRevoked, &t.ExpireTime, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetToken 按令牌串查找，不存在返回 (nil, nil)
func (r *PostgresAccessTokensRepository) GetToken(ctx context.Context, token string) (*domain.AccessToken, error) {
	if token == "" {
		return nil, nil
	}

	query := `SELECT ` + accessTokenColumns + ` FROM ota_access_tokens WHERE token = $1`
	t, err := scanAccessToken(r.db.QueryRowContext(ctx, query, token).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return t, nil
}

// GetTokenByID 按主键查找，不存在返回 domain.ErrNotFound
func (r *PostgresAccessTokensRepository) GetTokenByID(ctx context.Context, tokenID string) (*domain.AccessToken, error) {
	query := `SELECT ` + accessTokenColumns + ` FROM ota_access_tokens WHERE token_id = $1::uuid`
	t, err := scanAccessToken(r.db.QueryRowContext(ctx, query, tokenID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("access token %s: %w", tokenID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access token by id: %w", err)
	}
	return t, nil
}

// GetValidTokenByDevice 该设备未撤销且未过期、过期时间最晚的令牌，无则 (nil, nil)
func (r *PostgresAccessTokensRepository) GetValidTokenByDevice(ctx context.Context, deviceID string, now time.Time) (*domain.AccessToken, error) {
	query := `
		SELECT ` + accessTokenColumns + `
		FROM ota_access_tokens
		WHERE device_id = $1::uuid AND is_revoked = FALSE AND expire_time > $2
		ORDER BY expire_time DESC
		LIMIT 1
	`
	t, err := scanAccessToken(r.db.QueryRowContext(ctx, query, deviceID, now).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get valid token by device: %w", err)
	}
	return t, nil
}

// IssueToken 单事务内：撤销该设备所有未撤销令牌、插入新令牌
func (r *PostgresAccessTokensRepository) IssueToken(ctx context.Context, token *domain.AccessToken) ([]string, error) {
	if token.TokenID == "" {
		token.TokenID = uuid.New().String()
	}
	token.CreatedAt = time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE ota_access_tokens
		SET is_revoked = TRUE
		WHERE device_id = $1::uuid AND is_revoked = FALSE
		RETURNING token
	`, token.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke existing tokens: %w", err)
	}
	var revoked []string
	for rows.Next() {
		var tk string
		if err := rows.Scan(&tk); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan revoked token: %w", err)
		}
		revoked = append(revoked, tk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revoked tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ota_access_tokens (token_id, device_id, token, is_revoked, expire_time, created_at)
		VALUES ($1::uuid, $2::uuid, $3, FALSE, $4, $5)
	`, token.TokenID, token.DeviceID, token.Token, token.ExpireTime, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("access token for device %s: %w", token.DeviceID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert access token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit issue token: %w", err)
	}
	return revoked, nil
}

// RevokeToken 将令牌标记为已撤销（已撤销时幂等，不报错）
func (r *PostgresAccessTokensRepository) RevokeToken(ctx context.Context, tokenID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ota_access_tokens SET is_revoked = TRUE WHERE token_id = $1::uuid AND is_revoked = FALSE
	`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeAllByDevice 批量撤销该设备所有未撤销令牌
func (r *PostgresAccessTokensRepository) RevokeAllByDevice(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE ota_access_tokens
		SET is_revoked = TRUE
		WHERE device_id = $1::uuid AND is_revoked = FALSE
		RETURNING token
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke device tokens: %w", err)
	}
	defer rows.Close()

	var revoked []string
	for rows.Next() {
		var tk string
		if err := rows.Scan(&tk); err != nil {
			return nil, fmt.Errorf("failed to scan revoked token: %w", err)
		}
		revoked = append(revoked, tk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate revoked tokens: %w", err)
	}
	return revoked, nil
}

// ListExpiredActiveTokens 已过权威过期时间但尚未撤销的令牌
func (r *PostgresAccessTokensRepository) ListExpiredActiveTokens(ctx context.Context, now time.Time, limit int) ([]*domain.AccessToken, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + accessTokenColumns + `
		FROM ota_access_tokens
		WHERE is_revoked = FALSE AND expire_time < $1
		ORDER BY expire_time ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access tokens: %w", err)
	}
	return tokens, nil
}

// ListTokensByDevice 查询设备全部令牌（管理接口，含历史）
func (r *PostgresAccessTokensRepository) ListTokensByDevice(ctx context.Context, deviceID string) ([]*domain.AccessToken, error) {
	query := `
		SELECT ` + accessTokenColumns + `
		FROM ota_access_tokens
		WHERE device_id = $1::uuid
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access tokens: %w", err)
	}
	return tokens, nil
}
