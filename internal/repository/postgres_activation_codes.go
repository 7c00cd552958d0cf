package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/google/uuid"
)

// PostgresActivationCodesRepository 激活码Repository实现
type PostgresActivationCodesRepository struct {
	db *sql.DB
}

// NewPostgresActivationCodesRepository 创建激活码Repository
func NewPostgresActivationCodesRepository(db *sql.DB) *PostgresActivationCodesRepository {
	return &PostgresActivationCodesRepository{db: db}
}

var _ ActivationCodesRepository = (*PostgresActivationCodesRepository)(nil)

const activationCodeColumns = `
	code_id::text,
	code,
	device_id::text,
	status,
	expire_time,
	created_at
`

// GetCode 按激活码串查找，不存在返回 (nil, nil)
func (r *PostgresActivationCodesRepository) GetCode(ctx context.Context, code string) (*domain.ActivationCode, error) {
	if code == "" {
		return nil, nil
	}

	// 同一个码串可能有历史 used/expired 记录，取最新一条
	query := `SELECT ` + activationCodeColumns + ` FROM ota_activation_codes WHERE code = $1 ORDER BY created_at DESC LIMIT 1`
	var c domain.ActivationCode
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.CodeID, &c.Code, &c.DeviceID, &c.Status, &c.ExpireTime, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get activation code: %w", err)
	}
	return &c, nil
}

// GetValidCodeByDevice 该设备最新的未过期 valid 激活码，无则 (nil, nil)
func (r *PostgresActivationCodesRepository) GetValidCodeByDevice(ctx context.Context, deviceID string, now time.Time) (*domain.ActivationCode, error) {
	query := `
		SELECT ` + activationCodeColumns + `
		FROM ota_activation_codes
		WHERE device_id = $1::uuid AND status = $2 AND expire_time > $3
		ORDER BY expire_time DESC
		LIMIT 1
	`
	var c domain.ActivationCode
	err := r.db.QueryRowContext(ctx, query, deviceID, domain.ActivationStatusValid, now).Scan(
		&c.CodeID, &c.Code, &c.DeviceID, &c.Status, &c.ExpireTime, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get valid code by device: %w", err)
	}
	return &c, nil
}

// IssueCode 单事务内：失效该设备现有 valid 激活码、插入新码、设备置为 waiting
func (r *PostgresActivationCodesRepository) IssueCode(ctx context.Context, code *domain.ActivationCode) ([]string, error) {
	if code.CodeID == "" {
		code.CodeID = uuid.New().String()
	}
	if code.Status == "" {
		code.Status = domain.ActivationStatusValid
	}
	code.CreatedAt = time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// 1. 失效现有 valid 激活码，返回码串用于缓存清理
	rows, err := tx.QueryContext(ctx, `
		UPDATE ota_activation_codes
		SET status = $2
		WHERE device_id = $1::uuid AND status = $3
		RETURNING code
	`, code.DeviceID, domain.ActivationStatusExpired, domain.ActivationStatusValid)
	if err != nil {
		return nil, fmt.Errorf("failed to expire existing codes: %w", err)
	}
	var expiredCodes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired code: %w", err)
		}
		expiredCodes = append(expiredCodes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired codes: %w", err)
	}

	// 2. 插入新码（valid 码之间的部分唯一索引可能触发冲突，调用方换码重试）
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ota_activation_codes (code_id, code, device_id, status, expire_time, created_at)
		VALUES ($1::uuid, $2, $3::uuid, $4, $5, $6)
	`, code.CodeID, code.Code, code.DeviceID, code.Status, code.ExpireTime, code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("activation code %s: %w", code.Code, domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert activation code: %w", err)
	}

	// 3. 设备进入等待激活状态
	res, err := tx.ExecContext(ctx, `
		UPDATE ota_devices SET status = $2, updated_at = NOW() WHERE device_id = $1::uuid
	`, code.DeviceID, domain.DeviceStatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("failed to set device waiting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("device %s: %w", code.DeviceID, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit issue code: %w", err)
	}
	return expiredCodes, nil
}

// UpdateCodeStatus 更新激活码状态
func (r *PostgresActivationCodesRepository) UpdateCodeStatus(ctx context.Context, codeID string, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ota_activation_codes SET status = $2 WHERE code_id = $1::uuid
	`, codeID, status)
	if err != nil {
		return fmt.Errorf("failed to update code status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activation code %s: %w", codeID, domain.ErrNotFound)
	}
	return nil
}

// RedeemCode 单事务内：激活码 valid→used、设备→active、绑定 owner
func (r *PostgresActivationCodesRepository) RedeemCode(ctx context.Context, codeID, deviceID, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// 条件更新：并发兑换时只有一个调用方能把 valid 翻成 used
	res, err := tx.ExecContext(ctx, `
		UPDATE ota_activation_codes
		SET status = $2
		WHERE code_id = $1::uuid AND status = $3
	`, codeID, domain.ActivationStatusUsed, domain.ActivationStatusValid)
	if err != nil {
		return fmt.Errorf("failed to mark code used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activation code %s is not valid: %w", codeID, domain.ErrInvalidState)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ota_devices
		SET status = $2, owner_user_id = $3::uuid, updated_at = NOW()
		WHERE device_id = $1::uuid
	`, deviceID, domain.DeviceStatusActive, userID)
	if err != nil {
		return fmt.Errorf("failed to activate device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit redeem: %w", err)
	}
	return nil
}

// ListExpiredValidCodes 已过权威过期时间但状态仍为 valid 的激活码
func (r *PostgresActivationCodesRepository) ListExpiredValidCodes(ctx context.Context, now time.Time, limit int) ([]*domain.ActivationCode, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + activationCodeColumns + `
		FROM ota_activation_codes
		WHERE status = $1 AND expire_time < $2
		ORDER BY expire_time ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.ActivationStatusValid, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired codes: %w", err)
	}
	defer rows.Close()

	var codes []*domain.ActivationCode
	for rows.Next() {
		var c domain.ActivationCode
		if err := rows.Scan(&c.CodeID, &c.Code, &c.DeviceID, &c.Status, &c.ExpireTime, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activation code: %w", err)
		}
		codes = append(codes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activation codes: %w", err)
	}
	return codes, nil
}
