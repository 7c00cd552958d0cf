package repository

import (
	"context"
	"time"

	"wisefido-ota/internal/domain"
)

// DevicesRepository 设备存储接口
// 按 MAC/ClientID 的查找在记录不存在时返回 (nil, nil)，与OTA协议的
// "未注册即注册"分支对齐；按主键的 GetDevice 不存在时返回 domain.ErrNotFound
type DevicesRepository interface {
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	GetDeviceByMAC(ctx context.Context, macAddress string) (*domain.Device, error)
	GetDeviceByClientID(ctx context.Context, clientID string) (*domain.Device, error)

	// InsertDevice 插入新设备；mac_address/client_id 唯一冲突返回 domain.ErrConflict
	InsertDevice(ctx context.Context, device *domain.Device) error

	UpdateDeviceStatus(ctx context.Context, deviceID string, status string) error
	BindDeviceOwner(ctx context.Context, deviceID string, userID string) error

	ListDevices(ctx context.Context, page, size int) ([]*domain.Device, int, error)
}

// ActivationCodesRepository 激活码存储接口
type ActivationCodesRepository interface {
	// GetCode 按激活码串精确查找，不存在返回 (nil, nil)
	GetCode(ctx context.Context, code string) (*domain.ActivationCode, error)

	// GetValidCodeByDevice 该设备最新的未过期 valid 激活码，无则 (nil, nil)
	GetValidCodeByDevice(ctx context.Context, deviceID string, now time.Time) (*domain.ActivationCode, error)

	// IssueCode 单事务内：将该设备现有 valid 激活码标记 expired、插入新码、
	// 设备状态置为 waiting。返回被顶掉的激活码串（用于缓存清理）。
	// 新码与现有 valid 码冲突时返回 domain.ErrConflict（调用方换码重试）。
	IssueCode(ctx context.Context, code *domain.ActivationCode) (expiredCodes []string, err error)

	UpdateCodeStatus(ctx context.Context, codeID string, status string) error

	// RedeemCode 单事务内：激活码 valid→used、设备→active、绑定 owner。
	// 激活码已不是 valid 状态时返回 domain.ErrInvalidState，不产生任何变更。
	RedeemCode(ctx context.Context, codeID, deviceID, userID string) error

	// ListExpiredValidCodes 已过权威过期时间但状态仍为 valid 的激活码
	ListExpiredValidCodes(ctx context.Context, now time.Time, limit int) ([]*domain.ActivationCode, error)
}

// AccessTokensRepository 访问令牌存储接口
type AccessTokensRepository interface {
	// GetToken 按令牌串精确查找，不存在返回 (nil, nil)
	GetToken(ctx context.Context, token string) (*domain.AccessToken, error)

	// GetTokenByID 按主键查找，不存在返回 domain.ErrNotFound
	GetTokenByID(ctx context.Context, tokenID string) (*domain.AccessToken, error)

	// GetValidTokenByDevice 该设备未撤销且未过期、过期时间最晚的令牌，无则 (nil, nil)
	GetValidTokenByDevice(ctx context.Context, deviceID string, now time.Time) (*domain.AccessToken, error)

	// IssueToken 单事务内：撤销该设备所有未撤销令牌、插入新令牌。
	// 返回被撤销的令牌串（用于写入撤销集合缓存）。
	IssueToken(ctx context.Context, token *domain.AccessToken) (revokedTokens []string, err error)

	// RevokeToken 将令牌标记为已撤销（幂等）
	RevokeToken(ctx context.Context, tokenID string) error

	// RevokeAllByDevice 批量撤销该设备所有未撤销令牌，返回被撤销的令牌串
	RevokeAllByDevice(ctx context.Context, deviceID string) ([]string, error)

	// ListExpiredActiveTokens 已过权威过期时间但尚未撤销的令牌
	ListExpiredActiveTokens(ctx context.Context, now time.Time, limit int) ([]*domain.AccessToken, error)

	ListTokensByDevice(ctx context.Context, deviceID string) ([]*domain.AccessToken, error)
}
