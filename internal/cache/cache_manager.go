package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// GraceMargin 缓存TTL相对权威过期时间的宽限（缓存永远晚于权威记录过期）
const GraceMargin = 60 * time.Second

// CacheManager 凭证缓存管理器
// 缓存只是加速层，不是事实来源；TTL 总是比权威过期时间多出 GraceMargin
type CacheManager struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(redisClient *redis.Client, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		redisClient: redisClient,
		logger:      logger,
	}
}

// SaveActivationCode 写入激活码缓存（write-through）
// TTL = 剩余有效期 + 宽限；已过期的记录不写入
func (m *CacheManager) SaveActivationCode(ctx context.Context, code *domain.ActivationCode) error {
	ttl := time.Until(code.ExpireTime) + GraceMargin
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal activation code: %w", err)
	}
	if err := m.redisClient.Set(ctx, activationCodeKey(code.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache activation code: %w", err)
	}
	return nil
}

// GetActivationCode 读取激活码缓存，未命中返回 ErrCacheMiss
func (m *CacheManager) GetActivationCode(ctx context.Context, code string) (*domain.ActivationCode, error) {
	data, err := m.redisClient.Get(ctx, activationCodeKey(code)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cached activation code: %w", err)
	}

	var c domain.ActivationCode
	if err := json.Unmarshal(data, &c); err != nil {
		// 脏数据按未命中处理，由store回填
		m.logger.Warn("corrupt activation code cache entry, evicting",
			zap.String("code", code),
			zap.Error(err),
		)
		_ = m.redisClient.Del(ctx, activationCodeKey(code)).Err()
		return nil, ErrCacheMiss
	}
	return &c, nil
}

// DeleteActivationCode 删除激活码缓存（码变为 used/expired 时调用）
func (m *CacheManager) DeleteActivationCode(ctx context.Context, code string) error {
	return m.redisClient.Del(ctx, activationCodeKey(code)).Err()
}

// SetDeviceToken 写入设备当前令牌指针
func (m *CacheManager) SetDeviceToken(ctx context.Context, deviceID, token string, expireTime time.Time) error {
	ttl := time.Until(expireTime) + GraceMargin
	if ttl <= 0 {
		return nil
	}
	if err := m.redisClient.Set(ctx, deviceTokenKey(deviceID), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache device token: %w", err)
	}
	return nil
}

// GetDeviceToken 读取设备当前令牌指针，未命中返回 ErrCacheMiss
func (m *CacheManager) GetDeviceToken(ctx context.Context, deviceID string) (string, error) {
	token, err := m.redisClient.Get(ctx, deviceTokenKey(deviceID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get cached device token: %w", err)
	}
	return token, nil
}

// DeleteDeviceToken 删除设备当前令牌指针
func (m *CacheManager) DeleteDeviceToken(ctx context.Context, deviceID string) error {
	return m.redisClient.Del(ctx, deviceTokenKey(deviceID)).Err()
}

// AddRevokedTokens 将令牌加入撤销集合
// 集合TTL刷新为系统最大可签发令牌寿命+宽限，保证负缓存不会早于令牌本身失效
func (m *CacheManager) AddRevokedTokens(ctx context.Context, maxTokenTTL time.Duration, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(tokens))
	for _, t := range tokens {
		members = append(members, t)
	}
	if err := m.redisClient.SAdd(ctx, revokedTokensKey, members...).Err(); err != nil {
		return fmt.Errorf("failed to add revoked tokens: %w", err)
	}
	if err := m.redisClient.Expire(ctx, revokedTokensKey, maxTokenTTL+GraceMargin).Err(); err != nil {
		return fmt.Errorf("failed to refresh revoked set ttl: %w", err)
	}
	return nil
}

// IsTokenRevoked 令牌是否在撤销集合内（快速否定路径）
func (m *CacheManager) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	revoked, err := m.redisClient.SIsMember(ctx, revokedTokensKey, token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked set: %w", err)
	}
	return revoked, nil
}
