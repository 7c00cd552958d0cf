package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-ota/internal/cache"
	"wisefido-ota/internal/domain"
	"wisefido-ota/internal/repository"
	"wisefido-ota/internal/token"

	"go.uber.org/zap"
)

// AccessTokenService 访问令牌服务接口
type AccessTokenService interface {
	// Generate 为已激活设备签发新令牌（撤销旧令牌、签名、入库、write-through缓存）。
	// 设备不存在返回 domain.ErrNotFound，设备非 active 返回 domain.ErrInvalidState
	Generate(ctx context.Context, deviceID string, ttl time.Duration) (*domain.AccessToken, error)

	// Validate 三层校验：签名 → 撤销集合 → 行状态。无效返回 (nil, nil)；
	// 过期命中触发惰性撤销
	Validate(ctx context.Context, tokenString string) (*domain.AccessToken, error)

	// Revoke 撤销单个令牌：先写撤销集合缓存，再落库，最后清设备令牌指针
	Revoke(ctx context.Context, tokenID string) error

	// RevokeAll 批量撤销设备所有未撤销令牌
	RevokeAll(ctx context.Context, deviceID string) error

	// SweepExpired 批量撤销已过期但未撤销的令牌，返回处理数量
	SweepExpired(ctx context.Context) (int, error)

	// GetValidForDevice 设备当前有效令牌（未撤销、未过期、过期时间最晚），无则 (nil, nil)
	GetValidForDevice(ctx context.Context, deviceID string) (*domain.AccessToken, error)

	// GetOrCreate 返回设备现有有效令牌，没有则生成；同一设备并发调用不会产生两个有效令牌
	GetOrCreate(ctx context.Context, deviceID string, ttl time.Duration) (string, error)
}

type accessTokenService struct {
	tokensRepo  repository.AccessTokensRepository
	devicesRepo repository.DevicesRepository
	cacheMgr    *cache.CacheManager
	signer      *token.Signer
	maxTokenTTL time.Duration // 撤销集合缓存TTL的上界（系统最大可签发令牌寿命）
	locks       *deviceLocks
	logger      *zap.Logger
}

// NewAccessTokenService 创建 AccessTokenService 实例
func NewAccessTokenService(
	tokensRepo repository.AccessTokensRepository,
	devicesRepo repository.DevicesRepository,
	cacheMgr *cache.CacheManager,
	signer *token.Signer,
	maxTokenTTL time.Duration,
	logger *zap.Logger,
) AccessTokenService {
	return &accessTokenService{
		tokensRepo:  tokensRepo,
		devicesRepo: devicesRepo,
		cacheMgr:    cacheMgr,
		signer:      signer,
		maxTokenTTL: maxTokenTTL,
		locks:       newDeviceLocks(),
		logger:      logger,
	}
}

func (s *accessTokenService) Generate(ctx context.Context, deviceID string, ttl time.Duration) (*domain.AccessToken, error) {
	device, err := s.devicesRepo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status != domain.DeviceStatusActive {
		return nil, fmt.Errorf("device %s is not active: %w", deviceID, domain.ErrInvalidState)
	}

	unlock := s.locks.lock(deviceID)
	defer unlock()

	return s.generateLocked(ctx, device, ttl)
}

// generateLocked 持有设备锁时的签发路径（Generate/GetOrCreate 共用）
func (s *accessTokenService) generateLocked(ctx context.Context, device *domain.Device, ttl time.Duration) (*domain.AccessToken, error) {
	expireTime := time.Now().Add(ttl)
	signed, err := s.signer.Sign(device.DeviceID, device.MACAddress, ttl)
	if err != nil {
		return nil, err
	}

	accessToken := &domain.AccessToken{
		DeviceID:   device.DeviceID,
		Token:      signed,
		IsRevoked:  false,
		ExpireTime: expireTime,
	}
	revoked, err := s.tokensRepo.IssueToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	// 被顶掉的旧令牌进撤销集合
	if err := s.cacheMgr.AddRevokedTokens(ctx, s.maxTokenTTL, revoked...); err != nil {
		s.logger.Warn("Failed to cache superseded tokens as revoked",
			zap.String("device_id", device.DeviceID),
			zap.Error(err),
		)
	}

	// write-through：设备当前令牌指针
	if err := s.cacheMgr.SetDeviceToken(ctx, device.DeviceID, signed, expireTime); err != nil {
		s.logger.Warn("Failed to cache device token pointer",
			zap.String("device_id", device.DeviceID),
			zap.Error(err),
		)
	}

	s.logger.Info("Access token issued",
		zap.String("device_id", device.DeviceID),
		zap.String("token_id", accessToken.TokenID),
		zap.Int("superseded", len(revoked)),
		zap.Time("expire_time", expireTime),
	)
	return accessToken, nil
}

func (s *accessTokenService) Validate(ctx context.Context, tokenString string) (*domain.AccessToken, error) {
	if tokenString == "" {
		return nil, nil
	}

	// 1. 签名与内嵌过期时间（fail fast）
	if _, err := s.signer.Verify(tokenString); err != nil {
		if errors.Is(err, domain.ErrExpired) || errors.Is(err, domain.ErrSignatureInvalid) {
			s.logger.Debug("Token rejected by signer", zap.Error(err))
			return nil, nil
		}
		return nil, err
	}

	// 2. 撤销集合（快速否定路径；签名有效不代表服务端未撤销）
	revoked, err := s.cacheMgr.IsTokenRevoked(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, nil
	}

	// 3. 行状态
	record, err := s.tokensRepo.GetToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if record == nil || record.IsRevoked {
		return nil, nil
	}

	if record.IsExpired(time.Now()) {
		// 惰性过期：当场撤销
		if err := s.Revoke(ctx, record.TokenID); err != nil {
			s.logger.Warn("Failed to lazily revoke expired token",
				zap.String("token_id", record.TokenID),
				zap.Error(err),
			)
		}
		return nil, nil
	}

	return record, nil
}

func (s *accessTokenService) Revoke(ctx context.Context, tokenID string) error {
	record, err := s.tokensRepo.GetTokenByID(ctx, tokenID)
	if err != nil {
		return err
	}

	// 撤销集合先行：读方不能在store已撤销后还从缓存看到"未撤销"
	if err := s.cacheMgr.AddRevokedTokens(ctx, s.maxTokenTTL, record.Token); err != nil {
		return err
	}
	if err := s.tokensRepo.RevokeToken(ctx, tokenID); err != nil {
		return err
	}
	if err := s.cacheMgr.DeleteDeviceToken(ctx, record.DeviceID); err != nil {
		s.logger.Warn("Failed to evict device token pointer",
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
	}

	s.logger.Info("Access token revoked",
		zap.String("token_id", tokenID),
		zap.String("device_id", record.DeviceID),
	)
	return nil
}

func (s *accessTokenService) RevokeAll(ctx context.Context, deviceID string) error {
	revoked, err := s.tokensRepo.RevokeAllByDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if len(revoked) == 0 {
		return nil
	}

	if err := s.cacheMgr.AddRevokedTokens(ctx, s.maxTokenTTL, revoked...); err != nil {
		return err
	}
	if err := s.cacheMgr.DeleteDeviceToken(ctx, deviceID); err != nil {
		s.logger.Warn("Failed to evict device token pointer",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	s.logger.Info("All device tokens revoked",
		zap.String("device_id", deviceID),
		zap.Int("count", len(revoked)),
	)
	return nil
}

func (s *accessTokenService) SweepExpired(ctx context.Context) (int, error) {
	tokens, err := s.tokensRepo.ListExpiredActiveTokens(ctx, time.Now(), 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range tokens {
		if err := s.Revoke(ctx, t.TokenID); err != nil {
			s.logger.Warn("Failed to revoke expired token during sweep",
				zap.String("token_id", t.TokenID),
				zap.Error(err),
			)
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info("Expired access tokens swept", zap.Int("count", count))
	}
	return count, nil
}

func (s *accessTokenService) GetValidForDevice(ctx context.Context, deviceID string) (*domain.AccessToken, error) {
	return s.tokensRepo.GetValidTokenByDevice(ctx, deviceID, time.Now())
}

func (s *accessTokenService) GetOrCreate(ctx context.Context, deviceID string, ttl time.Duration) (string, error) {
	unlock := s.locks.lock(deviceID)
	defer unlock()

	existing, err := s.GetValidForDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.Token, nil
	}

	device, err := s.devicesRepo.GetDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if device.Status != domain.DeviceStatusActive {
		return "", fmt.Errorf("device %s is not active: %w", deviceID, domain.ErrInvalidState)
	}

	issued, err := s.generateLocked(ctx, device, ttl)
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}
