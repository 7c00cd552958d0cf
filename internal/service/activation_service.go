package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"wisefido-ota/internal/cache"
	"wisefido-ota/internal/domain"
	"wisefido-ota/internal/mqtt"
	"wisefido-ota/internal/repository"

	"go.uber.org/zap"
)

// 激活码碰撞重试上限（6位数字键空间下碰撞概率极低，但检查不可省略）
const maxCodeAttempts = 5

// ActivationCodeService 激活码服务接口
type ActivationCodeService interface {
	// Generate 为设备签发新激活码：失效旧码、生成唯一6位数字码、write-through缓存、
	// 设备进入 waiting。设备不存在返回 domain.ErrNotFound
	Generate(ctx context.Context, deviceID string, ttl time.Duration) (*domain.ActivationCode, error)

	// Validate 校验激活码：缓存优先、store回填。码不存在/非valid/已过期返回 (nil, nil)；
	// 过期命中时顺带把记录标记为 expired（本次调用仍返回无效）
	Validate(ctx context.Context, code string) (*domain.ActivationCode, error)

	// Redeem 兑换激活码：码→used、设备→active、绑定owner，单事务完成。
	// 校验失败返回 (false, nil)，无任何副作用
	Redeem(ctx context.Context, code string, userID string) (bool, error)

	// SweepExpired 批量处理已过期但仍为 valid 的激活码，返回处理数量
	SweepExpired(ctx context.Context) (int, error)

	// CurrentValidFor 设备当前未过期的 valid 激活码，无则 (nil, nil)
	CurrentValidFor(ctx context.Context, deviceID string) (*domain.ActivationCode, error)
}

type activationCodeService struct {
	codesRepo   repository.ActivationCodesRepository
	devicesRepo repository.DevicesRepository
	cacheMgr    *cache.CacheManager
	publisher   mqtt.EventPublisher
	locks       *deviceLocks
	logger      *zap.Logger
}

// NewActivationCodeService 创建 ActivationCodeService 实例
func NewActivationCodeService(
	codesRepo repository.ActivationCodesRepository,
	devicesRepo repository.DevicesRepository,
	cacheMgr *cache.CacheManager,
	publisher mqtt.EventPublisher,
	logger *zap.Logger,
) ActivationCodeService {
	return &activationCodeService{
		codesRepo:   codesRepo,
		devicesRepo: devicesRepo,
		cacheMgr:    cacheMgr,
		publisher:   publisher,
		locks:       newDeviceLocks(),
		logger:      logger,
	}
}

func (s *activationCodeService) Generate(ctx context.Context, deviceID string, ttl time.Duration) (*domain.ActivationCode, error) {
	if _, err := s.devicesRepo.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(deviceID)
	defer unlock()

	var issued *domain.ActivationCode
	var expiredCodes []string
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := fmt.Sprintf("%06d", 100000+rand.Intn(900000))

		// 先查再插：插入仍可能撞上并发写入的唯一约束，当作重试信号
		existing, err := s.codesRepo.GetCode(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status == domain.ActivationStatusValid {
			continue
		}

		code := &domain.ActivationCode{
			Code:       candidate,
			DeviceID:   deviceID,
			Status:     domain.ActivationStatusValid,
			ExpireTime: time.Now().Add(ttl),
		}
		expiredCodes, err = s.codesRepo.IssueCode(ctx, code)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return nil, err
		}
		issued = code
		break
	}
	if issued == nil {
		return nil, fmt.Errorf("failed to generate unique activation code after %d attempts", maxCodeAttempts)
	}

	// 被顶掉的旧码清出缓存
	for _, old := range expiredCodes {
		if err := s.cacheMgr.DeleteActivationCode(ctx, old); err != nil {
			s.logger.Warn("Failed to evict superseded activation code", zap.String("code", old), zap.Error(err))
		}
	}

	// write-through：缓存TTL覆盖剩余有效期+宽限
	if err := s.cacheMgr.SaveActivationCode(ctx, issued); err != nil {
		s.logger.Warn("Failed to cache activation code",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	s.logger.Info("Activation code issued",
		zap.String("device_id", deviceID),
		zap.Time("expire_time", issued.ExpireTime),
	)
	return issued, nil
}

func (s *activationCodeService) Validate(ctx context.Context, code string) (*domain.ActivationCode, error) {
	if code == "" {
		return nil, nil
	}

	// 缓存优先
	record, err := s.cacheMgr.GetActivationCode(ctx, code)
	if err != nil {
		if err != cache.ErrCacheMiss {
			return nil, err
		}
		record, err = s.codesRepo.GetCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, nil
		}
		// 回填缓存（仅 valid 记录值得缓存）
		if record.Status == domain.ActivationStatusValid {
			if cacheErr := s.cacheMgr.SaveActivationCode(ctx, record); cacheErr != nil {
				s.logger.Warn("Failed to repopulate activation code cache", zap.Error(cacheErr))
			}
		}
	}

	if record.Status != domain.ActivationStatusValid {
		return nil, nil
	}

	if record.IsExpired(time.Now()) {
		// 过期簿记：标记 expired 并逐出缓存，本次调用仍返回无效
		if err := s.codesRepo.UpdateCodeStatus(ctx, record.CodeID, domain.ActivationStatusExpired); err != nil {
			s.logger.Warn("Failed to mark activation code expired",
				zap.String("code_id", record.CodeID),
				zap.Error(err),
			)
		}
		if err := s.cacheMgr.DeleteActivationCode(ctx, record.Code); err != nil {
			s.logger.Warn("Failed to evict expired activation code", zap.Error(err))
		}
		return nil, nil
	}

	return record, nil
}

func (s *activationCodeService) Redeem(ctx context.Context, code string, userID string) (bool, error) {
	record, err := s.Validate(ctx, code)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	unlock := s.locks.lock(record.DeviceID)
	defer unlock()

	if err := s.codesRepo.RedeemCode(ctx, record.CodeID, record.DeviceID, userID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// 并发兑换输掉了条件更新
			return false, nil
		}
		return false, err
	}

	if err := s.cacheMgr.DeleteActivationCode(ctx, record.Code); err != nil {
		s.logger.Warn("Failed to evict redeemed activation code", zap.Error(err))
	}

	s.logger.Info("Device activated",
		zap.String("device_id", record.DeviceID),
		zap.String("user_id", userID),
	)
	s.publisher.PublishDeviceEvent("device.activated", map[string]any{
		"device_id": record.DeviceID,
		"user_id":   userID,
	})
	return true, nil
}

func (s *activationCodeService) SweepExpired(ctx context.Context) (int, error) {
	codes, err := s.codesRepo.ListExpiredValidCodes(ctx, time.Now(), 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range codes {
		if err := s.codesRepo.UpdateCodeStatus(ctx, c.CodeID, domain.ActivationStatusExpired); err != nil {
			s.logger.Warn("Failed to expire activation code during sweep",
				zap.String("code_id", c.CodeID),
				zap.Error(err),
			)
			continue
		}
		if err := s.cacheMgr.DeleteActivationCode(ctx, c.Code); err != nil {
			s.logger.Warn("Failed to evict activation code during sweep", zap.Error(err))
		}
		count++
	}

	if count > 0 {
		s.logger.Info("Expired activation codes swept", zap.Int("count", count))
	}
	return count, nil
}

func (s *activationCodeService) CurrentValidFor(ctx context.Context, deviceID string) (*domain.ActivationCode, error) {
	return s.codesRepo.GetValidCodeByDevice(ctx, deviceID, time.Now())
}
