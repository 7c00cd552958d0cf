package scheduler

import (
	"context"
	"time"

	"wisefido-ota/internal/service"

	"go.uber.org/zap"
)

// Sweeper 周期触发过期清理
// 清理操作本身是幂等的，只处理已过期的行，与请求路径并发安全
type Sweeper struct {
	activation service.ActivationCodeService
	tokens     service.AccessTokenService
	interval   time.Duration
	logger     *zap.Logger
}

// NewSweeper 创建清理调度器
func NewSweeper(activation service.ActivationCodeService, tokens service.AccessTokenService, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		activation: activation,
		tokens:     tokens,
		interval:   interval,
		logger:     logger,
	}
}

// Run 阻塞运行直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Credential sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Credential sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if count, err := s.activation.SweepExpired(ctx); err != nil {
		s.logger.Error("Activation code sweep failed", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("Activation code sweep finished", zap.Int("count", count))
	}

	if count, err := s.tokens.SweepExpired(ctx); err != nil {
		s.logger.Error("Access token sweep failed", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("Access token sweep finished", zap.Int("count", count))
	}
}
