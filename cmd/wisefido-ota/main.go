package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-ota/internal/cache"
	"wisefido-ota/internal/config"
	httpapi "wisefido-ota/internal/http"
	"wisefido-ota/internal/logger"
	"wisefido-ota/internal/mqtt"
	"wisefido-ota/internal/repository"
	"wisefido-ota/internal/scheduler"
	"wisefido-ota/internal/service"
	"wisefido-ota/internal/token"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-ota")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis ping failed, cache operations will error until it recovers", zap.Error(err))
	}
	cacheMgr := cache.NewCacheManager(redisClient, log)

	// 仓储：DB 可用时用 Postgres，否则退化为内存实现（本地联测）
	var (
		devicesRepo repository.DevicesRepository
		codesRepo   repository.ActivationCodesRepository
		tokensRepo  repository.AccessTokensRepository
	)
	if cfg.DBEnabled {
		db, err := repository.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Warn("DB enabled but connection failed, falling back to memory repos", zap.Error(err))
		} else {
			defer db.Close()
			devicesRepo = repository.NewPostgresDevicesRepository(db)
			codesRepo = repository.NewPostgresActivationCodesRepository(db)
			tokensRepo = repository.NewPostgresAccessTokensRepository(db)
			log.Info("DB enabled for wisefido-ota")
		}
	}
	if devicesRepo == nil {
		memDevices := repository.NewMemoryDevicesRepo()
		devicesRepo = memDevices
		codesRepo = repository.NewMemoryActivationCodesRepo(memDevices)
		tokensRepo = repository.NewMemoryAccessTokensRepo()
		log.Info("Using memory repos for wisefido-ota")
	}

	// MQTT 事件发布（默认禁用）
	var publisher mqtt.EventPublisher = mqtt.NoopPublisher{}
	if cfg.MQTT.Enabled {
		p, err := mqtt.NewPublisher(&cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT enabled but connection failed, events disabled", zap.Error(err))
		} else {
			publisher = p
			defer p.Close()
		}
	}

	signer := token.NewSigner(cfg.JWT.Secret, cfg.JWT.Issuer)
	maxTokenTTL := time.Duration(cfg.OTA.TokenTTLHours) * time.Hour

	deviceSvc := service.NewDeviceService(devicesRepo, log)
	activationSvc := service.NewActivationCodeService(codesRepo, devicesRepo, cacheMgr, publisher, log)
	tokenSvc := service.NewAccessTokenService(tokensRepo, devicesRepo, cacheMgr, signer, maxTokenTTL, log)
	firmwareSvc := service.NewFirmwareService(&cfg.Firmware, log)
	otaSvc := service.NewOtaService(deviceSvc, activationSvc, tokenSvc, firmwareSvc, publisher, &cfg.OTA, log)

	router := httpapi.NewRouter(log)
	router.RegisterOtaRoutes(httpapi.NewOtaHandler(otaSvc, activationSvc, log))
	router.RegisterAdminRoutes(httpapi.NewAdminHandler(deviceSvc, activationSvc, tokenSvc, log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := scheduler.NewSweeper(activationSvc, tokenSvc, time.Duration(cfg.Sweep.IntervalMinutes)*time.Minute, log)
	go sweeper.Run(ctx)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		log.Info("wisefido-ota listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down wisefido-ota")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
