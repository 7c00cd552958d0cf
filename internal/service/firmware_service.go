package service

import (
	"context"
	"fmt"
	"time"

	"wisefido-ota/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FirmwareInfo 固件信息块（每个OTA响应都携带；无更新时 URL 为空串）
type FirmwareInfo struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// FirmwareChecker 固件更新检查钩子
// 编排器对每次 check-in 都会调用；返回 (info, true) 表示需要更新
type FirmwareChecker interface {
	CheckUpdate(ctx context.Context, deviceType, currentVersion string) (*FirmwareInfo, bool)
}

// firmwareService 固件目录服务客户端
// 禁用时恒返回"无更新"——固件托管不在本服务范围内，这里只实现查询通道
type firmwareService struct {
	httpClient *resty.Client
	enabled    bool
	logger     *zap.Logger
}

// NewFirmwareService 创建固件检查服务
func NewFirmwareService(cfg *config.FirmwareConfig, logger *zap.Logger) FirmwareChecker {
	client := resty.New().
		SetBaseURL(cfg.HttpAddress).
		SetTimeout(time.Duration(cfg.TimeoutSecs) * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &firmwareService{
		httpClient: client,
		enabled:    cfg.Enabled,
		logger:     logger,
	}
}

// firmwareCatalogResponse 固件目录服务响应
type firmwareCatalogResponse struct {
	HasUpdate bool   `json:"has_update"`
	Version   string `json:"version"`
	URL       string `json:"url"`
}

func (s *firmwareService) CheckUpdate(ctx context.Context, deviceType, currentVersion string) (*FirmwareInfo, bool) {
	if !s.enabled {
		return nil, false
	}

	var result firmwareCatalogResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParam("device_type", deviceType).
		SetQueryParam("current_version", currentVersion).
		SetResult(&result).
		Get("/firmware/api/v1/latest")
	if err != nil {
		s.logger.Warn("Firmware catalog request failed",
			zap.String("device_type", deviceType),
			zap.Error(err),
		)
		return nil, false
	}
	if resp.StatusCode() != 200 {
		s.logger.Warn("Firmware catalog returned non-200",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", fmt.Sprintf("%.200s", resp.String())),
		)
		return nil, false
	}

	if !result.HasUpdate || result.URL == "" {
		return nil, false
	}
	return &FirmwareInfo{Version: result.Version, URL: result.URL}, true
}
