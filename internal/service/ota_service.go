package service

import (
	"context"
	"time"

	"wisefido-ota/internal/config"
	"wisefido-ota/internal/domain"
	"wisefido-ota/internal/mqtt"

	"go.uber.org/zap"
)

// OtaRequest 设备OTA check-in请求
type OtaRequest struct {
	MACAddress      string `json:"macAddress"`
	ClientID        string `json:"clientId"`
	DeviceType      string `json:"deviceType"`
	FirmwareVersion string `json:"firmwareVersion"`
	DeviceName      string `json:"deviceName,omitempty"`
	AccessToken     string `json:"accessToken,omitempty"`
}

// OtaResponse 设备OTA check-in响应
// websocket 与 activation 互斥且可选；缺省字段省略，不输出null
type OtaResponse struct {
	Firmware   *FirmwareInfo   `json:"firmware,omitempty"`
	Websocket  *WebsocketInfo  `json:"websocket,omitempty"`
	Activation *ActivationInfo `json:"activation,omitempty"`
	ServerTime *ServerTimeInfo `json:"server_time,omitempty"`
}

// WebsocketInfo 已激活设备的连接信息
type WebsocketInfo struct {
	AccessToken string `json:"access_token"`
	Server      string `json:"server"`
	Port        int    `json:"port"`
	Path        string `json:"path"`
}

// ActivationInfo 待激活设备的激活信息
type ActivationInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerTimeInfo 服务器时间块
type ServerTimeInfo struct {
	Timestamp      int64 `json:"timestamp"`       // epoch毫秒
	TimezoneOffset int   `json:"timezone_offset"` // 分钟
}

// OtaService OTA协议状态机
// 状态流转：unregistered → inactive → waiting → active（active为终态，
// 之后的流转只能由管理操作触发）。OTA通道对设备永不报错：任何内部异常
// 都收敛为只含 server_time + firmware 的最小响应
type OtaService interface {
	ProcessCheckIn(ctx context.Context, req *OtaRequest) *OtaResponse
}

type otaService struct {
	devices    DeviceService
	activation ActivationCodeService
	tokens     AccessTokenService
	firmware   FirmwareChecker
	publisher  mqtt.EventPublisher
	cfg        *config.OTAConfig
	logger     *zap.Logger
}

// NewOtaService 创建 OtaService 实例
func NewOtaService(
	devices DeviceService,
	activation ActivationCodeService,
	tokens AccessTokenService,
	firmware FirmwareChecker,
	publisher mqtt.EventPublisher,
	cfg *config.OTAConfig,
	logger *zap.Logger,
) OtaService {
	return &otaService{
		devices:    devices,
		activation: activation,
		tokens:     tokens,
		firmware:   firmware,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *otaService) activationTTL() time.Duration {
	if s.cfg.ActivationTTLMinutes > 0 {
		return time.Duration(s.cfg.ActivationTTLMinutes) * time.Minute
	}
	return domain.DefaultActivationCodeTTL
}

func (s *otaService) tokenTTL() time.Duration {
	if s.cfg.TokenTTLHours > 0 {
		return time.Duration(s.cfg.TokenTTLHours) * time.Hour
	}
	return domain.DefaultAccessTokenTTL
}

// baseResponse 最小安全响应：server_time + 回显固件版本（URL为空）
func (s *otaService) baseResponse(req *OtaRequest) *OtaResponse {
	now := time.Now()
	_, offsetSecs := now.Zone()

	version := req.FirmwareVersion
	if version == "" {
		version = "unknown"
	}
	return &OtaResponse{
		ServerTime: &ServerTimeInfo{
			Timestamp:      now.UnixMilli(),
			TimezoneOffset: offsetSecs / 60,
		},
		Firmware: &FirmwareInfo{Version: version, URL: ""},
	}
}

func (s *otaService) ProcessCheckIn(ctx context.Context, req *OtaRequest) *OtaResponse {
	response := s.baseResponse(req)

	if req.MACAddress == "" {
		s.logger.Warn("OTA check-in with empty mac address")
		return response
	}
	if req.ClientID == "" {
		s.logger.Warn("OTA check-in with empty client id",
			zap.String("mac_address", req.MACAddress),
		)
		return response
	}

	device, err := s.devices.GetByMAC(ctx, req.MACAddress)
	if err != nil {
		s.logger.Error("OTA check-in device lookup failed",
			zap.String("mac_address", req.MACAddress),
			zap.Error(err),
		)
		return response
	}

	if device == nil {
		// 未注册：注册 + 下发激活码
		activation, err := s.handleUnregistered(ctx, req)
		if err != nil {
			s.logger.Error("Failed to handle unregistered device",
				zap.String("mac_address", req.MACAddress),
				zap.Error(err),
			)
			return response
		}
		response.Activation = activation
	} else {
		switch device.Status {
		case domain.DeviceStatusInactive, domain.DeviceStatusWaiting:
			activation, err := s.handlePendingActivation(ctx, device)
			if err != nil {
				s.logger.Error("Failed to handle pending device",
					zap.String("device_id", device.DeviceID),
					zap.String("status", device.Status),
					zap.Error(err),
				)
				return response
			}
			response.Activation = activation

		case domain.DeviceStatusActive:
			websocket, err := s.handleActive(ctx, device)
			if err != nil {
				s.logger.Error("Failed to handle active device",
					zap.String("device_id", device.DeviceID),
					zap.Error(err),
				)
				return response
			}
			response.Websocket = websocket

		default:
			s.logger.Warn("Device in unknown status",
				zap.String("device_id", device.DeviceID),
				zap.String("status", device.Status),
			)
		}
	}

	// 固件更新钩子：每次check-in都询问，有更新时覆盖firmware块
	if info, ok := s.firmware.CheckUpdate(ctx, req.DeviceType, req.FirmwareVersion); ok {
		response.Firmware = info
	}

	return response
}

// handleUnregistered 注册新设备并下发激活码（注册后设备经 inactive 进入 waiting）
func (s *otaService) handleUnregistered(ctx context.Context, req *OtaRequest) (*ActivationInfo, error) {
	s.logger.Info("Registering new device",
		zap.String("mac_address", req.MACAddress),
		zap.String("client_id", req.ClientID),
	)

	device, err := s.devices.Register(ctx, req.MACAddress, req.ClientID, req.DeviceType, req.DeviceName)
	if err != nil {
		// 并发首次check-in：另一个请求可能刚注册完，重新查一次
		existing, lookupErr := s.devices.GetByMAC(ctx, req.MACAddress)
		if lookupErr != nil || existing == nil {
			return nil, err
		}
		device = existing
	}

	s.publisher.PublishDeviceEvent("device.registered", map[string]any{
		"device_id":   device.DeviceID,
		"mac_address": device.MACAddress,
		"device_type": device.DeviceType,
	})

	code, err := s.activation.Generate(ctx, device.DeviceID, s.activationTTL())
	if err != nil {
		return nil, err
	}
	return &ActivationInfo{Code: code.Code, Message: s.cfg.ActivationMessage}, nil
}

// handlePendingActivation inactive/waiting 设备：有未过期激活码则复用，否则重新下发
func (s *otaService) handlePendingActivation(ctx context.Context, device *domain.Device) (*ActivationInfo, error) {
	if device.Status == domain.DeviceStatusWaiting {
		current, err := s.activation.CurrentValidFor(ctx, device.DeviceID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return &ActivationInfo{Code: current.Code, Message: s.cfg.ActivationMessage}, nil
		}
	}

	code, err := s.activation.Generate(ctx, device.DeviceID, s.activationTTL())
	if err != nil {
		return nil, err
	}
	return &ActivationInfo{Code: code.Code, Message: s.cfg.ActivationMessage}, nil
}

// handleActive 已激活设备：复用或签发访问令牌，下发连接信息
func (s *otaService) handleActive(ctx context.Context, device *domain.Device) (*WebsocketInfo, error) {
	accessToken, err := s.tokens.GetOrCreate(ctx, device.DeviceID, s.tokenTTL())
	if err != nil {
		return nil, err
	}
	return &WebsocketInfo{
		AccessToken: accessToken,
		Server:      s.cfg.WebsocketServer,
		Port:        s.cfg.WebsocketPort,
		Path:        s.cfg.WebsocketPath,
	}, nil
}
