package service

import (
	"context"
	"fmt"

	"wisefido-ota/internal/domain"
	"wisefido-ota/internal/repository"

	"go.uber.org/zap"
)

// DeviceService 设备身份注册服务接口
// 纯数据变更：状态转换的合法性由 OtaService 的协议状态机负责
type DeviceService interface {
	GetByMAC(ctx context.Context, macAddress string) (*domain.Device, error)
	GetByClientID(ctx context.Context, clientID string) (*domain.Device, error)
	Get(ctx context.Context, deviceID string) (*domain.Device, error)

	// Register 注册新设备，初始状态 inactive；mac/client_id 冲突返回 domain.ErrConflict
	Register(ctx context.Context, macAddress, clientID, deviceType, deviceName string) (*domain.Device, error)

	UpdateStatus(ctx context.Context, deviceID string, status string) error
	BindOwner(ctx context.Context, deviceID string, userID string) error

	List(ctx context.Context, page, size int) ([]*domain.Device, int, error)
}

type deviceService struct {
	devicesRepo repository.DevicesRepository
	logger      *zap.Logger
}

// NewDeviceService 创建 DeviceService 实例
func NewDeviceService(devicesRepo repository.DevicesRepository, logger *zap.Logger) DeviceService {
	return &deviceService{
		devicesRepo: devicesRepo,
		logger:      logger,
	}
}

func (s *deviceService) GetByMAC(ctx context.Context, macAddress string) (*domain.Device, error) {
	return s.devicesRepo.GetDeviceByMAC(ctx, macAddress)
}

func (s *deviceService) GetByClientID(ctx context.Context, clientID string) (*domain.Device, error) {
	return s.devicesRepo.GetDeviceByClientID(ctx, clientID)
}

func (s *deviceService) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.devicesRepo.GetDevice(ctx, deviceID)
}

func (s *deviceService) Register(ctx context.Context, macAddress, clientID, deviceType, deviceName string) (*domain.Device, error) {
	if macAddress == "" || clientID == "" {
		return nil, fmt.Errorf("mac_address and client_id are required")
	}

	device := &domain.Device{
		MACAddress: macAddress,
		ClientID:   clientID,
		DeviceType: deviceType,
		DeviceName: deviceName,
		Status:     domain.DeviceStatusInactive,
	}
	if err := s.devicesRepo.InsertDevice(ctx, device); err != nil {
		return nil, err
	}

	s.logger.Info("Device registered",
		zap.String("device_id", device.DeviceID),
		zap.String("mac_address", device.MACAddress),
		zap.String("client_id", device.ClientID),
		zap.String("device_type", device.DeviceType),
	)
	return device, nil
}

func (s *deviceService) UpdateStatus(ctx context.Context, deviceID string, status string) error {
	if err := s.devicesRepo.UpdateDeviceStatus(ctx, deviceID, status); err != nil {
		return err
	}
	s.logger.Debug("Device status updated",
		zap.String("device_id", deviceID),
		zap.String("status", status),
	)
	return nil
}

func (s *deviceService) BindOwner(ctx context.Context, deviceID string, userID string) error {
	return s.devicesRepo.BindDeviceOwner(ctx, deviceID, userID)
}

func (s *deviceService) List(ctx context.Context, page, size int) ([]*domain.Device, int, error) {
	return s.devicesRepo.ListDevices(ctx, page, size)
}
