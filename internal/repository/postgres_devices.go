package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/google/uuid"
)

// PostgresDevicesRepository 设备Repository实现
type PostgresDevicesRepository struct {
	db *sql.DB
}

// NewPostgresDevicesRepository 创建设备Repository
func NewPostgresDevicesRepository(db *sql.DB) *PostgresDevicesRepository {
	return &PostgresDevicesRepository{db: db}
}

// 确保实现了接口
var _ DevicesRepository = (*PostgresDevicesRepository)(nil)

const deviceColumns = `
	device_id::text,
	mac_address,
	client_id,
	COALESCE(device_type, '') as device_type,
	COALESCE(device_name, '') as device_name,
	status,
	owner_user_id::text,
	created_at,
	updated_at
`

func scanDevice(row *sql.Row) (*domain.Device, error) {
	var d domain.Device
	err := row.Scan(
		&d.DeviceID,
		&d.MACAddress,
		&d.ClientID,
		&d.DeviceType,
		&d.DeviceName,
		&d.Status,
		&d.OwnerUserID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice 根据device_id获取设备
func (r *PostgresDevicesRepository) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required: %w", domain.ErrNotFound)
	}

	query := `SELECT ` + deviceColumns + ` FROM ota_devices WHERE device_id = $1::uuid`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

// GetDeviceByMAC 根据MAC地址获取设备，不存在返回 (nil, nil)
func (r *PostgresDevicesRepository) GetDeviceByMAC(ctx context.Context, macAddress string) (*domain.Device, error) {
	if macAddress == "" {
		return nil, nil
	}

	query := `SELECT ` + deviceColumns + ` FROM ota_devices WHERE mac_address = $1`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, macAddress))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device by mac: %w", err)
	}
	return device, nil
}

// GetDeviceByClientID 根据client_id获取设备，不存在返回 (nil, nil)
func (r *PostgresDevicesRepository) GetDeviceByClientID(ctx context.Context, clientID string) (*domain.Device, error) {
	if clientID == "" {
		return nil, nil
	}

	query := `SELECT ` + deviceColumns + ` FROM ota_devices WHERE client_id = $1`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, clientID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get device by client_id: %w", err)
	}
	return device, nil
}

// InsertDevice 插入新设备（mac_address/client_id 唯一冲突返回 domain.ErrConflict）
func (r *PostgresDevicesRepository) InsertDevice(ctx context.Context, device *domain.Device) error {
	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	if device.Status == "" {
		device.Status = domain.DeviceStatusInactive
	}

	query := `
		INSERT INTO ota_devices (device_id, mac_address, client_id, device_type, device_name, status, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		device.DeviceID,
		device.MACAddress,
		device.ClientID,
		device.DeviceType,
		device.DeviceName,
		device.Status,
		device.CreatedAt,
		device.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("device mac=%s client_id=%s: %w", device.MACAddress, device.ClientID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

// UpdateDeviceStatus 更新设备状态（无条件覆盖 + 刷新updated_at）
func (r *PostgresDevicesRepository) UpdateDeviceStatus(ctx context.Context, deviceID string, status string) error {
	query := `UPDATE ota_devices SET status = $2, updated_at = NOW() WHERE device_id = $1::uuid`
	res, err := r.db.ExecContext(ctx, query, deviceID, status)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	return nil
}

// BindDeviceOwner 绑定设备归属用户（激活码兑换时调用）
func (r *PostgresDevicesRepository) BindDeviceOwner(ctx context.Context, deviceID string, userID string) error {
	query := `UPDATE ota_devices SET owner_user_id = $2::uuid, updated_at = NOW() WHERE device_id = $1::uuid`
	res, err := r.db.ExecContext(ctx, query, deviceID, userID)
	if err != nil {
		return fmt.Errorf("failed to bind device owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	return nil
}

// ListDevices 分页查询设备列表（管理接口）
func (r *PostgresDevicesRepository) ListDevices(ctx context.Context, page, size int) ([]*domain.Device, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ota_devices`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count devices: %w", err)
	}

	query := `SELECT ` + deviceColumns + ` FROM ota_devices ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(
			&d.DeviceID,
			&d.MACAddress,
			&d.ClientID,
			&d.DeviceType,
			&d.DeviceName,
			&d.Status,
			&d.OwnerUserID,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, total, nil
}
