package domain

import (
	"database/sql"
	"time"
)

// 设备状态（devices.status）
const (
	// DeviceStatusInactive 已注册未激活
	DeviceStatusInactive = "inactive"
	// DeviceStatusWaiting 等待激活（已下发激活码）
	DeviceStatusWaiting = "waiting"
	// DeviceStatusActive 已激活
	DeviceStatusActive = "active"
)

// Device 设备领域模型（对应 devices 表）
// mac_address 和 client_id 各自全局唯一，注册后不可变
type Device struct {
	DeviceID    string         `db:"device_id"`
	MACAddress  string         `db:"mac_address"`  // NOT NULL, UNIQUE
	ClientID    string         `db:"client_id"`    // NOT NULL, UNIQUE
	DeviceType  string         `db:"device_type"`
	DeviceName  string         `db:"device_name"`
	Status      string         `db:"status"`        // NOT NULL, default 'inactive'
	OwnerUserID sql.NullString `db:"owner_user_id"` // nullable，激活时绑定
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *Device) ToJSON() map[string]any {
	m := map[string]any{
		"device_id":   d.DeviceID,
		"mac_address": d.MACAddress,
		"client_id":   d.ClientID,
		"device_type": d.DeviceType,
		"device_name": d.DeviceName,
		"status":      d.Status,
		"created_at":  d.CreatedAt.UnixMilli(),
		"updated_at":  d.UpdatedAt.UnixMilli(),
	}
	if d.OwnerUserID.Valid {
		m["owner_user_id"] = d.OwnerUserID.String
	}
	return m
}
