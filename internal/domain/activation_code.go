package domain

import "time"

// 激活码状态（activation_codes.status）
const (
	ActivationStatusValid   = "valid"
	ActivationStatusUsed    = "used"
	ActivationStatusExpired = "expired"
)

// 激活码默认有效期
const DefaultActivationCodeTTL = 30 * time.Minute

// ActivationCode 激活码领域模型（对应 activation_codes 表）
// 同一设备同一时刻最多只有一个 valid 状态的激活码
type ActivationCode struct {
	CodeID     string    `db:"code_id" json:"code_id"`
	Code       string    `db:"code" json:"code"` // 6位数字，valid 码之间唯一
	DeviceID   string    `db:"device_id" json:"device_id"`
	Status     string    `db:"status" json:"status"`
	ExpireTime time.Time `db:"expire_time" json:"expire_time"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IsExpired 是否已过当前激活码的权威过期时间
func (c *ActivationCode) IsExpired(now time.Time) bool {
	return !c.ExpireTime.After(now)
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (c *ActivationCode) ToJSON() map[string]any {
	return map[string]any{
		"code_id":     c.CodeID,
		"code":        c.Code,
		"device_id":   c.DeviceID,
		"status":      c.Status,
		"expire_time": c.ExpireTime.UnixMilli(),
		"created_at":  c.CreatedAt.UnixMilli(),
	}
}
