package domain

import "time"

// 访问令牌默认有效期（一周）
const DefaultAccessTokenTTL = 7 * 24 * time.Hour

// AccessToken 访问令牌领域模型（对应 access_tokens 表）
// 同一设备同一时刻最多只有一个未撤销且未过期的令牌
type AccessToken struct {
	TokenID    string    `db:"token_id" json:"token_id"`
	DeviceID   string    `db:"device_id" json:"device_id"`
	Token      string    `db:"token" json:"token"` // 签名后的JWT字符串，唯一
	IsRevoked  bool      `db:"is_revoked" json:"is_revoked"`
	ExpireTime time.Time `db:"expire_time" json:"expire_time"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IsExpired 是否已过服务端权威过期时间
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !t.ExpireTime.After(now)
}

// ToJSON 转换为JSON格式（用于HTTP响应，不回显完整令牌）
func (t *AccessToken) ToJSON() map[string]any {
	return map[string]any{
		"token_id":    t.TokenID,
		"device_id":   t.DeviceID,
		"is_revoked":  t.IsRevoked,
		"expire_time": t.ExpireTime.UnixMilli(),
		"created_at":  t.CreatedAt.UnixMilli(),
	}
}
