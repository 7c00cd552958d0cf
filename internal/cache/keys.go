package cache

// Redis key 约定
// - 激活码：ota:activation:code:<code>（JSON值，TTL=剩余有效期+宽限）
// - 设备当前令牌指针：ota:device:<device_id>:token
// - 已撤销令牌集合：ota:tokens:revoked
const (
	activationCodePrefix = "ota:activation:code:"
	deviceTokenPrefix    = "ota:device:"
	deviceTokenSuffix    = ":token"
	revokedTokensKey     = "ota:tokens:revoked"
)

func activationCodeKey(code string) string {
	return activationCodePrefix + code
}

func deviceTokenKey(deviceID string) string {
	return deviceTokenPrefix + deviceID + deviceTokenSuffix
}
