package domain

import "errors"

// 领域错误类型（用 errors.Is 判断）
var (
	// ErrNotFound 设备/激活码/令牌不存在
	ErrNotFound = errors.New("not found")

	// ErrConflict 唯一性冲突（mac_address / client_id / code / token）
	ErrConflict = errors.New("conflict")

	// ErrInvalidState 状态不允许该操作（如未激活设备请求令牌）
	ErrInvalidState = errors.New("invalid state")

	// ErrExpired 已过期（内部使用，API 边界统一转为"无效"）
	ErrExpired = errors.New("expired")

	// ErrSignatureInvalid 令牌签名验证失败
	ErrSignatureInvalid = errors.New("signature invalid")
)
