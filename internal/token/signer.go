package token

import (
	"errors"
	"fmt"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims 设备访问令牌声明
type DeviceClaims struct {
	DeviceID   string `json:"deviceId"`
	MACAddress string `json:"macAddress"`
	jwt.RegisteredClaims
}

// Signer 设备访问令牌签名器（HS256）
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner 创建签名器
func NewSigner(secret, issuer string) *Signer {
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Sign 签发携带 {deviceId, macAddress} 声明的令牌
func (s *Signer) Sign(deviceID, macAddress string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		DeviceID:   deviceID,
		MACAddress: macAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify 验证签名与内嵌过期时间
// 失败原因可区分：domain.ErrExpired（已过期）/ domain.ErrSignatureInvalid（签名或格式无效）
func (s *Signer) Verify(tokenString string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token expired: %w", domain.ErrExpired)
		}
		return nil, fmt.Errorf("token verification failed: %w", domain.ErrSignatureInvalid)
	}
	return claims, nil
}
