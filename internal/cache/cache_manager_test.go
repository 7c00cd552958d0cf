package cache

import (
	"context"
	"testing"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *CacheManager) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, NewCacheManager(redisClient, zap.NewNop())
}

func TestActivationCode_SaveGetDelete(t *testing.T) {
	_, cacheMgr := setupTestCache(t)
	ctx := context.Background()

	code := &domain.ActivationCode{
		CodeID:     "code-1",
		Code:       "123456",
		DeviceID:   "device-1",
		Status:     domain.ActivationStatusValid,
		ExpireTime: time.Now().Add(30 * time.Minute),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, cacheMgr.SaveActivationCode(ctx, code))

	got, err := cacheMgr.GetActivationCode(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "code-1", got.CodeID)
	assert.Equal(t, "device-1", got.DeviceID)
	assert.Equal(t, domain.ActivationStatusValid, got.Status)

	require.NoError(t, cacheMgr.DeleteActivationCode(ctx, "123456"))
	_, err = cacheMgr.GetActivationCode(ctx, "123456")
	assert.Equal(t, ErrCacheMiss, err)
}

func TestActivationCode_PastExpiryNotCached(t *testing.T) {
	_, cacheMgr := setupTestCache(t)
	ctx := context.Background()

	code := &domain.ActivationCode{
		CodeID:     "code-1",
		Code:       "654321",
		DeviceID:   "device-1",
		Status:     domain.ActivationStatusValid,
		ExpireTime: time.Now().Add(-2 * GraceMargin),
	}
	require.NoError(t, cacheMgr.SaveActivationCode(ctx, code))

	_, err := cacheMgr.GetActivationCode(ctx, "654321")
	assert.Equal(t, ErrCacheMiss, err)
}

func TestActivationCode_TTLOutlivesExpiry(t *testing.T) {
	mr, cacheMgr := setupTestCache(t)
	ctx := context.Background()

	code := &domain.ActivationCode{
		CodeID:     "code-1",
		Code:       "111222",
		DeviceID:   "device-1",
		Status:     domain.ActivationStatusValid,
		ExpireTime: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, cacheMgr.SaveActivationCode(ctx, code))

	// 缓存TTL应大于权威剩余有效期（带宽限），且不超过剩余有效期+宽限
	ttl := mr.TTL(activationCodeKey("111222"))
	assert.Greater(t, ttl, 10*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute+GraceMargin)
}

func TestActivationCode_CorruptEntryEvicted(t *testing.T) {
	mr, cacheMgr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(activationCodeKey("999888"), "{not json"))

	_, err := cacheMgr.GetActivationCode(ctx, "999888")
	assert.Equal(t, ErrCacheMiss, err)
	assert.False(t, mr.Exists(activationCodeKey("999888")))
}

func TestDeviceToken_Pointer(t *testing.T) {
	_, cacheMgr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cacheMgr.SetDeviceToken(ctx, "device-1", "jwt-token", time.Now().Add(time.Hour)))

	got, err := cacheMgr.GetDeviceToken(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", got)

	require.NoError(t, cacheMgr.DeleteDeviceToken(ctx, "device-1"))
	_, err = cacheMgr.GetDeviceToken(ctx, "device-1")
	assert.Equal(t, ErrCacheMiss, err)
}

func TestRevokedTokens_Set(t *testing.T) {
	_, cacheMgr := setupTestCache(t)
	ctx := context.Background()

	revoked, err := cacheMgr.IsTokenRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, cacheMgr.AddRevokedTokens(ctx, 168*time.Hour, "t1", "t2"))

	revoked, err = cacheMgr.IsTokenRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = cacheMgr.IsTokenRevoked(ctx, "t3")
	require.NoError(t, err)
	assert.False(t, revoked)
}
