package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-ota/internal/cache"
	"wisefido-ota/internal/config"
	"wisefido-ota/internal/mqtt"
	"wisefido-ota/internal/repository"
	"wisefido-ota/internal/service"
	"wisefido-ota/internal/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type handlerTestEnv struct {
	router  *Router
	devices *repository.MemoryDevicesRepo
	tokens  service.AccessTokenService
}

func setupHandlerTest(t *testing.T) *handlerTestEnv {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	logger := zap.NewNop()
	cacheMgr := cache.NewCacheManager(redisClient, logger)

	devices := repository.NewMemoryDevicesRepo()
	codes := repository.NewMemoryActivationCodesRepo(devices)
	tokens := repository.NewMemoryAccessTokensRepo()
	signer := token.NewSigner("test-secret", "wisefido-ota")
	publisher := mqtt.NoopPublisher{}

	otaCfg := &config.OTAConfig{
		WebsocketServer:      "ws.wisefido.local",
		WebsocketPort:        8765,
		WebsocketPath:        "/ws",
		ActivationTTLMinutes: 30,
		TokenTTLHours:        168,
		ActivationMessage:    "Please enter this activation code in the web app",
	}
	firmware := service.NewFirmwareService(&config.FirmwareConfig{Enabled: false}, logger)

	deviceSvc := service.NewDeviceService(devices, logger)
	activationSvc := service.NewActivationCodeService(codes, devices, cacheMgr, publisher, logger)
	tokenSvc := service.NewAccessTokenService(tokens, devices, cacheMgr, signer, 7*24*time.Hour, logger)
	otaSvc := service.NewOtaService(deviceSvc, activationSvc, tokenSvc, firmware, publisher, otaCfg, logger)

	router := NewRouter(logger)
	router.RegisterOtaRoutes(NewOtaHandler(otaSvc, activationSvc, logger))
	router.RegisterAdminRoutes(NewAdminHandler(deviceSvc, activationSvc, tokenSvc, logger))

	return &handlerTestEnv{
		router:  router,
		devices: devices,
		tokens:  tokenSvc,
	}
}

func doJSON(t *testing.T, router *Router, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var payload map[string]any
	if len(bytes.TrimSpace(rec.Body.Bytes())) > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func checkInBody(mac string) string {
	return fmt.Sprintf(`{"macAddress":%q,"clientId":"client-%s","deviceType":"esp32","firmwareVersion":"1.4.2"}`, mac, mac)
}

func TestCheckInEndpoint_NewDevice(t *testing.T) {
	env := setupHandlerTest(t)

	rec, payload := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody("AA:BB:CC:DD:EE:30"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	activation, ok := payload["activation"].(map[string]any)
	require.True(t, ok, "response should carry activation block")
	assert.Regexp(t, `^[0-9]{6}$`, activation["code"])
	assert.Equal(t, "Please enter this activation code in the web app", activation["message"])
	assert.Contains(t, payload, "server_time")
	assert.Contains(t, payload, "firmware")
	assert.NotContains(t, payload, "websocket")
}

func TestCheckInEndpoint_EmptyMACIsMinimal(t *testing.T) {
	env := setupHandlerTest(t)

	rec, payload := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", `{"clientId":"c-1","firmwareVersion":"1.0.0"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 最小响应：不含activation和websocket键（而不是null值）
	assert.NotContains(t, payload, "activation")
	assert.NotContains(t, payload, "websocket")
	assert.Contains(t, payload, "server_time")
	firmware, ok := payload["firmware"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", firmware["version"])
}

func TestCheckInEndpoint_MalformedBodyStill200(t *testing.T) {
	env := setupHandlerTest(t)

	rec, payload := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", `{not json`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, payload, "server_time")
	assert.NotContains(t, payload, "activation")
	assert.NotContains(t, payload, "websocket")
}

func TestCheckInEndpoint_MethodNotAllowed(t *testing.T) {
	env := setupHandlerTest(t)

	rec, _ := doJSON(t, env.router, http.MethodGet, "/ota/api/v1/checkin", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRedeemEndpoint_ActivatesDevice(t *testing.T) {
	env := setupHandlerTest(t)

	// 设备先check-in拿码
	_, payload := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody("AA:BB:CC:DD:EE:31"))
	activation := payload["activation"].(map[string]any)
	code := activation["code"].(string)

	rec, result := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/activation/redeem",
		fmt.Sprintf(`{"code":%q,"userId":"2f6a2c1e-0000-0000-0000-000000000001"}`, code))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(ResultSuccess), result["code"])

	// 激活后check-in切换到websocket分支
	_, payload = doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody("AA:BB:CC:DD:EE:31"))
	websocket, ok := payload["websocket"].(map[string]any)
	require.True(t, ok, "activated device should get websocket block")
	assert.NotEmpty(t, websocket["access_token"])
	assert.Equal(t, "ws.wisefido.local", websocket["server"])
	assert.Equal(t, float64(8765), websocket["port"])
	assert.Equal(t, "/ws", websocket["path"])
	assert.NotContains(t, payload, "activation")
}

func TestRedeemEndpoint_InvalidCode(t *testing.T) {
	env := setupHandlerTest(t)

	rec, result := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/activation/redeem",
		`{"code":"000000","userId":"user-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(ResultError), result["code"])
}

func TestRedeemEndpoint_MissingFields(t *testing.T) {
	env := setupHandlerTest(t)

	rec, _ := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/activation/redeem", `{"code":"123456"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListDevices(t *testing.T) {
	env := setupHandlerTest(t)

	doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody("AA:BB:CC:DD:EE:32"))
	doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody("AA:BB:CC:DD:EE:33"))

	rec, result := doJSON(t, env.router, http.MethodGet, "/admin/api/v1/ota/devices?page=1&size=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(ResultSuccess), result["code"])

	data := result["result"].(map[string]any)
	assert.Equal(t, float64(2), data["total"])
	items := data["items"].([]any)
	assert.Len(t, items, 2)
}

func TestAdminRevokeDeviceTokens(t *testing.T) {
	env := setupHandlerTest(t)
	mac := "AA:BB:CC:DD:EE:34"

	// 激活并签发令牌
	_, payload := doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody(mac))
	code := payload["activation"].(map[string]any)["code"].(string)
	doJSON(t, env.router, http.MethodPost, "/ota/api/v1/activation/redeem",
		fmt.Sprintf(`{"code":%q,"userId":"user-1"}`, code))
	_, payload = doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody(mac))
	tokenString := payload["websocket"].(map[string]any)["access_token"].(string)

	device, err := env.devices.GetDeviceByMAC(context.Background(), mac)
	require.NoError(t, err)

	rec, result := doJSON(t, env.router, http.MethodPost,
		"/admin/api/v1/ota/devices/"+device.DeviceID+"/revoke-tokens", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(ResultSuccess), result["code"])

	record, err := env.tokens.Validate(context.Background(), tokenString)
	require.NoError(t, err)
	assert.Nil(t, record)

	// 下次check-in重新签发新令牌
	_, payload = doJSON(t, env.router, http.MethodPost, "/ota/api/v1/checkin", checkInBody(mac))
	fresh := payload["websocket"].(map[string]any)["access_token"].(string)
	assert.NotEqual(t, tokenString, fresh)
}
