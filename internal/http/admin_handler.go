package httpapi

import (
	"errors"
	"net/http"

	"wisefido-ota/internal/domain"
	"wisefido-ota/internal/service"

	"go.uber.org/zap"
)

// AdminHandler 管理侧查询/撤销接口
// 纯透传：业务规则都在service层；管理接口的错误正常上抛（不做OTA通道的静默处理）
type AdminHandler struct {
	devices    service.DeviceService
	activation service.ActivationCodeService
	tokens     service.AccessTokenService
	logger     *zap.Logger
}

// NewAdminHandler 创建 AdminHandler
func NewAdminHandler(devices service.DeviceService, activation service.ActivationCodeService, tokens service.AccessTokenService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		devices:    devices,
		activation: activation,
		tokens:     tokens,
		logger:     logger,
	}
}

// ListDevices GET /admin/api/v1/ota/devices?page=&size=
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	size := parseIntQuery(r, "size", 50)

	devices, total, err := h.devices.List(r.Context(), page, size)
	if err != nil {
		h.logger.Error("Failed to list devices", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list devices"))
		return
	}

	items := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		items = append(items, d.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	}))
}

// GetDevice GET /admin/api/v1/ota/devices/{id}
func (h *AdminHandler) GetDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := h.devices.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("device not found"))
			return
		}
		h.logger.Error("Failed to get device", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get device"))
		return
	}

	out := device.ToJSON()
	if code, err := h.activation.CurrentValidFor(r.Context(), deviceID); err == nil && code != nil {
		out["activation_code"] = code.ToJSON()
	}
	if token, err := h.tokens.GetValidForDevice(r.Context(), deviceID); err == nil && token != nil {
		out["access_token"] = token.ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// RevokeToken POST /admin/api/v1/ota/tokens/{id}/revoke
func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request, tokenID string) {
	if err := h.tokens.Revoke(r.Context(), tokenID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("token not found"))
			return
		}
		h.logger.Error("Failed to revoke token", zap.String("token_id", tokenID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to revoke token"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"revoked": true}))
}

// RevokeDeviceTokens POST /admin/api/v1/ota/devices/{id}/revoke-tokens
func (h *AdminHandler) RevokeDeviceTokens(w http.ResponseWriter, r *http.Request, deviceID string) {
	if err := h.tokens.RevokeAll(r.Context(), deviceID); err != nil {
		h.logger.Error("Failed to revoke device tokens", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to revoke device tokens"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"revoked": true}))
}
