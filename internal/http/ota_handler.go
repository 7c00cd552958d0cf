package httpapi

import (
	"net/http"

	"wisefido-ota/internal/service"

	"go.uber.org/zap"
)

// OtaHandler 设备OTA check-in入口
type OtaHandler struct {
	ota        service.OtaService
	activation service.ActivationCodeService
	logger     *zap.Logger
}

// NewOtaHandler 创建 OtaHandler
func NewOtaHandler(ota service.OtaService, activation service.ActivationCodeService, logger *zap.Logger) *OtaHandler {
	return &OtaHandler{
		ota:        ota,
		activation: activation,
		logger:     logger,
	}
}

// CheckIn 处理设备check-in
// 嵌入式客户端必须总能拿到可解析的响应：请求体解析失败也只降级为空请求，
// 由编排器返回最小响应
func (h *OtaHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req service.OtaRequest
	if err := readBodyJSON(r, 64*1024, &req); err != nil {
		h.logger.Warn("Malformed OTA request body", zap.Error(err))
		req = service.OtaRequest{}
	}

	resp := h.ota.ProcessCheckIn(r.Context(), &req)
	writeJSON(w, http.StatusOK, resp)
}

// redeemRequest 激活码兑换请求（web端操作员提交）
type redeemRequest struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

// Redeem 兑换激活码：码→used、设备→active、绑定owner
func (h *OtaHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := readBodyJSON(r, 16*1024, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.Code == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("code and userId are required"))
		return
	}

	ok, err := h.activation.Redeem(r.Context(), req.Code, req.UserID)
	if err != nil {
		h.logger.Error("Activation code redemption failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, Fail("invalid or expired activation code"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"activated": true}))
}
