package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterOtaRoutes 注册设备侧路由
func (r *Router) RegisterOtaRoutes(h *OtaHandler) {
	r.Handle("/ota/api/v1/checkin", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.CheckIn(w, req)
	})

	r.Handle("/ota/api/v1/activation/redeem", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Redeem(w, req)
	})
}

// RegisterAdminRoutes 注册管理侧路由
func (r *Router) RegisterAdminRoutes(h *AdminHandler) {
	r.Handle("/admin/api/v1/ota/devices", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListDevices(w, req)
	})

	// devices/{id} 及其子资源
	r.Handle("/admin/api/v1/ota/devices/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/admin/api/v1/ota/devices/")
		switch {
		case rest != "" && !strings.Contains(rest, "/"):
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.GetDevice(w, req, rest)
		case strings.HasSuffix(rest, "/revoke-tokens"):
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.RevokeDeviceTokens(w, req, strings.TrimSuffix(rest, "/revoke-tokens"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// tokens/{id}/revoke
	r.Handle("/admin/api/v1/ota/tokens/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/admin/api/v1/ota/tokens/")
		if !strings.HasSuffix(rest, "/revoke") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.RevokeToken(w, req, strings.TrimSuffix(rest, "/revoke"))
	})
}
