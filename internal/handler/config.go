package handler

import (
	"net/http"

	"github.com/chatline/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type pushConfigResponse struct {
	Enabled        bool   `json:"enabled"`
	VAPIDPublicKey string `json:"vapid_public_key,omitempty"`
}

// GetPushConfig возвращает публичный VAPID-ключ, если пуши включены.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PushServiceURL == "" || h.cfg.PushVAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, pushConfigResponse{})
		return
	}
	writeJSON(w, http.StatusOK, pushConfigResponse{Enabled: true, VAPIDPublicKey: h.cfg.PushVAPIDPublicKey})
}
