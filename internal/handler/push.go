package handler

import (
	"context"
	"net/http"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
)

// Subscriber сохраняет подписки на push-сервисе (push.Client).
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, sub model.PushSubscription) error
	Unsubscribe(ctx context.Context, userID, endpoint string) error
}

// PushHandler проксирует подписку браузера на push-сервис от имени текущего пользователя.
type PushHandler struct {
	client Subscriber
}

func NewPushHandler(client Subscriber) *PushHandler {
	return &PushHandler{client: client}
}

// SubscribeRequest — subscription из PushManager.getSubscription().
type SubscribeRequest struct {
	Subscription model.PushSubscription `json:"subscription"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Subscription.Valid() {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys are required")
		return
	}
	if err := h.client.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
