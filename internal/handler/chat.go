package handler

import (
	"net/http"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
)

type ChatHandler struct {
	chats *service.ChatService
	rooms Broadcaster
}

func NewChatHandler(chats *service.ChatService, rooms Broadcaster) *ChatHandler {
	return &ChatHandler{chats: chats, rooms: rooms}
}

type directChatRequest struct {
	OtherUserID string `json:"otherUserId"`
}

type archiveRequest struct {
	Archive bool `json:"archive"`
}

// muteRequest: duration в часах; null или 0 — бессрочно.
type muteRequest struct {
	Mute     bool     `json:"mute"`
	Duration *float64 `json:"duration"`
}

// ListChats — чаты пользователя; ?archived=true — только архивные.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	archived := r.URL.Query().Get("archived") == "true"
	list, err := h.chats.List(r.Context(), middleware.GetUserID(r.Context()), archived)
	if err != nil {
		writeServiceError(w, "list chats", err)
		return
	}
	if list == nil {
		list = []model.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) CreateDirectChat(w http.ResponseWriter, r *http.Request) {
	var req directChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	chat, err := h.chats.Direct(r.Context(), middleware.GetUserID(r.Context()), req.OtherUserID)
	if err != nil {
		writeServiceError(w, "direct chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	var req service.GroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	chat, err := h.chats.CreateGroup(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, "group chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// GetMessages отдаёт страницу сообщений; прочитанные при выдаче рассылаются как messagesRead.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())
	page, err := h.chats.Messages(r.Context(), chatID, userID, queryInt(r, "page", 1), queryInt(r, "limit", service.DefaultPageSize))
	if err != nil {
		writeServiceError(w, "get messages", err)
		return
	}
	if len(page.ReadIDs) > 0 && h.rooms != nil {
		h.rooms.ToRoom(chatID, ws.EventMessagesRead, ws.MessagesReadPayload{
			ChatID: chatID, UserID: userID, MessageIDs: page.ReadIDs, ReadAt: page.ReadAt,
		})
	}
	writeJSON(w, http.StatusOK, page.Messages)
}

func (h *ChatHandler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	list, err := h.chats.Search(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()), r.URL.Query().Get("query"))
	if err != nil {
		writeServiceError(w, "search messages", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.chats.SetArchived(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()), req.Archive); err != nil {
		writeServiceError(w, "archive chat", err)
		return
	}
	msg := "Chat unarchived"
	if req.Archive {
		msg = "Chat archived"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *ChatHandler) Mute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.chats.SetMute(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()), req.Mute, req.Duration); err != nil {
		writeServiceError(w, "mute chat", err)
		return
	}
	msg := "Chat unmuted"
	if req.Mute {
		msg = "Chat muted"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}
