package handler

import (
	"net/http"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
)

// MessageHandler — REST-операции над отдельным сообщением; изменения рассылаются в комнату чата.
type MessageHandler struct {
	chats *service.ChatService
	rooms Broadcaster
}

func NewMessageHandler(chats *service.ChatService, rooms Broadcaster) *MessageHandler {
	return &MessageHandler{chats: chats, rooms: rooms}
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type editRequest struct {
	Content string `json:"content"`
}

type deleteRequest struct {
	DeleteForEveryone bool `json:"deleteForEveryone"`
}

// React ставит/заменяет реакцию; пустой emoji снимает её. Ответ — итоговый список реакций.
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	upd, err := h.chats.React(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Emoji)
	if err != nil {
		writeServiceError(w, "react", err)
		return
	}
	h.broadcast(upd.ChatID, ws.EventReactionUpdate, upd)
	writeJSON(w, http.StatusOK, upd.Reactions)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	m, err := h.chats.EditMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		writeServiceError(w, "edit message", err)
		return
	}
	h.broadcast(m.ChatID, ws.EventMessageEdited, m)
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	m, err := h.chats.DeleteMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.DeleteForEveryone)
	if err != nil {
		writeServiceError(w, "delete message", err)
		return
	}
	if req.DeleteForEveryone {
		h.broadcast(m.ChatID, ws.EventMessageDeleted, ws.MessageDeletedPayload{
			MessageID: m.ID, ChatID: m.ChatID, Content: m.Content,
		})
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Message deleted"})
}

func (h *MessageHandler) broadcast(chatID string, event ws.EventType, data any) {
	if h.rooms != nil {
		h.rooms.ToRoom(chatID, event, data)
	}
}
