package ws

import (
	"encoding/json"
	"time"

	"github.com/chatline/internal/model"
)

type EventType string

// Клиент → сервер.
const (
	EventJoinChat    EventType = "joinChat"
	EventLeaveChat   EventType = "leaveChat"
	EventSendMessage EventType = "sendMessage"
	EventTyping      EventType = "typing"
	EventAddReaction EventType = "addReaction"
	EventMarkAsRead  EventType = "markAsRead"
)

// Сервер → клиент.
const (
	EventOnlineUsers    EventType = "onlineUsers"
	EventUserTyping     EventType = "userTyping"
	EventReceiveMessage EventType = "receiveMessage"
	EventReactionUpdate EventType = "reactionUpdate"
	EventMessagesRead   EventType = "messagesRead"
	EventUserJoinedChat EventType = "userJoinedChat"
	EventMessageEdited  EventType = "messageEdited"
	EventMessageDeleted EventType = "messageDeleted"
	EventError          EventType = "error"
)

// IncomingMessage — кадр от клиента: {"event": ..., "data": ...}.
type IncomingMessage struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutgoingMessage — кадр клиенту.
type OutgoingMessage struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

// chatRef принимает chatId строкой или объектом {"chatId": ...}.
func chatRef(raw json.RawMessage) string {
	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	var obj struct {
		ChatID string `json:"chatId"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ChatID
	}
	return ""
}

type TypingRequest struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type ReactionRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type MarkReadRequest struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type MessagesReadPayload struct {
	ChatID     string    `json:"chatId"`
	UserID     string    `json:"userId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

type UserJoinedPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// MessageDeletedPayload рассылается при удалении «для всех».
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
}

// OnlineUser — запись таблицы присутствия, как её видят клиенты.
type OnlineUser struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Profile   model.Profile `json:"profile"`
	SocketIDs []string      `json:"socketIds"`
	LastSeen  time.Time     `json:"lastSeen"`
}
