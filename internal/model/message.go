package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeVideo  MessageType = "video"
	MessageTypeEmoji  MessageType = "emoji"
	MessageTypeReply  MessageType = "reply"
	MessageTypeSystem MessageType = "system"
)

// Valid проверяет, что тип входит в перечисление.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio,
		MessageTypeVideo, MessageTypeEmoji, MessageTypeReply, MessageTypeSystem:
		return true
	}
	return false
}

// RequiresContent — для text и reply текст обязателен.
func (t MessageType) RequiresContent() bool {
	return t == MessageTypeText || t == MessageTypeReply
}

// DeletedContent подставляется вместо текста при удалении для всех.
const DeletedContent = "This message was deleted"

type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type Reaction struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type Receipt struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

// ReplyPreview — превью сообщения, на которое отвечают.
type ReplyPreview struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Sender  UserRef `json:"sender"`
}

type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	SenderID    string        `json:"senderId"`
	Content     string        `json:"content"`
	MessageType MessageType   `json:"messageType"`
	Attachments []Attachment  `json:"attachments"`
	ReplyToID   *string       `json:"replyToId,omitempty"`
	Reactions   []Reaction    `json:"reactions"`
	DeliveredTo []Receipt     `json:"deliveredTo"`
	ReadBy      []Receipt     `json:"readBy"`
	IsEdited    bool          `json:"isEdited"`
	EditHistory []EditEntry   `json:"editHistory"`
	IsDeleted   bool          `json:"isDeleted"`
	DeletedFor  []string      `json:"-"`
	Timestamp   time.Time     `json:"timestamp"`
	Sender      *UserPublic   `json:"sender,omitempty"`
	ReplyTo     *ReplyPreview `json:"replyTo,omitempty"`
}

// HiddenFor — пользователь удалил сообщение «для себя».
func (m *Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// ReadByUser — есть ли у сообщения отметка о прочтении от userID.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
