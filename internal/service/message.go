package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/forPelevin/gomoji"
	"github.com/google/uuid"
)

type SendRequest struct {
	ChatID      string             `json:"chatId"`
	Content     string             `json:"content"`
	ReplyTo     string             `json:"replyTo,omitempty"`
	MessageType model.MessageType  `json:"messageType,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// SendMessage проверяет членство, сохраняет сообщение и возвращает его заполненным
// (отправитель и превью ответа).
func (s *ChatService) SendMessage(ctx context.Context, userID string, req SendRequest) (*model.Message, error) {
	if req.ChatID == "" {
		return nil, fail(ErrValidation, "chatId is required")
	}
	if err := s.requireParticipant(ctx, req.ChatID, userID, "Access denied to this chat"); err != nil {
		return nil, err
	}
	mt := req.MessageType
	if mt == "" {
		mt = model.MessageTypeText
	}
	if !mt.Valid() {
		return nil, fail(ErrValidation, "Invalid message type")
	}
	content := strings.TrimSpace(req.Content)
	if mt.RequiresContent() && content == "" {
		return nil, fail(ErrValidation, "Message content is required")
	}

	m := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      req.ChatID,
		SenderID:    userID,
		Content:     content,
		MessageType: mt,
		Attachments: req.Attachments,
		Timestamp:   s.now(),
	}
	if req.ReplyTo != "" {
		orig, err := s.store.Messages.GetByID(ctx, req.ReplyTo)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && orig.ChatID != req.ChatID) {
			return nil, fail(ErrValidation, "Reply target not found")
		}
		if err != nil {
			return nil, err
		}
		replyTo := orig.ID
		m.ReplyToID = &replyTo
	}
	if err := s.store.Messages.Create(ctx, m); err != nil {
		return nil, err
	}
	return s.store.Messages.GetByID(ctx, m.ID)
}

// JoinChat проверяет членство и отмечает доставку всех чужих сообщений чата.
func (s *ChatService) JoinChat(ctx context.Context, chatID, userID string) error {
	if err := s.requireParticipant(ctx, chatID, userID, "Access denied to this chat"); err != nil {
		return err
	}
	_, err := s.store.Messages.MarkDelivered(ctx, chatID, userID, s.now())
	return err
}

// MarkRead отмечает прочтение перечисленных сообщений и возвращает время отметки
// и id, которые относятся к чату и написаны не читателем (дубликаты убраны).
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string, messageIDs []string) (time.Time, []string, error) {
	if chatID == "" {
		return time.Time{}, nil, fail(ErrValidation, "chatId is required")
	}
	if err := s.requireParticipant(ctx, chatID, userID, "Access denied to this chat"); err != nil {
		return time.Time{}, nil, err
	}
	ids := make([]string, 0, len(messageIDs))
	seen := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m, err := s.store.Messages.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return time.Time{}, nil, err
		}
		if m.ChatID == chatID && m.SenderID != userID {
			ids = append(ids, id)
		}
	}
	at := s.now()
	if len(ids) == 0 {
		return at, ids, nil
	}
	if _, err := s.store.Messages.MarkRead(ctx, chatID, userID, ids, at); err != nil {
		return time.Time{}, nil, err
	}
	return at, ids, nil
}

// ReactionUpdate — итоговый список реакций сообщения после изменения.
type ReactionUpdate struct {
	ChatID    string           `json:"-"`
	MessageID string           `json:"messageId"`
	Reactions []model.Reaction `json:"reactions"`
}

// ValidateReaction — ровно один emoji без посторонних символов.
func ValidateReaction(emoji string) error {
	found := gomoji.CollectAll(emoji)
	if len(found) != 1 || found[0].Character != emoji {
		return fail(ErrValidation, "Reaction must be a single emoji")
	}
	return nil
}

// React заменяет реакцию пользователя на emoji; пустой emoji снимает её.
func (s *ChatService) React(ctx context.Context, messageID, userID, emoji string) (*ReactionUpdate, error) {
	m, err := s.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, m.ChatID, userID, "Access denied"); err != nil {
		return nil, err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		err = s.store.Messages.RemoveReaction(ctx, messageID, userID)
	} else {
		if err := ValidateReaction(emoji); err != nil {
			return nil, err
		}
		err = s.store.Messages.SetReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, err
	}
	reactions, err := s.store.Messages.Reactions(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &ReactionUpdate{ChatID: m.ChatID, MessageID: messageID, Reactions: reactions}, nil
}

// EditMessage — только автор и только не удалённое сообщение; прежний текст уходит в историю.
func (s *ChatService) EditMessage(ctx context.Context, messageID, userID, content string) (*model.Message, error) {
	m, err := s.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, fail(ErrForbidden, "You can only edit your own messages")
	}
	if m.IsDeleted {
		return nil, fail(ErrValidation, "Cannot edit a deleted message")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fail(ErrValidation, "Message content is required")
	}
	if err := s.store.Messages.Edit(ctx, messageID, content, s.now()); err != nil {
		return nil, err
	}
	return s.store.Messages.GetByID(ctx, messageID)
}

// DeleteMessage удаляет сообщение для всех (в пределах DeleteWindow) или скрывает его для автора.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, userID string, forEveryone bool) (*model.Message, error) {
	m, err := s.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, fail(ErrForbidden, "You can only delete your own messages")
	}
	if !forEveryone {
		if err := s.store.Messages.HideFor(ctx, messageID, userID); err != nil {
			return nil, err
		}
		return m, nil
	}
	if s.now().Sub(m.Timestamp) > DeleteWindow {
		return nil, fail(ErrDeleteWindow, "Can only delete for everyone within 10 minutes")
	}
	if err := s.store.Messages.SoftDelete(ctx, messageID); err != nil {
		return nil, err
	}
	m.IsDeleted = true
	m.Content = model.DeletedContent
	return m, nil
}

func (s *ChatService) message(ctx context.Context, id string) (*model.Message, error) {
	m, err := s.store.Messages.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fail(ErrNotFound, "Message not found")
	}
	return m, err
}
