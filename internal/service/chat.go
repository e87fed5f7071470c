package service

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	SearchLimit     = 20
	// maxMuteHours — 100 лет, в пределах time.Duration.
	maxMuteHours = 100 * 365 * 24
	// DeleteWindow — сколько после отправки доступно удаление «для всех».
	DeleteWindow = 10 * time.Minute
)

type ChatService struct {
	store *storage.Store
	now   func() time.Time
}

func NewChatService(store *storage.Store) *ChatService {
	return &ChatService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	return s.store.Chats.IsParticipant(ctx, chatID, userID)
}

// requireParticipant возвращает ErrForbidden с msg, если userID не участник чата.
func (s *ChatService) requireParticipant(ctx context.Context, chatID, userID, msg string) error {
	ok, err := s.store.Chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fail(ErrForbidden, msg)
	}
	return nil
}

// Direct возвращает личный чат пары, создавая его при первом обращении.
func (s *ChatService) Direct(ctx context.Context, userID, otherID string) (*model.Chat, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return nil, fail(ErrValidation, "otherUserId is required")
	}
	if otherID == userID {
		return nil, fail(ErrValidation, "Cannot create a chat with yourself")
	}
	if _, err := s.store.Users.GetByID(ctx, otherID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(ErrNotFound, "User not found")
		}
		return nil, err
	}
	chat, _, err := s.store.Chats.GetOrCreateDirect(ctx, userID, otherID)
	return chat, err
}

type GroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Avatar      string   `json:"avatar"`
	MemberIDs   []string `json:"memberIds"`
}

// CreateGroup создаёт групповой чат: создатель — admin, остальные — member.
func (s *ChatService) CreateGroup(ctx context.Context, userID string, req GroupRequest) (*model.Chat, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fail(ErrValidation, "Group name is required")
	}
	now := s.now()
	chat := &model.Chat{
		ID:               uuid.New().String(),
		IsGroupChat:      true,
		GroupName:        name,
		GroupAvatar:      strings.TrimSpace(req.Avatar),
		GroupDescription: strings.TrimSpace(req.Description),
		Participants:     []model.Participant{{UserID: userID, Role: model.RoleAdmin, JoinedAt: now}},
		LastActivity:     now,
		CreatedBy:        userID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	seen := map[string]bool{userID: true}
	for _, id := range req.MemberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if _, err := s.store.Users.GetByID(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fail(ErrNotFound, "User not found")
			}
			return nil, err
		}
		seen[id] = true
		chat.Participants = append(chat.Participants, model.Participant{UserID: id, Role: model.RoleMember, JoinedAt: now})
	}
	if len(chat.Participants) < 2 {
		return nil, fail(ErrValidation, "A group needs at least one other member")
	}
	if err := s.store.Chats.CreateGroup(ctx, chat); err != nil {
		return nil, err
	}
	return s.store.Chats.GetByID(ctx, chat.ID)
}

// List — чаты пользователя по убыванию last_activity с последним сообщением, счётчиком непрочитанных и mute.
func (s *ChatService) List(ctx context.Context, userID string, archived bool) ([]model.ChatSummary, error) {
	chats, err := s.store.Chats.ListForUser(ctx, userID, archived)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.ChatSummary, 0, len(chats))
	for _, c := range chats {
		sum := model.ChatSummary{Chat: c, Muted: c.MutedFor(userID, now)}
		if c.LastMessageID != nil {
			last, err := s.store.Messages.GetByID(ctx, *c.LastMessageID)
			switch {
			case err == nil:
				if !last.HiddenFor(userID) {
					sum.LastMessage = last
				}
			case !errors.Is(err, storage.ErrNotFound):
				return nil, err
			}
		}
		if sum.UnreadCount, err = s.store.Messages.CountUnread(ctx, c.ID, userID); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// MessagePage — страница сообщений и отметки прочтения, поставленные при её выдаче.
type MessagePage struct {
	Messages []model.Message
	ReadIDs  []string
	ReadAt   time.Time
}

// Messages отдаёт страницу page (с 1) по limit сообщений в хронологическом порядке
// и отмечает выданные чужие сообщения прочитанными.
func (s *ChatService) Messages(ctx context.Context, chatID, userID string, page, limit int) (*MessagePage, error) {
	if err := s.requireParticipant(ctx, chatID, userID, "Access denied"); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}
	msgs, err := s.store.Messages.ListByChat(ctx, chatID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	res := &MessagePage{Messages: msgs, ReadAt: s.now()}
	unread := make([]string, 0, len(msgs))
	for i := range msgs {
		if msgs[i].SenderID != userID && !msgs[i].ReadByUser(userID) {
			unread = append(unread, msgs[i].ID)
		}
	}
	if len(unread) == 0 {
		return res, nil
	}
	if _, err := s.store.Messages.MarkRead(ctx, chatID, userID, unread, res.ReadAt); err != nil {
		return nil, err
	}
	res.ReadIDs = unread
	receipt := model.Receipt{UserID: userID, At: res.ReadAt}
	for i := range msgs {
		if msgs[i].SenderID != userID && !msgs[i].ReadByUser(userID) {
			msgs[i].ReadBy = append(msgs[i].ReadBy, receipt)
		}
	}
	return res, nil
}

// Search — поиск по регулярному выражению без учёта регистра, не больше SearchLimit, от новых к старым.
func (s *ChatService) Search(ctx context.Context, chatID, userID, query string) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fail(ErrValidation, "Search query is required")
	}
	if _, err := regexp.Compile(query); err != nil {
		return nil, fail(ErrValidation, "Invalid search pattern")
	}
	if err := s.requireParticipant(ctx, chatID, userID, "Access denied"); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages.Search(ctx, chatID, userID, query, SearchLimit)
	if errors.Is(err, storage.ErrInvalidPattern) {
		return nil, fail(ErrValidation, "Invalid search pattern")
	}
	return msgs, err
}

// chatOf возвращает чат, если userID его участник; иначе ErrNotFound.
func (s *ChatService) chatOf(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	chat, err := s.store.Chats.GetByID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !chat.HasParticipant(userID)) {
		return nil, fail(ErrNotFound, "Chat not found")
	}
	return chat, err
}

// Chat возвращает чат его участнику; для остальных — ErrNotFound.
func (s *ChatService) Chat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	return s.chatOf(ctx, chatID, userID)
}

func (s *ChatService) SetArchived(ctx context.Context, chatID, userID string, archive bool) error {
	if _, err := s.chatOf(ctx, chatID, userID); err != nil {
		return err
	}
	return s.store.Chats.SetArchived(ctx, chatID, archive)
}

// SetMute включает или снимает mute; durationHours nil или <= 0 — бессрочно.
func (s *ChatService) SetMute(ctx context.Context, chatID, userID string, mute bool, durationHours *float64) error {
	if _, err := s.chatOf(ctx, chatID, userID); err != nil {
		return err
	}
	if !mute {
		return s.store.Chats.ClearMute(ctx, chatID, userID)
	}
	var until *time.Time
	// Длительность больше maxMuteHours — то же, что бессрочно.
	if durationHours != nil && *durationHours > 0 && *durationHours <= maxMuteHours {
		t := s.now().Add(time.Duration(*durationHours * float64(time.Hour)))
		until = &t
	}
	return s.store.Chats.SetMute(ctx, chatID, userID, until)
}
