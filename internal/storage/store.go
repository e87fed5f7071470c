package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chatline/internal/model"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict — нарушение уникальности (username, email).
	ErrConflict = errors.New("conflict")

	// ErrInvalidPattern — хранилище отвергло регулярное выражение поиска.
	ErrInvalidPattern = errors.New("invalid search pattern")
)

// UserStore — пользователи и их присутствие.
// Реализации: repository.UserRepository (Postgres), memory.Store (-memory и тесты).
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByUsernameOrEmail возвращает первого пользователя с совпадающим username или email.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	// ListOthers — все кроме excludeID: сначала online, затем по last_seen убыванию.
	ListOthers(ctx context.Context, excludeID string) ([]model.User, error)
	UpdateProfile(ctx context.Context, id string, p model.Profile) (*model.User, error)
	SetOnline(ctx context.Context, id string, online bool) error
	ResetOnline(ctx context.Context) error
}

// ChatStore — чаты, участники, архив и mute.
type ChatStore interface {
	// GetOrCreateDirect возвращает личный чат пары, создавая его при отсутствии.
	// created == true, если чат создан этим вызовом.
	GetOrCreateDirect(ctx context.Context, userID, otherID string) (chat *model.Chat, created bool, err error)
	CreateGroup(ctx context.Context, c *model.Chat) error
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string, archived bool) ([]model.Chat, error)
	SetArchived(ctx context.Context, chatID string, archived bool) error
	SetMute(ctx context.Context, chatID, userID string, until *time.Time) error
	ClearMute(ctx context.Context, chatID, userID string) error
}

// MessageStore — сообщения, реакции и отметки доставки/прочтения.
type MessageStore interface {
	// Create сохраняет сообщение и обновляет last_message/last_activity чата.
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// ListByChat — страница сообщений, видимых viewerID, от новых к старым.
	ListByChat(ctx context.Context, chatID, viewerID string, limit, offset int) ([]model.Message, error)
	// Search — регистронезависимый поиск по регулярному выражению, от новых к старым.
	Search(ctx context.Context, chatID, viewerID, pattern string, limit int) ([]model.Message, error)
	CountUnread(ctx context.Context, chatID, userID string) (int, error)

	// SetReaction атомарно заменяет реакцию пользователя (одна на пользователя).
	SetReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID string) error
	Reactions(ctx context.Context, messageID string) ([]model.Reaction, error)

	// MarkDelivered отмечает доставку всех чужих сообщений чата; возвращает число новых отметок.
	MarkDelivered(ctx context.Context, chatID, userID string, at time.Time) (int64, error)
	// MarkRead отмечает прочтение перечисленных чужих сообщений чата; возвращает число новых отметок.
	MarkRead(ctx context.Context, chatID, userID string, messageIDs []string, at time.Time) (int64, error)

	// Edit сохраняет прежний текст в историю правок и заменяет content.
	Edit(ctx context.Context, id, content string, at time.Time) error
	SoftDelete(ctx context.Context, id string) error
	HideFor(ctx context.Context, id, userID string) error
}

// Store объединяет хранилища, нужные сервисному слою.
type Store struct {
	Users    UserStore
	Chats    ChatStore
	Messages MessageStore
}
