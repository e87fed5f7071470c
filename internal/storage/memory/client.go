package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
)

// Client — хранилище в памяти для режима -memory и тестов.
// Один RWMutex на все таблицы; наружу отдаются только копии.
type Client struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	chats    map[string]*model.Chat
	direct   map[string]string // direct_key -> chat id
	messages map[string]*model.Message
	byChat   map[string][]string // chat id -> message ids в порядке вставки
}

func New() *Client {
	return &Client{
		users:    make(map[string]*model.User),
		chats:    make(map[string]*model.Chat),
		direct:   make(map[string]string),
		messages: make(map[string]*model.Message),
		byChat:   make(map[string][]string),
	}
}

func (c *Client) Close() error { return nil }

// Store собирает storage.Store поверх одного Client.
func (c *Client) Store() *storage.Store {
	return &storage.Store{
		Users:    &Users{c},
		Chats:    &Chats{c},
		Messages: &Messages{c},
	}
}

type Users struct{ c *Client }

func (s *Users) Create(ctx context.Context, u *model.User) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	for _, x := range s.c.users {
		if x.Username == u.Username || x.Email == u.Email {
			return storage.ErrConflict
		}
	}
	cp := *u
	s.c.users[u.ID] = &cp
	return nil
}

func (s *Users) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	u, ok := s.c.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Users) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Email == email })
}

func (s *Users) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Username == username || u.Email == email })
}

func (s *Users) find(match func(*model.User) bool) (*model.User, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	for _, u := range s.c.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Users) ListOthers(ctx context.Context, excludeID string) ([]model.User, error) {
	s.c.mu.RLock()
	out := make([]model.User, 0, len(s.c.users))
	for id, u := range s.c.users {
		if id != excludeID {
			out = append(out, *u)
		}
	}
	s.c.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsOnline != out[j].IsOnline {
			return out[i].IsOnline
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Users) UpdateProfile(ctx context.Context, id string, p model.Profile) (*model.User, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	u, ok := s.c.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u.Profile = p
	cp := *u
	return &cp, nil
}

func (s *Users) SetOnline(ctx context.Context, id string, online bool) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if u, ok := s.c.users[id]; ok {
		u.IsOnline = online
		u.LastSeen = time.Now().UTC()
	}
	return nil
}

func (s *Users) ResetOnline(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	for _, u := range s.c.users {
		u.IsOnline = false
	}
	return nil
}

// publicLocked — публичный профиль пользователя; вызывать под c.mu.
func (c *Client) publicLocked(id string) *model.UserPublic {
	u, ok := c.users[id]
	if !ok {
		return &model.UserPublic{ID: id}
	}
	p := u.ToPublic()
	return &p
}
