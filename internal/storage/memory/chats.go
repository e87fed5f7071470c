package memory

import (
	"context"
	"sort"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/google/uuid"
)

type Chats struct{ c *Client }

func (s *Chats) GetOrCreateDirect(ctx context.Context, userID, otherID string) (*model.Chat, bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	key := model.DirectKey(userID, otherID)
	if id, ok := s.c.direct[key]; ok {
		return s.c.chatLocked(s.c.chats[id]), false, nil
	}
	now := time.Now().UTC()
	ch := &model.Chat{
		ID: uuid.New().String(),
		Participants: []model.Participant{
			{UserID: userID, Role: model.RoleMember, JoinedAt: now},
			{UserID: otherID, Role: model.RoleMember, JoinedAt: now},
		},
		LastActivity: now,
		CreatedBy:    userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.c.chats[ch.ID] = ch
	s.c.direct[key] = ch.ID
	return s.c.chatLocked(ch), true, nil
}

func (s *Chats) CreateGroup(ctx context.Context, ch *model.Chat) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	cp := *ch
	cp.IsGroupChat = true
	cp.Participants = nil
	seen := make(map[string]bool, len(ch.Participants))
	for _, p := range ch.Participants {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		p.User = nil
		cp.Participants = append(cp.Participants, p)
	}
	cp.MutedBy = nil
	s.c.chats[cp.ID] = &cp
	return nil
}

func (s *Chats) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	ch, ok := s.c.chats[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.c.chatLocked(ch), nil
}

func (s *Chats) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	ch, ok := s.c.chats[chatID]
	return ok && ch.HasParticipant(userID), nil
}

func (s *Chats) ListForUser(ctx context.Context, userID string, archived bool) ([]model.Chat, error) {
	s.c.mu.RLock()
	out := make([]model.Chat, 0)
	for _, ch := range s.c.chats {
		if ch.IsArchived == archived && ch.HasParticipant(userID) {
			out = append(out, *s.c.chatLocked(ch))
		}
	}
	s.c.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Chats) SetArchived(ctx context.Context, chatID string, archived bool) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	ch, ok := s.c.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	ch.IsArchived = archived
	ch.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Chats) SetMute(ctx context.Context, chatID, userID string, until *time.Time) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	ch, ok := s.c.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	for i := range ch.MutedBy {
		if ch.MutedBy[i].UserID == userID {
			ch.MutedBy[i].MutedUntil = until
			return nil
		}
	}
	ch.MutedBy = append(ch.MutedBy, model.MuteSetting{UserID: userID, MutedUntil: until})
	return nil
}

func (s *Chats) ClearMute(ctx context.Context, chatID, userID string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	ch, ok := s.c.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	kept := ch.MutedBy[:0]
	for _, m := range ch.MutedBy {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	ch.MutedBy = kept
	return nil
}

// chatLocked возвращает копию чата с профилями участников; вызывать под c.mu.
func (c *Client) chatLocked(ch *model.Chat) *model.Chat {
	cp := *ch
	cp.Participants = make([]model.Participant, len(ch.Participants))
	for i, p := range ch.Participants {
		p.User = c.publicLocked(p.UserID)
		cp.Participants[i] = p
	}
	cp.MutedBy = append([]model.MuteSetting{}, ch.MutedBy...)
	if ch.LastMessageID != nil {
		id := *ch.LastMessageID
		cp.LastMessageID = &id
	}
	return &cp
}
