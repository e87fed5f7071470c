package memory

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
)

type Messages struct{ c *Client }

func (s *Messages) Create(ctx context.Context, m *model.Message) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	ch, ok := s.c.chats[m.ChatID]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *m
	cp.Attachments = append([]model.Attachment{}, m.Attachments...)
	cp.Reactions, cp.DeliveredTo, cp.ReadBy, cp.EditHistory, cp.DeletedFor = nil, nil, nil, nil, nil
	cp.Sender, cp.ReplyTo = nil, nil
	s.c.messages[m.ID] = &cp
	s.c.byChat[m.ChatID] = append(s.c.byChat[m.ChatID], m.ID)
	id := m.ID
	ch.LastMessageID = &id
	ch.LastActivity = m.Timestamp
	ch.UpdatedAt = m.Timestamp
	return nil
}

func (s *Messages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	m, ok := s.c.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.c.messageLocked(m), nil
}

func (s *Messages) ListByChat(ctx context.Context, chatID, viewerID string, limit, offset int) ([]model.Message, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	all := s.c.visibleLocked(chatID, viewerID, nil)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []model.Message{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Search применяет регулярку без учёта регистра, как ~* в Postgres.
func (s *Messages) Search(ctx context.Context, chatID, viewerID, pattern string, limit int) ([]model.Message, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, storage.ErrInvalidPattern
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	found := s.c.visibleLocked(chatID, viewerID, func(m *model.Message) bool {
		return re.MatchString(m.Content)
	})
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (s *Messages) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	n := 0
	for _, id := range s.c.byChat[chatID] {
		m := s.c.messages[id]
		if m.SenderID == userID || m.IsDeleted || m.HiddenFor(userID) || m.ReadByUser(userID) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Messages) SetReaction(ctx context.Context, messageID, userID, emoji string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	m, ok := s.c.messages[messageID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions[i].Emoji = emoji
			m.Reactions[i].CreatedAt = now
			return nil
		}
	}
	m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: now})
	return nil
}

func (s *Messages) RemoveReaction(ctx context.Context, messageID, userID string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	m, ok := s.c.messages[messageID]
	if !ok {
		return storage.ErrNotFound
	}
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	m.Reactions = kept
	return nil
}

func (s *Messages) Reactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	m, ok := s.c.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.c.messageLocked(m).Reactions, nil
}

func (s *Messages) MarkDelivered(ctx context.Context, chatID, userID string, at time.Time) (int64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	var n int64
	for _, id := range s.c.byChat[chatID] {
		m := s.c.messages[id]
		if m.SenderID == userID || hasReceipt(m.DeliveredTo, userID) {
			continue
		}
		m.DeliveredTo = append(m.DeliveredTo, model.Receipt{UserID: userID, At: at})
		n++
	}
	return n, nil
}

func (s *Messages) MarkRead(ctx context.Context, chatID, userID string, messageIDs []string, at time.Time) (int64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	var n int64
	for _, id := range messageIDs {
		m, ok := s.c.messages[id]
		if !ok || m.ChatID != chatID || m.SenderID == userID || m.ReadByUser(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, model.Receipt{UserID: userID, At: at})
		n++
	}
	return n, nil
}

func (s *Messages) Edit(ctx context.Context, id, content string, at time.Time) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	m, ok := s.c.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.EditHistory = append(m.EditHistory, model.EditEntry{Content: m.Content, EditedAt: at})
	m.Content = content
	m.IsEdited = true
	return nil
}

func (s *Messages) SoftDelete(ctx context.Context, id string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	m, ok := s.c.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.IsDeleted = true
	m.Content = model.DeletedContent
	return nil
}

func (s *Messages) HideFor(ctx context.Context, id, userID string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	m, ok := s.c.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !m.HiddenFor(userID) {
		m.DeletedFor = append(m.DeletedFor, userID)
	}
	return nil
}

func hasReceipt(list []model.Receipt, userID string) bool {
	for _, r := range list {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// visibleLocked — сообщения чата, видимые viewerID, от новых к старым.
func (c *Client) visibleLocked(chatID, viewerID string, match func(*model.Message) bool) []model.Message {
	ids := c.byChat[chatID]
	out := make([]model.Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		m := c.messages[ids[i]]
		if m.IsDeleted || m.HiddenFor(viewerID) {
			continue
		}
		if match != nil && !match(m) {
			continue
		}
		out = append(out, *c.messageLocked(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// messageLocked возвращает заполненную копию сообщения; вызывать под c.mu.
func (c *Client) messageLocked(m *model.Message) *model.Message {
	cp := *m
	cp.Attachments = append([]model.Attachment{}, m.Attachments...)
	cp.Reactions = make([]model.Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		if u, ok := c.users[r.UserID]; ok {
			r.Username = u.Username
		}
		cp.Reactions[i] = r
	}
	cp.DeliveredTo = append([]model.Receipt{}, m.DeliveredTo...)
	cp.ReadBy = append([]model.Receipt{}, m.ReadBy...)
	cp.EditHistory = append([]model.EditEntry{}, m.EditHistory...)
	cp.DeletedFor = append([]string{}, m.DeletedFor...)
	cp.Sender = c.publicLocked(m.SenderID)
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		cp.ReplyToID = &id
		if orig, ok := c.messages[id]; ok {
			ref := model.UserRef{ID: orig.SenderID}
			if u, ok := c.users[orig.SenderID]; ok {
				ref = u.Ref()
			}
			cp.ReplyTo = &model.ReplyPreview{ID: orig.ID, Content: orig.Content, Sender: ref}
		}
	}
	return &cp
}
