package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/chatline/internal/model"
)

type typingKey struct {
	chatID string
	userID string
}

// TypingEntry — активный индикатор набора.
type TypingEntry struct {
	ChatID    string
	UserID    string
	Username  string
	StartedAt time.Time
}

// Presence — таблицы присутствия и набора текста под одним мьютексом.
// Пользователь online, пока у него есть хотя бы один сокет.
type Presence struct {
	mu     sync.Mutex
	online map[string]*OnlineUser
	typing map[typingKey]TypingEntry
	now    func() time.Time
}

func NewPresence(now func() time.Time) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{
		online: make(map[string]*OnlineUser),
		typing: make(map[typingKey]TypingEntry),
		now:    now,
	}
}

// Connect добавляет сокет пользователя; first == true для первого сокета.
func (p *Presence) Connect(u model.UserPublic, socketID string) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.online[u.ID]
	if !ok {
		e = &OnlineUser{ID: u.ID, Username: u.Username, Profile: u.Profile}
		p.online[u.ID] = e
	}
	e.SocketIDs = append(e.SocketIDs, socketID)
	e.LastSeen = p.now()
	return !ok
}

// Disconnect убирает сокет. Когда уходит последний сокет, запись удаляется,
// а индикаторы набора пользователя снимаются и возвращаются в cleared.
func (p *Presence) Disconnect(userID, socketID string) (last bool, cleared []TypingEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.online[userID]
	if !ok {
		return false, nil
	}
	kept := e.SocketIDs[:0]
	for _, id := range e.SocketIDs {
		if id != socketID {
			kept = append(kept, id)
		}
	}
	e.SocketIDs = kept
	if len(kept) > 0 {
		return false, nil
	}
	delete(p.online, userID)
	for k, t := range p.typing {
		if k.userID == userID {
			cleared = append(cleared, t)
			delete(p.typing, k)
		}
	}
	sortTyping(cleared)
	return true, cleared
}

// Online — снимок таблицы присутствия, по id.
func (p *Presence) Online() []OnlineUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OnlineUser, 0, len(p.online))
	for _, e := range p.online {
		cp := *e
		cp.SocketIDs = append([]string(nil), e.SocketIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// StartTyping ставит или продлевает индикатор набора.
func (p *Presence) StartTyping(chatID, userID, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing[typingKey{chatID, userID}] = TypingEntry{
		ChatID: chatID, UserID: userID, Username: username, StartedAt: p.now(),
	}
}

// StopTyping снимает индикатор; false, если его не было.
func (p *Presence) StopTyping(chatID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := typingKey{chatID, userID}
	if _, ok := p.typing[k]; !ok {
		return false
	}
	delete(p.typing, k)
	return true
}

// Sweep снимает индикаторы старше timeout и возвращает их.
func (p *Presence) Sweep(timeout time.Duration) []TypingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var expired []TypingEntry
	for k, t := range p.typing {
		if now.Sub(t.StartedAt) > timeout {
			expired = append(expired, t)
			delete(p.typing, k)
		}
	}
	sortTyping(expired)
	return expired
}

func sortTyping(list []TypingEntry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].ChatID != list[j].ChatID {
			return list[i].ChatID < list[j].ChatID
		}
		return list[i].UserID < list[j].UserID
	})
}
