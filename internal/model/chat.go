package model

import "time"

type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

type Participant struct {
	UserID   string          `json:"userId"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joinedAt"`
	User     *UserPublic     `json:"user,omitempty"`
}

// MuteSetting — отключённые уведомления участника. MutedUntil == nil — бессрочно.
type MuteSetting struct {
	UserID     string     `json:"userId"`
	MutedUntil *time.Time `json:"mutedUntil"`
}

// Active сообщает, действует ли mute на момент now.
func (m MuteSetting) Active(now time.Time) bool {
	return m.MutedUntil == nil || m.MutedUntil.After(now)
}

type Chat struct {
	ID               string        `json:"id"`
	IsGroupChat      bool          `json:"isGroupChat"`
	GroupName        string        `json:"groupName,omitempty"`
	GroupAvatar      string        `json:"groupAvatar,omitempty"`
	GroupDescription string        `json:"groupDescription,omitempty"`
	Participants     []Participant `json:"participants"`
	LastMessageID    *string       `json:"lastMessageId,omitempty"`
	LastActivity     time.Time     `json:"lastActivity"`
	IsArchived       bool          `json:"isArchived"`
	MutedBy          []MuteSetting `json:"mutedBy"`
	CreatedBy        string        `json:"createdBy"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// HasParticipant проверяет членство по уже загруженному списку участников.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// MutedFor возвращает true, если у userID активен mute на момент now.
func (c *Chat) MutedFor(userID string, now time.Time) bool {
	for _, m := range c.MutedBy {
		if m.UserID == userID {
			return m.Active(now)
		}
	}
	return false
}

// ChatSummary — элемент списка чатов пользователя.
type ChatSummary struct {
	Chat
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
	Muted       bool     `json:"muted"`
}

// DirectKey — канонический ключ личного чата (пара в порядке сортировки).
func DirectKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
