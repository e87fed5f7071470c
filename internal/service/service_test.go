package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/chatline/internal/auth"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/chatline/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock — управляемое время для ChatService.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store *storage.Store
	auth  *AuthService
	chats *ChatService
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New().Store()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	chats := NewChatService(store)
	chats.now = c.now
	return &fixture{
		store: store,
		auth:  NewAuthService(store.Users, auth.NewTokens("test-secret", time.Hour)),
		chats: chats,
		clock: c,
	}
}

func (f *fixture) register(t *testing.T, name string) *model.User {
	t.Helper()
	sess, err := f.auth.Register(context.Background(), RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)
	return sess.User
}

func (f *fixture) send(t *testing.T, chatID, userID, content string) *model.Message {
	t.Helper()
	f.clock.advance(time.Second)
	m, err := f.chats.SendMessage(context.Background(), userID, SendRequest{ChatID: chatID, Content: content})
	require.NoError(t, err)
	return m
}

func assertKind(t *testing.T, err error, kind error, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	assert.Equal(t, msg, Message(err))
}

func TestAuth_RegisterLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	assert.NotEmpty(t, alice.PasswordHash)

	_, err := f.auth.Register(ctx, RegisterRequest{Username: "alice", Email: "other@example.com", Password: "secret123"})
	assertKind(t, err, ErrConflict, "Username already taken")

	_, err = f.auth.Register(ctx, RegisterRequest{Username: "bob", Email: "ALICE@example.com", Password: "secret123"})
	assertKind(t, err, ErrConflict, "Email already registered")

	_, err = f.auth.Register(ctx, RegisterRequest{Username: "bob", Email: "bob@example.com"})
	assertKind(t, err, ErrValidation, "All fields are required")

	_, err = f.auth.Register(ctx, RegisterRequest{Username: "bob", Email: "bob@example.com", Password: strings.Repeat("x", 80)})
	assertKind(t, err, ErrValidation, "Password must be at most 72 bytes")

	_, err = f.auth.Register(ctx, RegisterRequest{Username: "bob", Email: "nope", Password: "secret123"})
	assertKind(t, err, ErrValidation, "Invalid email format")

	_, err = f.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-pass"})
	assertKind(t, err, ErrUnauthorized, "Invalid email or password")

	sess, err := f.auth.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.True(t, sess.User.IsOnline)

	u, err := f.auth.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)

	_, err = f.auth.Authenticate(ctx, "")
	assertKind(t, err, ErrUnauthorized, "No token provided")
	_, err = f.auth.Authenticate(ctx, "garbage")
	assertKind(t, err, ErrUnauthorized, "Invalid token")
}

func TestAuth_UsersOnlineFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	f.register(t, "bob")
	carol := f.register(t, "carol")
	require.NoError(t, f.store.Users.SetOnline(ctx, carol.ID, true))

	users, err := f.auth.Users(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "carol", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)

	updated, err := f.auth.UpdateProfile(ctx, alice.ID, model.Profile{FirstName: "Alice", Bio: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Profile.FirstName)

	_, err = f.auth.UpdateProfile(ctx, "missing", model.Profile{})
	assertKind(t, err, ErrNotFound, "User not found")
}

func TestDirect_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")

	first, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	second, err := f.chats.Direct(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Participants, 2)

	_, err = f.chats.Direct(ctx, alice.ID, alice.ID)
	assertKind(t, err, ErrValidation, "Cannot create a chat with yourself")
	_, err = f.chats.Direct(ctx, alice.ID, "ghost")
	assertKind(t, err, ErrNotFound, "User not found")
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.register(t, "alice"), f.register(t, "bob"), f.register(t, "carol")

	chat, err := f.chats.CreateGroup(ctx, alice.ID, GroupRequest{Name: " team ", MemberIDs: []string{bob.ID, carol.ID, bob.ID}})
	require.NoError(t, err)
	assert.True(t, chat.IsGroupChat)
	assert.Equal(t, "team", chat.GroupName)
	require.Len(t, chat.Participants, 3)
	roles := map[string]model.ParticipantRole{}
	for _, p := range chat.Participants {
		roles[p.UserID] = p.Role
	}
	assert.Equal(t, model.RoleAdmin, roles[alice.ID])
	assert.Equal(t, model.RoleMember, roles[bob.ID])

	_, err = f.chats.CreateGroup(ctx, alice.ID, GroupRequest{Name: "solo"})
	assertKind(t, err, ErrValidation, "A group needs at least one other member")
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.register(t, "alice"), f.register(t, "bob"), f.register(t, "eve")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	orig := f.send(t, chat.ID, alice.ID, "hello")
	require.NotNil(t, orig.Sender)
	assert.Equal(t, "alice", orig.Sender.Username)
	assert.Equal(t, model.MessageTypeText, orig.MessageType)

	reply, err := f.chats.SendMessage(ctx, bob.ID, SendRequest{ChatID: chat.ID, Content: "hi", ReplyTo: orig.ID, MessageType: model.MessageTypeReply})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "hello", reply.ReplyTo.Content)
	assert.Equal(t, "alice", reply.ReplyTo.Sender.Username)

	_, err = f.chats.SendMessage(ctx, eve.ID, SendRequest{ChatID: chat.ID, Content: "intrude"})
	assertKind(t, err, ErrForbidden, "Access denied to this chat")

	_, err = f.chats.SendMessage(ctx, alice.ID, SendRequest{ChatID: chat.ID, Content: "  "})
	assertKind(t, err, ErrValidation, "Message content is required")

	_, err = f.chats.SendMessage(ctx, alice.ID, SendRequest{ChatID: chat.ID, MessageType: model.MessageTypeImage,
		Attachments: []model.Attachment{{URL: "/f/1.png", Filename: "1.png"}}})
	assert.NoError(t, err)

	_, err = f.chats.SendMessage(ctx, alice.ID, SendRequest{ChatID: chat.ID, Content: "x", MessageType: "sticker"})
	assertKind(t, err, ErrValidation, "Invalid message type")

	_, err = f.chats.SendMessage(ctx, alice.ID, SendRequest{ChatID: chat.ID, Content: "x", ReplyTo: "missing"})
	assertKind(t, err, ErrValidation, "Reply target not found")
}

func TestReact_ReplaceAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	m := f.send(t, chat.ID, alice.ID, "hello")

	upd, err := f.chats.React(ctx, m.ID, bob.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, upd.ChatID)
	require.Len(t, upd.Reactions, 1)

	upd, err = f.chats.React(ctx, m.ID, bob.ID, "🔥")
	require.NoError(t, err)
	require.Len(t, upd.Reactions, 1)
	assert.Equal(t, "🔥", upd.Reactions[0].Emoji)
	assert.Equal(t, "bob", upd.Reactions[0].Username)

	upd, err = f.chats.React(ctx, m.ID, alice.ID, "😂")
	require.NoError(t, err)
	assert.Len(t, upd.Reactions, 2)

	upd, err = f.chats.React(ctx, m.ID, bob.ID, "")
	require.NoError(t, err)
	require.Len(t, upd.Reactions, 1)
	assert.Equal(t, alice.ID, upd.Reactions[0].UserID)

	_, err = f.chats.React(ctx, m.ID, bob.ID, "not an emoji")
	assertKind(t, err, ErrValidation, "Reaction must be a single emoji")
	_, err = f.chats.React(ctx, m.ID, bob.ID, "👍👍")
	assertKind(t, err, ErrValidation, "Reaction must be a single emoji")
	_, err = f.chats.React(ctx, "missing", bob.ID, "👍")
	assertKind(t, err, ErrNotFound, "Message not found")
}

func TestReceipts_NotDuplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	m := f.send(t, chat.ID, alice.ID, "hello")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.chats.JoinChat(ctx, chat.ID, bob.ID))
		_, ids, err := f.chats.MarkRead(ctx, chat.ID, bob.ID, []string{m.ID, m.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{m.ID}, ids)
	}
	_, ids, err := f.chats.MarkRead(ctx, chat.ID, alice.ID, []string{m.ID})
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := f.store.Messages.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, got.DeliveredTo, 1)
	require.Len(t, got.ReadBy, 1)
	assert.Equal(t, bob.ID, got.ReadBy[0].UserID)
}

func TestDelete_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	fresh := f.send(t, chat.ID, alice.ID, "fresh")
	f.clock.advance(9 * time.Minute)
	deleted, err := f.chats.DeleteMessage(ctx, fresh.ID, alice.ID, true)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, model.DeletedContent, deleted.Content)

	old := f.send(t, chat.ID, alice.ID, "old")
	f.clock.advance(10*time.Minute + time.Second)
	_, err = f.chats.DeleteMessage(ctx, old.ID, alice.ID, true)
	assertKind(t, err, ErrDeleteWindow, "Can only delete for everyone within 10 minutes")

	_, err = f.chats.DeleteMessage(ctx, old.ID, bob.ID, false)
	assertKind(t, err, ErrForbidden, "You can only delete your own messages")

	// «Для себя» — без ограничения по времени и идемпотентно.
	for i := 0; i < 2; i++ {
		_, err = f.chats.DeleteMessage(ctx, old.ID, alice.ID, false)
		require.NoError(t, err)
	}
	got, err := f.store.Messages.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID}, got.DeletedFor)

	page, err := f.chats.Messages(ctx, chat.ID, alice.ID, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	page, err = f.chats.Messages(ctx, chat.ID, bob.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, old.ID, page.Messages[0].ID)
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	m := f.send(t, chat.ID, alice.ID, "helo")

	edited, err := f.chats.EditMessage(ctx, m.ID, alice.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "hello", edited.Content)
	require.Len(t, edited.EditHistory, 1)
	assert.Equal(t, "helo", edited.EditHistory[0].Content)

	_, err = f.chats.EditMessage(ctx, m.ID, bob.ID, "hijack")
	assertKind(t, err, ErrForbidden, "You can only edit your own messages")

	_, err = f.chats.DeleteMessage(ctx, m.ID, alice.ID, true)
	require.NoError(t, err)
	_, err = f.chats.EditMessage(ctx, m.ID, alice.ID, "again")
	assertKind(t, err, ErrValidation, "Cannot edit a deleted message")
}

func TestMessages_PaginationMarksRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		f.send(t, chat.ID, alice.ID, fmt.Sprintf("m%02d", i))
	}

	page, err := f.chats.Messages(ctx, chat.ID, bob.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 50)
	assert.Equal(t, "m10", page.Messages[0].Content)
	assert.Equal(t, "m59", page.Messages[49].Content)
	for i := 1; i < len(page.Messages); i++ {
		assert.True(t, page.Messages[i-1].Timestamp.Before(page.Messages[i].Timestamp))
	}
	assert.Len(t, page.ReadIDs, 50)
	assert.True(t, page.Messages[0].ReadByUser(bob.ID))

	list, err := f.chats.List(ctx, bob.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 10, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "m59", list[0].LastMessage.Content)

	page, err = f.chats.Messages(ctx, chat.ID, bob.ID, 2, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 10)
	assert.Equal(t, "m00", page.Messages[0].Content)

	// Повторная выдача не ставит новых отметок.
	page, err = f.chats.Messages(ctx, chat.ID, bob.ID, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, page.ReadIDs)

	page, err = f.chats.Messages(ctx, chat.ID, bob.ID, 1, 1000)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 60)

	page, err = f.chats.Messages(ctx, chat.ID, bob.ID, math.MaxInt, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)

	_, err = f.chats.Messages(ctx, chat.ID, f.register(t, "eve").ID, 1, 50)
	assertKind(t, err, ErrForbidden, "Access denied")
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	f.send(t, chat.ID, alice.ID, "Hello world")
	f.send(t, chat.ID, bob.ID, "nothing here")
	f.send(t, chat.ID, bob.ID, "HELLO again")

	found, err := f.chats.Search(ctx, chat.ID, alice.ID, "hello")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "HELLO again", found[0].Content)

	found, err = f.chats.Search(ctx, chat.ID, alice.ID, "^h.*d$")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = f.chats.Search(ctx, chat.ID, alice.ID, "(")
	assertKind(t, err, ErrValidation, "Invalid search pattern")
	_, err = f.chats.Search(ctx, chat.ID, alice.ID, " ")
	assertKind(t, err, ErrValidation, "Search query is required")
	_, err = f.chats.Search(ctx, chat.ID, f.register(t, "eve").ID, "hello")
	assertKind(t, err, ErrForbidden, "Access denied")
}

func TestArchiveAndMute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.register(t, "alice"), f.register(t, "bob"), f.register(t, "eve")
	chat, err := f.chats.Direct(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, f.chats.SetArchived(ctx, chat.ID, alice.ID, true))
	active, err := f.chats.List(ctx, alice.ID, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	archived, err := f.chats.List(ctx, alice.ID, true)
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	err = f.chats.SetArchived(ctx, chat.ID, eve.ID, true)
	assertKind(t, err, ErrNotFound, "Chat not found")

	hours := 1.0
	require.NoError(t, f.chats.SetMute(ctx, chat.ID, bob.ID, true, &hours))
	list, err := f.chats.List(ctx, bob.ID, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Muted)

	f.clock.advance(2 * time.Hour)
	list, err = f.chats.List(ctx, bob.ID, true)
	require.NoError(t, err)
	assert.False(t, list[0].Muted)

	require.NoError(t, f.chats.SetMute(ctx, chat.ID, bob.ID, true, nil))
	f.clock.advance(1000 * time.Hour)
	list, err = f.chats.List(ctx, bob.ID, true)
	require.NoError(t, err)
	assert.True(t, list[0].Muted)

	huge := 1e300
	require.NoError(t, f.chats.SetMute(ctx, chat.ID, bob.ID, true, &huge))
	f.clock.advance(1000 * time.Hour)
	list, err = f.chats.List(ctx, bob.ID, true)
	require.NoError(t, err)
	assert.True(t, list[0].Muted)

	require.NoError(t, f.chats.SetMute(ctx, chat.ID, bob.ID, false, nil))
	list, err = f.chats.List(ctx, bob.ID, true)
	require.NoError(t, err)
	assert.False(t, list[0].Muted)
}
