package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatline/internal/auth"
	"github.com/chatline/internal/config"
	"github.com/chatline/internal/handler"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/storage/memory"
	"github.com/chatline/internal/ws"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	mu   sync.Mutex
	subs map[string][]string
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, userID string, sub model.PushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[userID] = append(f.subs[userID], sub.Endpoint)
	return nil
}

func (f *fakeSubscriber) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.subs[userID][:0]
	for _, e := range f.subs[userID] {
		if e != endpoint {
			kept = append(kept, e)
		}
	}
	f.subs[userID] = kept
	return nil
}

func (f *fakeSubscriber) endpoints(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs[userID]...)
}

type api struct {
	t    *testing.T
	srv  *httptest.Server
	push *fakeSubscriber
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memory.New().Store()
	authSvc := service.NewAuthService(store.Users, auth.NewTokens("test-secret", time.Hour))
	chats := service.NewChatService(store)
	hub := ws.NewHub(chats, store.Users, ws.NewPresence(time.Now), ws.Limits{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	push := &fakeSubscriber{subs: make(map[string][]string)}
	cfg := &config.Config{
		CORSAllowedOrigins: "*",
		PushServiceURL:     "http://push.internal",
		PushVAPIDPublicKey: "BPublicKey",
	}
	srv := httptest.NewServer(handler.NewRouter(handler.Deps{
		Config: cfg,
		Auth:   authSvc,
		Chats:  chats,
		Hub:    hub,
		Push:   push,
	}))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return &api{t: t, srv: srv, push: push}
}

// do выполняет запрос и раскодирует JSON-ответ в out (если out не nil).
func (a *api) do(method, path, token string, body any, out any) int {
	a.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type session struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    model.User `json:"user"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *api) register(name string) session {
	a.t.Helper()
	var s session
	code := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "secret123",
	}, &s)
	require.Equal(a.t, http.StatusCreated, code)
	require.NotEmpty(a.t, s.Token)
	return s
}

func (a *api) direct(s session, other string) model.Chat {
	a.t.Helper()
	var chat model.Chat
	require.Equal(a.t, http.StatusOK, a.do(http.MethodPost, "/api/chats/individual", s.Token, map[string]string{"otherUserId": other}, &chat))
	return chat
}

func TestRouter_PublicRoutes(t *testing.T) {
	a := newAPI(t)

	var root struct {
		Message string `json:"message"`
	}
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/", "", nil, &root))
	assert.Equal(t, "Chat Server is running!", root.Message)

	resp, err := a.srv.Client().Get(a.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var pushCfg struct {
		Enabled bool   `json:"enabled"`
		Key     string `json:"vapid_public_key"`
	}
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/config/push", "", nil, &pushCfg))
	assert.True(t, pushCfg.Enabled)
	assert.Equal(t, "BPublicKey", pushCfg.Key)
}

func TestRouter_AuthFlow(t *testing.T) {
	a := newAPI(t)
	alice := a.register("alice")
	assert.Equal(t, "User registered successfully", alice.Message)
	assert.Equal(t, "alice@example.com", alice.User.Email)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret123",
	}, &e))
	assert.Equal(t, "Username already taken", e.Error)

	var login session
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret123",
	}, &login))
	assert.Equal(t, "Login successful", login.Message)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	}, &e))
	assert.Equal(t, "Invalid email or password", e.Error)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/auth/profile", "", nil, &e))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/auth/profile", "garbage", nil, &e))

	var me model.User
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/auth/profile", login.Token, nil, &me))
	assert.Equal(t, alice.User.ID, me.ID)

	var updated struct {
		Message string     `json:"message"`
		User    model.User `json:"user"`
	}
	assert.Equal(t, http.StatusOK, a.do(http.MethodPut, "/api/auth/profile", login.Token, map[string]any{
		"profile": map[string]string{"firstName": "Alice", "bio": "hi"},
	}, &updated))
	assert.Equal(t, "Profile updated successfully", updated.Message)
	assert.Equal(t, "Alice", updated.User.Profile.FirstName)

	bob := a.register("bob")
	var users []model.UserPublic
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/auth/users", alice.Token, nil, &users))
	require.Len(t, users, 1)
	assert.Equal(t, bob.User.ID, users[0].ID)

	var out struct {
		Message string `json:"message"`
	}
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/auth/logout", alice.Token, nil, &out))
	assert.Equal(t, "Logged out successfully", out.Message)
}

func TestRouter_ChatsAndMessages(t *testing.T) {
	a := newAPI(t)
	alice, bob, carol := a.register("alice"), a.register("bob"), a.register("carol")

	chat := a.direct(alice, bob.User.ID)
	again := a.direct(bob, alice.User.ID)
	assert.Equal(t, chat.ID, again.ID)

	var e errorBody
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/chats/individual", alice.Token, map[string]string{"otherUserId": "missing"}, &e))

	var group model.Chat
	assert.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/chats/group", alice.Token, map[string]any{
		"name": "team", "memberIds": []string{bob.User.ID, carol.User.ID},
	}, &group))
	assert.True(t, group.IsGroupChat)
	assert.Len(t, group.Participants, 3)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/chats/group", alice.Token, map[string]any{"name": " "}, &e))

	var list []model.ChatSummary
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/chats", carol.Token, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, group.ID, list[0].ID)

	var msgs []model.Message
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/chats/"+chat.ID+"/messages", alice.Token, nil, &msgs))
	assert.Empty(t, msgs)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/chats/"+chat.ID+"/messages", carol.Token, nil, &e))

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/chats/"+chat.ID+"/search?query=(", alice.Token, nil, &e))
	assert.Equal(t, "Invalid search pattern", e.Error)

	var msg struct {
		Message string `json:"message"`
	}
	assert.Equal(t, http.StatusOK, a.do(http.MethodPatch, "/api/chats/"+chat.ID+"/archive", alice.Token, map[string]bool{"archive": true}, &msg))
	assert.Equal(t, "Chat archived", msg.Message)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/chats?archived=true", alice.Token, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, chat.ID, list[0].ID)

	assert.Equal(t, http.StatusOK, a.do(http.MethodPatch, "/api/chats/"+group.ID+"/mute", bob.Token, map[string]any{"mute": true, "duration": 2}, &msg))
	assert.Equal(t, "Chat muted", msg.Message)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPatch, "/api/chats/"+chat.ID+"/mute", carol.Token, map[string]any{"mute": true}, &e))
}

// dialWS открывает сокет с токеном в query и ждёт собственной регистрации.
func dialWS(t *testing.T, a *api, s session) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?token=" + s.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	for {
		var users []ws.OnlineUser
		if data := readEvent(t, conn, ws.EventOnlineUsers); json.Unmarshal(data, &users) == nil {
			for _, u := range users {
				if u.ID == s.User.ID {
					return conn
				}
			}
		}
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, event ws.EventType) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var in ws.IncomingMessage
		require.NoError(t, conn.ReadJSON(&in), "waiting for %s", event)
		if in.Event == event {
			return in.Data
		}
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, chatID string) {
	t.Helper()
	raw, _ := json.Marshal(chatID)
	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Event: ws.EventJoinChat, Data: raw}))
	// Неизвестное событие возвращается ошибкой после обработки joinChat.
	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Event: "ping"}))
	readEvent(t, conn, ws.EventError)
}

func TestRouter_MessageLifecycleOverWS(t *testing.T) {
	a := newAPI(t)
	alice, bob := a.register("alice"), a.register("bob")
	chat := a.direct(alice, bob.User.ID)

	aconn := dialWS(t, a, alice)
	bconn := dialWS(t, a, bob)
	joinRoom(t, aconn, chat.ID)
	joinRoom(t, bconn, chat.ID)

	raw, _ := json.Marshal(service.SendRequest{ChatID: chat.ID, Content: "hello there"})
	require.NoError(t, aconn.WriteJSON(ws.IncomingMessage{Event: ws.EventSendMessage, Data: raw}))
	var m model.Message
	require.NoError(t, json.Unmarshal(readEvent(t, bconn, ws.EventReceiveMessage), &m))
	assert.Equal(t, "hello there", m.Content)

	// Чтение страницы отмечает сообщение прочитанным и уведомляет комнату.
	var msgs []model.Message
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/chats/"+chat.ID+"/messages", bob.Token, nil, &msgs))
	require.Len(t, msgs, 1)
	var read ws.MessagesReadPayload
	require.NoError(t, json.Unmarshal(readEvent(t, aconn, ws.EventMessagesRead), &read))
	assert.Equal(t, []string{m.ID}, read.MessageIDs)

	var found []model.Message
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/chats/"+chat.ID+"/search?query=HELLO", bob.Token, nil, &found))
	assert.Len(t, found, 1)

	var reactions []model.Reaction
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/chats/messages/"+m.ID+"/react", bob.Token, map[string]string{"emoji": "👍"}, &reactions))
	require.Len(t, reactions, 1)
	readEvent(t, aconn, ws.EventReactionUpdate)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/chats/messages/"+m.ID+"/react", bob.Token, map[string]string{"emoji": "nope"}, &e))

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPatch, "/api/chats/messages/"+m.ID, bob.Token, map[string]string{"content": "hijack"}, &e))
	var edited model.Message
	require.Equal(t, http.StatusOK, a.do(http.MethodPatch, "/api/chats/messages/"+m.ID, alice.Token, map[string]string{"content": "hello again"}, &edited))
	assert.True(t, edited.IsEdited)
	require.NoError(t, json.Unmarshal(readEvent(t, bconn, ws.EventMessageEdited), &edited))
	assert.Equal(t, "hello again", edited.Content)

	var out struct {
		Message string `json:"message"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/api/chats/messages/"+m.ID, alice.Token, map[string]bool{"deleteForEveryone": true}, &out))
	assert.Equal(t, "Message deleted", out.Message)
	var deleted ws.MessageDeletedPayload
	require.NoError(t, json.Unmarshal(readEvent(t, bconn, ws.EventMessageDeleted), &deleted))
	assert.Equal(t, m.ID, deleted.MessageID)
	assert.Equal(t, model.DeletedContent, deleted.Content)
}

func TestRouter_WSRejectsBadToken(t *testing.T) {
	a := newAPI(t)
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_PushSubscribe(t *testing.T) {
	a := newAPI(t)
	alice := a.register("alice")

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/push/subscribe", alice.Token, map[string]any{
		"subscription": map[string]string{"endpoint": "https://push.example/1"},
	}, &e))

	sub := model.PushSubscription{Endpoint: "https://push.example/1", Keys: model.PushKeys{P256dh: "p", Auth: "a"}}
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/api/push/subscribe", alice.Token, map[string]any{"subscription": sub}, nil))
	assert.Equal(t, []string{sub.Endpoint}, a.push.endpoints(alice.User.ID))

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/push/subscribe", alice.Token, map[string]string{"endpoint": sub.Endpoint}, nil))
	assert.Empty(t, a.push.endpoints(alice.User.ID))
}
