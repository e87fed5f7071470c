package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/storage"
)

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Bus — общая шина рассылки между инстансами API (Redis pub/sub).
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handle func([]byte)) error
}

const busChannel = "chatline:events"

// Limits — ограничения соединений и таймеры индикатора набора.
type Limits struct {
	MaxConns       int
	SendBuffer     int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
	TypingTimeout  time.Duration
	TypingSweep    time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxConns <= 0 {
		l.MaxConns = 10000
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = 256
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = 65536
	}
	if l.PongWait <= 0 {
		l.PongWait = 60 * time.Second
	}
	if l.WriteWait <= 0 {
		l.WriteWait = 10 * time.Second
	}
	if l.TypingTimeout <= 0 {
		l.TypingTimeout = 10 * time.Second
	}
	if l.TypingSweep <= 0 {
		l.TypingSweep = 10 * time.Second
	}
	return l
}

type scope string

const scopeRoom scope = "room"

// frame — адресованное событие; через шину ходит в JSON.
type frame struct {
	Scope  scope           `json:"scope"`
	Target string          `json:"target"`
	Except string          `json:"except,omitempty"` // id сокета-отправителя
	Event  EventType       `json:"event"`
	Data   json.RawMessage `json:"data"`
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // user id -> сокеты
	rooms      map[string]map[*Client]struct{} // chat id -> сокеты
	total      int
	limits     Limits
	chats      *service.ChatService
	users      storage.UserStore
	presence   *Presence
	push       PushNotifier
	bus        Bus
	register   chan *Client
	unregister chan *Client
	stopping   chan struct{}
	done       chan struct{}
}

func NewHub(chats *service.ChatService, users storage.UserStore, presence *Presence, limits Limits, push PushNotifier) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		limits:     limits.withDefaults(),
		chats:      chats,
		users:      users,
		presence:   presence,
		push:       push,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// UseBus подписывает хаб на шину; вызывать до Run и до приёма соединений.
// С шиной события комнат и пользователей доставляются через Redis, включая собственный инстанс.
func (h *Hub) UseBus(ctx context.Context, bus Bus) error {
	if err := bus.Subscribe(ctx, busChannel, h.onBusFrame); err != nil {
		return err
	}
	h.bus = bus
	return nil
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Done закрывается после остановки Run.
func (h *Hub) Done() <-chan struct{} { return h.done }

// RunTypingSweeper раз в TypingSweep снимает индикаторы старше TypingTimeout. Останавливается по ctx.
func (h *Hub) RunTypingSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.limits.TypingSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SweepTyping()
		}
	}
}

// SweepTyping выполняет один проход очистки и возвращает число снятых индикаторов.
func (h *Hub) SweepTyping() int {
	expired := h.presence.Sweep(h.limits.TypingTimeout)
	for _, t := range expired {
		h.emit(scopeRoom, t.ChatID, "", EventUserTyping, stoppedTyping(t))
	}
	return len(expired)
}

func stoppedTyping(t TypingEntry) TypingPayload {
	return TypingPayload{ChatID: t.ChatID, UserID: t.UserID, Username: t.Username, IsTyping: false}
}

func (h *Hub) shutdown() {
	close(h.stopping)
	// Собираем клиентов под локом, I/O — вне его.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	if c.closed() {
		logger.Debugf("ws skip closed socket user=%s socket=%s", c.userID, c.id)
		return
	}
	h.mu.Lock()
	if h.total >= h.limits.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.limits.MaxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if h.presence.Connect(c.user, c.id) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.users.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
		cancel()
	}
	logger.Debugf("ws connected user=%s socket=%s", c.userID, c.id)
	h.broadcastOnline()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	for chatID := range c.rooms {
		h.leaveLocked(c, chatID)
	}
	h.mu.Unlock()

	c.Close()

	last, cleared := h.presence.Disconnect(c.userID, c.id)
	for _, t := range cleared {
		h.emit(scopeRoom, t.ChatID, c.id, EventUserTyping, stoppedTyping(t))
	}
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.users.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		cancel()
	}
	logger.Debugf("ws disconnected user=%s socket=%s", c.userID, c.id)
	h.broadcastOnline()
}

// broadcastOnline рассылает таблицу присутствия всем сокетам этого инстанса.
func (h *Hub) broadcastOnline() {
	out := OutgoingMessage{Event: EventOnlineUsers, Data: h.presence.Online()}
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

// HandleMessage разбирает входящий кадр и вызывает обработчик события.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	switch msg.Event {
	case EventJoinChat:
		h.handleJoinChat(ctx, c, msg.Data)
	case EventLeaveChat:
		h.handleLeaveChat(c, msg.Data)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg.Data)
	case EventTyping:
		h.handleTyping(ctx, c, msg.Data)
	case EventAddReaction:
		h.handleAddReaction(ctx, c, msg.Data)
	case EventMarkAsRead:
		h.handleMarkAsRead(ctx, c, msg.Data)
	default:
		h.sendError(c, "Unknown event")
	}
}

func (h *Hub) handleJoinChat(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleJoinChat", time.Now())()
	chatID := chatRef(raw)
	if chatID == "" {
		h.sendError(c, "chatId is required")
		return
	}
	if err := h.chats.JoinChat(ctx, chatID, c.userID); err != nil {
		h.fail(c, "join chat", err)
		return
	}
	h.mu.Lock()
	h.joinLocked(c, chatID)
	h.mu.Unlock()
	h.emit(scopeRoom, chatID, c.id, EventUserJoinedChat, UserJoinedPayload{
		ChatID: chatID, UserID: c.userID, Username: c.user.Username,
	})
}

func (h *Hub) handleLeaveChat(c *Client, raw json.RawMessage) {
	chatID := chatRef(raw)
	if chatID == "" {
		return
	}
	h.mu.Lock()
	h.leaveLocked(c, chatID)
	h.mu.Unlock()
	if h.presence.StopTyping(chatID, c.userID) {
		h.emit(scopeRoom, chatID, c.id, EventUserTyping, TypingPayload{
			ChatID: chatID, UserID: c.userID, Username: c.user.Username, IsTyping: false,
		})
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	var req service.SendRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.sendError(c, "Invalid message payload")
		return
	}
	m, err := h.chats.SendMessage(ctx, c.userID, req)
	if err != nil {
		h.fail(c, "send message", err)
		return
	}
	h.emit(scopeRoom, m.ChatID, "", EventReceiveMessage, m)
	if !h.inRoom(c, m.ChatID) {
		h.sendToClient(c, OutgoingMessage{Event: EventReceiveMessage, Data: m})
	}
	h.notifyOffline(ctx, m)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, raw json.RawMessage) {
	var req TypingRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ChatID == "" {
		h.sendError(c, "chatId is required")
		return
	}
	if !h.inRoom(c, req.ChatID) {
		ok, err := h.chats.IsParticipant(ctx, req.ChatID, c.userID)
		if err != nil {
			logger.Errorf("ws typing membership chat=%s user=%s: %v", req.ChatID, c.userID, err)
			return
		}
		if !ok {
			h.sendError(c, "Access denied to this chat")
			return
		}
	}
	if req.IsTyping {
		h.presence.StartTyping(req.ChatID, c.userID, c.user.Username)
	} else {
		h.presence.StopTyping(req.ChatID, c.userID)
	}
	h.emit(scopeRoom, req.ChatID, c.id, EventUserTyping, TypingPayload{
		ChatID: req.ChatID, UserID: c.userID, Username: c.user.Username, IsTyping: req.IsTyping,
	})
}

func (h *Hub) handleAddReaction(ctx context.Context, c *Client, raw json.RawMessage) {
	var req ReactionRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.MessageID == "" {
		h.sendError(c, "messageId is required")
		return
	}
	upd, err := h.chats.React(ctx, req.MessageID, c.userID, req.Emoji)
	if err != nil {
		h.fail(c, "update reaction", err)
		return
	}
	h.emit(scopeRoom, upd.ChatID, "", EventReactionUpdate, upd)
}

func (h *Hub) handleMarkAsRead(ctx context.Context, c *Client, raw json.RawMessage) {
	var req MarkReadRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ChatID == "" {
		h.sendError(c, "chatId is required")
		return
	}
	at, ids, err := h.chats.MarkRead(ctx, req.ChatID, c.userID, req.MessageIDs)
	if err != nil {
		h.fail(c, "mark messages as read", err)
		return
	}
	h.emit(scopeRoom, req.ChatID, c.id, EventMessagesRead, MessagesReadPayload{
		ChatID: req.ChatID, UserID: c.userID, MessageIDs: ids, ReadAt: at,
	})
}

// notifyOffline отправляет пуш участникам без открытых сокетов и без активного mute.
func (h *Hub) notifyOffline(ctx context.Context, m *model.Message) {
	if h.push == nil {
		return
	}
	chat, err := h.chats.Chat(ctx, m.ChatID, m.SenderID)
	if err != nil {
		logger.Errorf("ws push recipients chat=%s: %v", m.ChatID, err)
		return
	}
	title := "New message"
	if m.Sender != nil && m.Sender.Username != "" {
		title = m.Sender.Username
	}
	if chat.IsGroupChat && chat.GroupName != "" {
		title = title + " @ " + chat.GroupName
	}
	body := m.Content
	if (m.MessageType != model.MessageTypeText && m.MessageType != model.MessageTypeReply) || body == "" {
		body = "Attachment"
	}
	if utf8.RuneCountInString(body) > 120 {
		body = string([]rune(body)[:117]) + "..."
	}
	data := map[string]string{"chatId": m.ChatID, "messageId": m.ID}
	now := time.Now()
	for _, p := range chat.Participants {
		if p.UserID == m.SenderID || h.presence.IsOnline(p.UserID) || chat.MutedFor(p.UserID, now) {
			continue
		}
		go h.push.Notify(context.Background(), p.UserID, title, body, data)
	}
}

// ToRoom рассылает событие всем сокетам, вошедшим в комнату чата (включая отправителя).
func (h *Hub) ToRoom(chatID string, event EventType, data any) {
	h.emit(scopeRoom, chatID, "", event, data)
}

// emit адресует событие; except — id сокета, которому не доставлять.
func (h *Hub) emit(sc scope, target, except string, event EventType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("ws marshal %s: %v", event, err)
		return
	}
	f := frame{Scope: sc, Target: target, Except: except, Event: event, Data: raw}
	if h.bus != nil {
		payload, err := json.Marshal(f)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = h.bus.Publish(ctx, busChannel, payload)
			cancel()
			if err == nil {
				return
			}
		}
		logger.Errorf("ws bus publish %s: %v (доставка только локально)", event, err)
	}
	h.deliver(f)
}

func (h *Hub) onBusFrame(payload []byte) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		logger.Errorf("ws bus frame: %v", err)
		return
	}
	h.deliver(f)
}

// deliver отправляет кадр локальным сокетам адресата.
func (h *Hub) deliver(f frame) {
	h.mu.RLock()
	var set map[*Client]struct{}
	if f.Scope == scopeRoom {
		set = h.rooms[f.Target]
	}
	targets := make([]*Client, 0, len(set))
	for c := range set {
		if c.id != f.Except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	out := OutgoingMessage{Event: f.Event, Data: f.Data}
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) joinLocked(c *Client, chatID string) {
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Client]struct{})
	}
	h.rooms[chatID][c] = struct{}{}
	c.rooms[chatID] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, chatID string) {
	if room, ok := h.rooms[chatID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(c.rooms, chatID)
}

func (h *Hub) inRoom(c *Client, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[chatID]
	return ok
}

// fail отправляет клиенту текст ошибки сервиса; неожиданные ошибки логируются.
func (h *Hub) fail(c *Client, op string, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		h.sendError(c, svcErr.Msg)
		return
	}
	logger.Errorf("ws %s user=%s: %v", op, c.userID, err)
	h.sendError(c, "Failed to "+op)
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, OutgoingMessage{Event: EventError, Data: msg})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Буфер отправки полон — закрываем медленного клиента.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopping:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}
