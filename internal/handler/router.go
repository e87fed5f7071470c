package handler

import (
	"net/http"
	"strings"

	"github.com/chatline/internal/config"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps — зависимости HTTP-слоя API.
type Deps struct {
	Config *config.Config
	Auth   *service.AuthService
	Chats  *service.ChatService
	Hub    *ws.Hub
	Push   Subscriber
	// RateLimitIP и RateLimitUser — nil отключает соответствующий лимит.
	RateLimitIP   *middleware.RateLimiter
	RateLimitUser *middleware.RateLimiter
}

// NewRouter собирает роутер API: публичные маршруты, /api под bearer-токеном и /ws.
func NewRouter(d Deps) http.Handler {
	authH := NewAuthHandler(d.Auth)
	chatH := NewChatHandler(d.Chats, d.Hub)
	msgH := NewMessageHandler(d.Chats, d.Hub)
	configH := NewConfigHandler(d.Config)
	pushH := NewPushHandler(d.Push)
	wsH := NewWSHandler(d.Hub, d.Config.AllowedOrigins())

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RateLimit(d.RateLimitIP, nil))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Chat Server is running!"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Post("/api/auth/register", authH.Register)
	r.Post("/api/auth/login", authH.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.Auth))
		r.Use(middleware.RateLimit(nil, d.RateLimitUser))

		r.Get("/api/auth/profile", authH.GetProfile)
		r.Put("/api/auth/profile", authH.UpdateProfile)
		r.Get("/api/auth/users", authH.ListUsers)
		r.Post("/api/auth/logout", authH.Logout)

		r.Get("/api/chats", chatH.ListChats)
		r.Post("/api/chats/individual", chatH.CreateDirectChat)
		r.Post("/api/chats/group", chatH.CreateGroupChat)
		r.Get("/api/chats/{chatId}/messages", chatH.GetMessages)
		r.Get("/api/chats/{chatId}/search", chatH.SearchMessages)
		r.Patch("/api/chats/{chatId}/archive", chatH.Archive)
		r.Patch("/api/chats/{chatId}/mute", chatH.Mute)

		r.Post("/api/chats/messages/{messageId}/react", msgH.React)
		r.Patch("/api/chats/messages/{messageId}", msgH.Edit)
		r.Delete("/api/chats/messages/{messageId}", msgH.Delete)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
