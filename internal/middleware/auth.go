package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatline/internal/auth"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/service"
)

// Authenticator проверяет токен и возвращает пользователя (service.AuthService).
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// Auth требует bearer-токен (или ?token= для WebSocket-рукопожатия). 401 при ошибке токена, 500 при сбое хранилища.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			u, err := a.Authenticate(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, service.ErrUnauthorized) {
					logger.Debugf("auth %s %s: %v (token %s)", r.Method, r.URL.Path, err, MaskToken(token))
				} else {
					// Сбой хранилища, а не плохой токен.
					status = http.StatusInternalServerError
					logger.Errorf("auth %s %s: %v", r.Method, r.URL.Path, err)
				}
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": service.Message(err)})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}
