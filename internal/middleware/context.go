package middleware

import (
	"context"

	"github.com/chatline/internal/model"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	userKey   contextKey = "user"
)

// GetUserID возвращает user_id из контекста (устанавливается Auth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetUser возвращает пользователя, найденного Auth по токену.
func GetUser(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}

// WithUser кладёт пользователя и его id в контекст.
func WithUser(ctx context.Context, u *model.User) context.Context {
	ctx = context.WithValue(ctx, userKey, u)
	return context.WithValue(ctx, UserIDKey, u.ID)
}
