package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/chatline/internal/auth"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/google/uuid"
)

// Валидация email: допустимый формат (упрощённый, без полного RFC).
var emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	minPasswordLen = 6
	// maxPasswordLen — предел bcrypt в байтах.
	maxPasswordLen = 72
)

type AuthService struct {
	users  storage.UserStore
	tokens *auth.Tokens
}

func NewAuthService(users storage.UserStore, tokens *auth.Tokens) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

type RegisterRequest struct {
	Username string        `json:"username"`
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Profile  model.Profile `json:"profile"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session — выданный токен и пользователь.
type Session struct {
	Token string
	User  *model.User
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if username == "" || email == "" || req.Password == "" {
		return nil, fail(ErrValidation, "All fields are required")
	}
	if !emailRegexp.MatchString(email) {
		return nil, fail(ErrValidation, "Invalid email format")
	}
	if len(req.Password) < minPasswordLen {
		return nil, fail(ErrValidation, "Password must be at least 6 characters")
	}
	if len(req.Password) > maxPasswordLen {
		return nil, fail(ErrValidation, "Password must be at most 72 bytes")
	}

	existing, err := s.users.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil:
		if existing.Username == username {
			return nil, fail(ErrConflict, "Username already taken")
		}
		return nil, fail(ErrConflict, "Email already registered")
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Profile:      req.Profile,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fail(ErrConflict, "User already exists")
		}
		return nil, err
	}
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Login проверяет пароль и отмечает пользователя online.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return nil, fail(ErrValidation, "Email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fail(ErrUnauthorized, "Invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, fail(ErrUnauthorized, "Invalid email or password")
	}
	if err := s.users.SetOnline(ctx, u.ID, true); err != nil {
		return nil, err
	}
	u.IsOnline = true
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Authenticate проверяет токен и существование пользователя.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, fail(ErrUnauthorized, "No token provided")
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, fail(ErrUnauthorized, "Invalid token")
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fail(ErrUnauthorized, "Invalid token")
	}
	return u, err
}

func (s *AuthService) Profile(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fail(ErrNotFound, "User not found")
	}
	return u, err
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, p model.Profile) (*model.User, error) {
	u, err := s.users.UpdateProfile(ctx, userID, p)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fail(ErrNotFound, "User not found")
	}
	return u, err
}

// Users — все остальные пользователи: сначала online, затем недавно заходившие.
func (s *AuthService) Users(ctx context.Context, userID string) ([]model.UserPublic, error) {
	list, err := s.users.ListOthers(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserPublic, len(list))
	for i := range list {
		out[i] = list[i].ToPublic()
	}
	return out, nil
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.users.SetOnline(ctx, userID, false)
}
