package handler

import (
	"net/http"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type sessionResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    *model.User `json:"user"`
}

type userResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

type updateProfileRequest struct {
	Profile model.Profile `json:"profile"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sess, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Message: "User registered successfully", Token: sess.Token, User: sess.User})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sess, err := h.auth.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Message: "Login successful", Token: sess.Token, User: sess.User})
}

func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	u, err := h.auth.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), req.Profile)
	if err != nil {
		writeServiceError(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Message: "Profile updated successfully", User: u})
}

// ListUsers — все пользователи, кроме текущего.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.auth.Users(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
