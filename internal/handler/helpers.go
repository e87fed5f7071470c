package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/ws"
)

// Broadcaster рассылает события в комнату чата (ws.Hub).
type Broadcaster interface {
	ToRoom(chatID string, event ws.EventType, data any)
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError выбирает статус по виду ошибки сервиса; прочие ошибки логируются и отдаются как 500.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, service.Message(err))
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, service.Message(err))
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, service.Message(err))
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrDeleteWindow),
		errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusBadRequest, service.Message(err))
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, service.Message(err))
	}
}

// decodeJSON читает тело запроса; пустое тело оставляет v нулевым.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
