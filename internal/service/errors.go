package service

import "errors"

// Виды ошибок сервисного слоя; транспорт выбирает по ним HTTP-статус или событие error.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrDeleteWindow = errors.New("delete window expired")
	ErrConflict     = errors.New("conflict")
)

// Error — ошибка с текстом для клиента; errors.Is сравнивает по Kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Message возвращает текст для клиента: Msg для *Error, иначе общий текст.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Internal server error"
}
