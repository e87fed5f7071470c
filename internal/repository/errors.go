package repository

import (
	"errors"

	"github.com/chatline/internal/storage"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound — псевдоним для проверок errors.Is вне пакета storage.
var ErrNotFound = storage.ErrNotFound

const (
	pgUniqueViolation = "23505"
	pgInvalidRegexp   = "2201B"
)

// isUniqueViolation распознаёт нарушение UNIQUE/PRIMARY KEY в Postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isInvalidRegexp(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidRegexp
}
