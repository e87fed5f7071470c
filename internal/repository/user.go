package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, username, email, password_hash, first_name, last_name, bio, phone, avatar, is_online, last_seen, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.Profile.FirstName, &u.Profile.LastName, &u.Profile.Bio, &u.Profile.Phone, &u.Profile.Avatar,
		&u.IsOnline, &u.LastSeen, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, first_name, last_name, bio, phone, avatar, is_online, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.Username, u.Email, u.PasswordHash,
		u.Profile.FirstName, u.Profile.LastName, u.Profile.Bio, u.Profile.Phone, u.Profile.Avatar,
		u.IsOnline, u.LastSeen, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, op, where string, args ...any) (*model.User, error) {
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE `+where, args...)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.%s: %w", op, err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	return r.getOne(ctx, "GetByID", `id = $1`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	return r.getOne(ctx, "GetByEmail", `email = $1`, email)
}

func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.FindByUsernameOrEmail", time.Now())()
	return r.getOne(ctx, "FindByUsernameOrEmail", `username = $1 OR email = $2 LIMIT 1`, username, email)
}

func (r *UserRepository) ListOthers(ctx context.Context, excludeID string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListOthers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE id != $1 ORDER BY is_online DESC, last_seen DESC`,
		excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListOthers: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, 32)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListOthers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListOthers rows: %w", err)
	}
	return users, nil
}

// UpdateProfile заменяет профиль целиком и возвращает обновлённого пользователя.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, p model.Profile) (*model.User, error) {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET first_name = $1, last_name = $2, bio = $3, phone = $4, avatar = $5
		 WHERE id = $6 RETURNING `+userCols,
		p.FirstName, p.LastName, p.Bio, p.Phone, p.Avatar, id,
	)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	return u, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3`,
		online, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetOnline сбрасывает is_online у всех: после рестарта таблица присутствия пуста.
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetOnline", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`); err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}
