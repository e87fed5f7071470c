package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chatCols = `c.id, c.is_group, c.group_name, c.group_avatar, c.group_description,
	c.last_message_id, c.last_activity, c.is_archived, c.created_by, c.created_at, c.updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.IsGroupChat, &c.GroupName, &c.GroupAvatar, &c.GroupDescription,
		&c.LastMessageID, &c.LastActivity, &c.IsArchived, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
}

// GetOrCreateDirect опирается на уникальный direct_key: параллельные первые запросы
// одной пары сходятся на одном чате.
func (r *ChatRepository) GetOrCreateDirect(ctx context.Context, userID, otherID string) (*model.Chat, bool, error) {
	defer logger.DeferLogDuration("chat.GetOrCreateDirect", time.Now())()
	key := model.DirectKey(userID, otherID)
	var (
		chatID  string
		created bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		id := uuid.New().String()
		tag, err := tx.Exec(ctx,
			`INSERT INTO chats (id, is_group, direct_key, last_activity, created_by, created_at, updated_at)
			 VALUES ($1, false, $2, $3, $4, $3, $3)
			 ON CONFLICT (direct_key) DO NOTHING`,
			id, key, now, userID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return tx.QueryRow(ctx, `SELECT id FROM chats WHERE direct_key = $1`, key).Scan(&chatID)
		}
		chatID, created = id, true
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role, joined_at)
			 VALUES ($1, $2, 'member', $3), ($1, $4, 'member', $3)`,
			id, userID, now, otherID,
		)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("chatRepo.GetOrCreateDirect: %w", err)
	}
	chat, err := r.GetByID(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return chat, created, nil
}

func (r *ChatRepository) CreateGroup(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO chats (id, is_group, group_name, group_avatar, group_description, last_activity, created_by, created_at, updated_at)
			 VALUES ($1, true, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.GroupName, c.GroupAvatar, c.GroupDescription, c.LastActivity, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, p := range c.Participants {
			batch.Queue(
				`INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
				 ON CONFLICT DO NOTHING`,
				c.ID, p.UserID, p.Role, p.JoinedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("chatRepo.CreateGroup: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	chats := []model.Chat{*c}
	if err := r.attach(ctx, chats); err != nil {
		return nil, err
	}
	return &chats[0], nil
}

func (r *ChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ChatRepository) ListForUser(ctx context.Context, userID string, archived bool) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatCols+`
		 FROM chats c
		 JOIN chat_participants cp ON cp.chat_id = c.id
		 WHERE cp.user_id = $1 AND c.is_archived = $2
		 ORDER BY c.last_activity DESC`, userID, archived,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser rows: %w", err)
	}
	if err := r.attach(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *ChatRepository) SetArchived(ctx context.Context, chatID string, archived bool) error {
	defer logger.DeferLogDuration("chat.SetArchived", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chats SET is_archived = $1, updated_at = NOW() WHERE id = $2`, archived, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetArchived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetMute — upsert по (chat_id, user_id); until == nil означает бессрочно.
func (r *ChatRepository) SetMute(ctx context.Context, chatID, userID string, until *time.Time) error {
	defer logger.DeferLogDuration("chat.SetMute", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_mutes (chat_id, user_id, muted_until) VALUES ($1, $2, $3)
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET muted_until = EXCLUDED.muted_until`,
		chatID, userID, until,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetMute: %w", err)
	}
	return nil
}

func (r *ChatRepository) ClearMute(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("chat.ClearMute", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM chat_mutes WHERE chat_id = $1 AND user_id = $2`, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.ClearMute: %w", err)
	}
	return nil
}

// attach подгружает участников (с публичными профилями) и mute одним запросом на таблицу.
func (r *ChatRepository) attach(ctx context.Context, chats []model.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]string, len(chats))
	idx := make(map[string]int, len(chats))
	for i := range chats {
		ids[i] = chats[i].ID
		idx[chats[i].ID] = i
		chats[i].Participants = []model.Participant{}
		chats[i].MutedBy = []model.MuteSetting{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT cp.chat_id, cp.user_id, cp.role, cp.joined_at,
		        u.username, u.first_name, u.last_name, u.bio, u.phone, u.avatar, u.is_online, u.last_seen
		 FROM chat_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.chat_id = ANY($1)
		 ORDER BY cp.joined_at, cp.user_id`, ids,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.attach participants: %w", err)
	}
	for rows.Next() {
		var (
			chatID string
			p      model.Participant
			u      model.UserPublic
		)
		if err := rows.Scan(&chatID, &p.UserID, &p.Role, &p.JoinedAt,
			&u.Username, &u.Profile.FirstName, &u.Profile.LastName, &u.Profile.Bio, &u.Profile.Phone, &u.Profile.Avatar,
			&u.IsOnline, &u.LastSeen); err != nil {
			rows.Close()
			return fmt.Errorf("chatRepo.attach participants scan: %w", err)
		}
		u.ID = p.UserID
		p.User = &u
		i := idx[chatID]
		chats[i].Participants = append(chats[i].Participants, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("chatRepo.attach participants rows: %w", err)
	}

	rows, err = r.pool.Query(ctx,
		`SELECT chat_id, user_id, muted_until FROM chat_mutes WHERE chat_id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.attach mutes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			chatID string
			m      model.MuteSetting
		)
		if err := rows.Scan(&chatID, &m.UserID, &m.MutedUntil); err != nil {
			return fmt.Errorf("chatRepo.attach mutes scan: %w", err)
		}
		i := idx[chatID]
		chats[i].MutedBy = append(chats[i].MutedBy, m)
	}
	return rows.Err()
}
