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

// msgCols — сообщение вместе с публичным профилем отправителя (порядок соответствует scanMessage).
const msgCols = `m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.attachments, m.reply_to_id,
	m.is_edited, m.is_deleted, m.created_at,
	u.username, u.first_name, u.last_name, u.bio, u.phone, u.avatar, u.is_online, u.last_seen`

const msgFrom = ` FROM messages m JOIN users u ON u.id = m.sender_id `

// visibleTo — сообщение не удалено для всех и не скрыто зрителем ($2).
const visibleTo = ` AND NOT m.is_deleted
	AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id = $2)`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	sender := &model.UserPublic{}
	err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType, &m.Attachments, &m.ReplyToID,
		&m.IsEdited, &m.IsDeleted, &m.Timestamp,
		&sender.Username, &sender.Profile.FirstName, &sender.Profile.LastName, &sender.Profile.Bio,
		&sender.Profile.Phone, &sender.Profile.Avatar, &sender.IsOnline, &sender.LastSeen)
	if err != nil {
		return err
	}
	sender.ID = m.SenderID
	m.Sender = sender
	if m.Attachments == nil {
		m.Attachments = []model.Attachment{}
	}
	return nil
}

// Create сохраняет сообщение и в той же транзакции продвигает last_message/last_activity чата.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	if m.Attachments == nil {
		m.Attachments = []model.Attachment{}
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, content, message_type, attachments, reply_to_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, m.ChatID, m.SenderID, m.Content, m.MessageType, m.Attachments, m.ReplyToID, m.Timestamp,
		)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE chats SET last_message_id = $1, last_activity = $2, updated_at = $2 WHERE id = $3`,
			m.ID, m.Timestamp, m.ChatID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+msgCols+msgFrom+`WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	msgs := []model.Message{*m}
	if err := r.populate(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (r *MessageRepository) ListByChat(ctx context.Context, chatID, viewerID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListByChat", time.Now())()
	if offset < 0 {
		offset = 0
	}
	return r.list(ctx, "ListByChat",
		`SELECT `+msgCols+msgFrom+`WHERE m.chat_id = $1`+visibleTo+`
		 ORDER BY m.created_at DESC, m.id DESC LIMIT $3 OFFSET $4`,
		chatID, viewerID, limit, offset,
	)
}

// Search использует ~* (POSIX-регулярка без учёта регистра).
func (r *MessageRepository) Search(ctx context.Context, chatID, viewerID, pattern string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.Search", time.Now())()
	msgs, err := r.list(ctx, "Search",
		`SELECT `+msgCols+msgFrom+`WHERE m.chat_id = $1`+visibleTo+` AND m.content ~* $3
		 ORDER BY m.created_at DESC, m.id DESC LIMIT $4`,
		chatID, viewerID, pattern, limit,
	)
	if isInvalidRegexp(err) {
		return nil, storage.ErrInvalidPattern
	}
	return msgs, err
}

func (r *MessageRepository) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("message.CountUnread", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.chat_id = $1 AND m.sender_id <> $2`+visibleTo+`
		   AND NOT EXISTS (SELECT 1 FROM message_reads rd WHERE rd.message_id = m.id AND rd.user_id = $2)`,
		chatID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.CountUnread: %w", err)
	}
	return n, nil
}

// MarkDelivered — INSERT ... ON CONFLICT DO NOTHING: повторная доставка не дублирует отметку.
func (r *MessageRepository) MarkDelivered(ctx context.Context, chatID, userID string, at time.Time) (int64, error) {
	defer logger.DeferLogDuration("message.MarkDelivered", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_deliveries (message_id, user_id, delivered_at)
		 SELECT id, $2, $3 FROM messages WHERE chat_id = $1 AND sender_id <> $2
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		chatID, userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.MarkDelivered: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, chatID, userID string, messageIDs []string, at time.Time) (int64, error) {
	defer logger.DeferLogDuration("message.MarkRead", time.Now())()
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 SELECT id, $2, $3 FROM messages WHERE chat_id = $1 AND sender_id <> $2 AND id = ANY($4)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		chatID, userID, at, messageIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) Edit(ctx context.Context, id, content string, at time.Time) error {
	defer logger.DeferLogDuration("message.Edit", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var prev string
		if err := tx.QueryRow(ctx,
			`SELECT content FROM messages WHERE id = $1 FOR UPDATE`, id,
		).Scan(&prev); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_edits (message_id, content, edited_at) VALUES ($1, $2, $3)`,
			id, prev, at,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE messages SET content = $1, is_edited = true WHERE id = $2`, content, id,
		)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("messageRepo.Edit: %w", err)
	}
	return nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("message.SoftDelete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = true, content = $1 WHERE id = $2`, model.DeletedContent, id,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) HideFor(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("message.HideFor", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.HideFor: %w", err)
	}
	return nil
}

func (r *MessageRepository) list(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.%s query: %w", op, err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 50)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("messageRepo.%s scan: %w", op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.%s rows: %w", op, err)
	}
	rows.Close()
	if err := r.populate(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// populate догружает реакции, отметки, историю правок, скрытия и превью ответов —
// по одному запросу на таблицу для всей страницы.
func (r *MessageRepository) populate(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	idx := make(map[string]int, len(msgs))
	replyIDs := make([]string, 0)
	for i := range msgs {
		m := &msgs[i]
		ids[i] = m.ID
		idx[m.ID] = i
		m.Reactions = []model.Reaction{}
		m.DeliveredTo = []model.Receipt{}
		m.ReadBy = []model.Receipt{}
		m.EditHistory = []model.EditEntry{}
		m.DeletedFor = []string{}
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	reactions, err := r.reactionsFor(ctx, ids)
	if err != nil {
		return err
	}
	for msgID, list := range reactions {
		msgs[idx[msgID]].Reactions = list
	}

	for _, rc := range []struct {
		table, col string
		dst        func(*model.Message) *[]model.Receipt
	}{
		{"message_deliveries", "delivered_at", func(m *model.Message) *[]model.Receipt { return &m.DeliveredTo }},
		{"message_reads", "read_at", func(m *model.Message) *[]model.Receipt { return &m.ReadBy }},
	} {
		rows, err := r.pool.Query(ctx,
			`SELECT message_id, user_id, `+rc.col+` FROM `+rc.table+`
			 WHERE message_id = ANY($1) ORDER BY `+rc.col, ids,
		)
		if err != nil {
			return fmt.Errorf("messageRepo.populate %s: %w", rc.table, err)
		}
		for rows.Next() {
			var (
				msgID string
				rec   model.Receipt
			)
			if err := rows.Scan(&msgID, &rec.UserID, &rec.At); err != nil {
				rows.Close()
				return fmt.Errorf("messageRepo.populate %s scan: %w", rc.table, err)
			}
			dst := rc.dst(&msgs[idx[msgID]])
			*dst = append(*dst, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("messageRepo.populate %s rows: %w", rc.table, err)
		}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT message_id, content, edited_at FROM message_edits
		 WHERE message_id = ANY($1) ORDER BY edited_at`, ids,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.populate edits: %w", err)
	}
	for rows.Next() {
		var (
			msgID string
			e     model.EditEntry
		)
		if err := rows.Scan(&msgID, &e.Content, &e.EditedAt); err != nil {
			rows.Close()
			return fmt.Errorf("messageRepo.populate edits scan: %w", err)
		}
		m := &msgs[idx[msgID]]
		m.EditHistory = append(m.EditHistory, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("messageRepo.populate edits rows: %w", err)
	}

	rows, err = r.pool.Query(ctx,
		`SELECT message_id, user_id FROM message_hidden WHERE message_id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.populate hidden: %w", err)
	}
	for rows.Next() {
		var msgID, userID string
		if err := rows.Scan(&msgID, &userID); err != nil {
			rows.Close()
			return fmt.Errorf("messageRepo.populate hidden scan: %w", err)
		}
		m := &msgs[idx[msgID]]
		m.DeletedFor = append(m.DeletedFor, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("messageRepo.populate hidden rows: %w", err)
	}

	if len(replyIDs) == 0 {
		return nil
	}
	rows, err = r.pool.Query(ctx,
		`SELECT m.id, m.content, m.sender_id, u.username
		 FROM messages m JOIN users u ON u.id = m.sender_id
		 WHERE m.id = ANY($1)`, replyIDs,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.populate replies: %w", err)
	}
	defer rows.Close()
	previews := make(map[string]*model.ReplyPreview, len(replyIDs))
	for rows.Next() {
		p := &model.ReplyPreview{}
		if err := rows.Scan(&p.ID, &p.Content, &p.Sender.ID, &p.Sender.Username); err != nil {
			return fmt.Errorf("messageRepo.populate replies scan: %w", err)
		}
		previews[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("messageRepo.populate replies rows: %w", err)
	}
	for i := range msgs {
		if msgs[i].ReplyToID != nil {
			msgs[i].ReplyTo = previews[*msgs[i].ReplyToID]
		}
	}
	return nil
}
