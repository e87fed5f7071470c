package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
)

// SetReaction — upsert по (message_id, user_id): у пользователя остаётся одна реакция.
func (r *MessageRepository) SetReaction(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, created_at = EXCLUDED.created_at`,
		messageID, userID, emoji, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Set: %w", err)
	}
	return nil
}

func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return nil
}

func (r *MessageRepository) Reactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.GetByMessage", time.Now())()
	byMsg, err := r.reactionsFor(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	if list, ok := byMsg[messageID]; ok {
		return list, nil
	}
	return []model.Reaction{}, nil
}

func (r *MessageRepository) reactionsFor(ctx context.Context, messageIDs []string) (map[string][]model.Reaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, u.username, mr.emoji, mr.created_at
		 FROM message_reactions mr
		 JOIN users u ON u.id = mr.user_id
		 WHERE mr.message_id = ANY($1)
		 ORDER BY mr.created_at`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.reactionsFor query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Reaction, len(messageIDs))
	for rows.Next() {
		var (
			msgID string
			rc    model.Reaction
		)
		if err := rows.Scan(&msgID, &rc.UserID, &rc.Username, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.reactionsFor scan: %w", err)
		}
		out[msgID] = append(out[msgID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.reactionsFor rows: %w", err)
	}
	return out, nil
}
