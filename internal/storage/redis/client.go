package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/redis/go-redis/v9"
)

// Подписки Web Push: список push:subs:{user_id}, не больше MaxSubsPerUser, TTL 30 дней.
const (
	subsKeyPrefix   = "push:subs:"
	MaxSubsPerUser  = 10
	SubscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Publish отправляет кадр в канал шины.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cli.Publish(ctx, channel, payload).Err()
}

// Subscribe читает канал до отмены ctx и передаёт каждое сообщение в handle.
// Возвращает после подтверждения подписки; чтение идёт в отдельной горутине.
func (c *Client) Subscribe(ctx context.Context, channel string, handle func([]byte)) error {
	sub := c.cli.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logger.Errorf("redis: канал %s закрыт", channel)
					return
				}
				handle([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// AddSubscription добавляет подписку в конец списка и обрезает его до MaxSubsPerUser.
// Повторная подписка того же endpoint заменяет старую.
func (c *Client) AddSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	if err := c.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := subsKeyPrefix + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -MaxSubsPerUser, -1)
	pipe.Expire(ctx, key, SubscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	list, err := c.cli.LRange(ctx, subsKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]model.PushSubscription, 0, len(list))
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// RemoveSubscription удаляет подписку по endpoint (LREM по точному значению элемента).
func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	key := subsKeyPrefix + userID
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
