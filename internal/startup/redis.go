package startup

import (
	"context"
	"time"

	redisstorage "github.com/chatline/internal/storage/redis"
)

// ConnectRedis подключается к Redis (шина ретрансляции api, подписки push) с повторами до maxWait.
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry(ctx, "redis", maxWait, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client, err
}
