package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * 24 * time.Hour

// Redis keeps one set per newsletter: newsletter:{id}:delivered.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ttl: defaultTTL}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func key(newsletterID string) string {
	return "newsletter:" + newsletterID + ":delivered"
}

func (r *Redis) Delivered(ctx context.Context, newsletterID, email string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key(newsletterID), email).Result()
	if err != nil {
		return false, fmt.Errorf("checking delivery ledger: %w", err)
	}
	return ok, nil
}

func (r *Redis) MarkDelivered(ctx context.Context, newsletterID, email string) error {
	k := key(newsletterID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, k, email)
	pipe.Expire(ctx, k, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return nil
}
