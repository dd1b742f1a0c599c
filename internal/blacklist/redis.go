package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach/internal/domain"
)

// RedisConfig points at a Redis set holding normalized recipient IDs.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration
}

type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Key == "" {
		cfg.Key = "outreach:blacklist"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
			MaxRetries:   1,
		}),
		key: cfg.Key,
	}
}

func (r *Redis) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, domain.NormalizeID(id)).Result()
	if err != nil {
		return false, domain.Unavailable(fmt.Errorf("redis blacklist: %w", err))
	}
	return ok, nil
}

// Add lists ids.
func (r *Redis) Add(ctx context.Context, ids ...string) error {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		if n := Normalize(id); n != "" {
			members = append(members, n)
		}
	}
	if len(members) == 0 {
		return nil
	}
	return r.client.SAdd(ctx, r.key, members...).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
