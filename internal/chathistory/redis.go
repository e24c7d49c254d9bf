package chathistory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record in a hash at "<collection>:<message_ts>".
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func OpenRedis(ctx context.Context, cfg Config) (*RedisStore, error) {
	prefix, err := collectionName(cfg)
	if err != nil {
		return nil, err
	}
	var opts *redis.Options
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		opts, err = redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.Redis.TTL}, nil
}

func (s *RedisStore) key(messageTS string) string {
	return s.prefix + ":" + messageTS
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	key := s.key(rec.MessageTS)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"message":    rec.Message,
			"timestamp":  rec.MessageTS,
			"thread_ts":  rec.ThreadTS,
			"channel_id": rec.ChannelID,
			"user_id":    rec.UserID,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
