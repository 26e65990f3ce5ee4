package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/strandhq/strand/internal/config"
	"github.com/strandhq/strand/internal/model"
	registrycache "github.com/strandhq/strand/internal/registry/cache"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.NoteCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: STRAND_REDIS_URL is required")
	}
	ttl := cfg.CacheNoteTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a NoteCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.NoteCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit note TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.NoteCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisNoteCache{client: client, ttl: ttl}, nil
}

type redisNoteCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func noteKey(noteID uuid.UUID) string {
	return "strand-note:" + noteID.String()
}

func (c *redisNoteCache) Available() bool {
	return true
}

func (c *redisNoteCache) Get(ctx context.Context, noteID uuid.UUID) (*model.Note, error) {
	data, err := c.client.Get(ctx, noteKey(noteID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var note model.Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *redisNoteCache) Set(ctx context.Context, note *model.Note, ttl time.Duration) error {
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, noteKey(note.ID), data, ttl).Err()
}

func (c *redisNoteCache) Remove(ctx context.Context, noteID uuid.UUID) error {
	return c.client.Del(ctx, noteKey(noteID)).Err()
}

var _ registrycache.NoteCache = (*redisNoteCache)(nil)
