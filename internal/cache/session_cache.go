package cache

import (
	"codepair/internal/model"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionCache handles Redis operations for session metadata
type SessionCache interface {
	SetMeta(ctx context.Context, meta *model.SessionMeta) error
	GetMeta(ctx context.Context, sessionID string) (*model.SessionMeta, error)
	Delete(ctx context.Context, sessionID string) error
	// Reserve claims a public session id; false means it is already taken.
	Reserve(ctx context.Context, sessionID string) (bool, error)
}

type sessionCache struct {
	client     *redis.Client
	ttl        time.Duration
	reserveTTL time.Duration
}

// NewSessionCache creates a new session cache
func NewSessionCache(client *redis.Client, ttl time.Duration) SessionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &sessionCache{
		client:     client,
		ttl:        ttl,
		reserveTTL: 24 * time.Hour,
	}
}

func (c *sessionCache) metaKey(sessionID string) string {
	return fmt.Sprintf("session:%s:meta", sessionID)
}

func (c *sessionCache) reserveKey(sessionID string) string {
	return fmt.Sprintf("session:%s:reserved", sessionID)
}

func (c *sessionCache) SetMeta(ctx context.Context, meta *model.SessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.metaKey(meta.SessionID), data, c.ttl).Err()
}

func (c *sessionCache) GetMeta(ctx context.Context, sessionID string) (*model.SessionMeta, error) {
	data, err := c.client.Get(ctx, c.metaKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta model.SessionMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *sessionCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.metaKey(sessionID)).Err()
}

func (c *sessionCache) Reserve(ctx context.Context, sessionID string) (bool, error) {
	return c.client.SetNX(ctx, c.reserveKey(sessionID), 1, c.reserveTTL).Result()
}
