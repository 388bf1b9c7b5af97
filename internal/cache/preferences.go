// Package cache fronts the user store with Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"translatemenu/internal/preferences"
)

const keyPrefix = "translatemenu:prefs:"

// absent is cached for users without saved preferences so misses are not
// re-read from the database on every analysis.
const absent = "null"

type PreferencesStore interface {
	GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error)
	SavePreferences(ctx context.Context, userID string, p preferences.Preferences) error
}

// Preferences is a read-through cache. Redis failures are logged and the
// backing store answers instead.
type Preferences struct {
	client redis.UniversalClient
	next   PreferencesStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewPreferences(client redis.UniversalClient, next PreferencesStore, ttl time.Duration, logger *slog.Logger) *Preferences {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Preferences{client: client, next: next, ttl: ttl, logger: logger.With("component", "preferences_cache")}
}

func (c *Preferences) GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error) {
	key := keyPrefix + userID
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == absent {
			return nil, nil
		}
		var p preferences.Preferences
		if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
			return &p, nil
		}
		c.logger.WarnContext(ctx, "discarding corrupt cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "redis get failed", "key", key, "error", err)
	}

	p, err := c.next.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, p)
	return p, nil
}

func (c *Preferences) SavePreferences(ctx context.Context, userID string, p preferences.Preferences) error {
	if err := c.next.SavePreferences(ctx, userID, p); err != nil {
		return err
	}
	if err := c.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis invalidate failed", "user_id", userID, "error", err)
	}
	return nil
}

func (c *Preferences) store(ctx context.Context, key string, p *preferences.Preferences) {
	val := absent
	if p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return
		}
		val = string(b)
	}
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis set failed", "key", key, "error", err)
	}
}
