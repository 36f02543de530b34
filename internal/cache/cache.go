// Package cache keeps a short-lived copy of the mentor roster in Redis so
// that every question post does not hit the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/config"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/logging"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

// ErrMiss is returned by a Backend when the key is absent.
var ErrMiss = errors.New("cache: miss")

const rosterKey = "mentorbot:roster"

// Backend stores opaque values with a TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// NewRedis returns a connected Redis client, or nil when cfg.Addr is empty.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisBackend implements Backend on go-redis.
type RedisBackend struct {
	client redis.Cmdable
}

// NewRedisBackend wraps client.
func NewRedisBackend(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return v, err
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Del implements Backend.
func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	return b.client.Del(ctx, keys...).Err()
}

// Recorder observes cache lookups.
type Recorder interface {
	ObserveCache(hit bool)
}

// Roster caches the mentor list. A Roster with no backend is disabled and
// every call passes straight through.
type Roster struct {
	backend Backend
	ttl     time.Duration
	metrics Recorder
	logger  *zap.Logger
}

// RosterOpts holds parameters for NewRoster.
type RosterOpts struct {
	Backend Backend // nil disables caching
	TTL     time.Duration
	Metrics Recorder
	Logger  *zap.Logger
}

// NewRoster creates a Roster.
func NewRoster(opts RosterOpts) *Roster {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Roster{backend: opts.Backend, ttl: ttl, metrics: opts.Metrics, logger: logging.OrNop(opts.Logger)}
}

// Enabled reports whether a backend is configured.
func (r *Roster) Enabled() bool {
	return r != nil && r.backend != nil
}

// Load returns the cached roster, falling back to load on a miss and
// caching its result. Cache failures are logged and never returned.
func (r *Roster) Load(ctx context.Context, load func(ctx context.Context) ([]models.Mentor, error)) ([]models.Mentor, error) {
	if !r.Enabled() {
		return load(ctx)
	}

	raw, err := r.backend.Get(ctx, rosterKey)
	if err == nil {
		var mentors []models.Mentor
		if err := json.Unmarshal(raw, &mentors); err == nil {
			r.observe(true)
			return mentors, nil
		}
		r.logger.Warn("discarding corrupt roster cache entry")
	} else if !errors.Is(err, ErrMiss) {
		r.logger.Warn("roster cache get failed", zap.Error(err))
	}
	r.observe(false)

	mentors, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(mentors); err == nil {
		if err := r.backend.Set(ctx, rosterKey, raw, r.ttl); err != nil {
			r.logger.Warn("roster cache set failed", zap.Error(err))
		}
	}
	return mentors, nil
}

// Invalidate drops the cached roster. Call after any mentor change.
func (r *Roster) Invalidate(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	if err := r.backend.Del(ctx, rosterKey); err != nil {
		r.logger.Warn("roster cache invalidate failed", zap.Error(err))
	}
}

func (r *Roster) observe(hit bool) {
	if r.metrics != nil {
		r.metrics.ObserveCache(hit)
	}
}
