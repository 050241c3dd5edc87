package storage

import (
	"context"
	"time"

	"chatgateway/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Presence is the per-user online session index. The gateway works without
// it (Noop); with redis configured, other services can answer "is this user
// reachable on a gateway right now".
type Presence interface {
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Sessions(ctx context.Context, userID string) ([]string, error)
	Close() error
}

type Config struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration // session index lifetime; refreshed on Online
	KeyPrefix string
}

func (c *Config) norm() {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "gw"
	}
}

type redisPresence struct {
	rdb *redis.Client
	cfg Config
}

func NewRedis(cfg Config) (Presence, error) {
	if cfg.Addr == "" {
		return nil, errs.ErrArgs.WithDetail("redis addr empty")
	}
	cfg.norm()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errs.WrapMsg(err, "redis ping", "addr", cfg.Addr)
	}
	return &redisPresence{rdb: rdb, cfg: cfg}, nil
}

func (p *redisPresence) key(userID string) string {
	return p.cfg.KeyPrefix + ":presence:" + userID
}

func (p *redisPresence) Online(ctx context.Context, userID, connID string) error {
	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, p.key(userID), connID)
	pipe.Expire(ctx, p.key(userID), p.cfg.TTL)
	_, err := pipe.Exec(ctx)
	return errs.WrapMsg(err, "presence online", "user", userID)
}

func (p *redisPresence) Offline(ctx context.Context, userID, connID string) error {
	err := p.rdb.SRem(ctx, p.key(userID), connID).Err()
	return errs.WrapMsg(err, "presence offline", "user", userID)
}

func (p *redisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.SCard(ctx, p.key(userID)).Result()
	if err != nil {
		return false, errs.WrapMsg(err, "presence card", "user", userID)
	}
	return n > 0, nil
}

func (p *redisPresence) Sessions(ctx context.Context, userID string) ([]string, error) {
	out, err := p.rdb.SMembers(ctx, p.key(userID)).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "presence sessions", "user", userID)
	}
	return out, nil
}

func (p *redisPresence) Close() error { return p.rdb.Close() }

// Noop returns a presence store that records nothing; used when no redis
// address is configured and in tests.
func Noop() Presence { return nopPresence{} }

type nopPresence struct{}

func (nopPresence) Online(context.Context, string, string) error  { return nil }
func (nopPresence) Offline(context.Context, string, string) error { return nil }
func (nopPresence) IsOnline(context.Context, string) (bool, error) {
	return false, nil
}
func (nopPresence) Sessions(context.Context, string) ([]string, error) {
	return nil, nil
}
func (nopPresence) Close() error { return nil }
