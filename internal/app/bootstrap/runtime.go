package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/ligai/internal/call"
	appconfig "github.com/wolfman30/ligai/internal/config"
	"github.com/wolfman30/ligai/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; using in-process call state", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// PendingStore is a pending-association store, optionally with a sweeper.
type PendingStore interface {
	call.PendingStore
	Run(ctx context.Context)
}

// BuildPendingStore prefers Redis, whose key TTL expires stale associations,
// and falls back to an in-memory store swept by Run.
func BuildPendingStore(rdb *redis.Client, cfg *appconfig.Config) PendingStore {
	if rdb != nil {
		return redisPending{call.NewRedisPendingStore(rdb, cfg.PendingCallTTL)}
	}
	return call.NewMemoryPendingStore(cfg.PendingCallTTL)
}

type redisPending struct {
	*call.RedisPendingStore
}

// Run is a no-op; Redis expires keys on its own.
func (redisPending) Run(context.Context) {}

// BuildStateMirror returns the Redis live-state mirror, or nil without Redis.
func BuildStateMirror(rdb *redis.Client) call.StateMirror {
	if rdb == nil {
		return nil
	}
	return call.NewRedisStateMirror(rdb)
}
