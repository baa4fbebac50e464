package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKeyPrefix = "ligai:pending:"
	liveKeyPrefix    = "ligai:call:"
	liveTTL          = 24 * time.Hour
)

// RedisPendingStore keeps pending calls in Redis. Key expiry is the stale
// entry policy; GETDEL makes Take consume at most once across processes.
type RedisPendingStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPendingStore(rdb *redis.Client, ttl time.Duration) *RedisPendingStore {
	if rdb == nil {
		panic("call: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPendingStore{rdb: rdb, ttl: ttl}
}

func (s *RedisPendingStore) Put(ctx context.Context, p Pending) error {
	if p.CallID == "" {
		return fmt.Errorf("pending call: call_id required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pending call: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, pendingKeyPrefix+p.CallID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("pending call: set: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Take(ctx context.Context, callID string) (Pending, error) {
	data, err := s.rdb.GetDel(ctx, pendingKeyPrefix+callID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pending{}, ErrPendingNotFound
		}
		return Pending{}, fmt.Errorf("pending call: getdel: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return Pending{}, fmt.Errorf("pending call: unmarshal: %w", err)
	}
	return p, nil
}

// RedisStateMirror writes session snapshots to ligai:call:<id>.
type RedisStateMirror struct {
	rdb *redis.Client
}

func NewRedisStateMirror(rdb *redis.Client) *RedisStateMirror {
	if rdb == nil {
		panic("call: redis client cannot be nil")
	}
	return &RedisStateMirror{rdb: rdb}
}

func (m *RedisStateMirror) Publish(ctx context.Context, snap Snapshot) error {
	if snap.CallID == "" {
		return fmt.Errorf("live call state: call_id required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("live call state: marshal: %w", err)
	}
	return m.rdb.Set(ctx, liveKeyPrefix+snap.CallID, data, liveTTL).Err()
}

// Get reads a mirrored snapshot; ok is false when none exists.
func (m *RedisStateMirror) Get(ctx context.Context, callID string) (Snapshot, bool, error) {
	data, err := m.rdb.Get(ctx, liveKeyPrefix+callID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("live call state: get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("live call state: unmarshal: %w", err)
	}
	return snap, true, nil
}
