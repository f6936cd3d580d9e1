package utils

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	unreadCountKeyPrefix   = "unread_count:"
	presenceKeyPrefix      = "presence:"
	presenceSnapshotExpiry = 24 * time.Hour
)

// RedisStatusStore keeps the small, hot, per-user status values the engine
// reads on every render: unread notification badge counts and the latest
// presence snapshot. All values are derivable from the authoritative store,
// redis only shortcuts the read path.
type RedisStatusStore struct {
	client *redis.Client
}

func NewRedisStatusStore() *RedisStatusStore {
	addr := os.Getenv("REDIS_ADDR")
	if len(addr) == 0 {
		addr = "localhost:6379"
	}
	return &RedisStatusStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func NewRedisStatusStoreWithClient(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

// SetUnreadCount overwrites the badge count for a user. The caller is
// expected to pass a count recomputed from the authoritative notification
// set, never a speculatively decremented one.
func (r *RedisStatusStore) SetUnreadCount(ctx context.Context, userId string, count int64) error {
	return r.client.Set(ctx, unreadCountKeyPrefix+userId, count, 0).Err()
}

// GetUnreadCount reads the mirrored badge count. A missing key is an error;
// the caller falls back to the authoritative recount rather than trusting a
// cold mirror.
func (r *RedisStatusStore) GetUnreadCount(ctx context.Context, userId string) (int64, error) {
	val, err := r.client.Get(ctx, unreadCountKeyPrefix+userId).Result()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// SetPresenceSnapshot mirrors the latest presence write for a user.
func (r *RedisStatusStore) SetPresenceSnapshot(ctx context.Context, userId string, state string, lastChanged time.Time) error {
	key := presenceKeyPrefix + userId
	if err := r.client.HSet(ctx, key, map[string]interface{}{
		"state":        state,
		"last_changed": lastChanged.UnixNano(),
	}).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, presenceSnapshotExpiry).Err()
}

func (r *RedisStatusStore) GetPresenceSnapshot(ctx context.Context, userId string) (string, time.Time, error) {
	vals, err := r.client.HGetAll(ctx, presenceKeyPrefix+userId).Result()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(vals) == 0 {
		return "", time.Time{}, nil
	}
	nanos, err := strconv.ParseInt(vals["last_changed"], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("corrupt presence snapshot for %s: %v", userId, err)
	}
	return vals["state"], time.Unix(0, nanos), nil
}
