package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/artstore/pkg/errdefs"
)

// Lock is a Redis-backed exclusive lock with a priority tag. Acquisition
// is SET NX EX; a holder renews its TTL with a heartbeat, so an owner
// crash releases the lock by expiry and a waiter can take over.
type Lock struct {
	rdb *redis.Client
	key string
}

type lockValue struct {
	Owner    string `json:"owner"`
	Priority int    `json:"priority"`
}

// NewLock creates a lock on the given key
func (c *Client) NewLock(key string) *Lock {
	return &Lock{rdb: c.rdb, key: key}
}

// releaseScript deletes the lock only if the caller still owns it
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then return 0 end
local data = cjson.decode(v)
if data.owner == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only if the caller still owns the lock
var renewScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then return 0 end
local data = cjson.decode(v)
if data.owner == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// TryAcquire attempts to take the lock without blocking. When the lock is
// already held it returns the holder's priority and a rebuild_in_progress
// kind error; callers decide from the priority whether to skip or report
// contention.
func (l *Lock) TryAcquire(ctx context.Context, owner string, priority int, ttl time.Duration) error {
	val, err := json.Marshal(lockValue{Owner: owner, Priority: priority})
	if err != nil {
		return err
	}
	ok, err := l.rdb.SetNX(ctx, l.key, val, ttl).Result()
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to acquire lock", err)
	}
	if ok {
		return nil
	}

	raw, err := l.rdb.Get(ctx, l.key).Result()
	if err != nil && err != redis.Nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to inspect lock", err)
	}
	holder := lockValue{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &holder)
	}
	return errdefs.Newf(errdefs.KindRebuildInProgress,
		"lock %s held by %s (priority %d)", l.key, holder.Owner, holder.Priority).
		WithDetails(map[string]any{"holder": holder.Owner, "priority": holder.Priority})
}

// Renew extends the lock TTL if still owned
func (l *Lock) Renew(ctx context.Context, owner string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to renew lock", err)
	}
	if n == 0 {
		return errdefs.Newf(errdefs.KindRebuildInProgress, "lost ownership of lock %s", l.key)
	}
	return nil
}

// Release drops the lock if still owned; releasing a lost lock is a no-op
func (l *Lock) Release(ctx context.Context, owner string) error {
	if _, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, owner).Int(); err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to release lock", err)
	}
	return nil
}

// HolderPriority returns the priority tag of the current holder, or a
// not_found kind error when the lock is free.
func (l *Lock) HolderPriority(ctx context.Context) (int, error) {
	raw, err := l.rdb.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return 0, errdefs.Newf(errdefs.KindNotFound, "lock %s not held", l.key)
	}
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to inspect lock", err)
	}
	var holder lockValue
	if err := json.Unmarshal([]byte(raw), &holder); err != nil {
		return 0, err
	}
	return holder.Priority, nil
}
