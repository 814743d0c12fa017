package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RunLock serializes backfills per source: at most one orchestrator works a
// source at a time, while different sources backfill concurrently. The TTL
// bounds how long a crashed run can block its source.
type RunLock struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLock{Client: client, TTL: ttl}
}

func lockKey(source string) string {
	return "backfill_lock:" + source
}

// Acquire takes the source's lock for this run id. Returns false when another
// run holds it.
func (l *RunLock) Acquire(ctx context.Context, source, runID string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, lockKey(source), runID, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire backfill lock for %s: %w", source, err)
	}
	return ok, nil
}

// Release drops the lock only when this run still owns it, so a run that
// outlived its TTL cannot release a successor's lock.
func (l *RunLock) Release(ctx context.Context, source, runID string) error {
	key := lockKey(source)
	val, err := l.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == runID {
		_, err = l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// Holder reports which run currently holds the source's lock, if any.
func (l *RunLock) Holder(ctx context.Context, source string) (string, error) {
	val, err := l.Client.Get(ctx, lockKey(source)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
