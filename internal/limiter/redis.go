package limiter

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps failure counters and blocks as expiring keys.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	policy Policy
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redis.UniversalClient, prefix string, policy Policy) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, policy: policy}
}

func (l *Redis) keys(scope Scope, subject string, ipHash []byte) (fails, block string) {
	base := l.prefix + string(scope) + ":" + subject + ":" + hex.EncodeToString(ipHash)
	return base + ":fails", base + ":blocked"
}

func (l *Redis) Allow(ctx context.Context, scope Scope, subject string, ipHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(scope, subject, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, err
	}
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

func (l *Redis) Success(ctx context.Context, scope Scope, subject string, ipHash []byte) error {
	fails, block := l.keys(scope, subject, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure increments the counter; the window starts at the first failure.
func (l *Redis) Failure(ctx context.Context, scope Scope, subject string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := l.keys(scope, subject, ipHash)
	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.PExpire(ctx, fails, l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, block, 1, l.policy.BlockFor)
		p.Del(ctx, fails)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
