package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/ledger-service/internal/model"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker shares per-account locks between engine instances. The TTL
// bounds how long a crashed holder can keep an account locked.
type RedisLocker struct {
	rdb     *redis.Client
	log     *zap.SugaredLogger
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
	token   func() string
}

func NewRedisLocker(rdb *redis.Client, logger *zap.SugaredLogger, ttl, timeout time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		log:     logger,
		prefix:  "lock:account:",
		ttl:     ttl,
		timeout: timeout,
		retry:   20 * time.Millisecond,
		token:   uuid.NewString,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = Canonical(keys)
	deadline := time.Now().Add(l.timeout)
	token := l.token()
	held := make([]func(), 0, len(keys))
	for _, k := range keys {
		unlock, err := l.lockOne(ctx, l.prefix+k, token, deadline)
		if err != nil {
			releaseAll(held)()
			return nil, err
		}
		held = append(held, unlock)
	}
	return releaseAll(held), nil
}

func (l *RedisLocker) lockOne(ctx context.Context, key, token string, deadline time.Time) (func(), error) {
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", model.ErrPersistenceConflict, key, err)
		}
		if ok {
			return func() {
				// release with a fresh context; the caller's may be done
				if err := l.rdb.Eval(context.Background(), releaseScript, []string{key}, token).Err(); err != nil {
					l.log.Warnw("release lock", "key", key, "err", err)
				}
			}, nil
		}
		if !time.Now().Add(l.retry).Before(deadline) {
			return nil, fmt.Errorf("%w: lock %s: timeout", model.ErrPersistenceConflict, key)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: lock %s: %v", model.ErrPersistenceConflict, key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}
