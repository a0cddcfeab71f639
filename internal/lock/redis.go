package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance pointed at the same Redis. The
// lease bounds how long a crashed holder can block a key.
type Redis struct {
	log    *slog.Logger
	client *redis.Client
	prefix string
	lease  time.Duration
	retry  time.Duration
}

func NewRedis(log *slog.Logger, client *redis.Client, lease time.Duration) *Redis {
	if lease <= 0 {
		lease = 10 * time.Second
	}
	return &Redis{log: log, client: client, prefix: "bytenosh:lock:", lease: lease, retry: 15 * time.Millisecond}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	const op = "lock.Redis.Lock"

	k := r.prefix + key
	token := uuid.NewString()
	wait := r.retry
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-t.C:
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a lease that already expired deletes nothing
		if err := unlockScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.log.Warn("failed to release slot lock", slog.String("key", key), sl.Err(err))
		}
	}, nil
}
