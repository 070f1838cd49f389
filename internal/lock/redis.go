package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	logx "jobbot/pkg/logx"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never frees someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a SET NX PX lock. The TTL bounds how long a crashed holder can
// block others; it should exceed the cycle timeout.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logx.Logger
}

// NewRedis parses redisURL and verifies connectivity.
func NewRedis(ctx context.Context, redisURL, key string, ttl time.Duration, log logx.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Redis{client: client, key: key, ttl: ttl, log: log}, nil
}

func (r *Redis) Acquire(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	r.log.Debug("cycle lock acquired", logx.String("key", r.key), logx.Duration("ttl", r.ttl))
	return &redisLease{r: r, token: token}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

type redisLease struct {
	r     *Redis
	token string
	once  sync.Once
	err   error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		n, err := releaseScript.Run(ctx, l.r.client, []string{l.r.key}, l.token).Int()
		if err != nil {
			l.err = fmt.Errorf("redis release %s: %w", l.r.key, err)
			return
		}
		if n == 0 {
			l.r.log.Warn("cycle lock expired before release", logx.String("key", l.r.key))
		}
	})
	return l.err
}
