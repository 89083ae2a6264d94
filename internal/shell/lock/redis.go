package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces lock keys.
	Prefix string
	// TTL is the lease length. The lease is refreshed every TTL/3 while held,
	// so a crashed holder frees the lock within TTL.
	TTL time.Duration
	// RetryInterval is the fixed wait between acquisition attempts.
	RetryInterval time.Duration
}

// DefaultRedisConfig returns the default configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Prefix:        "quickops:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 500 * time.Millisecond,
	}
}

// RedisLocker is a Locker shared by every replica using the same Redis.
type RedisLocker struct {
	client *redis.Client
	config RedisConfig
	logger *slog.Logger
}

// NewRedisLocker connects to Redis and verifies it with a PING.
func NewRedisLocker(cfg RedisConfig, logger *slog.Logger) (*RedisLocker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRedisConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLockerWithClient(client, cfg, logger), nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, config: cfg, logger: logger.With("component", "redis_lock")}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.config.Prefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.config.RetryInterval):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			l.logger.Error("failed to release lock", "key", key, "error", err)
			return
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", "key", key, "error", ErrNotHeld)
		}
	}, nil
}

func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.config.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.config.TTL/3)
			n, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.config.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to refresh lock", "key", redisKey, "error", err)
				continue
			}
			if n == 0 {
				l.logger.Error("lock lost while held", "key", redisKey)
				return
			}
		}
	}
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Ping checks the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
