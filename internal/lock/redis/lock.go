// Package redis implements the cross-replica run lock on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still holds our token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a SET NX lease with a TTL. The holder renews the lease every third
// of the TTL until release, so the TTL only bounds how long a crashed holder
// can block other replicas.
type Lock struct {
	client     goredis.UniversalClient
	key        string
	ttl        time.Duration
	renewEvery time.Duration
	logger     *zap.Logger
}

// New builds a Lock on an existing client.
func New(client goredis.UniversalClient, key string, ttl time.Duration, logger *zap.Logger) (*Lock, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lock{client: client, key: key, ttl: ttl, renewEvery: ttl / 3, logger: logger}, nil
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Acquire claims the lease. acquired is false when another replica holds it.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		l.logger.Info("run lock held by another replica", zap.String("key", l.key), zap.String("holder", holder))
		return nil, false, nil
	}
	l.logger.Debug("run lock acquired", zap.String("key", l.key), zap.Duration("ttl", l.ttl))

	// The lease outlives the caller's ctx, which may be a request context.
	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		l.renew(renewCtx, token)
	}()

	release := func(ctx context.Context) error {
		stopRenew()
		<-renewDone
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		if n == 0 {
			l.logger.Warn("run lock expired before release", zap.String("key", l.key))
		}
		return nil
	}
	return release, true, nil
}

// renew extends the lease until ctx is canceled or the lease is lost.
func (l *Lock) renew(ctx context.Context, token string) {
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			// Transient; the remaining TTL still covers the next attempts.
			l.logger.Warn("renew run lock failed", zap.String("key", l.key), zap.Error(err))
		case n == 0:
			l.logger.Error("run lock lost; another replica may start a run", zap.String("key", l.key))
			return
		}
	}
}
