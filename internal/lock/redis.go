package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the lease only if it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a lease-based lock shared by every replica using the same Redis.
// The holder renews the lease every TTL/3 until it unlocks, so TTL only
// bounds how long a crashed holder keeps the note.
type Redis struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
	Log    *logrus.Logger
}

// NewRedis creates a Redis locker with the given lease
func NewRedis(client redis.UniversalClient, ttl time.Duration, log *logrus.Logger) *Redis {
	return &Redis{
		Client: client,
		Prefix: "lending:lock:",
		TTL:    ttl,
		Retry:  25 * time.Millisecond,
		Log:    log,
	}
}

// Lock polls SET NX until the lease is taken or ctx is done
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.Client.SetNX(ctx, k, token, r.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			return r.hold(k, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotHeld, ctx.Err())
		case <-time.After(r.Retry):
		}
	}
}

// hold keeps the lease alive and returns the idempotent release func
func (r *Redis) hold(k, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.renew(k, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// release on a fresh context so a cancelled caller still frees the lease
			rctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.Client, []string{k}, token).Err(); err != nil {
				r.logger().WithField("key", k).Warnf("Failed to release lock: %v", err)
			}
		})
	}
}

func (r *Redis) renew(k, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.TTL/3)
		n, err := extendScript.Run(ctx, r.Client, []string{k}, token, r.TTL.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.logger().WithField("key", k).Warnf("Failed to renew lock lease: %v", err)
		case n == 0:
			r.logger().WithField("key", k).Error("Lock lease lost before release")
			return
		}
	}
}

func (r *Redis) logger() *logrus.Logger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

var _ Locker = (*Redis)(nil)
