// Package lock provides short-lived mutual exclusion for auto-generation
// runs, either in process or across replicas through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock: not held")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks. Acquire reports false without error when the
// name is held by someone else.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

// LocalLocker is an in-process Locker. Expired entries are taken over.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), clock: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[name]; ok && now.Before(entry.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[name] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, name: name, token: token}, true, nil
}

type localLease struct {
	locker *LocalLocker
	name   string
	token  string
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	entry, ok := l.locker.held[l.name]
	if !ok || entry.token != l.token {
		return ErrNotHeld
	}
	delete(l.locker.held, l.name)
	return nil
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX, so replicas behind a load
// balancer share one lock per name.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker wraps client. Keys are stored as prefix+name.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, token: token}, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
