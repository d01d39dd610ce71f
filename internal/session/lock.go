package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// Locker serializes mutations of one session.
type Locker interface {
	// Lock blocks until the session is held or ctx ends. The returned
	// function releases it and is safe to call more than once.
	Lock(ctx context.Context, sessionID uuid.UUID) (func(), error)
}

// ErrSessionBusy means the session lock could not be acquired in time.
var ErrSessionBusy = fmt.Errorf("%w: session is busy", quiz.ErrConflict)

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[uuid.UUID]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[sessionID]
	if !ok {
		lk = &localLock{sem: make(chan struct{}, 1)}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, lk)
		return nil, ErrSessionBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.release(sessionID, lk)
		})
	}, nil
}

func (l *LocalLocker) release(sessionID uuid.UUID, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, sessionID)
	}
}

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

var errLockHeld = errors.New("lock already held")

// RedisLocker is a distributed lock shared by every API node. The key
// expires after ttl so a crashed holder cannot wedge a session.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 25 * time.Millisecond}
}

func (r *RedisLocker) Lock(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("quiz:lock:%s", sessionID.String())
	lockValue := uuid.New().String()

	err := retry.Do(ctx, retry.NewConstant(r.poll), func(ctx context.Context) error {
		acquired, err := r.client.SetNX(ctx, key, lockValue, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: acquire lock: %v", quiz.ErrPersistence, err)
		}
		if !acquired {
			return retry.RetryableError(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrSessionBusy
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Only delete our own lock, even if the caller's ctx is done.
			_ = r.client.Eval(context.WithoutCancel(ctx), unlockScript, []string{key}, lockValue).Err()
		})
	}, nil
}
