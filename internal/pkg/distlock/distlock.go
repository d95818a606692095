// Package distlock provides named mutual-exclusion locks backed by Redis,
// PostgreSQL advisory locks, or process memory.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by Do when the lock stayed busy until the
// context ended.
var ErrNotAcquired = errors.New("distlock: lock not acquired")

// DistLock is a single named lock. An instance must not be shared between
// goroutines; take a fresh one from a Provider for each critical section.
type DistLock interface {
	// Acquire tries once to take the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Provider hands out locks for a key.
type Provider struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
	local *LocalLocks
}

// NewProvider picks the backend: Redis when a client is given, otherwise
// PostgreSQL when a handle is given, otherwise an in-process lock table.
func NewProvider(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Provider {
	p := &Provider{redis: redisClient, db: db, ttl: ttl}
	if redisClient == nil && db == nil {
		p.local = NewLocalLocks()
	}
	return p
}

// Backend names the active backend for startup logging.
func (p *Provider) Backend() string {
	switch {
	case p.redis != nil:
		return "redis"
	case p.db != nil:
		return "postgres"
	default:
		return "local"
	}
}

// Lock returns an unacquired lock for key.
func (p *Provider) Lock(key string) DistLock {
	switch {
	case p.redis != nil:
		return NewRedisLock(p.redis, key, p.ttl)
	case p.db != nil:
		return NewPGAdvisoryLock(p.db, key)
	default:
		return p.local.Lock(key)
	}
}

// Do runs fn while holding the lock for key, polling every interval until
// the lock is free or ctx ends.
func (p *Provider) Do(ctx context.Context, key string, interval time.Duration, fn func(context.Context) error) error {
	l := p.Lock(key)
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-t.C:
		}
	}
	defer l.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// session, so the connection that took the lock is held until Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: pinning connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("distlock: advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// LocalLocks is an in-process lock table for single-instance deployments.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]bool)}
}

// Lock returns a lock on key within this table.
func (t *LocalLocks) Lock(key string) DistLock {
	return &localLock{table: t, key: key}
}

type localLock struct {
	table *LocalLocks
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.held[l.key] {
		return false, nil
	}
	l.table.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	if !l.owned {
		return nil
	}
	l.table.mu.Lock()
	delete(l.table.held, l.key)
	l.table.mu.Unlock()
	l.owned = false
	return nil
}
