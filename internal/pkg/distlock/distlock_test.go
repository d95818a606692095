package distlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLockExclusive(t *testing.T) {
	ctx := context.Background()
	client, mr := newRedis(t)

	a := NewRedisLock(client, "contact-list:Q3", time.Minute)
	b := NewRedisLock(client, "contact-list:Q3", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("campaign-mailer:lock:contact-list:Q3"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b never owned it, so its release leaves a's lock in place.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("campaign-mailer:lock:contact-list:Q3"))

	require.NoError(t, a.Extend(ctx, 2*time.Minute))
	assert.Error(t, b.Extend(ctx, time.Minute))

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newRedis(t)

	a := NewRedisLock(client, "k", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = NewRedisLock(client, "k", time.Second).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGAdvisoryLockPinsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer db.Close()

	l := NewPGAdvisoryLock(db, "contact-list:Q3")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())

	// Releasing an unheld lock is a no-op.
	assert.NoError(t, l.Release(context.Background()))
}

func TestProviderBackends(t *testing.T) {
	client, _ := newRedis(t)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "redis", NewProvider(client, db, time.Second).Backend())
	assert.Equal(t, "postgres", NewProvider(nil, db, time.Second).Backend())
	assert.Equal(t, "local", NewProvider(nil, nil, time.Second).Backend())
}

func TestProviderDoSerialisesCriticalSections(t *testing.T) {
	p := NewProvider(nil, nil, time.Second)
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), "contact-list:Q3", time.Millisecond, func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside.Load())
}

func TestProviderDoGivesUpWhenContextEnds(t *testing.T) {
	p := NewProvider(nil, nil, time.Second)
	held := p.Lock("busy")
	ok, _ := held.Acquire(context.Background())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, "busy", 5*time.Millisecond, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotAcquired)
}
