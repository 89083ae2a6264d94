package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "shopapp")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.False(t, l.Held("shopapp"))
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	releaseA, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestMemoryLocker_ContextCancelWhileWaiting(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "p")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "p")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.False(t, l.Held("p"))

	release2, err := l.Acquire(context.Background(), "p")
	require.NoError(t, err)
	release2()
}

func TestMemoryLocker_ReleaseIsIdempotent(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "p")
	require.NoError(t, err)
	release()
	release()
	assert.False(t, l.Held("p"))
}

// Runs against a real Redis when QUICKOPS_TEST_REDIS_ADDR is set.
func TestRedisLocker_Exclusive(t *testing.T) {
	addr := os.Getenv("QUICKOPS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUICKOPS_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.Prefix = "quickops:test:" + t.Name() + ":"
	cfg.RetryInterval = 10 * time.Millisecond

	l, err := NewRedisLocker(cfg, nil)
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Ping(context.Background()))

	release, err := l.Acquire(context.Background(), "shopapp")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "shopapp")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := l.Acquire(context.Background(), "shopapp")
	require.NoError(t, err)
	release2()
}
