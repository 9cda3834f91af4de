package conc

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](4)
	defer pool.Release()

	futures := make([]*Future[int], 0, 16)
	for i := 0; i < 16; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * 2, nil
		}))
	}
	for i, f := range futures {
		v, err := f.Await()
		require.NoError(t, err)
		assert.Equal(t, i*2, v)
	}
	assert.Equal(t, 4, pool.Cap())
}

func TestPoolError(t *testing.T) {
	pool := NewDefaultPool[string]()
	defer pool.Release()

	boom := errors.New("boom")
	f := pool.Submit(func() (string, error) { return "", boom })
	assert.ErrorIs(t, f.Err(), boom)
}

func TestPoolPanicBecomesError(t *testing.T) {
	pool := NewPool[int](1)
	defer pool.Release()

	f := pool.Submit(func() (int, error) { panic("bad handler") })
	_, err := f.Await()
	assert.ErrorIs(t, err, merr.ErrServiceInternal)
}

func TestPoolNonBlockingOverload(t *testing.T) {
	pool := NewPool[int](1, WithNonBlocking(true))
	defer pool.Release()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	busy := pool.Submit(func() (int, error) {
		started.Done()
		<-release
		return 1, nil
	})
	started.Wait()

	rejected := pool.Submit(func() (int, error) { return 2, nil })
	select {
	case <-rejected.Done():
	case <-time.After(time.Second):
		t.Fatal("overloaded submit should complete immediately")
	}
	assert.ErrorIs(t, rejected.Err(), merr.ErrServiceTooManyRequests)

	close(release)
	assert.Equal(t, 1, busy.Value())
}

func TestPoolPreHandler(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	pool := NewPool[int](2, WithPreHandler(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer pool.Release()

	require.NoError(t, pool.Submit(func() (int, error) { return 0, nil }).Err())
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}
