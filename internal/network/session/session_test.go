package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

func TestBaseSession(t *testing.T) {
	s := NewBaseSession(nil, "", "127.0.0.1:1")
	require.NotEmpty(t, s.ID())
	assert.Equal(t, "127.0.0.1:1", s.RemoteAddr())
	assert.False(t, s.LastAccess().Before(s.CreatedAt()))

	before := s.LastAccess()
	time.Sleep(time.Millisecond)
	s.Touch()
	assert.True(t, s.LastAccess().After(before))

	s.SetAttribute("user", "u1")
	v, ok := s.Attribute("user")
	require.True(t, ok)
	assert.Equal(t, "u1", v)
	s.SetAttribute("user", nil)
	_, ok = s.Attribute("user")
	assert.False(t, ok)

	s.SetAttribute("k", 1)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
	_, ok = s.Attribute("k")
	assert.False(t, ok)

	assert.Equal(t, "fixed", NewBaseSession(context.Background(), "fixed", "").ID())
}

func TestManagerRegister(t *testing.T) {
	m := NewBaseSessionManager()
	s := NewBaseSession(nil, "a", "")

	require.NoError(t, m.Register(s))
	assert.ErrorIs(t, m.Register(NewBaseSession(nil, "a", "")), merr.ErrSessionAlreadyExist)
	assert.ErrorIs(t, m.Register(nil), merr.ErrParameterMissing)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, m.Unregister("a"))
	assert.True(t, s.Closed())
	assert.ErrorIs(t, m.Unregister("a"), merr.ErrSessionNotFound)
	assert.Zero(t, m.Count())
}

func TestManagerAcquire(t *testing.T) {
	m := NewBaseSessionManager()
	ctx := context.Background()

	s1, created := m.Acquire(ctx, "", "r")
	require.True(t, created)
	s2, created := m.Acquire(ctx, s1.ID(), "r")
	assert.False(t, created)
	assert.Same(t, s1, s2)

	s3, created := m.Acquire(ctx, "unknown", "r")
	assert.True(t, created)
	assert.NotEqual(t, "unknown", s3.ID())

	_ = s1.Close()
	s4, created := m.Acquire(ctx, s1.ID(), "r")
	assert.True(t, created)
	assert.NotEqual(t, s1.ID(), s4.ID())

	n := 0
	m.Range(func(Session) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)
}

func TestManagerSweep(t *testing.T) {
	m := NewBaseSessionManager()
	old := NewBaseSession(nil, "old", "")
	fresh := NewBaseSession(nil, "fresh", "")
	require.NoError(t, m.Register(old))
	require.NoError(t, m.Register(fresh))

	assert.Zero(t, m.Sweep(time.Now(), 0))
	assert.Zero(t, m.Sweep(time.Now(), time.Hour))

	fresh.Touch()
	now := fresh.LastAccess().Add(time.Minute)
	old.lastAccess.Store(now.Add(-2 * time.Hour).UnixNano())

	assert.Equal(t, 1, m.Sweep(now, time.Hour))
	assert.True(t, old.Closed())
	_, ok := m.Get("old")
	assert.False(t, ok)
	_, ok = m.Get("fresh")
	assert.True(t, ok)
}

func TestManagerRun(t *testing.T) {
	m := NewBaseSessionManager()
	s := NewBaseSession(nil, "", "")
	s.lastAccess.Store(0)
	require.NoError(t, m.Register(s))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 5*time.Millisecond, time.Minute) }()

	assert.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	assert.ErrorIs(t, m.Run(context.Background(), 0, time.Minute), merr.ErrParameterInvalid)
}
