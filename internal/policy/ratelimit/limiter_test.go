package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 2})
	ok, _ := l.Allow("task-a")
	require.True(t, ok)
	ok, _ = l.Allow("task-a")
	require.True(t, ok)

	ok, retry := l.Allow("task-a")
	require.False(t, ok)
	require.Greater(t, retry, time.Duration(0))
	require.LessOrEqual(t, retry, time.Second)

	ok, _ = l.Allow("task-b")
	require.True(t, ok, "buckets are independent")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("task")
		require.True(t, ok)
	}

	var nilLimiter *Limiter
	ok, _ := nilLimiter.Allow("task")
	require.True(t, ok)
	nilLimiter.Forget("task")
}

func TestLimiterForget(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ok, _ := l.Allow("task")
	require.True(t, ok)
	ok, _ = l.Allow("task")
	require.False(t, ok)

	l.Forget("task")
	ok, _ = l.Allow("task")
	require.True(t, ok)
}
