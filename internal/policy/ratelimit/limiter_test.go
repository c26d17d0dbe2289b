package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "http://localhost:1780/telefonbuch.cgi"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://localhost:1780/telefonbuch.cgi?name=aa"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(ctx, "http://localhost:1780/"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "http://localhost:1780/"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://127.0.0.1:1780/"))
	require.Less(t, time.Since(start), 10*time.Millisecond, "second host blocked by first")
}

func TestLimiter_ContextCanceled(t *testing.T) {
	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "http://localhost:1780/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "http://localhost:1780/"))
}
