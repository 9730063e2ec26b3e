package portal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	l := NewLimiter(20, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "https://portal.example.edu/disciplinas"))
	}
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	// A different host has its own bucket.
	other := time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example.edu/"))
	require.Less(t, time.Since(other), 40*time.Millisecond)
}

func TestLimiter_HonoursContext(t *testing.T) {
	t.Parallel()

	l := NewLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background(), "https://portal.example.edu"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://portal.example.edu"))
}

func TestLimiter_NilAndUnlimited(t *testing.T) {
	t.Parallel()

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://x"))

	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://x"))
	}
}
