package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", HostKey("https://Example.com/a/b"))
	require.Equal(t, "unknown", HostKey("::bad"))
	require.Equal(t, "unknown", HostKey("/relative"))
}

func TestMultiLimiterLazyDefault(t *testing.T) {
	t.Parallel()

	m := NewMultiLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.WaitURL(ctx, "https://news.example.com/x"))
	}
}

func TestMultiLimiterExplicitLimiter(t *testing.T) {
	t.Parallel()

	m := NewMultiLimiter(0, 0)
	m.AddLimiter("slow", 0.001, 1)

	require.True(t, m.Allow("slow"))
	require.False(t, m.Allow("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, m.Wait(ctx, "slow"))
}
