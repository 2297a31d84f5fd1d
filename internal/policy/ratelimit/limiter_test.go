package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitUnlimitedNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/page"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitPacesSameDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 50, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://example.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond,
		"second request to the same domain waits for a token")
}

func TestWaitDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example.com/"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://slow.example.com/"))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example.com/")
	require.Error(t, err)
}

func TestDomainOfFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", domainOf("https://Example.com/x"))
	assert.Equal(t, "unknown", domainOf("not a url ::"))
}
