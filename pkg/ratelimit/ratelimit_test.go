package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/quotebot/pkg/clock"
)

func TestTokenBucketBurstThenRefill(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	tb := NewTokenBucket(3, 2, clk)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clk.Advance(500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clk.Advance(10 * time.Second)
	assert.Equal(t, 3, tb.Remaining())
}

func TestTokenBucketWaitSleepsUntilToken(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	tb := NewTokenBucket(1, 4, clk)
	require.NoError(t, tb.Wait(context.Background()))

	start := clk.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Equal(t, 250*time.Millisecond, clk.Now().Sub(start))
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.001, nil)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestManagerFallback(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	m := NewManager(1, 1, clk)
	assert.NotSame(t, m.Get(EndpointBookGet), m.Get("unknown"))
	assert.Same(t, m.Get("unknown"), m.Get("other"))

	custom := NewTokenBucket(1, 1, clk)
	m.Set(EndpointBookGet, custom)
	assert.Same(t, custom, m.Get(EndpointBookGet))
}
