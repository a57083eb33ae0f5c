package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/quotebot/pkg/clock"
)

func TestGateSingleSlot(t *testing.T) {
	var g Gate
	if !g.TryEnter() {
		t.Fatalf("expected first enter to succeed")
	}
	if g.TryEnter() {
		t.Fatalf("expected second enter to fail while busy")
	}
	g.Leave()
	g.Leave()
	if !g.TryEnter() {
		t.Fatalf("expected enter after leave to succeed")
	}
}

func TestThrottleReady(t *testing.T) {
	th := NewThrottle(2 * time.Second)
	now := time.Unix(1000, 0)
	if !th.Ready(now) {
		t.Fatalf("expected ready before first mark")
	}
	th.Mark(now)
	if th.Ready(now.Add(time.Second)) {
		t.Fatalf("expected not ready after 1s")
	}
	if !th.Ready(now.Add(2 * time.Second)) {
		t.Fatalf("expected ready after interval")
	}
	th.Mark(now.Add(2 * time.Second))
	th.Reset()
	if !th.Ready(now.Add(2 * time.Second)) {
		t.Fatalf("expected ready after reset")
	}
}

func TestStartTickerStopsWithContext(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runs atomic.Int32
	StartTicker(ctx, &wg, clk, 200*time.Millisecond, func(context.Context) { runs.Add(1) })

	clk.Advance(200 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatalf("expected at least one run")
	}
	cancel()
	wg.Wait()
}
