package common

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/quotebot/pkg/clock"
)

// StartTicker runs fn on every tick until ctx is done.
//
// The loop goroutine is tracked by wg so Stop paths can wait for it.
// fn runs on the loop goroutine; a slow fn delays (never overlaps) the next tick.
func StartTicker(ctx context.Context, wg *sync.WaitGroup, clk clock.Clock, every time.Duration, fn func(ctx context.Context)) {
	if every <= 0 || fn == nil {
		return
	}
	ticker := clk.NewTicker(every)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				fn(ctx)
			}
		}
	}()
}
