package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsInOrderOnce(t *testing.T) {
	m := NewManager()
	var order []string
	m.OnShutdown("engines", func(context.Context) { order = append(order, "engines") })
	m.OnShutdown("stream", func(context.Context) { order = append(order, "stream") })
	m.OnShutdown("store", func(context.Context) { order = append(order, "store") })

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())

	assert.Equal(t, []string{"engines", "stream", "store"}, order)
}

func TestShutdownStopsWaitingOnTimeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	ran := make(chan struct{}, 1)

	m.OnShutdown("stuck", func(context.Context) { <-release })
	m.OnShutdown("after", func(context.Context) { ran <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	m.Shutdown(ctx)

	assert.Less(t, time.Since(start), time.Second)
	select {
	case <-ran:
		t.Fatalf("callback after a timed out one should not run")
	default:
	}
}
