package common

import (
	"sync"
	"time"
)

// Throttle 最小间隔闸门：距上次成功动作不足 interval 时不放行。
// now 由调用方传入，便于虚拟时钟驱动。
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Ready 只判断，不记录
func (t *Throttle) Ready(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval <= 0 || t.last.IsZero() || now.Sub(t.last) >= t.interval
}

// Mark 记录一次成功动作
func (t *Throttle) Mark(now time.Time) {
	t.mu.Lock()
	t.last = now
	t.mu.Unlock()
}

// Reset 下一次 Ready 必定放行（撤单/熔断恢复后立即重新报价）
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}
