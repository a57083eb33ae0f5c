package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual 虚拟时钟：时间只在 Advance/Sleep 时前进，到期定时器在推进的 goroutine 中同步执行。
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	tickers []*manualTicker
	sleeps  []time.Duration
}

// NewManual 创建从 start 开始的虚拟时钟
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type manualTicker struct {
	m       *Manual
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.m.mu.Lock()
	t.stopped = true
	t.m.mu.Unlock()
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep 记录等待时长并推进虚拟时间
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sleeps = append(m.sleeps, d)
	m.mu.Unlock()
	m.Advance(d)
	return ctx.Err()
}

// Sleeps 返回所有 Sleep 调用的时长
func (m *Manual) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.sleeps))
	copy(out, m.sleeps)
	return out
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{m: m, at: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{m: m, period: d, next: m.now.Add(d), ch: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, t)
	return t
}

// Pending 返回尚未触发且未取消的定时器数量
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance 推进虚拟时间，按到期顺序触发定时器与 ticker
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due []*manualTimer
		for _, t := range m.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			m.fireTickersLocked(target)
			m.now = target
			m.compactLocked()
			m.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		m.fireTickersLocked(next.at)
		if next.at.After(m.now) {
			m.now = next.at
		}
		next.fired = true
		m.mu.Unlock()

		next.f()
	}
}

func (m *Manual) fireTickersLocked(until time.Time) {
	for _, t := range m.tickers {
		for !t.stopped && !t.next.After(until) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

func (m *Manual) compactLocked() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
}
