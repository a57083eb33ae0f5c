// Package clock 抽象时间源与定时器，便于在测试中用虚拟时间驱动状态机。
package clock

import (
	"context"
	"time"
)

// Timer 可取消的一次性定时器
type Timer interface {
	Stop() bool
}

// Ticker 周期触发器
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock 时间源
type Clock interface {
	Now() time.Time
	// Sleep 等待 d；ctx 取消时提前返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
	// AfterFunc 在 d 后于独立 goroutine 执行 f（Manual 实现中同步执行）
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Real 基于 time 包的实现
type Real struct{}

// New 返回真实时钟
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
