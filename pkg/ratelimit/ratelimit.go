package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/quotebot/pkg/clock"
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket 令牌桶速率限制器（连续补充）
type TokenBucket struct {
	capacity   float64 // 桶容量
	tokens     float64 // 当前令牌数
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	clock      clock.Clock
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶；clk 为 nil 时使用真实时钟
func NewTokenBucket(capacity int, refillRate float64, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: clk.Now(),
		clock:      clk,
	}
}

// refill 补充令牌（调用方持锁）
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	_, ok := tb.reserve()
	return ok
}

// reserve 取一个令牌；不足时返回需要等待的时长
func (tb *TokenBucket) reserve() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	if tb.refillRate <= 0 {
		return time.Second, false
	}
	missing := 1 - tb.tokens
	return time.Duration(missing / tb.refillRate * float64(time.Second)), false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.reserve()
		if ok {
			return nil
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if err := tb.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining 剩余令牌数（向下取整）
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// 接口分组
const (
	EndpointOrderPost    = "clob:order:post"
	EndpointOrderDelete  = "clob:orders:delete"
	EndpointOrdersGet    = "clob:orders:get"
	EndpointBookGet      = "clob:book:get"
	EndpointBalanceGet   = "clob:balance:get"
	EndpointMarketGet    = "clob:market:get"
	EndpointDataPosition = "data:positions:get"
)

// Manager 按接口分组的速率限制
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

// NewManager 每个接口分组一个令牌桶，未知分组共用 fallback
func NewManager(perSecond float64, burst int, clk clock.Clock) *Manager {
	m := &Manager{
		limiters: make(map[string]Limiter),
		fallback: NewTokenBucket(burst, perSecond, clk),
	}
	// 下单/撤单额度高于查询（官方：下单 240/s 突发，查询 150/10s）
	m.limiters[EndpointOrderPost] = NewTokenBucket(burst*2, perSecond*2, clk)
	m.limiters[EndpointOrderDelete] = NewTokenBucket(burst*2, perSecond*2, clk)
	for _, ep := range []string{EndpointOrdersGet, EndpointBookGet, EndpointBalanceGet, EndpointMarketGet, EndpointDataPosition} {
		m.limiters[ep] = NewTokenBucket(burst, perSecond, clk)
	}
	return m
}

// Set 替换某分组的限制器
func (m *Manager) Set(endpoint string, l Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = l
}

// Get 获取指定分组的限制器
func (m *Manager) Get(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait 等待直到允许请求
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.Get(endpoint).Wait(ctx)
}
