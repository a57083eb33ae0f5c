package risk

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrKillSwitchTripped 表示波动熔断已触发，禁止继续报价。
var ErrKillSwitchTripped = fmt.Errorf("kill switch tripped")

// KillSwitchConfig 波动熔断配置。
// 约定：MaxRequotes <= 0 表示关闭熔断。
type KillSwitchConfig struct {
	// MaxRequotes 窗口内允许的最大重报价次数，超过即熔断。
	MaxRequotes int
	// Window 滚动窗口长度。
	Window time.Duration
	// Cooldown 熔断后的冷却时长（由调用方调度恢复）。
	Cooldown time.Duration
}

// KillSwitch 统计滚动窗口内的重报价次数。
//
// 快路径（Tripped）使用原子变量；计数与窗口在互斥锁内更新。
type KillSwitch struct {
	tripped atomic.Bool

	mu          sync.Mutex
	cfg         KillSwitchConfig
	count       int
	windowStart time.Time
}

func NewKillSwitch(cfg KillSwitchConfig, now time.Time) *KillSwitch {
	return &KillSwitch{cfg: cfg, windowStart: now}
}

// Roll 窗口到期时清零计数并重置窗口起点。
func (k *KillSwitch) Roll(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cfg.Window > 0 && now.Sub(k.windowStart) > k.cfg.Window {
		k.count = 0
		k.windowStart = now
	}
}

// Exceeded 计数是否超过上限
func (k *KillSwitch) Exceeded() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cfg.MaxRequotes > 0 && k.count > k.cfg.MaxRequotes
}

// Record 记录一次重报价，返回窗口内累计次数。
func (k *KillSwitch) Record() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.count++
	return k.count
}

// Count 当前窗口内的次数
func (k *KillSwitch) Count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.count
}

// WindowStart 当前窗口起点
func (k *KillSwitch) WindowStart() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.windowStart
}

// Trip 进入熔断；已熔断时返回 false。
func (k *KillSwitch) Trip() bool {
	return k.tripped.CompareAndSwap(false, true)
}

// Tripped 快路径检查
func (k *KillSwitch) Tripped() bool {
	return k.tripped.Load()
}

// Reset 清零计数并以 now 作为新窗口起点（不影响熔断状态）。
func (k *KillSwitch) Reset(now time.Time) {
	k.mu.Lock()
	k.count = 0
	k.windowStart = now
	k.mu.Unlock()
}

// Resume 解除熔断并清零计数。
func (k *KillSwitch) Resume(now time.Time) {
	k.Reset(now)
	k.tripped.Store(false)
}

// AllowTrading 熔断时返回 ErrKillSwitchTripped
func (k *KillSwitch) AllowTrading() error {
	if k.tripped.Load() {
		return ErrKillSwitchTripped
	}
	return nil
}
