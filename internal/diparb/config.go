package diparb

import (
	"fmt"
	"time"
)

// Config 抄底套利：一侧急跌时买入第一腿，等待对侧价格使两腿成本和 <= SumTarget 后买入第二腿锁定利润。
type Config struct {
	// ===== 信号：价格速度 =====
	WindowSeconds     int     `json:"windowSeconds" yaml:"windowSeconds"`         // 价格历史窗口（秒）
	VelocitySamples   int     `json:"velocitySamples" yaml:"velocitySamples"`     // 速度 = 最近 k 个样本的相对变化
	VelocityThreshold float64 `json:"velocityThreshold" yaml:"velocityThreshold"` // 负数，例如 -0.05 表示跌 5%
	MinDropFromHigh   float64 `json:"minDropFromHigh" yaml:"minDropFromHigh"`     // 相对窗口高点的最小跌幅（0=不检查）

	// ===== 第一腿 =====
	TradeSize     float64 `json:"tradeSize" yaml:"tradeSize"`         // shares
	RiskFraction  float64 `json:"riskFraction" yaml:"riskFraction"`   // 单次最多使用余额的比例
	DepthBand     float64 `json:"depthBand" yaml:"depthBand"`         // 深度统计带宽（相对价格）
	DepthMultiple float64 `json:"depthMultiple" yaml:"depthMultiple"` // 深度需大于 TradeSize 的倍数

	// ===== 第二腿 =====
	// SumTarget 两腿成本和上限（< 1，覆盖手续费与滑点）
	SumTarget float64 `json:"sumTarget" yaml:"sumTarget"`
	// Leg2TimeoutMs 第一腿成交后等待第二腿的时间，超时进入软对冲
	Leg2TimeoutMs int `json:"leg2TimeoutMs" yaml:"leg2TimeoutMs"`
	// SnoozeMs 软对冲条件不满足时推迟的时长（无上限地重复推迟）
	SnoozeMs int `json:"snoozeMs" yaml:"snoozeMs"`
	// DirectionalSkipVelocity 持仓侧速度仍 <= 此值时不对冲，继续等待
	DirectionalSkipVelocity float64 `json:"directionalSkipVelocity" yaml:"directionalSkipVelocity"`
	// HedgeLadder 软对冲价格阶梯：对侧当前价 + offset，从高到低尝试
	HedgeLadder []float64 `json:"hedgeLadder" yaml:"hedgeLadder"`

	// ===== 节奏 =====
	CooldownMs     int     `json:"cooldownMs" yaml:"cooldownMs"`         // 完成后回到 MONITORING 的冷却
	TimeoutCheckMs int     `json:"timeoutCheckMs" yaml:"timeoutCheckMs"` // 超时检查周期
	ReconcileMs    int     `json:"reconcileMs" yaml:"reconcileMs"`       // 赎回/合并检查周期
	MinMergeShares float64 `json:"minMergeShares" yaml:"minMergeShares"` // 小于此数量不 merge
}

func (c *Config) Defaults() {
	if c == nil {
		return
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 30
	}
	if c.VelocitySamples <= 0 {
		c.VelocitySamples = 5
	}
	if c.VelocityThreshold == 0 {
		c.VelocityThreshold = -0.05
	}
	if c.MinDropFromHigh < 0 {
		c.MinDropFromHigh = 0
	}
	if c.TradeSize <= 0 {
		c.TradeSize = 10
	}
	if c.RiskFraction <= 0 {
		c.RiskFraction = 0.1
	}
	if c.DepthBand <= 0 {
		c.DepthBand = 0.01
	}
	if c.DepthMultiple <= 0 {
		c.DepthMultiple = 2
	}
	if c.SumTarget <= 0 {
		c.SumTarget = 0.95
	}
	if c.Leg2TimeoutMs <= 0 {
		c.Leg2TimeoutMs = 60_000
	}
	if c.SnoozeMs <= 0 {
		c.SnoozeMs = 5_000
	}
	if c.DirectionalSkipVelocity == 0 {
		c.DirectionalSkipVelocity = c.VelocityThreshold
	}
	if len(c.HedgeLadder) == 0 {
		c.HedgeLadder = []float64{0.02, 0.01, 0, -0.01, -0.02}
	}
	if c.CooldownMs <= 0 {
		c.CooldownMs = 30_000
	}
	if c.TimeoutCheckMs <= 0 {
		c.TimeoutCheckMs = 1_000
	}
	if c.ReconcileMs <= 0 {
		c.ReconcileMs = 60_000
	}
	if c.MinMergeShares <= 0 {
		c.MinMergeShares = 1
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.VelocitySamples < 1 {
		return fmt.Errorf("velocitySamples must be >= 1")
	}
	if c.VelocityThreshold >= 0 {
		return fmt.Errorf("velocityThreshold must be < 0")
	}
	if c.RiskFraction > 1 {
		return fmt.Errorf("riskFraction must be within (0,1]")
	}
	if c.SumTarget <= 0 || c.SumTarget >= 1 {
		return fmt.Errorf("sumTarget must be within (0,1)")
	}
	return nil
}

func (c *Config) window() time.Duration       { return time.Duration(c.WindowSeconds) * time.Second }
func (c *Config) leg2Timeout() time.Duration  { return time.Duration(c.Leg2TimeoutMs) * time.Millisecond }
func (c *Config) snooze() time.Duration       { return time.Duration(c.SnoozeMs) * time.Millisecond }
func (c *Config) cooldown() time.Duration     { return time.Duration(c.CooldownMs) * time.Millisecond }
func (c *Config) timeoutCheck() time.Duration { return time.Duration(c.TimeoutCheckMs) * time.Millisecond }
func (c *Config) reconcileEvery() time.Duration {
	return time.Duration(c.ReconcileMs) * time.Millisecond
}
