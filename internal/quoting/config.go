package quoting

import (
	"fmt"
	"time"
)

// Config 双边报价 + 风控配置。
//
// 价格/距离均为概率空间小数（0.01 = 1c），时间参数以毫秒配置。
type Config struct {
	// ====== 报价 ======
	// TradeSize: 每侧下单数量，同时也是每侧持仓上限（shares）。
	TradeSize float64 `yaml:"tradeSize" json:"tradeSize"`
	// MinDistance: 报价与 mid 的最小距离。
	MinDistance float64 `yaml:"minDistance" json:"minDistance"`
	// MinWallSize: 挂在“墙”后面时，墙的最小数量（0 = 任意档位都算）。
	MinWallSize float64 `yaml:"minWallSize" json:"minWallSize"`
	// RequoteThreshold: 目标价与当前报价偏离超过此值才撤改。
	RequoteThreshold float64 `yaml:"requoteThreshold" json:"requoteThreshold"`
	// RequoteIntervalMs: 两次下单的最小间隔（drift 强制时忽略）。
	RequoteIntervalMs int `yaml:"requoteIntervalMs" json:"requoteIntervalMs"`

	// ====== 漂移 / 僵尸单监控 ======
	// DriftMinDistance: 已报价格距 mid 小于此值视为过近。
	DriftMinDistance float64 `yaml:"driftMinDistance" json:"driftMinDistance"`
	// MaxDistance: 已报价格距 mid 大于此值视为过远。
	MaxDistance      float64 `yaml:"maxDistance" json:"maxDistance"`
	DriftCheckMs     int     `yaml:"driftCheckMs" json:"driftCheckMs"`
	ZombieCheckMs    int     `yaml:"zombieCheckMs" json:"zombieCheckMs"`
	MaxRestingOrders int     `yaml:"maxRestingOrders" json:"maxRestingOrders"`

	// ====== 波动熔断 ======
	KillSwitchMaxRequotes int `yaml:"killSwitchMaxRequotes" json:"killSwitchMaxRequotes"`
	KillSwitchWindowMs    int `yaml:"killSwitchWindowMs" json:"killSwitchWindowMs"`
	KillSwitchCooldownMs  int `yaml:"killSwitchCooldownMs" json:"killSwitchCooldownMs"`

	// ====== 撤单确认 ======
	PostCancelDelayMs  int `yaml:"postCancelDelayMs" json:"postCancelDelayMs"`
	CancelRetryDelayMs int `yaml:"cancelRetryDelayMs" json:"cancelRetryDelayMs"`

	// ====== 成交后清仓 ======
	DustThreshold    float64 `yaml:"dustThreshold" json:"dustThreshold"`
	SettleDelayMs    int     `yaml:"settleDelayMs" json:"settleDelayMs"`
	ResumeCooldownMs int     `yaml:"resumeCooldownMs" json:"resumeCooldownMs"`

	// CancelOnStop: 停止时撤掉本市场挂单（默认 true）。
	CancelOnStop *bool `yaml:"cancelOnStop" json:"cancelOnStop"`
}

func boolPtr(b bool) *bool { return &b }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Validate 补全默认值并校验
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config 不能为空")
	}

	// defaults
	if c.TradeSize <= 0 {
		c.TradeSize = 10
	}
	if c.MinDistance <= 0 {
		c.MinDistance = 0.02
	}
	if c.MinWallSize < 0 {
		c.MinWallSize = 0
	}
	if c.RequoteThreshold <= 0 {
		c.RequoteThreshold = 0.005
	}
	if c.RequoteIntervalMs < 0 {
		c.RequoteIntervalMs = 0
	}
	if c.DriftMinDistance <= 0 {
		c.DriftMinDistance = c.MinDistance / 2
	}
	if c.MaxDistance <= 0 {
		c.MaxDistance = 0.06
	}
	if c.DriftCheckMs <= 0 {
		c.DriftCheckMs = 200
	}
	if c.ZombieCheckMs <= 0 {
		c.ZombieCheckMs = 10_000
	}
	if c.MaxRestingOrders <= 0 {
		c.MaxRestingOrders = 2
	}
	if c.KillSwitchMaxRequotes <= 0 {
		c.KillSwitchMaxRequotes = 20
	}
	if c.KillSwitchWindowMs <= 0 {
		c.KillSwitchWindowMs = 60_000
	}
	if c.KillSwitchCooldownMs <= 0 {
		c.KillSwitchCooldownMs = 60_000
	}
	if c.PostCancelDelayMs <= 0 {
		c.PostCancelDelayMs = 500
	}
	if c.CancelRetryDelayMs <= 0 {
		c.CancelRetryDelayMs = 300
	}
	if c.DustThreshold <= 0 {
		c.DustThreshold = 0.1
	}
	if c.SettleDelayMs <= 0 {
		c.SettleDelayMs = 2_000
	}
	if c.ResumeCooldownMs <= 0 {
		c.ResumeCooldownMs = 30_000
	}
	if c.CancelOnStop == nil {
		c.CancelOnStop = boolPtr(true)
	}

	// sanity
	if c.MinDistance >= 0.5 {
		return fmt.Errorf("minDistance 必须 < 0.5")
	}
	if c.MaxDistance <= c.DriftMinDistance {
		return fmt.Errorf("maxDistance 必须 > driftMinDistance")
	}
	if c.DustThreshold < 0.01 {
		return fmt.Errorf("dustThreshold 必须 >= 0.01（小于最小数量精度会导致清仓死循环）")
	}
	return nil
}

func (c *Config) requoteInterval() time.Duration  { return ms(c.RequoteIntervalMs) }
func (c *Config) driftCheck() time.Duration       { return ms(c.DriftCheckMs) }
func (c *Config) zombieCheck() time.Duration      { return ms(c.ZombieCheckMs) }
func (c *Config) killSwitchWindow() time.Duration { return ms(c.KillSwitchWindowMs) }
func (c *Config) killSwitchCooldown() time.Duration {
	return ms(c.KillSwitchCooldownMs)
}
func (c *Config) postCancelDelay() time.Duration  { return ms(c.PostCancelDelayMs) }
func (c *Config) cancelRetryDelay() time.Duration { return ms(c.CancelRetryDelayMs) }
func (c *Config) settleDelay() time.Duration      { return ms(c.SettleDelayMs) }
func (c *Config) resumeCooldown() time.Duration   { return ms(c.ResumeCooldownMs) }
