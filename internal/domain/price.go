package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PipsPerUnit 1 pip = 0.0001，10000 pips = 1.0（一份结算金额）
const PipsPerUnit = 10000

// Price 价格值对象（固定精度：1e-4）
//
// tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001，内部统一用 pips 计算，
// 避免浮点误差影响 tick 对齐与边界判断。
type Price struct {
	// Pips: 价格 * 10000（范围通常 1..9999）
	Pips int
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / PipsPerUnit
}

func (p Price) String() string {
	return decimal.New(int64(p.Pips), -4).String()
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(v float64) Price {
	return Price{Pips: ToPips(v)}
}

// ToPips 小数价格 -> pips（四舍五入）
func ToPips(v float64) int {
	return int(math.Round(v * PipsPerUnit))
}

// FromPips pips -> 小数价格
func FromPips(pips int) float64 {
	return float64(pips) / PipsPerUnit
}

// TickPips 把 tick size 转换为 pips
func TickPips(tickSize float64) (int, error) {
	if tickSize <= 0 || tickSize >= 1 {
		return 0, fmt.Errorf("无效 tickSize=%v", tickSize)
	}
	pips := ToPips(tickSize)
	if pips <= 0 {
		return 0, fmt.Errorf("tickSize=%v 转换 pips 失败", tickSize)
	}
	return pips, nil
}

// FloorToTick 向下对齐到 tick
func FloorToTick(pips int, tickPips int) int {
	if tickPips <= 0 {
		return pips
	}
	if pips < 0 {
		return -CeilToTick(-pips, tickPips)
	}
	return (pips / tickPips) * tickPips
}

// CeilToTick 向上对齐到 tick
func CeilToTick(pips int, tickPips int) int {
	if tickPips <= 0 {
		return pips
	}
	if pips < 0 {
		return -FloorToTick(-pips, tickPips)
	}
	return ((pips + tickPips - 1) / tickPips) * tickPips
}

// ClampPips 把价格限制在 [tick, 1-tick]
func ClampPips(pips int, tickPips int) int {
	if tickPips <= 0 {
		tickPips = 1
	}
	if pips < tickPips {
		return tickPips
	}
	max := PipsPerUnit - tickPips
	if pips > max {
		return max
	}
	return pips
}

// ComplementPips 对侧价格：1 - p
func ComplementPips(pips int) int {
	return PipsPerUnit - pips
}

// RoundSizeDown 数量截断到 places 位小数（下单数量不能超过持仓）
func RoundSizeDown(size float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(size).Truncate(places).Float64()
	return f
}
