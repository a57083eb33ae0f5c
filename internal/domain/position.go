package domain

import "time"

// Position 钱包持仓（来自交易所/数据接口查询）
type Position struct {
	Market   string // condition id
	AssetID  string
	Size     float64
	AvgPrice float64
}

// ExposureSnapshot 某市场 YES/NO 持仓数量
type ExposureSnapshot struct {
	Yes float64
	No  float64
}

// Of 返回某方向持仓
func (e ExposureSnapshot) Of(o Outcome) float64 {
	if o == OutcomeYes {
		return e.Yes
	}
	return e.No
}

// Paired 可合并（merge）的 YES/NO 对数
func (e ExposureSnapshot) Paired() float64 {
	if e.Yes < e.No {
		return e.Yes
	}
	return e.No
}

// ExposureFor 从持仓列表汇总某市场的 YES/NO 数量
func ExposureFor(params *MarketParams, positions []Position) ExposureSnapshot {
	var snap ExposureSnapshot
	for _, p := range positions {
		switch p.AssetID {
		case params.YesTokenID:
			snap.Yes += p.Size
		case params.NoTokenID:
			snap.No += p.Size
		}
	}
	return snap
}

// WalletFill 钱包成交推送
type WalletFill struct {
	Market    string
	AssetID   string
	OrderID   string
	Side      Side
	Price     float64
	Size      float64
	Timestamp time.Time
}
