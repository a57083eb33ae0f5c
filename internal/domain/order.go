package domain

import (
	"strings"
	"time"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// LimitOrderRequest 限价单请求（GTC）
type LimitOrderRequest struct {
	MarketID string
	TokenID  string
	Side     Side
	Price    float64
	Size     float64
	TickSize float64
	NegRisk  bool
}

// MarketOrderRequest 市价单请求（FAK），Size 为份额数量
type MarketOrderRequest struct {
	MarketID string
	TokenID  string
	Side     Side
	Size     float64
	TickSize float64
	NegRisk  bool
}

// PlaceResult 下单结果：Success=false 表示交易所拒绝（非传输错误）
type PlaceResult struct {
	Success  bool
	OrderID  string
	Status   string
	ErrorMsg string
}

// InsufficientFunds 是否为余额/授权不足导致的拒单
func (r PlaceResult) InsufficientFunds() bool {
	msg := strings.ToLower(r.ErrorMsg)
	return strings.Contains(msg, "not enough balance") ||
		strings.Contains(msg, "insufficient") ||
		strings.Contains(msg, "allowance")
}

// OpenOrder 挂单（来自交易所查询）
type OpenOrder struct {
	ID           string
	Market       string
	AssetID      string
	Side         Side
	Price        float64
	OriginalSize float64
	SizeMatched  float64
	CreatedAt    time.Time
}

// Remaining 剩余未成交数量
func (o OpenOrder) Remaining() float64 {
	r := o.OriginalSize - o.SizeMatched
	if r < 0 {
		return 0
	}
	return r
}

// FilterByMarket 只保留本市场的挂单
func FilterByMarket(orders []OpenOrder, marketID string) []OpenOrder {
	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o.Market == marketID {
			out = append(out, o)
		}
	}
	return out
}

// OrderIDs 提取订单 ID
func OrderIDs(orders []OpenOrder) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
