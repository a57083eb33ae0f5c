package domain

import (
	"sort"
	"time"
)

// BookLevel 订单簿一档
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot YES token 的订单簿快照。
// NO 方向价格通过互补得到：NO ask = 1 - YES bid。
type OrderBookSnapshot struct {
	Market    string
	AssetID   string
	Bids      []BookLevel // 价格从高到低
	Asks      []BookLevel // 价格从低到高
	Timestamp time.Time
}

// Normalize 排序并丢弃非法档位
func (b *OrderBookSnapshot) Normalize() {
	b.Bids = filterLevels(b.Bids)
	b.Asks = filterLevels(b.Asks)
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

func filterLevels(in []BookLevel) []BookLevel {
	out := in[:0]
	for _, l := range in {
		if l.Price > 0 && l.Price < 1 && l.Size > 0 {
			out = append(out, l)
		}
	}
	return out
}

// BestBid 最优买价
func (b *OrderBookSnapshot) BestBid() (BookLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk 最优卖价
func (b *OrderBookSnapshot) BestAsk() (BookLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Mid 中间价；两侧任一缺失或盘口交叉时 ok=false
func (b *OrderBookSnapshot) Mid() (float64, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 || bid.Price >= ask.Price {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// AskDepthUpTo 价格 <= maxPrice 的卖单总量
func (b *OrderBookSnapshot) AskDepthUpTo(maxPrice float64) float64 {
	total := 0.0
	for _, l := range b.Asks {
		if l.Price > maxPrice+1e-9 {
			break
		}
		total += l.Size
	}
	return total
}

// BidDepthDownTo 价格 >= minPrice 的买单总量
func (b *OrderBookSnapshot) BidDepthDownTo(minPrice float64) float64 {
	total := 0.0
	for _, l := range b.Bids {
		if l.Price < minPrice-1e-9 {
			break
		}
		total += l.Size
	}
	return total
}

// BuyPrice 买入某方向的当前价格：YES = best ask，NO = 1 - best bid
func (b *OrderBookSnapshot) BuyPrice(o Outcome) (float64, bool) {
	if o == OutcomeYes {
		ask, ok := b.BestAsk()
		return ask.Price, ok
	}
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	return FromPips(ComplementPips(ToPips(bid.Price))), true
}

// BuyDepthWithin 以 price 买入某方向时，价格不超过 price*(1+band) 的可成交量
func (b *OrderBookSnapshot) BuyDepthWithin(o Outcome, price float64, band float64) float64 {
	limit := price * (1 + band)
	if o == OutcomeYes {
		return b.AskDepthUpTo(limit)
	}
	// NO 的卖单 = YES 的买单：NO 价格 q 对应 YES 买价 1-q
	return b.BidDepthDownTo(1 - limit)
}
