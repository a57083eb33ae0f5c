package quoting

import (
	"math"

	"github.com/betbot/quotebot/internal/domain"
)

// targets 一轮报价的目标价（YES 空间，pips）
type targets struct {
	bid int
	ask int
	mid float64 // pips，可能为半个 pip
}

// computeTargets 流动性感知的目标价：
//
//	maxSafeBid = mid - minDist, minSafeAsk = mid + minDist
//	买侧挂在第一个 <= maxSafeBid 的墙上，卖侧挂在第一个 >= minSafeAsk 的墙上，找不到时用安全边界本身。
//
// 返回值满足 tick <= bid < ask <= 1-tick，bid <= mid-tick，ask >= mid+tick，bid < bestAsk，ask > bestBid；
// 无法满足（盘口单边、交叉、mid 贴边）时 ok=false。
func computeTargets(book *domain.OrderBookSnapshot, tickPips, minDistPips int, minWall float64) (targets, bool) {
	bb, ok1 := book.BestBid()
	ba, ok2 := book.BestAsk()
	if !ok1 || !ok2 || tickPips <= 0 {
		return targets{}, false
	}
	bestBid := domain.ToPips(bb.Price)
	bestAsk := domain.ToPips(ba.Price)
	if bestBid >= bestAsk {
		return targets{}, false
	}
	mid := float64(bestBid+bestAsk) / 2
	maxSafeBid := mid - float64(minDistPips)
	minSafeAsk := mid + float64(minDistPips)

	bid := int(math.Floor(maxSafeBid))
	for _, l := range book.Bids {
		p := domain.ToPips(l.Price)
		if float64(p) <= maxSafeBid && l.Size >= minWall {
			bid = p
			break
		}
	}
	ask := int(math.Ceil(minSafeAsk))
	for _, l := range book.Asks {
		p := domain.ToPips(l.Price)
		if float64(p) >= minSafeAsk && l.Size >= minWall {
			ask = p
			break
		}
	}

	bid = domain.ClampPips(domain.FloorToTick(bid, tickPips), tickPips)
	ask = domain.ClampPips(domain.CeilToTick(ask, tickPips), tickPips)

	// 至少离 mid 一个 tick
	if float64(bid) > mid-float64(tickPips) {
		bid = domain.FloorToTick(int(math.Floor(mid-float64(tickPips))), tickPips)
	}
	if float64(ask) < mid+float64(tickPips) {
		ask = domain.CeilToTick(int(math.Ceil(mid+float64(tickPips))), tickPips)
	}
	// 不与对手盘交叉
	if bid >= bestAsk {
		bid = domain.FloorToTick(bestAsk-tickPips, tickPips)
	}
	if ask <= bestBid {
		ask = domain.CeilToTick(bestBid+tickPips, tickPips)
	}
	bid = domain.ClampPips(bid, tickPips)
	ask = domain.ClampPips(ask, tickPips)

	t := targets{bid: bid, ask: ask, mid: mid}
	if !t.valid(bestBid, bestAsk, tickPips) {
		return targets{}, false
	}
	return t, true
}

func (t targets) valid(bestBid, bestAsk, tickPips int) bool {
	switch {
	case t.bid < tickPips || t.ask > domain.PipsPerUnit-tickPips:
		return false
	case t.bid >= t.ask:
		return false
	case float64(t.bid) > t.mid-float64(tickPips) || float64(t.ask) < t.mid+float64(tickPips):
		return false
	case t.bid >= bestAsk || t.ask <= bestBid:
		return false
	}
	return true
}

// noPricePips YES 卖价对应的 NO 买价：1 - ask
func (t targets) noPricePips() int {
	return domain.ComplementPips(t.ask)
}

// driftReason 已报价格与当前 mid 的偏离；返回空串表示正常。
func driftReason(midPips float64, quotedBid, quotedAsk int, minDistPips, maxDistPips int) string {
	if quotedBid <= 0 || quotedAsk <= 0 {
		return ""
	}
	bidDist := midPips - float64(quotedBid)
	askDist := float64(quotedAsk) - midPips
	switch {
	case bidDist < float64(minDistPips):
		return "bid too close"
	case askDist < float64(minDistPips):
		return "ask too close"
	case bidDist > float64(maxDistPips):
		return "bid too far"
	case askDist > float64(maxDistPips):
		return "ask too far"
	}
	return ""
}
