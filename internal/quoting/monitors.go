package quoting

import (
	"context"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/metrics"
)

// checkDrift 漂移监控：mid 相对最近一次挂出的价格过近或过远时，强制立即重新报价。
func (c *Controller) checkDrift(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	book := c.book
	if c.st.blocked() || c.st.forcedDrift {
		c.mu.Unlock()
		return
	}
	qb, qa := c.st.lastQuotedBid, c.st.lastQuotedAsk
	c.mu.Unlock()
	if c.ks.Tripped() || book == nil {
		return
	}

	bb, ok1 := book.BestBid()
	ba, ok2 := book.BestAsk()
	if !ok1 || !ok2 {
		return
	}
	mid := float64(domain.ToPips(bb.Price)+domain.ToPips(ba.Price)) / 2
	reason := driftReason(mid, qb, qa, c.driftMin, c.driftMax)
	if reason == "" {
		return
	}

	c.mu.Lock()
	if c.st.forcedDrift {
		c.mu.Unlock()
		return
	}
	c.st.forcedDrift = true
	c.mu.Unlock()

	metrics.DriftTriggers.Add(1)
	c.log.Warnf("⚠️ 价格漂移 (%s): mid=%.4f quoted=%s/%s，立即重新报价",
		reason, mid/domain.PipsPerUnit, domain.Price{Pips: qb}, domain.Price{Pips: qa})
	c.spawn(func() { c.runCycle(ctx) })
}

// checkZombies 僵尸单监控：本市场挂单数超过上限（每侧一个）时全部撤销。
func (c *Controller) checkZombies(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	orders, err := c.marketOrders(c.callCtx)
	if err != nil {
		c.log.Debugf("僵尸单检查查询失败: %v", err)
		return
	}
	if len(orders) <= c.cfg.MaxRestingOrders {
		return
	}
	metrics.ZombieCancels.Add(1)
	c.log.Warnf("🧟 检测到 %d 个挂单（上限 %d），全部撤销", len(orders), c.cfg.MaxRestingOrders)
	if err := c.backend.CancelOrders(c.callCtx, domain.OrderIDs(orders)); err != nil {
		c.log.Errorf("僵尸单撤销失败: %v", err)
		return
	}
	c.clearQuotes()
}
