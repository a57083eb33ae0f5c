package diparb

import (
	"context"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/metrics"
)

// reconcile 后台对账：市场已结算时赎回赢家持仓；否则同时持有 YES/NO 时 merge 重叠部分回抵押品。
func (c *Controller) reconcile(ctx context.Context) {
	if ctx.Err() != nil || c.settle == nil {
		return
	}
	resolved, winner, err := c.settle.IsResolved(c.callCtx, c.params.MarketID)
	if err != nil {
		c.log.Warnf("查询结算状态失败: %v", err)
		return
	}
	positions, err := c.backend.GetPositions(c.callCtx)
	if err != nil {
		c.log.Warnf("对账查询持仓失败: %v", err)
		return
	}
	exp := domain.ExposureFor(c.params, positions)

	if resolved {
		held := exp.Of(winner)
		if held <= 0 {
			c.finishResolved()
			return
		}
		if err := c.settle.Redeem(c.callCtx, c.params.MarketID); err != nil {
			c.log.Errorf("❌ 赎回失败: %v", err)
			return
		}
		metrics.ArbRedeems.Add(1)
		c.log.Infof("💰 市场已结算（%s 胜），赎回 %.2f", winner, held)
		c.finishResolved()
		return
	}

	paired := domain.RoundSizeDown(exp.Paired(), 2)
	if paired < c.cfg.MinMergeShares {
		return
	}
	if err := c.settle.Merge(c.callCtx, c.params.MarketID, paired); err != nil {
		c.log.Errorf("❌ merge 失败: %v", err)
		return
	}
	metrics.ArbMerges.Add(1)
	c.log.Infof("🔗 merge %.2f 对 YES/NO -> 抵押品 (YES=%.2f NO=%.2f)", paired, exp.Yes, exp.No)
}

// finishResolved 市场结算后不再有需要对冲的第一腿
func (c *Controller) finishResolved() {
	c.mu.Lock()
	hadLeg := c.st.phase == PhaseLeg1Filled
	if hadLeg {
		c.st.reset()
	}
	c.mu.Unlock()
	if hadLeg {
		c.clearCheckpoint()
		c.log.Infof("市场已结算，清除未对冲的第一腿")
	}
}
