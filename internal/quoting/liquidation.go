package quoting

import (
	"context"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/metrics"
)

// OnWalletFill 成交推送：立即停止报价、撤单，并启动清仓（已在清仓中则只撤单）。
func (c *Controller) OnWalletFill(fill domain.WalletFill) {
	if fill.Market != c.params.MarketID {
		if _, ok := c.params.OutcomeOf(fill.AssetID); !ok {
			return
		}
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.st.exiting = true
	c.st.halted = true
	c.st.fillSeq++
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
	c.mu.Unlock()

	c.log.Warnf("💥 成交: side=%s price=%.4f size=%.2f order=%s，停止报价并清仓",
		fill.Side, fill.Price, fill.Size, fill.OrderID)

	c.spawn(func() {
		if _, err := c.cancelAll(c.callCtx); err != nil {
			c.log.Warnf("成交后撤单失败: %v", err)
		}
		c.mu.Lock()
		if c.st.dumping {
			c.mu.Unlock()
			return
		}
		c.st.dumping = true
		c.mu.Unlock()

		metrics.Liquidations.Add(1)
		c.liquidate(c.ctx)
	})
}

// liquidate 清仓循环：撤单 -> 查持仓 -> 市价卖出所有超过 dust 的持仓 -> 等待结算，直到全部低于 dust。
// 清仓期间又收到成交时，即使本轮持仓已干净也再跑一轮。
func (c *Controller) liquidate(ctx context.Context) {
	for round := 1; ; round++ {
		if ctx.Err() != nil {
			c.log.Warnf("清仓中断: %v", ctx.Err())
			c.endDumping()
			return
		}
		c.mu.Lock()
		seen := c.st.fillSeq
		c.mu.Unlock()

		if _, err := c.cancelAll(c.callCtx); err != nil {
			c.log.Warnf("清仓撤单失败: %v", err)
		}

		positions, err := c.backend.GetPositions(c.callCtx)
		if err != nil {
			c.log.Warnf("清仓查询持仓失败: %v", err)
			if err := c.clock.Sleep(ctx, c.cfg.settleDelay()); err != nil {
				c.endDumping()
				return
			}
			continue
		}
		exp := domain.ExposureFor(c.params, positions)

		remaining := false
		for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
			held := exp.Of(o)
			if held <= c.cfg.DustThreshold {
				continue
			}
			remaining = true
			qty := domain.RoundSizeDown(held, 2)
			if qty <= 0 {
				continue
			}
			res, err := c.backend.PlaceMarketOrder(c.callCtx, domain.MarketOrderRequest{
				MarketID: c.params.MarketID,
				TokenID:  c.params.TokenID(o),
				Side:     domain.SideSell,
				Size:     qty,
				TickSize: c.params.TickSize,
				NegRisk:  c.params.NegRisk,
			})
			switch {
			case err != nil:
				c.log.Errorf("❌ [清仓#%d] %s 市价卖出失败: %v", round, o, err)
			case !res.Success:
				c.log.Warnf("❌ [清仓#%d] %s 市价卖出被拒: %s", round, o, res.ErrorMsg)
			default:
				c.log.Infof("🧹 [清仓#%d] %s 市价卖出 %.2f", round, o, qty)
			}
		}
		if !remaining && c.finishLiquidation(seen) {
			return
		}
		if !remaining {
			c.log.Warnf("🔁 [清仓#%d] 清仓期间收到新成交，继续清仓", round)
		}
		if err := c.clock.Sleep(ctx, c.cfg.settleDelay()); err != nil {
			c.endDumping()
			return
		}
	}
}

// finishLiquidation 本轮开始后没有新成交时结束清仓并调度恢复；否则返回 false。
func (c *Controller) finishLiquidation(seen uint64) bool {
	cooldown := c.cfg.resumeCooldown()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.fillSeq != seen {
		return false
	}
	c.st.dumping = false
	if c.stopped {
		return true
	}
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.resumeTimer = c.clock.AfterFunc(cooldown, c.resumeAfterLiquidation)
	c.log.Infof("✅ 清仓完成，%v 后恢复报价", cooldown)
	return true
}

func (c *Controller) endDumping() {
	c.mu.Lock()
	c.st.dumping = false
	c.mu.Unlock()
}

func (c *Controller) resumeAfterLiquidation() {
	c.mu.Lock()
	c.resumeTimer = nil
	if c.stopped || c.st.dumping {
		c.mu.Unlock()
		return
	}
	c.st.halted = false
	c.st.exiting = false
	c.st.forcedDrift = false
	c.st.clearQuotes()
	c.mu.Unlock()

	c.ks.Reset(c.clock.Now())
	c.rate.Reset()
	c.log.Infof("✅ 冷却结束，恢复报价")
}
