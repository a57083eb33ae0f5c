// Package diparb 抄底套利控制器：每个市场一个实例。
//
// 状态机 MONITORING -> LEG1_FILLED -> COMPLETE -> (冷却) -> MONITORING。
// 一侧价格急跌且盘口有深度时买入第一腿；对侧价格使两腿成本和 <= sumTarget 时买入第二腿。
// 第二腿超时未完成时按软对冲阶梯寻找仍然不亏的价格，找不到就继续持有。
package diparb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/internal/common"
	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/metrics"
	"github.com/betbot/quotebot/internal/ports"
	"github.com/betbot/quotebot/pkg/clock"
	"github.com/betbot/quotebot/pkg/logger"
	"github.com/betbot/quotebot/pkg/persistence"
)

// Controller 单市场抄底套利控制器
type Controller struct {
	cfg     Config
	params  *domain.MarketParams
	backend ports.TradingBackend
	settle  ports.Settlement
	store   persistence.Store
	clock   clock.Clock
	log     *logrus.Entry

	// 分析、入场与超时检查共用一个闸门
	gate common.Gate

	tickPips      int
	sumTargetPips int

	spawn      func(func())
	noMonitors bool

	ctx     context.Context
	cancel  context.CancelFunc
	callCtx context.Context
	wg      sync.WaitGroup

	mu            sync.Mutex
	st            state
	hist          map[domain.Outcome]*PriceHistory
	book          *domain.OrderBookSnapshot
	cooldownTimer clock.Timer
	started       bool
	stopped       bool
}

// Option 可选项
type Option func(*Controller)

// WithClock 替换时钟
func WithClock(clk clock.Clock) Option { return func(c *Controller) { c.clock = clk } }

// WithLogger 设置日志上下文
func WithLogger(l *logrus.Entry) Option { return func(c *Controller) { c.log = l } }

// WithSettlement 启用赎回/合并对账
func WithSettlement(s ports.Settlement) Option { return func(c *Controller) { c.settle = s } }

// WithCheckpoint 第一腿持仓的持久化位置
func WithCheckpoint(s persistence.Store) Option { return func(c *Controller) { c.store = s } }

func NewController(cfg Config, params *domain.MarketParams, backend ports.TradingBackend, opts ...Option) (*Controller, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("diparb: backend is nil")
	}
	c := &Controller{
		cfg:     cfg,
		params:  params,
		backend: backend,
		clock:   clock.New(),
		log:     logger.ForMarket("diparb", params.String()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tickPips = params.TickPips()
	c.sumTargetPips = domain.ToPips(cfg.SumTarget)
	c.hist = map[domain.Outcome]*PriceHistory{
		domain.OutcomeYes: NewPriceHistory(cfg.window()),
		domain.OutcomeNo:  NewPriceHistory(cfg.window()),
	}
	c.st.reset()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.callCtx = context.WithoutCancel(c.ctx)
	c.spawn = func(f func()) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			f()
		}()
	}
	return c, nil
}

// Start 恢复 checkpoint 并启动超时检查与对账
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("diparb: %s already started", c.params.MarketID)
	}
	c.started = true
	c.mu.Unlock()

	c.restore()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.cancel()
			case <-c.ctx.Done():
			}
		}()
	}
	if !c.noMonitors {
		common.StartTicker(c.ctx, &c.wg, c.clock, c.cfg.timeoutCheck(), c.checkTimeout)
		if c.settle != nil {
			common.StartTicker(c.ctx, &c.wg, c.clock, c.cfg.reconcileEvery(), c.reconcile)
		}
	}
	c.log.Infof("🚀 抄底套利已启动: size=%.2f velocity<=%.3f k=%d sumTarget=%.2f timeout=%v",
		c.cfg.TradeSize, c.cfg.VelocityThreshold, c.cfg.VelocitySamples, c.cfg.SumTarget, c.cfg.leg2Timeout())
	return nil
}

// Stop 停止定时器与后台任务（不撤单、不平仓：第一腿由 checkpoint 记住）
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.log.Infof("🛑 抄底套利已停止")
}

// OnOrderBookPush 记录两侧买入价并触发一次分析：YES = best ask，NO = 1 - best bid。
func (c *Controller) OnOrderBookPush(book *domain.OrderBookSnapshot) {
	if book == nil {
		return
	}
	if book.Market != "" && book.Market != c.params.MarketID {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.book = book
	for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		if p, ok := book.BuyPrice(o); ok {
			c.hist[o].Add(now, domain.ToPips(p))
		}
	}
	c.mu.Unlock()

	c.spawn(func() { c.analyze(c.ctx) })
}

func (c *Controller) analyze(ctx context.Context) {
	if ctx.Err() != nil || !c.gate.TryEnter() {
		return
	}
	defer c.gate.Leave()

	c.mu.Lock()
	phase := c.st.phase
	book := c.book
	c.mu.Unlock()

	switch phase {
	case PhaseMonitoring:
		c.tryEntry(book)
	case PhaseLeg1Filled:
		c.tryExit(book)
	}
}

type entrySignal struct {
	outcome  domain.Outcome
	velocity float64
	price    float64
	depth    float64
}

// pickEntryLocked 选出跌得最快且深度足够的一侧
func (c *Controller) pickEntryLocked(book *domain.OrderBookSnapshot) (entrySignal, bool) {
	var best entrySignal
	found := false
	for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		h := c.hist[o]
		vel, ok := h.Velocity(c.cfg.VelocitySamples)
		if !ok || vel > c.cfg.VelocityThreshold {
			continue
		}
		if c.cfg.MinDropFromHigh > 0 {
			drop, ok := h.DropFromHigh()
			if !ok || drop < c.cfg.MinDropFromHigh {
				continue
			}
		}
		price, ok := book.BuyPrice(o)
		if !ok || price <= 0 {
			continue
		}
		depth := book.BuyDepthWithin(o, price, c.cfg.DepthBand)
		if depth <= c.cfg.DepthMultiple*c.cfg.TradeSize {
			c.log.Debugf("%s 急跌 %.2f%% 但深度不足: %.2f", o, vel*100, depth)
			continue
		}
		if !found || vel < best.velocity {
			best = entrySignal{outcome: o, velocity: vel, price: price, depth: depth}
			found = true
		}
	}
	return best, found
}

func (c *Controller) tryEntry(book *domain.OrderBookSnapshot) {
	if book == nil {
		return
	}
	c.mu.Lock()
	sig, ok := c.pickEntryLocked(book)
	c.mu.Unlock()
	if !ok {
		return
	}

	balance, err := c.backend.GetBalance(c.callCtx)
	if err != nil {
		c.log.Warnf("查询余额失败，跳过入场: %v", err)
		return
	}
	size := domain.RoundSizeDown(min(c.cfg.TradeSize, balance*c.cfg.RiskFraction/sig.price), 2)
	if size <= 0 || size < c.params.MinOrderSize {
		c.log.Infof("💸 可用数量 %.2f 低于最小下单量，跳过入场 (balance=%.2f)", size, balance)
		return
	}

	token := c.params.TokenID(sig.outcome)
	c.log.Infof("📉 %s 急跌 %.2f%%，深度 %.2f，买入第一腿 @ %.4f x %.2f",
		sig.outcome, sig.velocity*100, sig.depth, sig.price, size)
	res, err := c.backend.PlaceLimitOrder(c.callCtx, domain.LimitOrderRequest{
		MarketID: c.params.MarketID,
		TokenID:  token,
		Side:     domain.SideBuy,
		Price:    sig.price,
		Size:     size,
		TickSize: c.params.TickSize,
		NegRisk:  c.params.NegRisk,
	})
	if err != nil {
		c.log.Errorf("❌ 第一腿下单失败: %v", err)
		return
	}
	if !res.Success {
		c.log.Warnf("❌ 第一腿被拒: %s", res.ErrorMsg)
		return
	}

	now := c.clock.Now()
	leg := &Leg{
		Side:      sig.outcome,
		TokenID:   token,
		FillPrice: sig.price,
		Size:      size,
		OrderID:   res.OrderID,
		FilledAt:  now,
	}
	c.mu.Lock()
	c.st.phase = PhaseLeg1Filled
	c.st.leg1 = leg
	c.st.leg2 = nil
	c.st.snoozes = 0
	c.st.hedgeDeadline = now.Add(c.cfg.leg2Timeout())
	c.mu.Unlock()

	metrics.ArbEntries.Add(1)
	c.saveCheckpoint(leg)
}

// tryExit 对侧价格使两腿成本和 <= sumTarget 时买入第二腿
func (c *Controller) tryExit(book *domain.OrderBookSnapshot) {
	if book == nil {
		return
	}
	c.mu.Lock()
	leg1 := c.st.leg1
	c.mu.Unlock()
	if leg1 == nil {
		return
	}
	opp := leg1.Side.Opposite()
	oppPrice, ok := book.BuyPrice(opp)
	if !ok {
		return
	}
	oppPips := domain.ToPips(oppPrice)
	if !sumWithin(domain.ToPips(leg1.FillPrice), oppPips, c.sumTargetPips) {
		return
	}
	c.log.Infof("🎯 %s %.4f + %s %.4f <= %.2f，买入第二腿", leg1.Side, leg1.FillPrice, opp, oppPrice, c.cfg.SumTarget)
	c.placeLeg2(leg1, oppPips)
}

// placeLeg2 买入对侧；成功后进入 COMPLETE 并在冷却后回到 MONITORING。
func (c *Controller) placeLeg2(leg1 *Leg, pips int) bool {
	opp := leg1.Side.Opposite()
	token := c.params.TokenID(opp)
	price := domain.FromPips(pips)
	res, err := c.backend.PlaceLimitOrder(c.callCtx, domain.LimitOrderRequest{
		MarketID: c.params.MarketID,
		TokenID:  token,
		Side:     domain.SideBuy,
		Price:    price,
		Size:     leg1.Size,
		TickSize: c.params.TickSize,
		NegRisk:  c.params.NegRisk,
	})
	if err != nil {
		c.log.Errorf("❌ 第二腿下单失败: %v", err)
		return false
	}
	if !res.Success {
		c.log.Warnf("❌ 第二腿被拒: %s", res.ErrorMsg)
		return false
	}

	now := c.clock.Now()
	cooldown := c.cfg.cooldown()
	c.mu.Lock()
	c.st.phase = PhaseComplete
	c.st.leg2 = &Leg{Side: opp, TokenID: token, FillPrice: price, Size: leg1.Size, OrderID: res.OrderID, FilledAt: now}
	c.st.completedAt = now
	if !c.stopped {
		c.cooldownTimer = c.clock.AfterFunc(cooldown, c.backToMonitoring)
	}
	c.mu.Unlock()

	metrics.ArbCompletions.Add(1)
	c.clearCheckpoint()
	c.log.Infof("✅ 套利完成: %s@%.4f + %s@%.4f = %.4f，%v 后继续监控",
		leg1.Side, leg1.FillPrice, opp, price, leg1.FillPrice+price, cooldown)
	return true
}

func (c *Controller) backToMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownTimer = nil
	if c.stopped || c.st.phase != PhaseComplete {
		return
	}
	c.st.reset()
	for _, h := range c.hist {
		h.Reset()
	}
	c.log.Infof("🔁 冷却结束，回到 MONITORING")
}

// checkTimeout 第二腿超时：持仓侧仍在急跌则推迟；否则在软对冲阶梯上找第一个不亏的价格。
func (c *Controller) checkTimeout(ctx context.Context) {
	if ctx.Err() != nil || !c.gate.TryEnter() {
		return
	}
	defer c.gate.Leave()

	now := c.clock.Now()
	c.mu.Lock()
	if c.st.phase != PhaseLeg1Filled || c.st.leg1 == nil || now.Before(c.st.hedgeDeadline) {
		c.mu.Unlock()
		return
	}
	leg1 := c.st.leg1
	book := c.book
	heldVel, heldOK := c.hist[leg1.Side].Velocity(c.cfg.VelocitySamples)
	c.mu.Unlock()

	if heldOK && heldVel <= c.cfg.DirectionalSkipVelocity {
		c.snooze(fmt.Sprintf("%s 仍在下跌 %.2f%%", leg1.Side, heldVel*100))
		return
	}
	opp := leg1.Side.Opposite()
	oppPrice, ok := book.BuyPrice(opp)
	if book == nil || !ok {
		c.snooze("对侧无报价")
		return
	}
	ladder := hedgeLadder(domain.ToPips(oppPrice), c.cfg.HedgeLadder, c.tickPips)
	rung, ok := pickLadderRung(domain.ToPips(leg1.FillPrice), c.sumTargetPips, ladder)
	if !ok {
		c.snooze(fmt.Sprintf("软对冲无可用价格 (leg1=%.4f opp=%.4f)", leg1.FillPrice, oppPrice))
		return
	}
	c.log.Warnf("⏰ 第二腿超时，软对冲 %s @ %s", opp, domain.Price{Pips: rung})
	if !c.placeLeg2(leg1, rung) {
		c.snooze("软对冲下单失败")
		return
	}
	metrics.ArbSoftHedges.Add(1)
}

// snooze 推迟超时检查（不设上限，继续持有裸露的第一腿）
func (c *Controller) snooze(reason string) {
	c.mu.Lock()
	c.st.hedgeDeadline = c.clock.Now().Add(c.cfg.snooze())
	c.st.snoozes++
	n := c.st.snoozes
	c.mu.Unlock()
	metrics.ArbSnoozes.Add(1)
	c.log.Infof("😴 推迟对冲 #%d: %s", n, reason)
}

func (c *Controller) restore() {
	if c.store == nil {
		return
	}
	var leg Leg
	if err := c.store.Load(&leg); err != nil {
		if !errors.Is(err, persistence.ErrNotExists) {
			c.log.Warnf("读取 checkpoint 失败: %v", err)
		}
		return
	}
	if _, ok := c.params.OutcomeOf(leg.TokenID); !ok || leg.Size <= 0 {
		c.log.Warnf("忽略不属于本市场的 checkpoint: token=%s", leg.TokenID)
		return
	}
	c.mu.Lock()
	c.st.phase = PhaseLeg1Filled
	c.st.leg1 = &leg
	c.st.hedgeDeadline = leg.FilledAt.Add(c.cfg.leg2Timeout())
	c.mu.Unlock()
	c.log.Warnf("♻️ 恢复第一腿: %s @ %.4f x %.2f (filledAt=%s)", leg.Side, leg.FillPrice, leg.Size, leg.FilledAt.Format("15:04:05"))
}

func (c *Controller) saveCheckpoint(leg *Leg) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(leg); err != nil {
		c.log.Errorf("保存 checkpoint 失败: %v", err)
	}
}

func (c *Controller) clearCheckpoint() {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(); err != nil {
		c.log.Warnf("删除 checkpoint 失败: %v", err)
	}
}
