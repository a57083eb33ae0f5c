// Package quoting 双边做市控制器：每个市场一个实例。
//
// 收到盘口推送后计算流动性感知的目标价，撤单确认后并发挂出 YES/NO 两条 BUY 腿；
// 独立的漂移/僵尸单监控，以及成交后的清仓流程。
package quoting

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/quotebot/internal/common"
	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/metrics"
	"github.com/betbot/quotebot/internal/ports"
	"github.com/betbot/quotebot/internal/risk"
	"github.com/betbot/quotebot/pkg/clock"
	"github.com/betbot/quotebot/pkg/logger"
)

// Controller 单市场报价控制器
type Controller struct {
	cfg     Config
	params  *domain.MarketParams
	backend ports.TradingBackend
	clock   clock.Clock
	log     *logrus.Entry

	ks   *risk.KillSwitch
	rate *common.Throttle
	gate common.Gate

	tickPips    int
	minDistPips int
	driftMin    int
	driftMax    int
	threshold   int

	// spawn 异步执行（测试中替换为同步）
	spawn      func(func())
	noMonitors bool

	ctx     context.Context
	cancel  context.CancelFunc
	callCtx context.Context // 不随 Stop 取消：已发出的后端调用执行完并记录结果
	wg      sync.WaitGroup

	mu          sync.Mutex
	st          state
	book        *domain.OrderBookSnapshot
	started     bool
	stopped     bool
	resumeTimer clock.Timer
	killTimer   clock.Timer
}

// Option 可选项
type Option func(*Controller)

// WithClock 替换时钟
func WithClock(clk clock.Clock) Option { return func(c *Controller) { c.clock = clk } }

// WithLogger 设置日志上下文
func WithLogger(l *logrus.Entry) Option { return func(c *Controller) { c.log = l } }

// NewController 创建控制器；cfg 会被补全默认值。
func NewController(cfg Config, params *domain.MarketParams, backend ports.TradingBackend, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("quoting: backend 不能为空")
	}
	c := &Controller{
		cfg:     cfg,
		params:  params,
		backend: backend,
		clock:   clock.New(),
		log:     logger.ForMarket("quoting", params.String()),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.tickPips = params.TickPips()
	c.minDistPips = domain.ToPips(cfg.MinDistance)
	c.driftMin = domain.ToPips(cfg.DriftMinDistance)
	c.driftMax = domain.ToPips(cfg.MaxDistance)
	c.threshold = domain.ToPips(cfg.RequoteThreshold)

	c.ks = risk.NewKillSwitch(risk.KillSwitchConfig{
		MaxRequotes: cfg.KillSwitchMaxRequotes,
		Window:      cfg.killSwitchWindow(),
		Cooldown:    cfg.killSwitchCooldown(),
	}, c.clock.Now())
	c.rate = common.NewThrottle(cfg.requoteInterval())
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

// Params 市场参数
func (c *Controller) Params() *domain.MarketParams { return c.params }

// Start 启动漂移与僵尸单监控
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("quoting: %s 已启动", c.params.MarketID)
	}
	c.started = true
	c.mu.Unlock()

	if ctx != nil {
		// 外部 ctx 取消时一并停止监控
		go func() {
			select {
			case <-ctx.Done():
				c.cancel()
			case <-c.ctx.Done():
			}
		}()
	}
	if !c.noMonitors {
		common.StartTicker(c.ctx, &c.wg, c.clock, c.cfg.driftCheck(), c.checkDrift)
		common.StartTicker(c.ctx, &c.wg, c.clock, c.cfg.zombieCheck(), c.checkZombies)
	}
	c.log.Infof("🚀 报价控制器已启动: size=%.2f minDist=%.4f maxDist=%.4f threshold=%.4f",
		c.cfg.TradeSize, c.cfg.MinDistance, c.cfg.MaxDistance, c.cfg.RequoteThreshold)
	return nil
}

// Stop 停止监控与定时器，等待进行中的周期结束；按配置撤掉本市场挂单。
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
	if c.killTimer != nil {
		c.killTimer.Stop()
		c.killTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	if c.cfg.CancelOnStop != nil && *c.cfg.CancelOnStop {
		if n, err := c.cancelAll(c.callCtx); err != nil {
			c.log.Warnf("停止时撤单失败: %v", err)
		} else if n > 0 {
			c.log.Infof("🛑 停止时已撤销 %d 个挂单", n)
		}
	}
	c.log.Infof("🛑 报价控制器已停止")
}

func (c *Controller) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// OnOrderBookPush 记录最新盘口并触发一次报价周期
func (c *Controller) OnOrderBookPush(book *domain.OrderBookSnapshot) {
	if book == nil {
		return
	}
	if book.Market != "" && book.Market != c.params.MarketID {
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.book = book
	c.mu.Unlock()

	c.spawn(func() { c.runCycle(c.ctx) })
}

func (c *Controller) latestBook() *domain.OrderBookSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book
}

// runCycle 一次完整的报价周期；任何不满足条件的步骤直接返回，不阻塞等待。
func (c *Controller) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !c.gate.TryEnter() {
		return
	}
	defer c.gate.Leave()

	c.mu.Lock()
	if c.st.blocked() {
		c.mu.Unlock()
		return
	}
	forced := c.st.forcedDrift
	curBid, curAsk := c.st.currentBid, c.st.currentAsk
	seq := c.st.fillSeq
	c.mu.Unlock()
	if err := c.ks.AllowTrading(); err != nil {
		c.log.Debugf("跳过报价: %v", err)
		return
	}

	now := c.clock.Now()
	c.ks.Roll(now)
	if c.ks.Exceeded() {
		c.tripKillSwitch(ctx)
		return
	}

	if !forced {
		if !c.rate.Ready(now) {
			return
		}
	}

	book := c.latestBook()
	t, ok := computeTargets(book, c.tickPips, c.minDistPips, c.cfg.MinWallSize)
	if !ok {
		c.log.Debugf("盘口不可报价，跳过")
		return
	}

	if !forced && curBid > 0 && curAsk > 0 {
		if abs(t.bid-curBid) <= c.threshold && abs(t.ask-curAsk) <= c.threshold {
			return
		}
	}
	count := c.ks.Record()

	c.log.Infof("🔄 重新报价 #%d: bid=%s ask=%s (当前 %s/%s, forced=%v)",
		count, domain.Price{Pips: t.bid}, domain.Price{Pips: t.ask},
		domain.Price{Pips: curBid}, domain.Price{Pips: curAsk}, forced)

	if err := c.replaceOrders(ctx); err != nil {
		return
	}
	c.mu.Lock()
	c.st.clearQuotes()
	c.mu.Unlock()
	if !c.canPlace(seq) {
		return
	}

	yesSize, noSize, ok := c.allowedSizes()
	if !ok {
		return
	}
	// 查询持仓期间可能收到成交
	if !c.canPlace(seq) {
		return
	}

	ids := c.placeQuotes(t, yesSize, noSize)
	if len(ids) == 0 {
		return
	}

	placedAt := c.clock.Now()
	c.mu.Lock()
	if c.st.blocked() || c.st.fillSeq != seq {
		c.mu.Unlock()
		// 下单期间收到成交：刚挂出的单不能留在盘口
		c.log.Warnf("⚠️ 挂单期间收到成交，撤销刚挂出的 %d 个订单", len(ids))
		if err := c.backend.CancelOrders(c.callCtx, ids); err != nil {
			c.log.Errorf("撤销新挂单失败: %v", err)
		}
		return
	}
	c.st.currentBid, c.st.currentAsk = t.bid, t.ask
	c.st.lastQuotedBid, c.st.lastQuotedAsk = t.bid, t.ask
	c.st.activeIDs = ids
	c.st.forcedDrift = false
	c.st.lastPlacementAt = placedAt
	c.mu.Unlock()
	c.rate.Mark(placedAt)
	metrics.Requotes.Add(1)
}

// canPlace 周期开始后没有新成交、未进入清仓、未熔断
func (c *Controller) canPlace(seq uint64) bool {
	c.mu.Lock()
	ok := !c.st.blocked() && c.st.fillSeq == seq
	c.mu.Unlock()
	return ok && c.ks.AllowTrading() == nil
}

// replaceOrders 撤单并确认：循环直到本市场没有挂单。发现过挂单时额外等待一次安全延迟。
func (c *Controller) replaceOrders(ctx context.Context) error {
	dirty := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		orders, err := c.marketOrders(c.callCtx)
		if err != nil {
			c.log.Warnf("查询挂单失败: %v", err)
			if err := c.clock.Sleep(ctx, c.cfg.cancelRetryDelay()); err != nil {
				return err
			}
			continue
		}
		if len(orders) == 0 {
			break
		}
		dirty = true
		if err := c.backend.CancelOrders(c.callCtx, domain.OrderIDs(orders)); err != nil {
			c.log.Warnf("撤单失败: %v", err)
		}
		remaining, err := c.marketOrders(c.callCtx)
		if err == nil && len(remaining) == 0 {
			break
		}
		if err == nil {
			c.log.Warnf("⏳ 仍有 %d 个挂单未撤销，%v 后重试", len(remaining), c.cfg.cancelRetryDelay())
		}
		if err := c.clock.Sleep(ctx, c.cfg.cancelRetryDelay()); err != nil {
			return err
		}
	}
	if dirty {
		return c.clock.Sleep(ctx, c.cfg.postCancelDelay())
	}
	return nil
}

// allowedSizes 持仓上限：每侧允许数量 = max(0, size - 持仓)。查询失败或两侧都满时 ok=false。
func (c *Controller) allowedSizes() (yes, no float64, ok bool) {
	positions, err := c.backend.GetPositions(c.callCtx)
	if err != nil {
		c.log.Warnf("查询持仓失败，本轮不挂单: %v", err)
		return 0, 0, false
	}
	exp := domain.ExposureFor(c.params, positions)
	yes = domain.RoundSizeDown(max(0, c.cfg.TradeSize-exp.Yes), 2)
	no = domain.RoundSizeDown(max(0, c.cfg.TradeSize-exp.No), 2)
	minSize := c.params.MinOrderSize
	if yes < minSize || yes <= 0 {
		yes = 0
	}
	if no < minSize || no <= 0 {
		no = 0
	}
	if yes == 0 && no == 0 {
		c.log.Infof("📦 持仓已达上限 (YES=%.2f NO=%.2f)，本轮不挂单", exp.Yes, exp.No)
		return 0, 0, false
	}
	return yes, no, true
}

type legResult struct {
	outcome domain.Outcome
	orderID string
}

// placeQuotes 并发挂出两条 BUY 腿：YES@bid，NO@(1-ask)。各腿独立成功/失败。
func (c *Controller) placeQuotes(t targets, yesSize, noSize float64) []string {
	legs := []struct {
		outcome domain.Outcome
		pips    int
		size    float64
	}{
		{domain.OutcomeYes, t.bid, yesSize},
		{domain.OutcomeNo, t.noPricePips(), noSize},
	}
	results := make([]legResult, len(legs))

	var g errgroup.Group
	for i, leg := range legs {
		if leg.size <= 0 {
			continue
		}
		i, leg := i, leg
		g.Go(func() error {
			req := domain.LimitOrderRequest{
				MarketID: c.params.MarketID,
				TokenID:  c.params.TokenID(leg.outcome),
				Side:     domain.SideBuy,
				Price:    domain.FromPips(leg.pips),
				Size:     leg.size,
				TickSize: c.params.TickSize,
				NegRisk:  c.params.NegRisk,
			}
			res, err := c.backend.PlaceLimitOrder(c.callCtx, req)
			switch {
			case err != nil:
				metrics.PlacementFailures.Add(1)
				c.log.Errorf("❌ %s 挂单失败: %v", leg.outcome, err)
			case !res.Success && res.InsufficientFunds():
				metrics.PlacementFailures.Add(1)
				c.log.Warnf("💸 %s 余额不足，本轮跳过该腿: %s", leg.outcome, res.ErrorMsg)
			case !res.Success:
				metrics.PlacementFailures.Add(1)
				c.log.Warnf("❌ %s 挂单被拒: %s", leg.outcome, res.ErrorMsg)
			default:
				results[i] = legResult{outcome: leg.outcome, orderID: res.OrderID}
				c.log.Infof("✅ %s BUY @ %s x %.2f id=%s", leg.outcome, domain.Price{Pips: leg.pips}, leg.size, res.OrderID)
			}
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.orderID != "" {
			ids = append(ids, r.orderID)
		}
	}
	return ids
}

// tripKillSwitch 熔断：停止报价、撤单，冷却后自动恢复并清零计数。
func (c *Controller) tripKillSwitch(ctx context.Context) {
	if !c.ks.Trip() {
		return
	}
	metrics.KillSwitchTrips.Add(1)
	cooldown := c.cfg.killSwitchCooldown()
	c.log.Errorf("🚨 熔断：窗口内重报价 %d 次超过上限 %d，暂停 %v", c.ks.Count(), c.cfg.KillSwitchMaxRequotes, cooldown)

	if _, err := c.cancelAll(c.callCtx); err != nil {
		c.log.Warnf("熔断撤单失败: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || ctx.Err() != nil {
		return
	}
	if c.killTimer != nil {
		c.killTimer.Stop()
	}
	c.killTimer = c.clock.AfterFunc(cooldown, c.resumeFromKillSwitch)
}

func (c *Controller) resumeFromKillSwitch() {
	c.mu.Lock()
	c.killTimer = nil
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	c.ks.Resume(c.clock.Now())
	c.rate.Reset()
	c.log.Infof("✅ 熔断冷却结束，恢复报价")
}

// marketOrders 本市场（按 market 或 token 归属）的挂单
func (c *Controller) marketOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	all, err := c.backend.GetOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OpenOrder, 0, len(all))
	for _, o := range all {
		if o.Market == c.params.MarketID {
			out = append(out, o)
			continue
		}
		if _, ok := c.params.OutcomeOf(o.AssetID); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// cancelAll 撤销本市场所有挂单（不等待确认），返回撤单数量
func (c *Controller) cancelAll(ctx context.Context) (int, error) {
	orders, err := c.marketOrders(ctx)
	if err != nil {
		c.mu.Lock()
		ids := append([]string(nil), c.st.activeIDs...)
		c.mu.Unlock()
		if len(ids) == 0 {
			return 0, err
		}
		c.log.Warnf("查询挂单失败，按本地记录撤单: %v", err)
		if cerr := c.backend.CancelOrders(ctx, ids); cerr != nil {
			return 0, cerr
		}
		c.clearQuotes()
		return len(ids), nil
	}
	if len(orders) == 0 {
		c.clearQuotes()
		return 0, nil
	}
	if err := c.backend.CancelOrders(ctx, domain.OrderIDs(orders)); err != nil {
		return 0, err
	}
	c.clearQuotes()
	return len(orders), nil
}

func (c *Controller) clearQuotes() {
	c.mu.Lock()
	c.st.clearQuotes()
	c.mu.Unlock()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
