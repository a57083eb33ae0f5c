package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/eventstream"
	"github.com/betbot/quotebot/pkg/logger"
)

var errNotForMarket = errors.New("payload 不属于本市场")

// Strategy 接收订单簿推送的策略控制器
type Strategy interface {
	Start(ctx context.Context) error
	Stop()
	OnOrderBookPush(book *domain.OrderBookSnapshot)
}

// FillHandler 需要钱包成交推送的策略额外实现此接口
type FillHandler interface {
	OnWalletFill(fill domain.WalletFill)
}

// Subscriber 事件流订阅
type Subscriber interface {
	Subscribe(ch eventstream.Channel, cb eventstream.Callback) (*eventstream.Subscription, error)
}

// Engine 单个市场的运行单元：订阅订单簿与钱包频道，把推送分发给策略。
type Engine struct {
	params     *domain.MarketParams
	stream     Subscriber
	walletKey  string
	strategies []Strategy
	observers  []func(*domain.OrderBookSnapshot)
	onTerminal func(error)
	log        *logrus.Entry

	mu      sync.Mutex
	subs    []*eventstream.Subscription
	started bool
	stopped bool
	done    chan struct{}

	terminalOnce sync.Once
}

// Option 可选项
type Option func(*Engine)

// WithStrategy 追加策略；按添加顺序分发
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		if s != nil {
			e.strategies = append(e.strategies, s)
		}
	}
}

// WithWalletKey 订阅钱包频道使用的鉴权 key；为空时不订阅
func WithWalletKey(key string) Option { return func(e *Engine) { e.walletKey = key } }

// WithBookObserver 每个订单簿推送先交给 observer（dry run 撮合）
func WithBookObserver(fn func(*domain.OrderBookSnapshot)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// OnTerminal 连接终止时回调（在引擎停止之后调用）
func OnTerminal(fn func(error)) Option { return func(e *Engine) { e.onTerminal = fn } }

// WithLogger 设置日志上下文
func WithLogger(l *logrus.Entry) Option { return func(e *Engine) { e.log = l } }

func New(params *domain.MarketParams, stream Subscriber, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, fmt.Errorf("engine: stream 不能为空")
	}
	e := &Engine{
		params: params,
		stream: stream,
		log:    logger.ForMarket("engine", params.String()),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params 市场参数
func (e *Engine) Params() *domain.MarketParams { return e.params }

// Done 引擎停止后关闭
func (e *Engine) Done() <-chan struct{} { return e.done }

// Start 启动策略并订阅频道；任一步失败则回滚已启动的部分。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: %s 已启动", e.params.MarketID)
	}
	e.started = true
	e.mu.Unlock()

	for i, s := range e.strategies {
		if err := s.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				e.strategies[j].Stop()
			}
			return fmt.Errorf("engine: 启动策略失败: %w", err)
		}
	}

	bookSub, err := e.stream.Subscribe(eventstream.OrderBook(e.params.MarketID), e.handleBook)
	if err != nil {
		e.Stop()
		return fmt.Errorf("engine: 订阅订单簿失败: %w", err)
	}
	e.addSub(bookSub)

	if e.walletKey != "" {
		walletSub, err := e.stream.Subscribe(eventstream.Wallet(e.walletKey), e.handleWallet)
		if err != nil {
			e.Stop()
			return fmt.Errorf("engine: 订阅钱包事件失败: %w", err)
		}
		e.addSub(walletSub)
	} else {
		e.log.Warnf("⚠️ 未配置钱包频道，成交后不会自动清仓")
	}

	e.log.Infof("🚀 引擎已启动: strategies=%d", len(e.strategies))
	return nil
}

func (e *Engine) addSub(s *eventstream.Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		s.Unsubscribe()
		return
	}
	e.subs = append(e.subs, s)
}

// Stop 取消订阅并停止策略；幂等。
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for i := len(e.strategies) - 1; i >= 0; i-- {
		e.strategies[i].Stop()
	}
	close(e.done)
	e.log.Infof("🛑 引擎已停止")
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) handleBook(ev eventstream.Event) {
	if ev.Err != nil {
		e.handleStreamError(ev.Topic, ev.Err)
		return
	}
	if e.isStopped() {
		return
	}
	book, err := decodeBook(ev.Data, e.params)
	if err != nil {
		if !errors.Is(err, errNotForMarket) {
			e.log.Warnf("订单簿推送解析失败: %v", err)
		}
		return
	}
	for _, fn := range e.observers {
		fn(book)
	}
	for _, s := range e.strategies {
		s.OnOrderBookPush(book)
	}
}

func (e *Engine) handleWallet(ev eventstream.Event) {
	if ev.Err != nil {
		e.handleStreamError(ev.Topic, ev.Err)
		return
	}
	if e.isStopped() {
		return
	}
	fills, err := decodeFills(ev.Data)
	if err != nil {
		e.log.Warnf("钱包推送解析失败: %v", err)
		return
	}
	for _, f := range fills {
		e.HandleFill(f)
	}
}

// HandleFill 把属于本市场的成交交给需要成交事件的策略
func (e *Engine) HandleFill(fill domain.WalletFill) {
	if !e.ownsFill(fill) || e.isStopped() {
		return
	}
	e.log.Infof("💥 成交: order=%s side=%s price=%.4f size=%.2f", fill.OrderID, fill.Side, fill.Price, fill.Size)
	for _, s := range e.strategies {
		if h, ok := s.(FillHandler); ok {
			h.OnWalletFill(fill)
		}
	}
}

func (e *Engine) ownsFill(fill domain.WalletFill) bool {
	if fill.Market != "" && fill.Market == e.params.MarketID {
		return true
	}
	_, ok := e.params.OutcomeOf(fill.AssetID)
	return ok
}

// handleStreamError 终止性断线停止引擎；订阅被拒同样无法继续运行。
func (e *Engine) handleStreamError(topic string, err error) {
	if e.isStopped() {
		return
	}
	if eventstream.IsDisconnect(err) {
		e.log.Errorf("❌ 事件流已终止 (%s): %v，停止引擎", topic, err)
	} else {
		e.log.Errorf("❌ 订阅失败 (%s): %v，停止引擎", topic, err)
	}
	// 回调运行在连接读协程中，停止过程可能等待在途的后端调用
	go func() {
		e.Stop()
		e.terminalOnce.Do(func() {
			if e.onTerminal != nil {
				e.onTerminal(err)
			}
		})
	}()
}
