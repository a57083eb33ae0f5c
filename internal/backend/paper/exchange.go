// Package paper 纸交易（dry run）交易所：内存撮合，不发送任何真实请求。
//
// 同时作为控制器测试中的可编排交易所：记录所有调用，支持注入拒单、撤单不生效、查询失败。
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/ports"
)

var (
	_ ports.TradingBackend = (*Exchange)(nil)
	_ ports.Settlement     = (*Exchange)(nil)
)

// Op 调用类型
type Op string

const (
	OpGetBook     Op = "get_book"
	OpPlaceLimit  Op = "place_limit"
	OpPlaceMarket Op = "place_market"
	OpCancel      Op = "cancel"
	OpOpenOrders  Op = "open_orders"
	OpPositions   Op = "positions"
	OpBalance     Op = "balance"
	OpIsResolved  Op = "is_resolved"
	OpRedeem      Op = "redeem"
	OpMerge       Op = "merge"
)

// Call 一次调用记录
type Call struct {
	Op       Op
	MarketID string
	TokenID  string
	Side     domain.Side
	Price    float64
	Size     float64
	OrderIDs []string
}

type tokenInfo struct {
	market  string
	outcome domain.Outcome
}

type restingOrder struct {
	seq   int
	order domain.OpenOrder
}

// Exchange 内存交易所
type Exchange struct {
	mu  sync.Mutex
	log *logrus.Entry

	seq       int
	tokens    map[string]tokenInfo
	books     map[string]*domain.OrderBookSnapshot
	orders    map[string]*restingOrder
	positions map[string]float64 // tokenID -> size
	balance   float64
	resolved  map[string]domain.Outcome
	calls     []Call
	onFill    func(domain.WalletFill)

	// 故障注入
	stickyCancels    int
	rejects          map[string]string // tokenID -> 拒单原因
	openOrdersErr    error
	positionsErr     error
	sellFillFraction float64 // 市价卖出的成交比例（默认 1）
}

// New 创建纸交易所
func New(balance float64) *Exchange {
	return &Exchange{
		log:              logrus.WithField("component", "paper"),
		tokens:           make(map[string]tokenInfo),
		books:            make(map[string]*domain.OrderBookSnapshot),
		orders:           make(map[string]*restingOrder),
		positions:        make(map[string]float64),
		balance:          balance,
		resolved:         make(map[string]domain.Outcome),
		rejects:          make(map[string]string),
		sellFillFraction: 1,
	}
}

// AddMarket 登记市场的 token
func (e *Exchange) AddMarket(p *domain.MarketParams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens[p.YesTokenID] = tokenInfo{market: p.MarketID, outcome: domain.OutcomeYes}
	e.tokens[p.NoTokenID] = tokenInfo{market: p.MarketID, outcome: domain.OutcomeNo}
}

// OnFill 设置成交回调（dry run 模式下用于模拟钱包成交推送）
func (e *Exchange) OnFill(fn func(domain.WalletFill)) {
	e.mu.Lock()
	e.onFill = fn
	e.mu.Unlock()
}

func (e *Exchange) record(c Call) {
	e.calls = append(e.calls, c)
}

func (e *Exchange) GetOrderBook(_ context.Context, marketID string) (*domain.OrderBookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpGetBook, MarketID: marketID})
	b, ok := e.books[marketID]
	if !ok {
		return nil, fmt.Errorf("paper: no book for %s", marketID)
	}
	cp := *b
	cp.Bids = append([]domain.BookLevel(nil), b.Bids...)
	cp.Asks = append([]domain.BookLevel(nil), b.Asks...)
	return &cp, nil
}

func (e *Exchange) PlaceLimitOrder(_ context.Context, req domain.LimitOrderRequest) (domain.PlaceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpPlaceLimit, MarketID: req.MarketID, TokenID: req.TokenID, Side: req.Side, Price: req.Price, Size: req.Size})

	if reason, ok := e.rejects[req.TokenID]; ok {
		return domain.PlaceResult{Success: false, ErrorMsg: reason}, nil
	}
	if req.Size <= 0 || req.Price <= 0 || req.Price >= 1 {
		return domain.PlaceResult{Success: false, ErrorMsg: "invalid order"}, nil
	}
	if req.Side == domain.SideBuy && req.Price*req.Size > e.balance+1e-9 {
		return domain.PlaceResult{Success: false, ErrorMsg: "not enough balance / allowance"}, nil
	}

	e.seq++
	id := fmt.Sprintf("paper-%d", e.seq)
	market := req.MarketID
	if market == "" {
		market = e.tokens[req.TokenID].market
	}
	e.orders[id] = &restingOrder{seq: e.seq, order: domain.OpenOrder{
		ID:           id,
		Market:       market,
		AssetID:      req.TokenID,
		Side:         req.Side,
		Price:        req.Price,
		OriginalSize: req.Size,
	}}
	e.log.Infof("📝 [纸交易] 挂单: id=%s token=%s side=%s price=%.4f size=%.2f", id, req.TokenID, req.Side, req.Price, req.Size)
	return domain.PlaceResult{Success: true, OrderID: id, Status: "live"}, nil
}

func (e *Exchange) PlaceMarketOrder(_ context.Context, req domain.MarketOrderRequest) (domain.PlaceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpPlaceMarket, MarketID: req.MarketID, TokenID: req.TokenID, Side: req.Side, Size: req.Size})

	if reason, ok := e.rejects[req.TokenID]; ok {
		return domain.PlaceResult{Success: false, ErrorMsg: reason}, nil
	}
	e.seq++
	id := fmt.Sprintf("paper-%d", e.seq)
	switch req.Side {
	case domain.SideSell:
		held := e.positions[req.TokenID]
		qty := req.Size * e.sellFillFraction
		if qty > held {
			qty = held
		}
		e.positions[req.TokenID] = held - qty
		e.balance += qty * e.bidForLocked(req.TokenID)
	case domain.SideBuy:
		e.positions[req.TokenID] += req.Size
	}
	e.log.Infof("📝 [纸交易] 市价单: id=%s token=%s side=%s size=%.2f", id, req.TokenID, req.Side, req.Size)
	return domain.PlaceResult{Success: true, OrderID: id, Status: "matched"}, nil
}

// bidForLocked 估算卖出价格：YES 取 best bid，NO 取 1 - best ask；无盘口时按 0.5
func (e *Exchange) bidForLocked(tokenID string) float64 {
	info := e.tokens[tokenID]
	b, ok := e.books[info.market]
	if !ok {
		return 0.5
	}
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0.5
	}
	if info.outcome == domain.OutcomeNo {
		return 1 - ask.Price
	}
	return bid.Price
}

func (e *Exchange) CancelOrders(_ context.Context, orderIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpCancel, OrderIDs: append([]string(nil), orderIDs...)})
	if e.stickyCancels > 0 {
		e.stickyCancels--
		return nil
	}
	for _, id := range orderIDs {
		delete(e.orders, id)
	}
	return nil
}

func (e *Exchange) GetOpenOrders(_ context.Context) ([]domain.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpOpenOrders})
	if e.openOrdersErr != nil {
		return nil, e.openOrdersErr
	}
	return e.openOrdersLocked(), nil
}

func (e *Exchange) openOrdersLocked() []domain.OpenOrder {
	list := make([]*restingOrder, 0, len(e.orders))
	for _, o := range e.orders {
		list = append(list, o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]domain.OpenOrder, 0, len(list))
	for _, o := range list {
		out = append(out, o.order)
	}
	return out
}

func (e *Exchange) GetPositions(_ context.Context) ([]domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpPositions})
	if e.positionsErr != nil {
		return nil, e.positionsErr
	}
	tokens := make([]string, 0, len(e.positions))
	for t, size := range e.positions {
		if size > 0 {
			tokens = append(tokens, t)
		}
	}
	sort.Strings(tokens)
	out := make([]domain.Position, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, domain.Position{Market: e.tokens[t].market, AssetID: t, Size: e.positions[t]})
	}
	return out, nil
}

func (e *Exchange) GetBalance(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpBalance})
	return e.balance, nil
}

func (e *Exchange) IsResolved(_ context.Context, marketID string) (bool, domain.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpIsResolved, MarketID: marketID})
	w, ok := e.resolved[marketID]
	return ok, w, nil
}

func (e *Exchange) Redeem(_ context.Context, marketID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpRedeem, MarketID: marketID})
	winner, ok := e.resolved[marketID]
	if !ok {
		return fmt.Errorf("paper: market %s not resolved", marketID)
	}
	for token, info := range e.tokens {
		if info.market != marketID {
			continue
		}
		size := e.positions[token]
		if size <= 0 {
			continue
		}
		if info.outcome == winner {
			e.balance += size
		}
		e.positions[token] = 0
	}
	return nil
}

func (e *Exchange) Merge(_ context.Context, marketID string, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: OpMerge, MarketID: marketID, Size: amount})
	var pair []string
	for token, info := range e.tokens {
		if info.market == marketID {
			pair = append(pair, token)
		}
	}
	for _, token := range pair {
		if e.positions[token] < amount-1e-9 {
			return fmt.Errorf("paper: merge %.2f exceeds position of %s", amount, token)
		}
	}
	for _, token := range pair {
		e.positions[token] -= amount
	}
	e.balance += amount
	return nil
}
