package paper

import (
	"github.com/betbot/quotebot/internal/domain"
)

// ApplyBook 更新盘口，并撮合与之交叉的挂单（dry run 模拟成交）。
// 成交通过 OnFill 回调通知，回调在锁外执行。
func (e *Exchange) ApplyBook(b *domain.OrderBookSnapshot) []domain.WalletFill {
	e.mu.Lock()
	e.books[b.Market] = b
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	var fills []domain.WalletFill
	for _, o := range e.openOrdersLocked() {
		if o.Market != b.Market {
			continue
		}
		info := e.tokens[o.AssetID]
		// 折算成 YES 口径判断是否交叉
		crossed := false
		switch {
		case o.Side == domain.SideBuy && info.outcome == domain.OutcomeYes:
			crossed = okAsk && o.Price >= ask.Price
		case o.Side == domain.SideBuy && info.outcome == domain.OutcomeNo:
			crossed = okBid && o.Price >= 1-bid.Price-1e-9
		case o.Side == domain.SideSell && info.outcome == domain.OutcomeYes:
			crossed = okBid && o.Price <= bid.Price
		case o.Side == domain.SideSell && info.outcome == domain.OutcomeNo:
			crossed = okAsk && o.Price <= 1-ask.Price+1e-9
		}
		if !crossed {
			continue
		}
		fills = append(fills, e.fillLocked(o.ID, o.Remaining()))
	}
	cb := e.onFill
	e.mu.Unlock()

	if cb != nil {
		for _, f := range fills {
			cb(f)
		}
	}
	return fills
}

// Fill 手动成交某挂单（测试使用），返回对应的钱包成交事件。
func (e *Exchange) Fill(orderID string, size float64) (domain.WalletFill, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[orderID]; !ok {
		return domain.WalletFill{}, false
	}
	return e.fillLocked(orderID, size), true
}

func (e *Exchange) fillLocked(orderID string, size float64) domain.WalletFill {
	ro := e.orders[orderID]
	o := &ro.order
	if rem := o.Remaining(); size > rem {
		size = rem
	}
	o.SizeMatched += size
	if o.Remaining() <= 1e-9 {
		delete(e.orders, orderID)
	}
	if o.Side == domain.SideBuy {
		e.positions[o.AssetID] += size
		e.balance -= size * o.Price
	} else {
		e.positions[o.AssetID] -= size
		e.balance += size * o.Price
	}
	return domain.WalletFill{
		Market:  o.Market,
		AssetID: o.AssetID,
		OrderID: o.ID,
		Side:    o.Side,
		Price:   o.Price,
		Size:    size,
	}
}

// SetBook 只更新盘口，不撮合
func (e *Exchange) SetBook(b *domain.OrderBookSnapshot) {
	e.mu.Lock()
	e.books[b.Market] = b
	e.mu.Unlock()
}

// SetPosition 设置某 token 持仓
func (e *Exchange) SetPosition(tokenID string, size float64) {
	e.mu.Lock()
	e.positions[tokenID] = size
	e.mu.Unlock()
}

// SetBalance 设置可用余额
func (e *Exchange) SetBalance(v float64) {
	e.mu.Lock()
	e.balance = v
	e.mu.Unlock()
}

// Resolve 标记市场已结算
func (e *Exchange) Resolve(marketID string, winner domain.Outcome) {
	e.mu.Lock()
	e.resolved[marketID] = winner
	e.mu.Unlock()
}

// Reject 让某 token 的下单被拒绝
func (e *Exchange) Reject(tokenID, reason string) {
	e.mu.Lock()
	e.rejects[tokenID] = reason
	e.mu.Unlock()
}

// ClearRejects 取消所有拒单注入
func (e *Exchange) ClearRejects() {
	e.mu.Lock()
	e.rejects = make(map[string]string)
	e.mu.Unlock()
}

// StickyCancels 接下来 n 次撤单请求不生效（订单继续挂着）
func (e *Exchange) StickyCancels(n int) {
	e.mu.Lock()
	e.stickyCancels = n
	e.mu.Unlock()
}

// FailOpenOrders 让挂单查询返回错误（nil 恢复）
func (e *Exchange) FailOpenOrders(err error) {
	e.mu.Lock()
	e.openOrdersErr = err
	e.mu.Unlock()
}

// FailPositions 让持仓查询返回错误（nil 恢复）
func (e *Exchange) FailPositions(err error) {
	e.mu.Lock()
	e.positionsErr = err
	e.mu.Unlock()
}

// SetSellFillFraction 市价卖出的成交比例（模拟部分成交）
func (e *Exchange) SetSellFillFraction(f float64) {
	e.mu.Lock()
	e.sellFillFraction = f
	e.mu.Unlock()
}

// Position 某 token 持仓
func (e *Exchange) Position(tokenID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[tokenID]
}

// Balance 当前余额
func (e *Exchange) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// OpenOrders 当前挂单（不记录调用）
func (e *Exchange) OpenOrders() []domain.OpenOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openOrdersLocked()
}

// Calls 所有调用记录
func (e *Exchange) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallsOf 某类调用记录
func (e *Exchange) CallsOf(op Op) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls 清空调用记录
func (e *Exchange) ResetCalls() {
	e.mu.Lock()
	e.calls = nil
	e.mu.Unlock()
}
