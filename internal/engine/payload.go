package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/quotebot/internal/domain"
)

// msTime 兼容毫秒时间戳（字符串或数字）与 RFC3339 字符串
type msTime time.Time

func (t *msTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = msTime(time.UnixMilli(ms))
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("无法解析时间戳 %q", s)
	}
	*t = msTime(parsed)
	return nil
}

func (t msTime) Time() time.Time { return time.Time(t) }

type wireLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookMessage struct {
	EventType string      `json:"event_type"`
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	// 旧版推送使用 buys/sells
	Buys      []wireLevel `json:"buys"`
	Sells     []wireLevel `json:"sells"`
	Timestamp msTime      `json:"timestamp"`
}

type makerOrder struct {
	OrderID       string          `json:"order_id"`
	AssetID       string          `json:"asset_id"`
	MatchedAmount decimal.Decimal `json:"matched_amount"`
	Price         decimal.Decimal `json:"price"`
}

type fillMessage struct {
	EventType    string          `json:"event_type"`
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	AssetID      string          `json:"asset_id"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Status       string          `json:"status"`
	TakerOrderID string          `json:"taker_order_id"`
	MakerOrders  []makerOrder    `json:"maker_orders"`
	Timestamp    msTime          `json:"timestamp"`
}

// splitPayload 推送可能是单个对象，也可能是对象数组
func splitPayload(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("空 payload")
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func toLevels(in []wireLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: l.Price.InexactFloat64(), Size: l.Size.InexactFloat64()})
	}
	return out
}

// complementLevels NO 盘口折算为 YES 口径：YES bid = 1 - NO ask，YES ask = 1 - NO bid
func complementLevels(in []wireLevel) []domain.BookLevel {
	one := decimal.NewFromInt(1)
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: one.Sub(l.Price).InexactFloat64(), Size: l.Size.InexactFloat64()})
	}
	return out
}

// decodeBook 解析订单簿推送，返回属于该市场的最新一份 YES 口径快照。
func decodeBook(data []byte, params *domain.MarketParams) (*domain.OrderBookSnapshot, error) {
	items, err := splitPayload(data)
	if err != nil {
		return nil, err
	}
	var latest *domain.OrderBookSnapshot
	for _, raw := range items {
		var msg bookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("解析订单簿失败: %w", err)
		}
		if msg.EventType != "" && msg.EventType != "book" {
			continue
		}
		if msg.Market != "" && msg.Market != params.MarketID {
			continue
		}
		bids, asks := msg.Bids, msg.Asks
		if len(bids) == 0 && len(asks) == 0 {
			bids, asks = msg.Buys, msg.Sells
		}
		snap := &domain.OrderBookSnapshot{
			Market:    params.MarketID,
			AssetID:   params.YesTokenID,
			Timestamp: msg.Timestamp.Time(),
		}
		outcome := domain.OutcomeYes
		if msg.AssetID != "" {
			o, ok := params.OutcomeOf(msg.AssetID)
			if !ok {
				continue
			}
			outcome = o
		}
		if outcome == domain.OutcomeYes {
			snap.Bids = toLevels(bids)
			snap.Asks = toLevels(asks)
		} else {
			snap.Bids = complementLevels(asks)
			snap.Asks = complementLevels(bids)
		}
		snap.Normalize()
		latest = snap
	}
	if latest == nil {
		return nil, errNotForMarket
	}
	return latest, nil
}

// decodeFills 解析钱包推送中的成交；只认 MATCHED（或无状态）的 trade 事件。
func decodeFills(data []byte) ([]domain.WalletFill, error) {
	items, err := splitPayload(data)
	if err != nil {
		return nil, err
	}
	var fills []domain.WalletFill
	for _, raw := range items {
		var msg fillMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("解析成交失败: %w", err)
		}
		if msg.EventType != "" && !strings.EqualFold(msg.EventType, "trade") {
			continue
		}
		if msg.Status != "" && !strings.EqualFold(msg.Status, "MATCHED") {
			continue
		}
		if !msg.Size.IsPositive() {
			continue
		}
		orderID := msg.TakerOrderID
		if orderID == "" && len(msg.MakerOrders) > 0 {
			orderID = msg.MakerOrders[0].OrderID
		}
		side := domain.SideBuy
		if strings.EqualFold(msg.Side, string(domain.SideSell)) {
			side = domain.SideSell
		}
		ts := msg.Timestamp.Time()
		fills = append(fills, domain.WalletFill{
			Market:    msg.Market,
			AssetID:   msg.AssetID,
			OrderID:   orderID,
			Side:      side,
			Price:     msg.Price.InexactFloat64(),
			Size:      msg.Size.InexactFloat64(),
			Timestamp: ts,
		})
	}
	return fills, nil
}
