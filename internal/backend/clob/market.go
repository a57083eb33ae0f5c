package clob

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/pkg/ratelimit"
)

const (
	endpointBook             = "/book"
	endpointMarket           = "/markets/"
	endpointBalanceAllowance = "/balance-allowance"
	endpointPositions        = "/positions"
)

// USDC 6 位小数
const collateralDecimals = 6

type bookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookSummary struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
}

func toLevels(in []bookLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.BookLevel{Price: l.Price.InexactFloat64(), Size: l.Size.InexactFloat64()})
	}
	return out
}

// GetOrderBook 查询 YES token 的订单簿
func (c *Client) GetOrderBook(ctx context.Context, marketID string) (*domain.OrderBookSnapshot, error) {
	p, err := c.market(marketID)
	if err != nil {
		return nil, err
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointBookGet); err != nil {
		return nil, errors.Wrap(err, "速率限制等待失败")
	}

	var book bookSummary
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", p.YesTokenID).
		SetResult(&book).
		Get(endpointBook)
	if err := checkResponse(resp, err, "获取订单簿失败"); err != nil {
		return nil, err
	}

	snap := &domain.OrderBookSnapshot{
		Market:  marketID,
		AssetID: p.YesTokenID,
		Bids:    toLevels(book.Bids),
		Asks:    toLevels(book.Asks),
	}
	if ms, err := strconv.ParseInt(book.Timestamp, 10, 64); err == nil {
		snap.Timestamp = time.UnixMilli(ms)
	} else {
		snap.Timestamp = c.clock.Now()
	}
	snap.Normalize()
	return snap, nil
}

type marketToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

type marketInfo struct {
	ConditionID string        `json:"condition_id"`
	Closed      bool          `json:"closed"`
	Tokens      []marketToken `json:"tokens"`
}

// IsResolved 市场已关闭且有赢家 token 时视为已结算
func (c *Client) IsResolved(ctx context.Context, marketID string) (bool, domain.Outcome, error) {
	p, err := c.market(marketID)
	if err != nil {
		return false, "", err
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointMarketGet); err != nil {
		return false, "", errors.Wrap(err, "速率限制等待失败")
	}

	var info marketInfo
	resp, err := c.clob.R().
		SetContext(ctx).
		SetResult(&info).
		Get(endpointMarket + marketID)
	if err := checkResponse(resp, err, "查询市场失败"); err != nil {
		return false, "", err
	}
	if !info.Closed {
		return false, "", nil
	}
	for _, t := range info.Tokens {
		if !t.Winner {
			continue
		}
		if o, ok := p.OutcomeOf(t.TokenID); ok {
			return true, o, nil
		}
		// 部分接口 token_id 缺失，按 outcome 名称兜底
		switch strings.ToUpper(t.Outcome) {
		case "YES", "UP":
			return true, domain.OutcomeYes, nil
		case "NO", "DOWN":
			return true, domain.OutcomeNo, nil
		}
	}
	return false, "", nil
}

type balanceAllowance struct {
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance 可用抵押品（USDC）
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if err := c.limits.Wait(ctx, ratelimit.EndpointBalanceGet); err != nil {
		return 0, errors.Wrap(err, "速率限制等待失败")
	}
	req, err := c.authed(ctx, http.MethodGet, endpointBalanceAllowance, nil)
	if err != nil {
		return 0, err
	}
	var out balanceAllowance
	resp, err := req.
		SetQueryParam("asset_type", "COLLATERAL").
		SetResult(&out).
		Get(endpointBalanceAllowance)
	if err := checkResponse(resp, err, "查询余额失败"); err != nil {
		return 0, err
	}
	return out.Balance.Shift(-collateralDecimals).InexactFloat64(), nil
}

type dataPosition struct {
	Asset       string          `json:"asset"`
	ConditionID string          `json:"conditionId"`
	Size        decimal.Decimal `json:"size"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
}

// GetPositions 钱包持仓（Data API）
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if c.creds.Address == "" {
		return nil, errors.New("clob: 查询持仓需要钱包地址")
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointDataPosition); err != nil {
		return nil, errors.Wrap(err, "速率限制等待失败")
	}
	var rows []dataPosition
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":          c.creds.Address,
			"sizeThreshold": "0",
			"limit":         "500",
		}).
		SetResult(&rows).
		Get(endpointPositions)
	if err := checkResponse(resp, err, "查询持仓失败"); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		if !r.Size.IsPositive() {
			continue
		}
		out = append(out, domain.Position{
			Market:   r.ConditionID,
			AssetID:  r.Asset,
			Size:     r.Size.InexactFloat64(),
			AvgPrice: r.AvgPrice.InexactFloat64(),
		})
	}
	return out, nil
}
