package clob

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/pkg/ratelimit"
)

const (
	endpointPostOrder  = "/order"
	endpointOrders     = "/orders"
	endpointOpenOrders = "/data/orders"

	// 分页结束标记
	endCursor = "LTE="
)

const (
	orderTypeGTC = "GTC"
	orderTypeFAK = "FAK"
)

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

type postOrderBody struct {
	Order     json.RawMessage `json:"order"`
	Owner     string          `json:"owner"`
	OrderType string          `json:"orderType"`
}

// PlaceLimitOrder GTC 限价单
func (c *Client) PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.PlaceResult, error) {
	return c.place(ctx, signOrderRequest{
		TokenID:   req.TokenID,
		Side:      string(req.Side),
		Price:     decimal.NewFromFloat(req.Price),
		Size:      decimal.NewFromFloat(req.Size).Truncate(2),
		TickSize:  decimal.NewFromFloat(req.TickSize),
		NegRisk:   req.NegRisk,
		OrderType: orderTypeGTC,
	})
}

// PlaceMarketOrder FAK 市价单：以最差可接受价格提交，由撮合按盘口成交
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.MarketOrderRequest) (domain.PlaceResult, error) {
	tick := decimal.NewFromFloat(req.TickSize)
	if !tick.IsPositive() {
		tick = decimal.NewFromFloat(0.01)
	}
	worst := tick
	if req.Side == domain.SideBuy {
		worst = decimal.NewFromInt(1).Sub(tick)
	}
	return c.place(ctx, signOrderRequest{
		TokenID:   req.TokenID,
		Side:      string(req.Side),
		Price:     worst,
		Size:      decimal.NewFromFloat(req.Size).Truncate(2),
		TickSize:  tick,
		NegRisk:   req.NegRisk,
		OrderType: orderTypeFAK,
	})
}

func (c *Client) place(ctx context.Context, sreq signOrderRequest) (domain.PlaceResult, error) {
	signed, err := c.signOrder(ctx, sreq)
	if err != nil {
		return domain.PlaceResult{}, err
	}
	body, err := json.Marshal(postOrderBody{Order: signed, Owner: c.creds.APIKey, OrderType: sreq.OrderType})
	if err != nil {
		return domain.PlaceResult{}, errors.Wrap(err, "序列化订单失败")
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointOrderPost); err != nil {
		return domain.PlaceResult{}, errors.Wrap(err, "速率限制等待失败")
	}
	req, err := c.authed(ctx, http.MethodPost, endpointPostOrder, body)
	if err != nil {
		return domain.PlaceResult{}, err
	}
	var out orderResponse
	resp, err := req.SetResult(&out).Post(endpointPostOrder)
	if err != nil {
		return domain.PlaceResult{}, errors.Wrap(err, "提交订单失败")
	}
	// 4xx 为交易所拒单（余额不足、价格非法等），不是传输错误
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		var rej struct {
			Error    string `json:"error"`
			ErrorMsg string `json:"errorMsg"`
		}
		_ = json.Unmarshal(resp.Body(), &rej)
		msg := rej.ErrorMsg
		if msg == "" {
			msg = rej.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body()))
		}
		return domain.PlaceResult{Success: false, ErrorMsg: msg}, nil
	}
	if err := checkResponse(resp, nil, "提交订单失败"); err != nil {
		return domain.PlaceResult{}, err
	}
	return domain.PlaceResult{
		Success:  out.Success && out.OrderID != "",
		OrderID:  out.OrderID,
		Status:   out.Status,
		ErrorMsg: out.ErrorMsg,
	}, nil
}

type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// CancelOrders 批量撤单。部分未撤成功只记录日志：调用方会重新查询挂单确认。
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(orderIDs)
	if err != nil {
		return errors.Wrap(err, "序列化撤单请求失败")
	}
	if err := c.limits.Wait(ctx, ratelimit.EndpointOrderDelete); err != nil {
		return errors.Wrap(err, "速率限制等待失败")
	}
	req, err := c.authed(ctx, http.MethodDelete, endpointOrders, body)
	if err != nil {
		return err
	}
	var out cancelResponse
	resp, err := req.SetResult(&out).Delete(endpointOrders)
	if err := checkResponse(resp, err, "撤单失败"); err != nil {
		return err
	}
	for id, reason := range out.NotCanceled {
		c.log.Warnf("⚠️ 撤单未成功: order=%s reason=%s", id, reason)
	}
	return nil
}

type openOrderRow struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Market       string          `json:"market"`
	AssetID      string          `json:"asset_id"`
	Side         string          `json:"side"`
	OriginalSize decimal.Decimal `json:"original_size"`
	SizeMatched  decimal.Decimal `json:"size_matched"`
	Price        decimal.Decimal `json:"price"`
	CreatedAt    int64           `json:"created_at"`
}

type openOrdersPage struct {
	Data       []openOrderRow `json:"data"`
	NextCursor string         `json:"next_cursor"`
}

// GetOpenOrders 当前账户全部挂单（自动翻页）
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	var rows []openOrderRow
	cursor := ""
	for page := 0; page < 50; page++ {
		if err := c.limits.Wait(ctx, ratelimit.EndpointOrdersGet); err != nil {
			return nil, errors.Wrap(err, "速率限制等待失败")
		}
		req, err := c.authed(ctx, http.MethodGet, endpointOpenOrders, nil)
		if err != nil {
			return nil, err
		}
		if cursor != "" {
			req.SetQueryParam("next_cursor", cursor)
		}
		resp, err := req.Get(endpointOpenOrders)
		if err := checkResponse(resp, err, "查询挂单失败"); err != nil {
			return nil, err
		}

		raw := strings.TrimSpace(string(resp.Body()))
		// 旧接口直接返回数组
		if strings.HasPrefix(raw, "[") {
			var list []openOrderRow
			if err := json.Unmarshal(resp.Body(), &list); err != nil {
				return nil, errors.Wrap(err, "解析挂单失败")
			}
			rows = append(rows, list...)
			break
		}
		var p openOrdersPage
		if err := json.Unmarshal(resp.Body(), &p); err != nil {
			return nil, errors.Wrap(err, "解析挂单失败")
		}
		rows = append(rows, p.Data...)
		if p.NextCursor == "" || p.NextCursor == endCursor || p.NextCursor == cursor {
			break
		}
		cursor = p.NextCursor
	}

	out := make([]domain.OpenOrder, 0, len(rows))
	for _, r := range rows {
		if r.Status != "" && !strings.EqualFold(r.Status, "LIVE") {
			continue
		}
		side := domain.SideBuy
		if strings.EqualFold(r.Side, string(domain.SideSell)) {
			side = domain.SideSell
		}
		out = append(out, domain.OpenOrder{
			ID:           r.ID,
			Market:       r.Market,
			AssetID:      r.AssetID,
			Side:         side,
			Price:        r.Price.InexactFloat64(),
			OriginalSize: r.OriginalSize.InexactFloat64(),
			SizeMatched:  r.SizeMatched.InexactFloat64(),
			CreatedAt:    time.Unix(r.CreatedAt, 0),
		})
	}
	return out, nil
}
