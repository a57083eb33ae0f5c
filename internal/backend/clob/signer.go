package clob

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// 签名 sidecar 持有私钥：EIP-712 订单签名、CTF redeem/merge 交易都在 sidecar 完成。
const (
	signerSignOrder = "/sign-order"
	signerRedeem    = "/redeem"
	signerMerge     = "/merge"
)

type signOrderRequest struct {
	TokenID   string          `json:"tokenId"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	TickSize  decimal.Decimal `json:"tickSize"`
	NegRisk   bool            `json:"negRisk"`
	OrderType string          `json:"orderType"`
}

type signOrderResponse struct {
	Order json.RawMessage `json:"order"`
}

func (c *Client) signOrder(ctx context.Context, req signOrderRequest) (json.RawMessage, error) {
	if !req.Size.IsPositive() {
		return nil, errors.Errorf("clob: 下单数量非法 %s", req.Size)
	}
	var out signOrderResponse
	resp, err := c.signer.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(signerSignOrder)
	if err := checkResponse(resp, err, "订单签名失败"); err != nil {
		return nil, err
	}
	if len(out.Order) == 0 {
		return nil, errors.New("订单签名失败: sidecar 返回空订单")
	}
	return out.Order, nil
}

type settleRequest struct {
	ConditionID string           `json:"conditionId"`
	NegRisk     bool             `json:"negRisk"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

type settleResponse struct {
	TxHash string `json:"txHash"`
}

// Redeem 赎回已结算市场的持仓
func (c *Client) Redeem(ctx context.Context, marketID string) error {
	p, err := c.market(marketID)
	if err != nil {
		return err
	}
	var out settleResponse
	resp, err := c.signer.R().
		SetContext(ctx).
		SetBody(settleRequest{ConditionID: marketID, NegRisk: p.NegRisk}).
		SetResult(&out).
		Post(signerRedeem)
	if err := checkResponse(resp, err, "赎回失败"); err != nil {
		return err
	}
	c.log.Infof("💰 redeem 已提交: market=%s tx=%s", marketID, out.TxHash)
	return nil
}

// Merge 把等量 YES/NO 合并回抵押品
func (c *Client) Merge(ctx context.Context, marketID string, amount float64) error {
	p, err := c.market(marketID)
	if err != nil {
		return err
	}
	amt := decimal.NewFromFloat(amount).Truncate(2)
	if !amt.IsPositive() {
		return errors.Errorf("clob: merge 数量非法 %s", amt)
	}
	var out settleResponse
	resp, err := c.signer.R().
		SetContext(ctx).
		SetBody(settleRequest{ConditionID: marketID, NegRisk: p.NegRisk, Amount: &amt}).
		SetResult(&out).
		Post(signerMerge)
	if err := checkResponse(resp, err, "merge 失败"); err != nil {
		return err
	}
	c.log.Infof("🔗 merge 已提交: market=%s amount=%s tx=%s", marketID, amt, out.TxHash)
	return nil
}
