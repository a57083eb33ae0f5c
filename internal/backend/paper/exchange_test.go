package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/quotebot/internal/domain"
)

func testMarket() *domain.MarketParams {
	return &domain.MarketParams{MarketID: "0xmarket", YesTokenID: "yes", NoTokenID: "no", TickSize: 0.01, MinOrderSize: 1}
}

func TestPlaceCancelAndList(t *testing.T) {
	ctx := context.Background()
	ex := New(100)
	ex.AddMarket(testMarket())

	res, err := ex.PlaceLimitOrder(ctx, domain.LimitOrderRequest{MarketID: "0xmarket", TokenID: "yes", Side: domain.SideBuy, Price: 0.45, Size: 10})
	require.NoError(t, err)
	require.True(t, res.Success)

	open, err := ex.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "0xmarket", open[0].Market)

	ex.StickyCancels(1)
	require.NoError(t, ex.CancelOrders(ctx, []string{res.OrderID}))
	assert.Len(t, ex.OpenOrders(), 1, "sticky cancel 不生效")
	require.NoError(t, ex.CancelOrders(ctx, []string{res.OrderID}))
	assert.Empty(t, ex.OpenOrders())
	assert.Len(t, ex.CallsOf(OpCancel), 2)
}

func TestInsufficientBalanceRejected(t *testing.T) {
	ex := New(1)
	res, err := ex.PlaceLimitOrder(context.Background(), domain.LimitOrderRequest{TokenID: "yes", Side: domain.SideBuy, Price: 0.5, Size: 10})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.InsufficientFunds())
}

func TestApplyBookFillsCrossingOrders(t *testing.T) {
	ctx := context.Background()
	ex := New(100)
	ex.AddMarket(testMarket())
	var got []domain.WalletFill
	ex.OnFill(func(f domain.WalletFill) { got = append(got, f) })

	_, _ = ex.PlaceLimitOrder(ctx, domain.LimitOrderRequest{MarketID: "0xmarket", TokenID: "yes", Side: domain.SideBuy, Price: 0.45, Size: 10})
	_, _ = ex.PlaceLimitOrder(ctx, domain.LimitOrderRequest{MarketID: "0xmarket", TokenID: "no", Side: domain.SideBuy, Price: 0.45, Size: 10})

	// YES ask 跌到 0.45 -> YES 买单成交；NO 需要 YES bid >= 0.55 才成交
	ex.ApplyBook(&domain.OrderBookSnapshot{
		Market: "0xmarket",
		Bids:   []domain.BookLevel{{Price: 0.44, Size: 50}},
		Asks:   []domain.BookLevel{{Price: 0.45, Size: 50}},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "yes", got[0].AssetID)
	assert.InDelta(t, 10, ex.Position("yes"), 1e-9)
	assert.InDelta(t, 95.5, ex.Balance(), 1e-9)
	assert.Len(t, ex.OpenOrders(), 1)
}

func TestMergeAndRedeem(t *testing.T) {
	ctx := context.Background()
	ex := New(0)
	ex.AddMarket(testMarket())
	ex.SetPosition("yes", 5)
	ex.SetPosition("no", 3)

	require.NoError(t, ex.Merge(ctx, "0xmarket", 3))
	assert.InDelta(t, 2, ex.Position("yes"), 1e-9)
	assert.InDelta(t, 0, ex.Position("no"), 1e-9)
	assert.InDelta(t, 3, ex.Balance(), 1e-9)
	assert.Error(t, ex.Merge(ctx, "0xmarket", 1))

	require.Error(t, ex.Redeem(ctx, "0xmarket"))
	ex.Resolve("0xmarket", domain.OutcomeYes)
	require.NoError(t, ex.Redeem(ctx, "0xmarket"))
	assert.InDelta(t, 5, ex.Balance(), 1e-9)
	assert.InDelta(t, 0, ex.Position("yes"), 1e-9)
}
