package ports

import (
	"context"

	"github.com/betbot/quotebot/internal/domain"
)

// Small capability interfaces shared across controllers, the engine and backends.

type OrderBookGetter interface {
	GetOrderBook(ctx context.Context, marketID string) (*domain.OrderBookSnapshot, error)
}

type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.PlaceResult, error)
	PlaceMarketOrder(ctx context.Context, req domain.MarketOrderRequest) (domain.PlaceResult, error)
}

type OrderCanceler interface {
	CancelOrders(ctx context.Context, orderIDs []string) error
}

type OrderLister interface {
	GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error)
}

type PositionGetter interface {
	GetPositions(ctx context.Context) ([]domain.Position, error)
}

type BalanceGetter interface {
	// GetBalance returns free collateral (USDC).
	GetBalance(ctx context.Context) (float64, error)
}

// TradingBackend is everything a per-market controller needs from the venue.
// Calls are fallible, retryable and non-transactional.
type TradingBackend interface {
	OrderBookGetter
	OrderPlacer
	OrderCanceler
	OrderLister
	PositionGetter
	BalanceGetter
}

// Settlement covers resolution checks and on-chain redeem/merge.
type Settlement interface {
	// IsResolved reports whether the market has resolved and which outcome won.
	IsResolved(ctx context.Context, marketID string) (resolved bool, winner domain.Outcome, err error)
	Redeem(ctx context.Context, marketID string) error
	Merge(ctx context.Context, marketID string, amount float64) error
}
