package domain

import (
	"testing"
	"time"
)

func TestTickRounding(t *testing.T) {
	tick := 100 // 0.01
	if got := FloorToTick(4567, tick); got != 4500 {
		t.Fatalf("expected floor=4500, got %d", got)
	}
	if got := CeilToTick(4501, tick); got != 4600 {
		t.Fatalf("expected ceil=4600, got %d", got)
	}
	if got := CeilToTick(4500, tick); got != 4500 {
		t.Fatalf("expected on-tick ceil unchanged, got %d", got)
	}
	if got := FloorToTick(-50, tick); got != -100 {
		t.Fatalf("expected floor(-50)=-100, got %d", got)
	}
	if got := ClampPips(0, tick); got != 100 {
		t.Fatalf("expected clamp low=100, got %d", got)
	}
	if got := ClampPips(10000, tick); got != 9900 {
		t.Fatalf("expected clamp high=9900, got %d", got)
	}
}

func TestTickPips(t *testing.T) {
	cases := map[float64]int{0.1: 1000, 0.01: 100, 0.001: 10, 0.0001: 1}
	for tick, want := range cases {
		got, err := TickPips(tick)
		if err != nil || got != want {
			t.Fatalf("TickPips(%v) = %d, %v; want %d", tick, got, err, want)
		}
	}
	if _, err := TickPips(0); err == nil {
		t.Fatalf("expected error for zero tick")
	}
}

func TestPriceString(t *testing.T) {
	if s := PriceFromDecimal(0.45).String(); s != "0.45" {
		t.Fatalf("expected 0.45, got %s", s)
	}
}

func TestRoundSizeDown(t *testing.T) {
	if got := RoundSizeDown(12.3499, 2); got != 12.34 {
		t.Fatalf("expected 12.34, got %v", got)
	}
}

func TestOrderBookHelpers(t *testing.T) {
	b := &OrderBookSnapshot{
		Bids:      []BookLevel{{Price: 0.40, Size: 10}, {Price: 0.45, Size: 5}, {Price: 0, Size: 3}},
		Asks:      []BookLevel{{Price: 0.52, Size: 7}, {Price: 0.50, Size: 4}},
		Timestamp: time.Unix(0, 0),
	}
	b.Normalize()

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if bid.Price != 0.45 || ask.Price != 0.50 {
		t.Fatalf("unexpected best bid/ask %v/%v", bid.Price, ask.Price)
	}
	if len(b.Bids) != 2 {
		t.Fatalf("expected zero-price level dropped, got %d bids", len(b.Bids))
	}
	mid, ok := b.Mid()
	if !ok || mid < 0.4749 || mid > 0.4751 {
		t.Fatalf("expected mid=0.475, got %v ok=%v", mid, ok)
	}

	noPrice, ok := b.BuyPrice(OutcomeNo)
	if !ok || noPrice != 0.55 {
		t.Fatalf("expected NO price 0.55, got %v", noPrice)
	}
	if d := b.BuyDepthWithin(OutcomeYes, 0.50, 0.01); d != 4 {
		t.Fatalf("expected YES depth 4 within 1%%, got %v", d)
	}
	// NO 以 0.55 买入，1% 内 -> YES 买价 >= 0.4445
	if d := b.BuyDepthWithin(OutcomeNo, 0.55, 0.01); d != 5 {
		t.Fatalf("expected NO depth 5 within 1%%, got %v", d)
	}
}

func TestExposureFor(t *testing.T) {
	p := &MarketParams{MarketID: "m", YesTokenID: "y", NoTokenID: "n", TickSize: 0.01}
	snap := ExposureFor(p, []Position{
		{AssetID: "y", Size: 3},
		{AssetID: "n", Size: 5},
		{AssetID: "other", Size: 100},
	})
	if snap.Yes != 3 || snap.No != 5 || snap.Paired() != 3 {
		t.Fatalf("unexpected exposure %+v", snap)
	}
}
