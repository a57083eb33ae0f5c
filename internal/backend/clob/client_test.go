package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/ports"
	"github.com/betbot/quotebot/pkg/clock"
)

var (
	_ ports.TradingBackend = (*Client)(nil)
	_ ports.Settlement     = (*Client)(nil)
)

var testSecret = base64.URLEncoding.EncodeToString([]byte("0123456789abcdef-secret"))

type handler func(w http.ResponseWriter, r *http.Request, body []byte)

type venue struct {
	mu        sync.Mutex
	routes    map[string]handler
	hits      map[string]int
	authFails int
}

func newVenue() *venue {
	return &venue{routes: map[string]handler{}, hits: map[string]int{}}
}

func (v *venue) on(method, path string, h handler) { v.routes[method+" "+path] = h }

func (v *venue) hit(method, path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hits[method+" "+path]
}

func (v *venue) failures() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.authFails
}

var authedPaths = map[string]bool{
	endpointPostOrder:        true,
	endpointOrders:           true,
	endpointOpenOrders:       true,
	endpointBalanceAllowance: true,
}

func (v *venue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path

	v.mu.Lock()
	v.hits[key]++
	h := v.routes[key]
	v.mu.Unlock()

	if authedPaths[r.URL.Path] && !validL2(r, body) {
		v.mu.Lock()
		v.authFails++
		v.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r, body)
}

func validL2(r *http.Request, body []byte) bool {
	ts, err := strconv.ParseInt(r.Header.Get(headerTimestamp), 10, 64)
	if err != nil {
		return false
	}
	var signed []byte
	if len(body) > 0 {
		signed = body
	}
	want, err := buildHMACSignature(testSecret, ts, r.Method, r.URL.Path, signed)
	if err != nil {
		return false
	}
	return r.Header.Get(headerSignature) == want &&
		r.Header.Get(headerAPIKey) == "key" &&
		r.Header.Get(headerPassphrase) == "pass" &&
		r.Header.Get(headerAddress) == "0xfunder"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testMarket() *domain.MarketParams {
	return &domain.MarketParams{MarketID: "m1", YesTokenID: "yes", NoTokenID: "no", TickSize: 0.01, NegRisk: true}
}

func newTestClient(t *testing.T, v *venue) *Client {
	t.Helper()
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, DataAPIURL: srv.URL, SignerURL: srv.URL, Timeout: 2 * time.Second},
		Credentials{APIKey: "key", Secret: testSecret, Passphrase: "pass", Address: "0xfunder"},
		[]*domain.MarketParams{testMarket()},
		WithClock(clock.NewManual(time.Unix(1_700_000_000, 0))))
	require.NoError(t, err)
	return c
}

func TestBuildHMACSignature(t *testing.T) {
	body := []byte(`["a"]`)
	got, err := buildHMACSignature(testSecret, 1700000000, "DELETE", "/orders", body)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("0123456789abcdef-secret"))
	mac.Write([]byte("1700000000DELETE/orders" + `["a"]`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, got)

	_, err = buildHMACSignature("abc", 1, "GET", "/", nil)
	assert.Error(t, err)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x", SignerURL: "http://s"}, Credentials{APIKey: "k"}, nil)
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"}, Credentials{APIKey: "k", Secret: "s", Passphrase: "p"}, nil)
	assert.Error(t, err)
}

func TestGetOrderBook(t *testing.T) {
	v := newVenue()
	v.on(http.MethodGet, endpointBook, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		assert.Equal(t, "yes", r.URL.Query().Get("token_id"))
		writeJSON(w, 200, map[string]any{
			"market":    "m1",
			"asset_id":  "yes",
			"timestamp": "1700000000123",
			"bids":      []map[string]string{{"price": "0.46", "size": "10"}, {"price": "0.48", "size": "5"}},
			"asks":      []map[string]string{{"price": "0.55", "size": "7"}, {"price": "0.52", "size": "9"}},
		})
	})
	c := newTestClient(t, v)

	book, err := c.GetOrderBook(context.Background(), "m1")
	require.NoError(t, err)
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	assert.InDelta(t, 0.48, bid.Price, 1e-9)
	assert.InDelta(t, 0.52, ask.Price, 1e-9)
	assert.True(t, book.Timestamp.Equal(time.UnixMilli(1700000000123)))

	_, err = c.GetOrderBook(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestPlaceLimitOrderSignsThenPosts(t *testing.T) {
	v := newVenue()
	v.on(http.MethodPost, signerSignOrder, func(w http.ResponseWriter, _ *http.Request, body []byte) {
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "no", req["tokenId"])
		assert.Equal(t, "BUY", req["side"])
		assert.Equal(t, "0.48", req["price"])
		assert.Equal(t, "10", req["size"])
		assert.Equal(t, "GTC", req["orderType"])
		assert.Equal(t, true, req["negRisk"])
		writeJSON(w, 200, map[string]any{"order": map[string]any{"salt": 7, "signature": "0xsig"}})
	})
	v.on(http.MethodPost, endpointPostOrder, func(w http.ResponseWriter, _ *http.Request, body []byte) {
		var req struct {
			Order     map[string]any `json:"order"`
			Owner     string         `json:"owner"`
			OrderType string         `json:"orderType"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "key", req.Owner)
		assert.Equal(t, "GTC", req.OrderType)
		assert.Equal(t, "0xsig", req.Order["signature"])
		writeJSON(w, 200, map[string]any{"success": true, "orderID": "0xorder", "status": "live"})
	})
	c := newTestClient(t, v)

	res, err := c.PlaceLimitOrder(context.Background(), domain.LimitOrderRequest{
		MarketID: "m1", TokenID: "no", Side: domain.SideBuy, Price: 0.48, Size: 10, TickSize: 0.01, NegRisk: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xorder", res.OrderID)
	assert.Equal(t, 0, v.failures())
}

func TestPlaceOrderRejectedIsNotAnError(t *testing.T) {
	v := newVenue()
	v.on(http.MethodPost, signerSignOrder, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 200, map[string]any{"order": map[string]any{"salt": 1}})
	})
	v.on(http.MethodPost, endpointPostOrder, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 400, map[string]any{"error": "not enough balance / allowance"})
	})
	c := newTestClient(t, v)

	res, err := c.PlaceLimitOrder(context.Background(), domain.LimitOrderRequest{
		MarketID: "m1", TokenID: "yes", Side: domain.SideBuy, Price: 0.5, Size: 10, TickSize: 0.01,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.InsufficientFunds())
}

func TestPlaceMarketSellUsesWorstPrice(t *testing.T) {
	v := newVenue()
	v.on(http.MethodPost, signerSignOrder, func(w http.ResponseWriter, _ *http.Request, body []byte) {
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "SELL", req["side"])
		assert.Equal(t, "0.01", req["price"])
		assert.Equal(t, "3.33", req["size"])
		assert.Equal(t, "FAK", req["orderType"])
		writeJSON(w, 200, map[string]any{"order": map[string]any{"salt": 2}})
	})
	v.on(http.MethodPost, endpointPostOrder, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 200, map[string]any{"success": true, "orderID": "0xsell", "status": "matched"})
	})
	c := newTestClient(t, v)

	res, err := c.PlaceMarketOrder(context.Background(), domain.MarketOrderRequest{
		MarketID: "m1", TokenID: "yes", Side: domain.SideSell, Size: 3.339, TickSize: 0.01,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCancelOrders(t *testing.T) {
	v := newVenue()
	v.on(http.MethodDelete, endpointOrders, func(w http.ResponseWriter, _ *http.Request, body []byte) {
		var ids []string
		require.NoError(t, json.Unmarshal(body, &ids))
		assert.Equal(t, []string{"a", "b"}, ids)
		writeJSON(w, 200, map[string]any{"canceled": []string{"a"}, "not_canceled": map[string]string{"b": "matched"}})
	})
	c := newTestClient(t, v)

	require.NoError(t, c.CancelOrders(context.Background(), []string{"a", "b"}))
	require.NoError(t, c.CancelOrders(context.Background(), nil))
	assert.Equal(t, 1, v.hit(http.MethodDelete, endpointOrders))
	assert.Equal(t, 0, v.failures())
}

func TestGetOpenOrdersFollowsCursor(t *testing.T) {
	v := newVenue()
	v.on(http.MethodGet, endpointOpenOrders, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		switch r.URL.Query().Get("next_cursor") {
		case "":
			writeJSON(w, 200, map[string]any{
				"data": []map[string]any{{"id": "o1", "status": "LIVE", "market": "m1", "asset_id": "yes", "side": "BUY",
					"original_size": "10", "size_matched": "2.5", "price": "0.47", "created_at": 1700000000}},
				"next_cursor": "MQ==",
			})
		case "MQ==":
			writeJSON(w, 200, map[string]any{
				"data": []map[string]any{
					{"id": "o2", "status": "LIVE", "market": "m1", "asset_id": "no", "side": "BUY", "original_size": "10", "size_matched": "0", "price": "0.45"},
					{"id": "o3", "status": "MATCHED", "market": "m1", "asset_id": "no", "side": "BUY", "original_size": "10", "size_matched": "10", "price": "0.45"},
				},
				"next_cursor": endCursor,
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("next_cursor"))
		}
	})
	c := newTestClient(t, v)

	orders, err := c.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o1", orders[0].ID)
	assert.InDelta(t, 7.5, orders[0].Remaining(), 1e-9)
	assert.Equal(t, "o2", orders[1].ID)
	assert.Equal(t, 2, v.hit(http.MethodGet, endpointOpenOrders))
	assert.Equal(t, 0, v.failures())
}

func TestGetBalanceAndPositions(t *testing.T) {
	v := newVenue()
	v.on(http.MethodGet, endpointBalanceAllowance, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		assert.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		writeJSON(w, 200, map[string]any{"balance": "12500000", "allowance": "0"})
	})
	v.on(http.MethodGet, endpointPositions, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		assert.Equal(t, "0xfunder", r.URL.Query().Get("user"))
		writeJSON(w, 200, []map[string]any{
			{"asset": "yes", "conditionId": "m1", "size": 10.5, "avgPrice": 0.4},
			{"asset": "no", "conditionId": "m1", "size": 0, "avgPrice": 0},
		})
	})
	c := newTestClient(t, v)

	bal, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, bal, 1e-9)

	pos, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "yes", pos[0].AssetID)
	assert.InDelta(t, 10.5, pos[0].Size, 1e-9)
}

func TestServerErrorIsReturned(t *testing.T) {
	v := newVenue()
	v.on(http.MethodGet, endpointBalanceAllowance, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		writeJSON(w, 500, map[string]any{"error": "boom"})
	})
	c := newTestClient(t, v)

	_, err := c.GetBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestIsResolved(t *testing.T) {
	v := newVenue()
	closed := false
	var mu sync.Mutex
	v.on(http.MethodGet, endpointMarket+"m1", func(w http.ResponseWriter, _ *http.Request, _ []byte) {
		mu.Lock()
		defer mu.Unlock()
		writeJSON(w, 200, map[string]any{
			"condition_id": "m1",
			"closed":       closed,
			"tokens": []map[string]any{
				{"token_id": "yes", "outcome": "Yes", "winner": false},
				{"token_id": "no", "outcome": "No", "winner": closed},
			},
		})
	})
	c := newTestClient(t, v)

	resolved, _, err := c.IsResolved(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, resolved)

	mu.Lock()
	closed = true
	mu.Unlock()
	resolved, winner, err := c.IsResolved(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, domain.OutcomeNo, winner)
}

func TestRedeemAndMergeGoThroughSigner(t *testing.T) {
	v := newVenue()
	v.on(http.MethodPost, signerRedeem, func(w http.ResponseWriter, _ *http.Request, body []byte) {
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "m1", req["conditionId"])
		assert.Equal(t, true, req["negRisk"])
		_, hasAmount := req["amount"]
		assert.False(t, hasAmount)
		writeJSON(w, 200, map[string]any{"txHash": "0xredeem"})
	})
	v.on(http.MethodPost, signerMerge, func(w http.ResponseWriter, _ *http.Request, body []byte) {
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "3", req["amount"])
		writeJSON(w, 200, map[string]any{"txHash": "0xmerge"})
	})
	c := newTestClient(t, v)

	require.NoError(t, c.Redeem(context.Background(), "m1"))
	require.NoError(t, c.Merge(context.Background(), "m1", 3))
	assert.Error(t, c.Merge(context.Background(), "m1", 0.001))
	assert.Equal(t, 1, v.hit(http.MethodPost, signerMerge))
}
