package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/quotebot/pkg/clock"
)

type fakeConn struct {
	in   chan []byte
	errs chan error

	mu     sync.Mutex
	frames []map[string]any
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), errs: make(chan error, 1)}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case err := <-f.errs:
		return nil, err
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	select {
	case f.errs <- errors.New("use of closed network connection"):
	default:
	}
	return nil
}

func (f *fakeConn) push(raw string) { f.in <- []byte(raw) }

func (f *fakeConn) drop(err error) { f.errs <- err }

func (f *fakeConn) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		if fr["method"] == method {
			n++
		}
	}
	return n
}

func (f *fakeConn) lastRequestID(method string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i]["method"] == method {
			id, _ := f.frames[i]["requestId"].(string)
			return id
		}
	}
	return ""
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) cb(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) data() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Err == nil {
			n++
		}
	}
	return n
}

func (r *recorder) errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, e := range r.events {
		if e.Err != nil {
			out = append(out, e.Err)
		}
	}
	return out
}

func newTestClient(t *testing.T, maxAttempts int) (*Client, *fakeDialer, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	d := &fakeDialer{}
	c := NewClient(Config{
		URL:         "ws://stream.test/ws",
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		MaxAttempts: maxAttempts,
	}, WithDialer(d), WithClock(clk))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, d, clk
}

func TestSubscribeUnsubscribeFrames(t *testing.T) {
	c, d, _ := newTestClient(t, 5)
	conn := d.last()

	s1, err := c.Subscribe(OrderBook("m1"), func(Event) {})
	require.NoError(t, err)
	s2, err := c.Subscribe(OrderBook("m1"), func(Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, conn.count(methodSubscribe), "同一 topic 只发送一次 subscribe")

	s1.Unsubscribe()
	assert.Equal(t, 0, conn.count(methodUnsubscribe), "还有回调时不发送 unsubscribe")

	s2.Unsubscribe()
	s2.Unsubscribe()
	assert.Equal(t, 1, conn.count(methodUnsubscribe))
	assert.Empty(t, c.Topics())
}

func TestPushDeliveredToEveryCallbackAndHeartbeatEchoed(t *testing.T) {
	c, d, _ := newTestClient(t, 5)
	conn := d.last()

	var a, b recorder
	_, err := c.Subscribe(OrderBook("m1"), a.cb)
	require.NoError(t, err)
	_, err = c.Subscribe(OrderBook("m1"), b.cb)
	require.NoError(t, err)

	conn.push(`{"type":"M","topic":"book/m1","data":{"bids":[]}}`)
	require.Eventually(t, func() bool { return a.data() == 1 && b.data() == 1 }, time.Second, 5*time.Millisecond)

	conn.push(`{"type":"M","topic":"heartbeat","data":"hb-1"}`)
	require.Eventually(t, func() bool { return conn.count(methodHeartbeat) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.data(), "心跳不能转发给订阅者")
}

func TestFailedSubscribeAckRemovesTopic(t *testing.T) {
	c, d, _ := newTestClient(t, 5)
	conn := d.last()

	var rec recorder
	_, err := c.Subscribe(Wallet("key"), rec.cb)
	require.NoError(t, err)
	id := conn.lastRequestID(methodSubscribe)
	require.NotEmpty(t, id)

	conn.push(`{"type":"R","requestId":"` + id + `","success":false,"error":{"code":"invalid_credentials","message":"bad key"}}`)
	require.Eventually(t, func() bool { return len(rec.errs()) == 1 }, time.Second, 5*time.Millisecond)

	var se *StreamError
	require.ErrorAs(t, rec.errs()[0], &se)
	assert.Equal(t, CodeInvalidCredentials, se.Code)
	assert.Empty(t, c.Topics())
	assert.Equal(t, 0, conn.count(methodUnsubscribe))
}

func TestStaleFailedAckKeepsResubscribedTopic(t *testing.T) {
	c, d, _ := newTestClient(t, 5)
	conn := d.last()

	first, err := c.Subscribe(OrderBook("m1"), func(Event) {})
	require.NoError(t, err)
	oldID := conn.lastRequestID(methodSubscribe)
	first.Unsubscribe()

	var rec recorder
	_, err = c.Subscribe(OrderBook("m1"), rec.cb)
	require.NoError(t, err)
	newID := conn.lastRequestID(methodSubscribe)
	require.NotEqual(t, oldID, newID)

	conn.push(`{"type":"R","requestId":"` + oldID + `","success":false,"error":{"code":"invalid_topic"}}`)
	conn.push(`{"type":"M","topic":"book/m1","data":{"bids":[]}}`)
	require.Eventually(t, func() bool { return rec.data() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.errs(), "旧请求的失败应答不能影响新的订阅")
	assert.Equal(t, []string{"book/m1"}, c.Topics())

	conn.push(`{"type":"R","requestId":"` + newID + `","success":false,"error":{"code":"invalid_topic"}}`)
	require.Eventually(t, func() bool { return len(rec.errs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.Topics())
}

func TestReconnectResubscribesAndResetsAttempts(t *testing.T) {
	c, d, clk := newTestClient(t, 5)
	_, err := c.Subscribe(OrderBook("m1"), func(Event) {})
	require.NoError(t, err)
	_, err = c.Subscribe(Wallet("key"), func(Event) {})
	require.NoError(t, err)

	d.last().drop(errors.New("connection reset by peer"))
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Connected())

	clk.Advance(time.Second)
	require.Equal(t, 2, d.dialCount())
	assert.Equal(t, 2, d.last().count(methodSubscribe), "新连接应重新订阅所有 topic")

	// 连接成功后计数清零：再次断开仍然只等 base delay
	d.last().drop(errors.New("connection reset by peer"))
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)
	clk.Advance(time.Second)
	assert.Equal(t, 3, d.dialCount())
}

func TestTerminalDisconnectAfterMaxAttempts(t *testing.T) {
	c, d, clk := newTestClient(t, 3)
	var a, b recorder
	_, err := c.Subscribe(OrderBook("m1"), a.cb)
	require.NoError(t, err)
	_, err = c.Subscribe(Wallet("key"), b.cb)
	require.NoError(t, err)

	d.setFail(true)
	d.last().drop(errors.New("connection reset by peer")) // 第 1 次
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(time.Second)     // 第 2 次：拨号失败
	clk.Advance(2 * time.Second) // 第 3 次：拨号失败 -> 终止

	for _, r := range []*recorder{&a, &b} {
		errs := r.errs()
		require.Len(t, errs, 1)
		assert.True(t, IsDisconnect(errs[0]))
	}
	assert.True(t, c.Terminated())
	assert.Equal(t, 3, d.dialCount())

	clk.Advance(time.Minute)
	assert.Equal(t, 3, d.dialCount(), "终止后不再重连")
	assert.Equal(t, 0, clk.Pending())

	_, err = c.Subscribe(OrderBook("m2"), func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCleanServerCloseIsTerminal(t *testing.T) {
	c, d, clk := newTestClient(t, 5)
	var rec recorder
	_, err := c.Subscribe(OrderBook("m1"), rec.cb)
	require.NoError(t, err)

	d.last().drop(ErrCleanClose)
	require.Eventually(t, func() bool { return len(rec.errs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, IsDisconnect(rec.errs()[0]))
	assert.Equal(t, 0, clk.Pending())
	assert.True(t, c.Terminated())
}

func TestCloseDeliversNothing(t *testing.T) {
	c, d, clk := newTestClient(t, 5)
	var rec recorder
	_, err := c.Subscribe(OrderBook("m1"), rec.cb)
	require.NoError(t, err)
	conn := d.last()

	require.NoError(t, c.Close())
	assert.Never(t, func() bool { return len(rec.errs()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	clk.Advance(time.Minute)
	assert.Equal(t, 1, d.dialCount())
	conn.mu.Lock()
	assert.True(t, conn.closed)
	conn.mu.Unlock()
}
