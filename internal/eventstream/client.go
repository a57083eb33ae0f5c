package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/internal/metrics"
	"github.com/betbot/quotebot/pkg/clock"
)

// Config 事件流客户端配置
type Config struct {
	URL              string
	ProxyURL         string
	BaseDelay        time.Duration // 首次重连等待
	MaxDelay         time.Duration // 重连等待上限
	MaxAttempts      int           // 连续非正常关闭次数上限，达到后终止
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      10,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
}

type pendingRequest struct {
	method string
	topic  string
}

// Client 单连接多路复用的事件流客户端。
//
// 连接对象在每次重连时整体替换；订阅表跨连接保留，打开新连接后逐个重新订阅。
type Client struct {
	cfg     Config
	dialer  Dialer
	clock   clock.Clock
	log     *logrus.Entry
	backoff *backoff.Backoff

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	reg            *registry
	conn           Conn
	pending        map[string]pendingRequest
	liveSub        map[string]string // topic -> 最近一次 subscribe 的 requestId
	attempts       int
	reconnectTimer clock.Timer
	closed         bool
	terminated     bool
}

// Option 可选项
type Option func(*Client)

// WithDialer 替换传输层（测试使用）
func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithClock 替换时钟（测试使用）
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithLogger 设置日志上下文
func WithLogger(l *logrus.Entry) Option { return func(c *Client) { c.log = l } }

// NewClient creates a new client; call Connect to open the first connection.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg: cfg,
		dialer: WSDialer{
			ProxyURL:         cfg.ProxyURL,
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
		},
		clock:   clock.New(),
		log:     logrus.WithField("component", "eventstream"),
		ctx:     ctx,
		cancel:  cancel,
		reg:     newRegistry(),
		pending: make(map[string]pendingRequest),
		liveSub: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.backoff = &backoff.Backoff{
		Min:    cfg.BaseDelay,
		Max:    cfg.MaxDelay,
		Factor: 2,
		Jitter: false,
	}
	return c
}

// Connect 建立首个连接。失败时按非正常关闭处理并进入重连流程，同时返回错误。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.terminated {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.log.Warnf("首次连接失败: %v", err)
		c.handleClose(nil, err)
		return err
	}
	c.onOpen(conn)
	return nil
}

// Subscribe 注册回调。topic 的第一个回调会触发 subscribe 帧；已连接时立即发送，
// 否则在下次连接打开时发送。
func (c *Client) Subscribe(ch Channel, cb Callback) (*Subscription, error) {
	if cb == nil {
		return nil, fmt.Errorf("eventstream: nil callback for %s", ch)
	}
	topic := ch.Topic()
	s := &subscriber{cb: cb}

	c.mu.Lock()
	if c.closed || c.terminated {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	isNew := c.reg.add(topic, s)
	conn := c.conn
	var frame *requestFrame
	if isNew && conn != nil {
		frame = c.newRequestLocked(methodSubscribe, topic)
	}
	c.mu.Unlock()

	if frame != nil {
		c.send(conn, frame)
	}
	return &Subscription{client: c, topic: topic, sub: s}, nil
}

func (c *Client) unsubscribe(topic string, s *subscriber) {
	c.mu.Lock()
	empty := c.reg.remove(topic, s)
	conn := c.conn
	var frame *requestFrame
	if empty && conn != nil && !c.closed {
		frame = c.newRequestLocked(methodUnsubscribe, topic)
	}
	c.mu.Unlock()

	if frame != nil {
		c.send(conn, frame)
	}
}

// Topics 当前跟踪的 topic（诊断用）
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.names()
}

// Connected 当前是否有打开的连接
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Terminated 是否已因断线终止
func (c *Client) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Close 主动关闭：不再重连，也不向回调投递错误。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.pending = make(map[string]pendingRequest)
	c.liveSub = make(map[string]string)
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) newRequestLocked(method, topic string) *requestFrame {
	id := uuid.NewString()
	c.pending[id] = pendingRequest{method: method, topic: topic}
	if method == methodSubscribe {
		c.liveSub[topic] = id
	} else {
		delete(c.liveSub, topic)
	}
	return &requestFrame{RequestID: id, Method: method, Params: []string{topic}}
}

func (c *Client) send(conn Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Errorf("序列化请求失败: %v", err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		// 写失败通常意味着连接已断开，读协程会接管重连
		c.log.Warnf("发送失败: %v", err)
	}
}

func (c *Client) onOpen(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.reconnectTimer = nil
	topics := c.reg.names()
	frames := make([]*requestFrame, 0, len(topics))
	for _, topic := range topics {
		frames = append(frames, c.newRequestLocked(methodSubscribe, topic))
	}
	c.mu.Unlock()

	c.log.Infof("连接已建立，重新订阅 %d 个 topic", len(frames))
	for _, f := range frames {
		c.send(conn, f)
	}
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleFrame(conn, data)
	}
}

func (c *Client) handleFrame(conn Conn, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Debugf("无法解析的帧: %v", err)
		return
	}

	if f.Method == methodHeartbeat || (f.Type == frameMessage && f.Topic == heartbeatTopic) {
		c.send(conn, heartbeatFrame{Method: methodHeartbeat, Data: f.Data})
		return
	}

	switch f.Type {
	case frameResponse:
		c.handleResponse(f)
	case frameMessage:
		c.mu.Lock()
		subs := c.reg.subscribers(f.Topic)
		c.mu.Unlock()
		for _, s := range subs {
			s.cb(Event{Topic: f.Topic, Data: f.Data})
		}
	default:
		c.log.Debugf("未知帧类型: %q", f.Type)
	}
}

func (c *Client) handleResponse(f inboundFrame) {
	c.mu.Lock()
	req, ok := c.pending[f.RequestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, f.RequestID)
	if f.Success || req.method != methodSubscribe {
		c.mu.Unlock()
		if !f.Success {
			c.log.Warnf("%s %s 被拒绝", req.method, req.topic)
		}
		return
	}
	// 过期的 subscribe 应答（topic 已退订并重新订阅）不影响当前注册
	if c.liveSub[req.topic] != f.RequestID {
		c.mu.Unlock()
		c.log.Debugf("忽略过期的订阅失败应答: %s", req.topic)
		return
	}
	delete(c.liveSub, req.topic)
	// 订阅失败：移除 topic（不发送 unsubscribe），通知该 topic 的回调
	subs := c.reg.drop(req.topic)
	c.mu.Unlock()

	serr := &StreamError{Code: CodeInternalFailure, Topic: req.topic, Message: "subscribe rejected"}
	if f.Error != nil {
		serr.Code = parseCode(f.Error.Code)
		if f.Error.Message != "" {
			serr.Message = f.Error.Message
		}
	}
	c.log.Warnf("订阅失败: %v", serr)
	for _, s := range subs {
		s.cb(Event{Topic: req.topic, Err: serr})
	}
}

// handleClose 处理连接关闭或拨号失败。conn 与当前连接不一致时说明是过期连接，忽略。
func (c *Client) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.terminated || conn != c.conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.pending = make(map[string]pendingRequest)
	c.liveSub = make(map[string]string)

	if isCleanClose(cause) {
		c.log.Warnf("服务端正常关闭连接，不再重连")
		c.terminateLocked(fmt.Sprintf("server closed connection: %v", cause))
		return
	}

	c.attempts++
	if c.attempts >= c.cfg.MaxAttempts {
		c.log.Errorf("连续 %d 次连接失败，放弃重连: %v", c.attempts, cause)
		c.terminateLocked(fmt.Sprintf("gave up after %d attempts: %v", c.attempts, cause))
		return
	}
	delay := c.backoff.ForAttempt(float64(c.attempts - 1))
	c.log.Warnf("连接断开 (%v)，%v 后第 %d 次重连", cause, delay, c.attempts)
	c.reconnectTimer = c.clock.AfterFunc(delay, c.redial)
	c.mu.Unlock()
}

// terminateLocked 释放 c.mu 后向每个已注册回调投递一次终止错误
func (c *Client) terminateLocked(msg string) {
	c.terminated = true
	targets := c.reg.all()
	c.mu.Unlock()

	metrics.StreamDisconnects.Add(1)
	for _, t := range targets {
		t.sub.cb(Event{
			Topic: t.topic,
			Err:   &StreamError{Code: CodeTransportDisconnect, Topic: t.topic, Message: msg},
		})
	}
}

func (c *Client) redial() {
	c.mu.Lock()
	if c.closed || c.terminated {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	metrics.StreamReconnects.Add(1)
	conn, err := c.dialer.Dial(c.ctx, c.cfg.URL)
	if err != nil {
		c.handleClose(nil, err)
		return
	}
	c.onOpen(conn)
}

// Subscription 订阅句柄
type Subscription struct {
	client *Client
	topic  string
	sub    *subscriber
	once   sync.Once
}

// Topic 订阅的 topic
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe 移除本回调；幂等。最后一个回调移除时发送 unsubscribe 帧。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.client.unsubscribe(s.topic, s.sub)
	})
}
