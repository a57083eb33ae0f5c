// Package clob 交易所 REST 适配器：订单簿、挂单、撤单、余额与持仓查询走 CLOB/Data API，
// 订单签名与链上 redeem/merge 交给签名 sidecar。
package clob

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/pkg/clock"
	"github.com/betbot/quotebot/pkg/logger"
	"github.com/betbot/quotebot/pkg/ratelimit"
)

// Config 接口地址
type Config struct {
	BaseURL    string
	DataAPIURL string
	SignerURL  string
	ProxyURL   string
	Timeout    time.Duration
	RetryCount int
}

// Credentials L2 API 凭证
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
	Address    string
}

// Client 实现 ports.TradingBackend 与 ports.Settlement
type Client struct {
	clob   *resty.Client
	data   *resty.Client
	signer *resty.Client
	creds  Credentials
	limits *ratelimit.Manager
	clock  clock.Clock
	log    *logrus.Entry

	mu      sync.RWMutex
	markets map[string]*domain.MarketParams
}

// Option 可选项
type Option func(*Client)

// WithRateLimiter 替换速率限制
func WithRateLimiter(m *ratelimit.Manager) Option { return func(c *Client) { c.limits = m } }

// WithClock 替换时钟（签名时间戳）
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

// WithLogger 设置日志上下文
func WithLogger(l *logrus.Entry) Option { return func(c *Client) { c.log = l } }

func newRestClient(host string, cfg Config) *resty.Client {
	host = strings.TrimSuffix(host, "/")
	rc := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "quotebot/1.0").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 只重试传输错误、429 与 5xx
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})
	if cfg.ProxyURL != "" {
		rc.SetProxy(cfg.ProxyURL)
	}
	return rc
}

// New 创建适配器；markets 用于 marketID -> token 的映射。
func New(cfg Config, creds Credentials, markets []*domain.MarketParams, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("clob: base url 不能为空")
	}
	if cfg.SignerURL == "" {
		return nil, errors.New("clob: signer url 不能为空")
	}
	if creds.APIKey == "" || creds.Secret == "" || creds.Passphrase == "" {
		return nil, errors.New("clob: API 凭证不完整")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.DataAPIURL == "" {
		cfg.DataAPIURL = "https://data-api.polymarket.com"
	}

	c := &Client{
		clob:    newRestClient(cfg.BaseURL, cfg),
		data:    newRestClient(cfg.DataAPIURL, cfg),
		signer:  newRestClient(cfg.SignerURL, cfg),
		creds:   creds,
		clock:   clock.New(),
		log:     logger.Component("clob"),
		markets: make(map[string]*domain.MarketParams, len(markets)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limits == nil {
		c.limits = ratelimit.NewManager(10, 20, c.clock)
	}
	for _, m := range markets {
		c.AddMarket(m)
	}
	return c, nil
}

// AddMarket 注册市场参数
func (c *Client) AddMarket(p *domain.MarketParams) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[p.MarketID] = p
}

func (c *Client) market(marketID string) (*domain.MarketParams, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.markets[marketID]
	if !ok {
		return nil, errors.Errorf("clob: 未知市场 %s", marketID)
	}
	return p, nil
}

// authed 构建带 L2 认证头的请求；body 为 nil 时按无 body 签名
func (c *Client) authed(ctx context.Context, method, path string, body []byte) (*resty.Request, error) {
	headers, err := c.l2Headers(method, path, body)
	if err != nil {
		return nil, err
	}
	r := c.clob.R().SetContext(ctx).SetHeaders(headers)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return r, nil
}

// checkResponse 非 2xx 转为错误，尽量带上服务端的 error 字段
func checkResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return errors.Wrap(err, what)
	}
	if resp.IsSuccess() {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return errors.Errorf("%s: HTTP %d: %s", what, resp.StatusCode(), msg)
}
