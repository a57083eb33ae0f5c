package eventstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 单条连接。ReadMessage 只在一个协程中调用；WriteMessage 可并发调用。
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close 主动关闭（发送 1000 close frame）
	Close() error
}

// Dialer 建立连接
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// ErrCleanClose 对端以 1000 正常关闭（测试传输层使用）
var ErrCleanClose = errors.New("eventstream: clean close")

func isCleanClose(err error) bool {
	if errors.Is(err, ErrCleanClose) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// WSDialer gorilla/websocket 实现
type WSDialer struct {
	ProxyURL         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

func (d WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 30 * time.Second
	}
	if d.ProxyURL != "" {
		proxyURL, err := url.Parse(d.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return &wsConn{conn: conn, writeTimeout: wt}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
