package eventstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind 频道类型
type Kind string

const (
	KindOrderBook Kind = "book"
	KindWallet    Kind = "wallet"
	KindPriceFeed Kind = "price"
)

// Channel (kind, key) 逻辑频道；不同频道的 topic 字符串互不相同。
type Channel struct {
	Kind Kind
	Key  string
}

// Topic 线上 topic 字符串
func (c Channel) Topic() string {
	return string(c.Kind) + "/" + c.Key
}

func (c Channel) String() string { return c.Topic() }

// OrderBook 某市场订单簿频道
func OrderBook(marketID string) Channel { return Channel{Kind: KindOrderBook, Key: marketID} }

// Wallet 钱包事件频道（key 为鉴权 key）
func Wallet(authKey string) Channel { return Channel{Kind: KindWallet, Key: authKey} }

// PriceFeed 价格源频道
func PriceFeed(symbol string) Channel { return Channel{Kind: KindPriceFeed, Key: symbol} }

// Event 回调收到的事件：Data 与 Err 二选一
type Event struct {
	Topic string
	Data  json.RawMessage
	Err   error
}

// Callback 订阅回调；在连接读协程中按到达顺序串行调用，不能阻塞。
type Callback func(Event)

// ErrorCode 错误码（封闭集合）
type ErrorCode string

const (
	CodeInvalidPayload      ErrorCode = "invalid_payload"
	CodeInvalidTopic        ErrorCode = "invalid_topic"
	CodeInternalFailure     ErrorCode = "internal_failure"
	CodeInvalidCredentials  ErrorCode = "invalid_credentials"
	CodeTransportDisconnect ErrorCode = "transport_disconnect"
)

func parseCode(s string) ErrorCode {
	switch c := ErrorCode(s); c {
	case CodeInvalidPayload, CodeInvalidTopic, CodeInternalFailure, CodeInvalidCredentials, CodeTransportDisconnect:
		return c
	default:
		return CodeInternalFailure
	}
}

// StreamError 带错误码的流错误
type StreamError struct {
	Code    ErrorCode
	Topic   string
	Message string
}

func (e *StreamError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("eventstream %s [%s]: %s", e.Code, e.Topic, e.Message)
	}
	return fmt.Sprintf("eventstream %s: %s", e.Code, e.Message)
}

// IsDisconnect 是否为终止性断线错误（重连次数耗尽或服务端正常关闭）
func IsDisconnect(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Code == CodeTransportDisconnect
}

// ErrClosed 客户端已关闭或已终止
var ErrClosed = errors.New("eventstream: client closed")

const (
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	methodHeartbeat   = "heartbeat"

	frameResponse = "R"
	frameMessage  = "M"

	heartbeatTopic = "heartbeat"
)

type requestFrame struct {
	RequestID string   `json:"requestId,omitempty"`
	Method    string   `json:"method"`
	Params    []string `json:"params,omitempty"`
}

type heartbeatFrame struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type inboundFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Topic     string          `json:"topic"`
	Method    string          `json:"method"`
	Data      json.RawMessage `json:"data"`
	Error     *wireError      `json:"error"`
}
