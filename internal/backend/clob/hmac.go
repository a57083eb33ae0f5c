package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// L2 认证头
const (
	headerAddress    = "POLY_ADDRESS"
	headerSignature  = "POLY_SIGNATURE"
	headerTimestamp  = "POLY_TIMESTAMP"
	headerAPIKey     = "POLY_API_KEY"
	headerPassphrase = "POLY_PASSPHRASE"
)

// buildHMACSignature 签名内容 = timestamp + method + requestPath + body，
// secret 为 base64url，输出 URL 安全的 base64（保留 = 后缀）。
func buildHMACSignature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath
	if body != nil {
		message += string(body)
	}

	sanitized := strings.NewReplacer("-", "+", "_", "/").Replace(secret)
	sanitized = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') || r == '+' || r == '/' || r == '=' {
			return r
		}
		return -1
	}, sanitized)

	key, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		return "", errors.Wrap(err, "解码 secret 失败")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return strings.NewReplacer("+", "-", "/", "_").Replace(sig), nil
}

func (c *Client) l2Headers(method, requestPath string, body []byte) (map[string]string, error) {
	ts := c.clock.Now().Unix()
	sig, err := buildHMACSignature(c.creds.Secret, ts, method, requestPath, body)
	if err != nil {
		return nil, errors.Wrap(err, "构建 HMAC 签名失败")
	}
	return map[string]string{
		headerAddress:    c.creds.Address,
		headerSignature:  sig,
		headerTimestamp:  strconv.FormatInt(ts, 10),
		headerAPIKey:     c.creds.APIKey,
		headerPassphrase: c.creds.Passphrase,
	}, nil
}
