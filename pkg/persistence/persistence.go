// Package persistence 小型状态持久化：按 prefix:id:tag 存取 JSON 文档。
package persistence

import (
	"fmt"
	"regexp"
)

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
	Close() error
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
	Delete() error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

func storeKey(prefix, id, tag string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, id, tag)
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
