package persistence

import (
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/quotebot/pkg/logger"
)

// BadgerOptions 打开 Badger 的参数
type BadgerOptions struct {
	Path          string
	InMemory      bool   // 测试/纸交易使用，不落盘
	EncryptionKey []byte // 32 bytes；为空时不加密
}

// BadgerService 基于 Badger 的持久化服务：一个 DB，多个 key。
type BadgerService struct {
	db *badger.DB
}

// OpenBadger 打开（或创建）Badger 数据库
func OpenBadger(opts BadgerOptions) (*BadgerService, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("persistence: badger path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// Badger 加密需要 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &BadgerService{db: db}, nil
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &BadgerStore{db: s.db, key: []byte(storeKey(prefix, id, tag))}
}

// Close 关闭数据库
func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BadgerStore 单个 key 的 JSON 文档
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// Save 保存数据
func (s *BadgerStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

// Load 加载数据；key 不存在时返回 ErrNotExists
func (s *BadgerStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotExists
	}
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(raw, data)
}

// Delete 删除数据；不存在时不报错
func (s *BadgerStore) Delete() error {
	logger.Debugf("[persistence] Delete: key=%s", s.key)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key)
	})
}
