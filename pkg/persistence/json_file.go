package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/betbot/quotebot/pkg/logger"
)

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{
		baseDir: baseDir,
	}
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{
		service: s,
		key:     storeKey(prefix, id, tag),
	}
}

// Close 文件存储无需关闭
func (s *JSONFileService) Close() error { return nil }

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

func (s *JSONFileStore) filePath() string {
	// key 形如 "diparb:<market>:leg1"，这里做文件名安全化
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save 保存数据（先写临时文件再 rename）
func (s *JSONFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// Delete 删除数据；不存在时不报错
func (s *JSONFileStore) Delete() error {
	logger.Debugf("[persistence] Delete: key=%s", s.key)
	err := os.Remove(s.filePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
