package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/betbot/quotebot/internal/diparb"
	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/eventstream"
	"github.com/betbot/quotebot/internal/quoting"
	"github.com/betbot/quotebot/pkg/logger"
)

const (
	StrategyQuoting = "quoting"
	StrategyDipArb  = "diparb"
)

// MarketConfig 单个市场：参数 + 启用的策略
type MarketConfig struct {
	Params     domain.MarketParams
	Strategies []string
}

// Enabled 是否启用某策略
func (m MarketConfig) Enabled(name string) bool {
	for _, s := range m.Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// BackendConfig REST 交易接口
type BackendConfig struct {
	ClobURL            string
	DataAPIURL         string
	SignerURL          string // 签名 sidecar：下单签名、redeem、merge
	Timeout            time.Duration
	RateLimitPerSecond float64
	RateBurst          int
}

// Credentials L2 API 凭证
type Credentials struct {
	APIKey        string
	APISecret     string
	APIPassphrase string
	Address       string
}

// PersistenceConfig checkpoint 存储
type PersistenceConfig struct {
	Driver        string // badger / json / memory
	Path          string
	EncryptionKey string
}

// Config 应用配置
type Config struct {
	DryRun       bool    // 纸交易模式：使用内存撮合，不进行真实交易
	PaperBalance float64 // 纸交易初始余额（USDC）
	MetricsAddr  string  // 为空则不启动调试 HTTP 服务
	ProxyURL     string

	Logging     logger.Config
	Stream      eventstream.Config
	Backend     BackendConfig
	Credentials Credentials
	Persistence PersistenceConfig
	Markets     []MarketConfig

	Quoting quoting.Config
	DipArb  diparb.Config
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	DryRun       bool    `yaml:"dry_run" json:"dry_run"`
	PaperBalance float64 `yaml:"paper_balance" json:"paper_balance"`
	MetricsAddr  string  `yaml:"metrics_addr" json:"metrics_addr"`
	LogLevel     string  `yaml:"log_level" json:"log_level"`
	LogFile      string  `yaml:"log_file" json:"log_file"`
	Proxy        struct {
		Host string `yaml:"host" json:"host"`
		Port int    `yaml:"port" json:"port"`
	} `yaml:"proxy" json:"proxy"`
	Stream struct {
		URL         string `yaml:"url" json:"url"`
		BaseDelayMs int    `yaml:"base_delay_ms" json:"base_delay_ms"`
		MaxDelayMs  int    `yaml:"max_delay_ms" json:"max_delay_ms"`
		MaxAttempts int    `yaml:"max_attempts" json:"max_attempts"`
	} `yaml:"stream" json:"stream"`
	Backend struct {
		ClobURL            string  `yaml:"clob_url" json:"clob_url"`
		DataAPIURL         string  `yaml:"data_api_url" json:"data_api_url"`
		SignerURL          string  `yaml:"signer_url" json:"signer_url"`
		TimeoutMs          int     `yaml:"timeout_ms" json:"timeout_ms"`
		RateLimitPerSecond float64 `yaml:"rate_limit_per_second" json:"rate_limit_per_second"`
		RateBurst          int     `yaml:"rate_burst" json:"rate_burst"`
	} `yaml:"backend" json:"backend"`
	Persistence struct {
		Driver string `yaml:"driver" json:"driver"`
		Path   string `yaml:"path" json:"path"`
	} `yaml:"persistence" json:"persistence"`
	Markets []struct {
		ID           string   `yaml:"id" json:"id"`
		Slug         string   `yaml:"slug" json:"slug"`
		YesTokenID   string   `yaml:"yes_token_id" json:"yes_token_id"`
		NoTokenID    string   `yaml:"no_token_id" json:"no_token_id"`
		TickSize     float64  `yaml:"tick_size" json:"tick_size"`
		MinOrderSize float64  `yaml:"min_order_size" json:"min_order_size"`
		NegRisk      bool     `yaml:"neg_risk" json:"neg_risk"`
		Strategies   []string `yaml:"strategies" json:"strategies"`
	} `yaml:"markets" json:"markets"`
	Quoting quoting.Config `yaml:"quoting" json:"quoting"`
	DipArb  diparb.Config  `yaml:"diparb" json:"diparb"`
}

// Load 加载 .env（可选）与配置文件，应用环境变量覆盖与默认值并校验。
// 环境变量优先级高于配置文件。
func Load(filePath string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	var configFile *ConfigFile
	if filePath != "" {
		var err error
		configFile, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	} else {
		configFile = &ConfigFile{}
	}

	cfg := fromFile(configFile)
	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadDotEnv 不存在的 .env 文件直接跳过
func loadDotEnv(files []string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("读取 %s 失败: %w", f, err)
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", f, err)
		}
	}
	return nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func fromFile(cf *ConfigFile) *Config {
	cfg := &Config{
		DryRun:       cf.DryRun,
		PaperBalance: cf.PaperBalance,
		MetricsAddr:  cf.MetricsAddr,
		Logging: logger.Config{
			Level:      cf.LogLevel,
			OutputFile: cf.LogFile,
		},
		Stream: eventstream.Config{
			URL:         cf.Stream.URL,
			BaseDelay:   time.Duration(cf.Stream.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cf.Stream.MaxDelayMs) * time.Millisecond,
			MaxAttempts: cf.Stream.MaxAttempts,
		},
		Backend: BackendConfig{
			ClobURL:            cf.Backend.ClobURL,
			DataAPIURL:         cf.Backend.DataAPIURL,
			SignerURL:          cf.Backend.SignerURL,
			Timeout:            time.Duration(cf.Backend.TimeoutMs) * time.Millisecond,
			RateLimitPerSecond: cf.Backend.RateLimitPerSecond,
			RateBurst:          cf.Backend.RateBurst,
		},
		Persistence: PersistenceConfig{
			Driver: cf.Persistence.Driver,
			Path:   cf.Persistence.Path,
		},
		Quoting: cf.Quoting,
		DipArb:  cf.DipArb,
	}
	if cf.Proxy.Host != "" && cf.Proxy.Port > 0 {
		cfg.ProxyURL = fmt.Sprintf("http://%s:%d", cf.Proxy.Host, cf.Proxy.Port)
	}
	for _, m := range cf.Markets {
		cfg.Markets = append(cfg.Markets, MarketConfig{
			Params: domain.MarketParams{
				MarketID:     m.ID,
				Slug:         m.Slug,
				YesTokenID:   m.YesTokenID,
				NoTokenID:    m.NoTokenID,
				TickSize:     m.TickSize,
				MinOrderSize: m.MinOrderSize,
				NegRisk:      m.NegRisk,
			},
			Strategies: parseStrategyList(strings.Join(m.Strategies, ",")),
		})
	}
	return cfg
}

// applyEnv 凭证只从环境变量读取；其余开关可覆盖配置文件
func applyEnv(cfg *Config) {
	cfg.Credentials = Credentials{
		APIKey:        getEnv("POLY_API_KEY", ""),
		APISecret:     getEnv("POLY_API_SECRET", ""),
		APIPassphrase: getEnv("POLY_PASSPHRASE", ""),
		Address:       getEnv("POLY_ADDRESS", ""),
	}
	cfg.Persistence.EncryptionKey = getEnv("PERSISTENCE_ENCRYPTION_KEY", "")

	cfg.DryRun = parseBoolEnv("DRY_RUN", cfg.DryRun)
	cfg.PaperBalance = parseFloatEnv("PAPER_BALANCE", cfg.PaperBalance)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.OutputFile = getEnv("LOG_FILE", cfg.Logging.OutputFile)
	cfg.Stream.URL = getEnv("STREAM_URL", cfg.Stream.URL)
	cfg.Stream.MaxAttempts = parseIntEnv("STREAM_MAX_ATTEMPTS", cfg.Stream.MaxAttempts)
	cfg.Backend.ClobURL = getEnv("CLOB_URL", cfg.Backend.ClobURL)
	cfg.Backend.SignerURL = getEnv("SIGNER_URL", cfg.Backend.SignerURL)

	if host := getEnv("PROXY_HOST", ""); host != "" {
		if port := parseIntEnv("PROXY_PORT", 0); port > 0 {
			cfg.ProxyURL = fmt.Sprintf("http://%s:%d", host, port)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.OutputFile != "" {
		cfg.Logging.MaxSize = 100
		cfg.Logging.MaxBackups = 3
		cfg.Logging.MaxAge = 7
		cfg.Logging.Compress = true
	}
	if cfg.PaperBalance <= 0 {
		cfg.PaperBalance = 1000
	}
	cfg.Stream.ProxyURL = cfg.ProxyURL
	def := eventstream.DefaultConfig()
	if cfg.Stream.BaseDelay <= 0 {
		cfg.Stream.BaseDelay = def.BaseDelay
	}
	if cfg.Stream.MaxDelay <= 0 {
		cfg.Stream.MaxDelay = def.MaxDelay
	}
	if cfg.Stream.MaxAttempts <= 0 {
		cfg.Stream.MaxAttempts = def.MaxAttempts
	}
	cfg.Stream.WriteTimeout = def.WriteTimeout
	cfg.Stream.HandshakeTimeout = def.HandshakeTimeout

	if cfg.Backend.ClobURL == "" {
		cfg.Backend.ClobURL = "https://clob.polymarket.com"
	}
	if cfg.Backend.DataAPIURL == "" {
		cfg.Backend.DataAPIURL = "https://data-api.polymarket.com"
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.Backend.RateLimitPerSecond <= 0 {
		// 官方限流约 150 请求/10 秒
		cfg.Backend.RateLimitPerSecond = 10
	}
	if cfg.Backend.RateBurst <= 0 {
		cfg.Backend.RateBurst = 20
	}

	if cfg.Persistence.Driver == "" {
		cfg.Persistence.Driver = "badger"
	}
	if cfg.Persistence.Path == "" && cfg.Persistence.Driver != "memory" {
		cfg.Persistence.Path = "data/checkpoints"
	}

	for i := range cfg.Markets {
		if len(cfg.Markets[i].Strategies) == 0 {
			cfg.Markets[i].Strategies = []string{StrategyQuoting}
		}
		if cfg.Markets[i].Params.TickSize <= 0 {
			cfg.Markets[i].Params.TickSize = 0.01
		}
	}

	cfg.DipArb.Defaults()
}

// Validate 校验配置；策略配置同时补全默认值
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url 未配置")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("至少需要配置一个市场")
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for i := range c.Markets {
		m := &c.Markets[i]
		if err := m.Params.Validate(); err != nil {
			return err
		}
		if _, dup := seen[m.Params.MarketID]; dup {
			return fmt.Errorf("市场重复: %s", m.Params.MarketID)
		}
		seen[m.Params.MarketID] = struct{}{}
		for _, s := range m.Strategies {
			switch s {
			case StrategyQuoting, StrategyDipArb:
			default:
				return fmt.Errorf("市场 %s: 未知的策略: %s", m.Params.MarketID, s)
			}
		}
	}
	if err := c.Quoting.Validate(); err != nil {
		return fmt.Errorf("quoting: %w", err)
	}
	if err := c.DipArb.Validate(); err != nil {
		return fmt.Errorf("diparb: %w", err)
	}
	switch c.Persistence.Driver {
	case "badger", "json", "memory":
	default:
		return fmt.Errorf("不支持的持久化驱动: %s", c.Persistence.Driver)
	}
	if c.DryRun {
		return nil
	}
	if c.Credentials.APIKey == "" || c.Credentials.APISecret == "" || c.Credentials.APIPassphrase == "" {
		return fmt.Errorf("POLY_API_KEY / POLY_API_SECRET / POLY_PASSPHRASE 未配置")
	}
	if c.Credentials.Address == "" {
		return fmt.Errorf("POLY_ADDRESS 未配置")
	}
	if c.Backend.SignerURL == "" {
		return fmt.Errorf("backend.signer_url 未配置（实盘下单需要签名服务）")
	}
	return nil
}

func parseStrategyList(str string) []string {
	if str == "" {
		return []string{}
	}
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
