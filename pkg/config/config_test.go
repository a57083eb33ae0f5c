package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
dry_run: true
metrics_addr: "127.0.0.1:6060"
log_level: debug
proxy:
  host: 127.0.0.1
  port: 15236
stream:
  url: wss://stream.example/ws
  max_attempts: 4
backend:
  signer_url: http://127.0.0.1:8787
persistence:
  driver: memory
markets:
  - id: "0xabc"
    slug: will-it-rain
    yes_token_id: "111"
    no_token_id: "222"
    tick_size: 0.001
    min_order_size: 5
    strategies: [quoting, DipArb]
  - id: "0xdef"
    yes_token_id: "333"
    no_token_id: "444"
quoting:
  tradeSize: 25
  minDistance: 0.03
diparb:
  sumTarget: 0.9
  hedgeLadder: [0.01, 0]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "bot.yaml", sampleYAML))
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://127.0.0.1:15236", cfg.ProxyURL)
	assert.Equal(t, cfg.ProxyURL, cfg.Stream.ProxyURL)
	assert.Equal(t, 4, cfg.Stream.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Stream.BaseDelay)
	assert.Equal(t, "https://clob.polymarket.com", cfg.Backend.ClobURL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)

	require.Len(t, cfg.Markets, 2)
	m := cfg.Markets[0]
	assert.Equal(t, "0xabc", m.Params.MarketID)
	assert.Equal(t, 0.001, m.Params.TickSize)
	assert.Equal(t, 5.0, m.Params.MinOrderSize)
	assert.True(t, m.Enabled(StrategyQuoting))
	assert.True(t, m.Enabled(StrategyDipArb))
	// 未配置策略时默认只做报价
	assert.Equal(t, []string{StrategyQuoting}, cfg.Markets[1].Strategies)
	assert.Equal(t, 0.01, cfg.Markets[1].Params.TickSize)

	// 策略配置补全默认值
	assert.Equal(t, 25.0, cfg.Quoting.TradeSize)
	assert.Equal(t, 0.03, cfg.Quoting.MinDistance)
	assert.Equal(t, 0.015, cfg.Quoting.DriftMinDistance)
	require.NotNil(t, cfg.Quoting.CancelOnStop)
	assert.True(t, *cfg.Quoting.CancelOnStop)
	assert.Equal(t, 0.9, cfg.DipArb.SumTarget)
	assert.Equal(t, []float64{0.01, 0}, cfg.DipArb.HedgeLadder)
	assert.Equal(t, 60_000, cfg.DipArb.Leg2TimeoutMs)
}

func TestEnvOverridesAndDotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "POLY_API_KEY=key-from-dotenv\nPOLY_API_SECRET=c2VjcmV0\nPOLY_PASSPHRASE=pass\nPOLY_ADDRESS=0x1234\n")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("SIGNER_URL", "http://signer:9000")
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() {
		for _, k := range []string{"POLY_API_KEY", "POLY_API_SECRET", "POLY_PASSPHRASE", "POLY_ADDRESS"} {
			_ = os.Unsetenv(k)
		}
	})

	cfg, err := Load(writeFile(t, "bot.yaml", sampleYAML), envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "http://signer:9000", cfg.Backend.SignerURL)
	assert.Equal(t, "key-from-dotenv", cfg.Credentials.APIKey)
	assert.Equal(t, "0x1234", cfg.Credentials.Address)
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("POLY_API_KEY", "")
	_, err := Load(writeFile(t, "bot.yaml", sampleYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLY_API_KEY")
}

func TestValidateRejectsBadMarkets(t *testing.T) {
	cases := map[string]string{
		"unknown strategy": `
stream: {url: wss://x}
markets:
  - {id: m1, yes_token_id: a, no_token_id: b, strategies: [grid]}
`,
		"duplicate market": `
stream: {url: wss://x}
markets:
  - {id: m1, yes_token_id: a, no_token_id: b}
  - {id: m1, yes_token_id: c, no_token_id: d}
`,
		"same token": `
stream: {url: wss://x}
markets:
  - {id: m1, yes_token_id: a, no_token_id: a}
`,
		"no markets": `
stream: {url: wss://x}
`,
		"no stream url": `
markets:
  - {id: m1, yes_token_id: a, no_token_id: b}
`,
		"bad sum target": `
stream: {url: wss://x}
markets:
  - {id: m1, yes_token_id: a, no_token_id: b}
diparb: {sumTarget: 1.2}
`,
	}
	t.Setenv("DRY_RUN", "true")
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bot.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadJSONAndUnsupportedExt(t *testing.T) {
	t.Setenv("DRY_RUN", "")
	body := `{"dry_run": true, "stream": {"url": "wss://x"},
		"markets": [{"id": "m1", "yes_token_id": "a", "no_token_id": "b", "strategies": ["diparb"]}]}`
	cfg, err := Load(writeFile(t, "bot.json", body))
	require.NoError(t, err)
	assert.True(t, cfg.Markets[0].Enabled(StrategyDipArb))
	assert.False(t, cfg.Markets[0].Enabled(StrategyQuoting))
	assert.Equal(t, "badger", cfg.Persistence.Driver)
	assert.Equal(t, "data/checkpoints", cfg.Persistence.Path)

	_, err = Load(writeFile(t, "bot.toml", "x = 1"))
	assert.Error(t, err)
}
