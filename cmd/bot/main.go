package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/internal/backend/clob"
	"github.com/betbot/quotebot/internal/backend/paper"
	"github.com/betbot/quotebot/internal/diparb"
	"github.com/betbot/quotebot/internal/domain"
	"github.com/betbot/quotebot/internal/engine"
	"github.com/betbot/quotebot/internal/eventstream"
	"github.com/betbot/quotebot/internal/metrics"
	"github.com/betbot/quotebot/internal/ports"
	"github.com/betbot/quotebot/internal/quoting"
	"github.com/betbot/quotebot/pkg/clock"
	"github.com/betbot/quotebot/pkg/config"
	"github.com/betbot/quotebot/pkg/logger"
	"github.com/betbot/quotebot/pkg/persistence"
	"github.com/betbot/quotebot/pkg/ratelimit"
	"github.com/betbot/quotebot/pkg/shutdown"
)

// venue 交易 + 结算
type venue interface {
	ports.TradingBackend
	ports.Settlement
}

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env", ".env", "环境变量文件（不存在则忽略）")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "优雅退出超时")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}
	log := logger.Component("main")

	if err := run(cfg, *shutdownTimeout, log); err != nil {
		log.Errorf("❌ 退出: %v", err)
		os.Exit(1)
	}
	log.Info("👋 已退出")
}

func run(cfg *config.Config, shutdownTimeout time.Duration, log *logrus.Entry) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()
	markets := make([]*domain.MarketParams, 0, len(cfg.Markets))
	for i := range cfg.Markets {
		markets = append(markets, &cfg.Markets[i].Params)
	}

	// 交易后端
	var (
		backend  venue
		exchange *paper.Exchange
	)
	if cfg.DryRun {
		exchange = paper.New(cfg.PaperBalance)
		for _, m := range markets {
			exchange.AddMarket(m)
		}
		backend = exchange
		log.Warnf("🧪 纸交易模式：初始余额 %.2f USDC，成交由盘口推送模拟", cfg.PaperBalance)
	} else {
		c, err := clob.New(clob.Config{
			BaseURL:    cfg.Backend.ClobURL,
			DataAPIURL: cfg.Backend.DataAPIURL,
			SignerURL:  cfg.Backend.SignerURL,
			ProxyURL:   cfg.ProxyURL,
			Timeout:    cfg.Backend.Timeout,
			RetryCount: 2,
		}, clob.Credentials{
			APIKey:     cfg.Credentials.APIKey,
			Secret:     cfg.Credentials.APISecret,
			Passphrase: cfg.Credentials.APIPassphrase,
			Address:    cfg.Credentials.Address,
		}, markets,
			clob.WithClock(clk),
			clob.WithRateLimiter(ratelimit.NewManager(cfg.Backend.RateLimitPerSecond, cfg.Backend.RateBurst, clk)))
		if err != nil {
			return fmt.Errorf("创建交易客户端失败: %w", err)
		}
		backend = c
		log.Infof("💼 实盘模式：address=%s", cfg.Credentials.Address)
	}

	// checkpoint 存储
	store, err := openPersistence(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("打开持久化存储失败: %w", err)
	}

	stream := eventstream.NewClient(cfg.Stream, eventstream.WithClock(clk))

	shut := shutdown.NewManager()
	var (
		enginesMu sync.Mutex
		engines   []*engine.Engine
	)
	if exchange != nil {
		exchange.OnFill(func(f domain.WalletFill) {
			enginesMu.Lock()
			list := append([]*engine.Engine(nil), engines...)
			enginesMu.Unlock()
			for _, e := range list {
				e.HandleFill(f)
			}
		})
	}

	for _, mc := range cfg.Markets {
		params := mc.Params
		e, err := buildEngine(ctx, cfg, mc.Strategies, &params, backend, exchange, store, stream, clk, cancel)
		if err != nil {
			stopEngines(engines)
			_ = stream.Close()
			_ = store.Close()
			return fmt.Errorf("市场 %s 初始化失败: %w", params.MarketID, err)
		}
		enginesMu.Lock()
		engines = append(engines, e)
		enginesMu.Unlock()
	}

	if err := stream.Connect(ctx); err != nil {
		// 首次失败已进入重连流程
		log.Warnf("⚠️ 事件流首次连接失败，后台重连中: %v", err)
	}

	if cfg.MetricsAddr != "" {
		health := func() error {
			if stream.Terminated() {
				return errors.New("event stream terminated")
			}
			if !stream.Connected() {
				return errors.New("event stream disconnected")
			}
			return nil
		}
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr, health, logger.Component("metrics")); err != nil {
			log.Warnf("⚠️ 调试服务启动失败: %v", err)
		} else {
			log.Infof("📊 调试服务: http://%s/debug/vars", cfg.MetricsAddr)
		}
	}

	shut.OnShutdown("engines", func(context.Context) { stopEngines(engines) })
	shut.OnShutdown("eventstream", func(context.Context) { _ = stream.Close() })
	shut.OnShutdown("persistence", func(context.Context) {
		if err := store.Close(); err != nil {
			log.Warnf("关闭持久化存储失败: %v", err)
		}
	})

	log.Infof("🚀 已启动 %d 个市场", len(engines))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("收到信号 %s，开始优雅退出", sig)
	case <-ctx.Done():
		log.Warn("事件流已终止，开始退出")
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	shut.Shutdown(shutdownCtx)
	return nil
}

func buildEngine(
	ctx context.Context,
	cfg *config.Config,
	strategies []string,
	params *domain.MarketParams,
	backend venue,
	exchange *paper.Exchange,
	store persistence.Service,
	stream *eventstream.Client,
	clk clock.Clock,
	terminate context.CancelFunc,
) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithLogger(logger.ForMarket("engine", params.MarketID)),
		engine.OnTerminal(func(err error) {
			logger.ForMarket("engine", params.MarketID).Errorf("💥 引擎终止: %v", err)
			terminate()
		}),
	}
	if exchange != nil {
		opts = append(opts, engine.WithBookObserver(func(b *domain.OrderBookSnapshot) { exchange.ApplyBook(b) }))
	} else {
		opts = append(opts, engine.WithWalletKey(cfg.Credentials.APIKey))
	}

	for _, name := range strategies {
		switch name {
		case config.StrategyQuoting:
			q, err := quoting.NewController(cfg.Quoting, params, backend,
				quoting.WithClock(clk),
				quoting.WithLogger(logger.ForMarket("quoting", params.MarketID)))
			if err != nil {
				return nil, err
			}
			opts = append(opts, engine.WithStrategy(q))
		case config.StrategyDipArb:
			d, err := diparb.NewController(cfg.DipArb, params, backend,
				diparb.WithClock(clk),
				diparb.WithSettlement(backend),
				diparb.WithCheckpoint(store.NewStore("diparb", params.MarketID, "leg1")),
				diparb.WithLogger(logger.ForMarket("diparb", params.MarketID)))
			if err != nil {
				return nil, err
			}
			opts = append(opts, engine.WithStrategy(d))
		default:
			return nil, fmt.Errorf("未知策略: %s", name)
		}
	}

	e, err := engine.New(params, stream, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func openPersistence(cfg config.PersistenceConfig) (persistence.Service, error) {
	switch strings.ToLower(cfg.Driver) {
	case "json":
		return persistence.NewJSONFileService(cfg.Path), nil
	case "memory":
		return persistence.OpenBadger(persistence.BadgerOptions{InMemory: true})
	default:
		var key []byte
		if cfg.EncryptionKey != "" {
			key = []byte(cfg.EncryptionKey)
		}
		return persistence.OpenBadger(persistence.BadgerOptions{Path: cfg.Path, EncryptionKey: key})
	}
}

// stopEngines 逆序停止
func stopEngines(engines []*engine.Engine) {
	for i := len(engines) - 1; i >= 0; i-- {
		engines[i].Stop()
	}
}
