package main

import (
	"context"
	"flag"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/bot"
	"github.com/g1tt0/universal-arbitrage/internal/cex/binance"
	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/dex/lfg"
	"github.com/g1tt0/universal-arbitrage/internal/execution"
	"github.com/g1tt0/universal-arbitrage/internal/feed"
	"github.com/g1tt0/universal-arbitrage/internal/ledger"
	"github.com/g1tt0/universal-arbitrage/internal/metrics"
	"github.com/g1tt0/universal-arbitrage/internal/notify"
	"github.com/g1tt0/universal-arbitrage/internal/pending"
	"github.com/g1tt0/universal-arbitrage/internal/settlement"
	"github.com/g1tt0/universal-arbitrage/internal/store"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the config file")
	testMode := flag.Bool("test", false, "detect opportunities without trading")
	flag.Parse()

	// secrets come from the environment; .env is optional
	_ = godotenv.Load()

	logger, err := bot.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if err := cfg.Validate(*testMode); err != nil {
		logger.Fatal("config invalid", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, logger)

	var kv store.KV
	var pub *feed.Publisher
	if cfg.Redis.Addr != "" {
		kv = store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB)
		pub = feed.NewPublisher(cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB, logger)
		logger.Info("state backend: redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		fs, err := store.NewFileStore(cfg.State.Dir)
		if err != nil {
			logger.Fatal("state dir init failed", zap.Error(err))
		}
		kv = fs
		logger.Info("state backend: files", zap.String("dir", cfg.State.Dir))
	}

	dex, err := lfg.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal("dex client init failed", zap.Error(err))
	}
	cex := binance.NewClient(cfg, logger)
	info := binance.NewInfoCache(kv, cex, cfg.InfoTTL(), logger)

	led := ledger.New(kv, dex.Eth(), dex.Sender(), cfg.Network.BaseSymbol, logger)
	go led.RunRefresher(ctx, cfg.Network.Name, cfg.BalanceRefresh())

	reg := pending.NewRegistry(kv, binance.Venue, logger)
	poller := pending.NewPoller(reg, cex, logger)
	go poller.Run(ctx, cfg.HistoryPoll())

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		notifier = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
	}

	exec := execution.NewExecutor(cfg, dex, led, logger)
	tracker := settlement.NewTracker(cfg, cex, poller, reg, info, notifier, dex.Sender().Hex(), logger)
	sup := settlement.NewSupervisor(tracker, notifier, logger)

	// the ws feed is optional; without it the loop polls over REST
	var tickers *binance.TickerCache
	if cfg.Binance.WsURL != "" {
		tickers = binance.NewTickerCache()
		symbols := make([]string, 0, len(cfg.Tokens)+1)
		symbols = append(symbols, cfg.Network.BaseSymbol+"USDT")
		for _, tc := range cfg.Tokens {
			symbols = append(symbols, tc.Symbol+"USDT")
		}
		ws := binance.NewWS(cfg.Binance.WsURL, logger)
		go ws.Run(ctx, symbols, tickers)
	}

	// a typed nil must not reach the interface field
	var feedPub bot.Feed
	if pub != nil {
		feedPub = pub
	}

	b := bot.New(cfg, exec, exec, sup, cex, info, reg, tickers, notifier, feedPub, logger)
	if err := b.Run(ctx, *testMode); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}

	// let in-flight settlements finish before the process exits
	sup.Wait()
}
