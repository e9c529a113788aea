// Package bot wires the venues, the detector and the settlement side
// into the main trade loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/g1tt0/universal-arbitrage/internal/cex/binance"
	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/detector"
	"github.com/g1tt0/universal-arbitrage/internal/execution"
	"github.com/g1tt0/universal-arbitrage/internal/metrics"
	"github.com/g1tt0/universal-arbitrage/internal/notify"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

// Quoter prices the configured tokens on the DEX at the current trade
// size.
type Quoter interface {
	QuoteTokens(ctx context.Context, tokens []string) (map[string]types.DexQuote, error)
}

// Trader submits the DEX leg and reports the transaction hash and the
// base amount spent.
type Trader interface {
	Execute(ctx context.Context, opp *types.Opportunity) (string, float64, error)
}

// Launcher hands a submitted swap to the settlement side.
type Launcher interface {
	Launch(ctx context.Context, ps types.PendingSettlement)
}

// Market is the read-only slice of the CEX client the loop needs.
type Market interface {
	OrderBookTickers(ctx context.Context) (map[string]float64, error)
	ListedSymbols(ctx context.Context) (map[string]bool, error)
}

// InfoSource answers venue-metadata questions from the cached
// exchange info.
type InfoSource interface {
	Refresh(ctx context.Context) error
	DepositOpen(ctx context.Context, asset, network string) (bool, error)
}

// Pending lists transactions that were in flight when the process
// last stopped.
type Pending interface {
	List(ctx context.Context) ([]string, error)
}

// Feed mirrors detected opportunities to an external live feed.
type Feed interface {
	PublishOpportunity(ctx context.Context, opp *types.Opportunity)
}

type Bot struct {
	cfg      *config.Config
	quoter   Quoter
	trader   Trader
	launcher Launcher
	market   Market
	info     InfoSource
	pending  Pending
	tickers  *binance.TickerCache // nil when running REST-only
	notifier notify.Notifier
	feed     Feed // nil when no feed backend is configured
	log      *zap.Logger

	tokens []string // configured tokens that passed the venue check
}

func New(cfg *config.Config, quoter Quoter, trader Trader, launcher Launcher, market Market, info InfoSource, pending Pending, tickers *binance.TickerCache, notifier notify.Notifier, feed Feed, log *zap.Logger) *Bot {
	return &Bot{
		cfg:      cfg,
		quoter:   quoter,
		trader:   trader,
		launcher: launcher,
		market:   market,
		info:     info,
		pending:  pending,
		tickers:  tickers,
		notifier: notifier,
		feed:     feed,
		log:      log,
	}
}

// Run drives the trade loop until the context is cancelled or a
// termination signal arrives. testMode stops short of submitting
// swaps.
func (b *Bot) Run(ctx context.Context, testMode bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			b.log.Warn("received signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := b.checkVenue(ctx, testMode); err != nil {
		return err
	}
	b.resumePending(ctx)

	if testMode {
		b.log.Warn("TEST MODE: opportunities are logged, no swaps are sent")
	}

	for {
		select {
		case <-ctx.Done():
			b.log.Info("trade loop finished")
			return nil
		default:
		}

		if err := b.iterate(ctx, testMode); err != nil {
			b.log.Error("trade iteration failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(b.cfg.IdlePause()):
		}
	}
}

// checkVenue drops configured tokens the CEX cannot settle: unlisted
// markets and closed deposit chains. Trading a token the exchange
// will not credit strands the swap output on chain. The exchange-info
// endpoint needs API keys, so in test mode its failure only degrades
// the check to listing status.
func (b *Bot) checkVenue(ctx context.Context, testMode bool) error {
	depositInfo := true
	if err := b.info.Refresh(ctx); err != nil {
		if !testMode {
			return fmt.Errorf("exchange info refresh: %w", err)
		}
		b.log.Warn("exchange info unavailable, skipping deposit checks", zap.Error(err))
		depositInfo = false
	}
	listed, err := b.market.ListedSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list symbols: %w", err)
	}
	if !listed[b.cfg.Network.BaseSymbol+"USDT"] {
		return fmt.Errorf("base market %sUSDT not listed", b.cfg.Network.BaseSymbol)
	}

	// the traded universe is the configured token list; dex.tokens also
	// carries multi-hop route intermediates that are never traded
	b.tokens = b.tokens[:0]
	for _, tc := range b.cfg.Tokens {
		token := tc.Symbol
		if !listed[token+"USDT"] {
			b.log.Warn("token skipped: market not listed", zap.String("token", token))
			continue
		}
		if !depositInfo {
			b.tokens = append(b.tokens, token)
			continue
		}
		open, err := b.info.DepositOpen(ctx, token, b.cfg.Network.CEXNetwork)
		if err != nil {
			return fmt.Errorf("deposit status %s: %w", token, err)
		}
		if !open {
			b.log.Warn("token skipped: deposits closed",
				zap.String("token", token),
				zap.String("network", b.cfg.Network.CEXNetwork),
			)
			continue
		}
		b.tokens = append(b.tokens, token)
	}
	if len(b.tokens) == 0 {
		return errors.New("no tradable tokens after venue check")
	}
	sort.Strings(b.tokens)
	b.log.Info("venue check passed", zap.Strings("tokens", b.tokens))
	return nil
}

// resumePending restarts settlement for transactions that were
// awaiting their deposit when the process last stopped. The spent
// amount is unknown after a restart, so those runs settle without a
// profit record.
func (b *Bot) resumePending(ctx context.Context) {
	ids, err := b.pending.List(ctx)
	if err != nil {
		b.log.Error("pending registry read failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		b.log.Info("resuming pending settlement", zap.String("tx", id))
		b.launcher.Launch(ctx, types.PendingSettlement{
			TxID:        id,
			SubmittedAt: time.Now(),
		})
	}
}

func (b *Bot) iterate(ctx context.Context, testMode bool) error {
	if err := b.info.Refresh(ctx); err != nil {
		b.log.Warn("exchange info refresh failed", zap.Error(err))
	}

	cex, err := b.cexPrices(ctx)
	if err != nil {
		return err
	}

	quotes, err := b.quoter.QuoteTokens(ctx, b.tokens)
	if err != nil {
		if errors.Is(err, execution.ErrInsufficientBalance) {
			b.log.Warn("balance below reserve, skipping cycle")
			return nil
		}
		return err
	}
	if len(quotes) == 0 {
		return nil
	}

	opp := detector.FindBest(b.cfg, map[string]map[string]float64{binance.Venue: cex}, quotes, b.log)
	if opp == nil {
		return nil
	}
	metrics.OpportunityMargin.WithLabelValues(opp.Token).Set(opp.Margin)
	if b.feed != nil {
		b.feed.PublishOpportunity(ctx, opp)
	}
	b.log.Info("opportunity",
		zap.String("token", opp.Token),
		zap.String("cex", opp.CEX),
		zap.Float64("margin", opp.Margin),
	)
	if testMode {
		return nil
	}
	b.notifier.Notify(fmt.Sprintf("Opportunity: #%s margin %.2f%%", opp.Token, opp.Margin*100))

	txHash, spent, err := b.trader.Execute(ctx, opp)
	if err != nil {
		if errors.Is(err, execution.ErrInsufficientBalance) {
			b.log.Warn("balance below reserve, skipping cycle")
			return nil
		}
		return fmt.Errorf("execute %s: %w", opp.Token, err)
	}

	b.launcher.Launch(ctx, types.PendingSettlement{
		TxID:        txHash,
		SubmittedAt: time.Now(),
		Token:       opp.Token,
		AmountIn:    spent,
	})
	return nil
}

// cexPrices returns USDT bids for the tradable tokens plus the base
// asset. The websocket cache is preferred; symbols it has not seen
// yet fall back to one REST snapshot per iteration.
func (b *Bot) cexPrices(ctx context.Context) (map[string]float64, error) {
	need := append([]string{b.cfg.Network.BaseSymbol}, b.tokens...)

	out := make(map[string]float64, len(need))
	var rest map[string]float64
	for _, token := range need {
		symbol := token + "USDT"
		if b.tickers != nil {
			if bid, ok := b.tickers.Bid(symbol); ok {
				out[token] = bid
				continue
			}
		}
		if rest == nil {
			var err error
			rest, err = b.market.OrderBookTickers(ctx)
			if err != nil {
				return nil, fmt.Errorf("book tickers: %w", err)
			}
		}
		out[token] = rest[symbol]
	}
	return out, nil
}

func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
