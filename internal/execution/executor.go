// Package execution turns a detected opportunity into exactly one
// on-chain swap. A successful call submits one transaction, waits for
// its receipt and decrements the balance ledger; any failure leaves
// the ledger untouched and is never retried (a stale quote must not be
// replayed).
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/dex/lfg"
	"github.com/g1tt0/universal-arbitrage/internal/metrics"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

// ErrInsufficientBalance means the ledger balance minus the gas
// reserve cannot fund any swap; the cycle's trade attempt is aborted.
var ErrInsufficientBalance = errors.New("insufficient balance for swap")

type Venue interface {
	AddressFor(symbol string) (common.Address, error)
	QuoteBestPath(ctx context.Context, path []common.Address, amountIn *big.Int) (*lfg.PathQuote, error)
	QuoteBestPaths(ctx context.Context, paths [][]common.Address, amountIn *big.Int) ([]*lfg.PathQuote, error)
	SwapExactNativeForTokens(ctx context.Context, amountIn, minOut *big.Int, quote *lfg.PathQuote, recipient common.Address, deadline time.Time) (string, error)
	WaitReceipt(ctx context.Context, txHash string, timeout time.Duration) (*ethtypes.Receipt, error)
}

type Ledger interface {
	Get(ctx context.Context, network string) (float64, error)
	Adjust(ctx context.Context, network string, delta float64) error
}

type Executor struct {
	cfg    *config.Config
	venue  Venue
	ledger Ledger
	log    *zap.Logger
}

func NewExecutor(cfg *config.Config, venue Venue, ledger Ledger, log *zap.Logger) *Executor {
	return &Executor{cfg: cfg, venue: venue, ledger: ledger, log: log}
}

// QuoteToken prices one token on the DEX with a trade-sized input, so
// the detected margin reflects real depth rather than a marginal
// price. The returned quote carries the execution context for Execute.
func (e *Executor) QuoteToken(ctx context.Context, token string) (types.DexQuote, error) {
	amountIn, _, err := e.sizeIn(ctx)
	if err != nil {
		return types.DexQuote{}, err
	}

	path, err := e.routePath(token)
	if err != nil {
		return types.DexQuote{}, err
	}

	quote, err := e.venue.QuoteBestPath(ctx, path, amountIn)
	if err != nil {
		metrics.QuoterErrors.Inc()
		return types.DexQuote{}, fmt.Errorf("quote %s: %w", token, err)
	}

	in := new(big.Float).SetInt(amountIn)
	out := new(big.Float).SetInt(quote.AmountOut())
	price, _ := new(big.Float).Quo(in, out).Float64()

	tokenAddr := path[len(path)-1]
	return types.DexQuote{
		Token:        token,
		Network:      e.cfg.Network.Name,
		Price:        price,
		AmountIn:     amountIn,
		TokenAddress: tokenAddr,
		Path:         path,
		Ts:           time.Now(),
	}, nil
}

// QuoteTokens prices a set of tokens in one batch against the same
// trade-sized input. Tokens whose quote fails are absent from the
// result.
func (e *Executor) QuoteTokens(ctx context.Context, tokens []string) (map[string]types.DexQuote, error) {
	amountIn, _, err := e.sizeIn(ctx)
	if err != nil {
		return nil, err
	}

	paths := make([][]common.Address, len(tokens))
	for i, token := range tokens {
		path, err := e.routePath(token)
		if err != nil {
			return nil, err
		}
		paths[i] = path
	}

	quotes, err := e.venue.QuoteBestPaths(ctx, paths, amountIn)
	if err != nil {
		metrics.QuoterErrors.Inc()
		return nil, fmt.Errorf("batch quote: %w", err)
	}

	in := new(big.Float).SetInt(amountIn)
	out := make(map[string]types.DexQuote, len(tokens))
	now := time.Now()
	for i, q := range quotes {
		if q == nil {
			metrics.QuoterErrors.Inc()
			continue
		}
		price, _ := new(big.Float).Quo(in, new(big.Float).SetInt(q.AmountOut())).Float64()
		out[tokens[i]] = types.DexQuote{
			Token:        tokens[i],
			Network:      e.cfg.Network.Name,
			Price:        price,
			AmountIn:     amountIn,
			TokenAddress: paths[i][len(paths[i])-1],
			Path:         paths[i],
			Ts:           now,
		}
	}
	return out, nil
}

// Execute submits the swap for an opportunity. On success it returns
// the transaction hash and the base amount spent, after the ledger
// decrement committed.
func (e *Executor) Execute(ctx context.Context, opp *types.Opportunity) (string, float64, error) {
	// re-derive the bound: the ledger may have moved since the quote
	amountIn, amountBase, err := e.sizeIn(ctx)
	if err != nil {
		return "", 0, err
	}

	quote, err := e.venue.QuoteBestPath(ctx, opp.Quote.Path, amountIn)
	if err != nil {
		metrics.QuoterErrors.Inc()
		return "", 0, fmt.Errorf("re-quote %s: %w", opp.Token, err)
	}

	slip := e.slippageFor(opp.Margin)
	minOut := applySlippage(quote.AmountOut(), slip)
	deadline := time.Now().Add(time.Duration(e.cfg.Trade.DeadlineMin) * time.Minute)
	recipient := common.HexToAddress(e.cfg.Binance.DepositAddress)

	txHash, err := e.venue.SwapExactNativeForTokens(ctx, amountIn, minOut, quote, recipient, deadline)
	if err != nil {
		metrics.SwapsTotal.WithLabelValues("submit_error").Inc()
		return "", 0, fmt.Errorf("swap %s: %w", opp.Token, err)
	}

	rcpt, err := e.venue.WaitReceipt(ctx, txHash, e.cfg.ReceiptTimeout())
	if err != nil {
		metrics.SwapsTotal.WithLabelValues("timeout").Inc()
		return "", 0, fmt.Errorf("swap %s receipt: %w", opp.Token, err)
	}
	if rcpt.Status != ethtypes.ReceiptStatusSuccessful {
		metrics.SwapsTotal.WithLabelValues("reverted").Inc()
		return "", 0, fmt.Errorf("swap %s reverted: tx %s", opp.Token, txHash)
	}

	// spent amount plus the reserve estimate; the periodic refresh
	// trues this up against the chain
	if err := e.ledger.Adjust(ctx, e.cfg.Network.Name, -(amountBase + e.cfg.Trade.GasReserve)); err != nil {
		e.log.Error("ledger adjust after swap failed", zap.String("tx", txHash), zap.Error(err))
	}

	metrics.SwapsTotal.WithLabelValues("ok").Inc()
	e.log.Info("swap successful",
		zap.String("token", opp.Token),
		zap.Float64("amount_in", amountBase),
		zap.Float64("slippage", slip),
		zap.String("tx", e.cfg.Network.Explorer+"/tx/"+txHash),
	)
	return txHash, amountBase, nil
}

// sizeIn bounds the input by min(configured swap size, ledger balance
// minus the gas reserve) and converts it to wei.
func (e *Executor) sizeIn(ctx context.Context) (*big.Int, float64, error) {
	bal, err := e.ledger.Get(ctx, e.cfg.Network.Name)
	if err != nil {
		return nil, 0, err
	}
	amount := e.cfg.Trade.SwapSize
	if spendable := bal - e.cfg.Trade.GasReserve; spendable < amount {
		amount = spendable
	}
	if amount <= 0 {
		return nil, 0, ErrInsufficientBalance
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18)).Int(nil)
	return wei, amount, nil
}

func (e *Executor) routePath(token string) ([]common.Address, error) {
	symbols := e.cfg.RouteFor(token)
	path := make([]common.Address, 0, len(symbols))
	for _, sym := range symbols {
		addr, err := e.venue.AddressFor(sym)
		if err != nil {
			return nil, err
		}
		path = append(path, addr)
	}
	return path, nil
}

// slippageFor widens the base tolerance by the configured step
// multiplier once the margin clears the step threshold, so a price
// that moved in our favor does not fail the min-out check.
func (e *Executor) slippageFor(margin float64) float64 {
	best := 1.0
	for _, step := range e.cfg.Trade.SlippageSteps {
		if margin > step.Margin && step.Mult > best {
			best = step.Mult
		}
	}
	return e.cfg.Trade.Slippage * best
}

func applySlippage(out *big.Int, slip float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetInt(out), big.NewFloat(1-slip))
	min, _ := f.Int(nil)
	return min
}
