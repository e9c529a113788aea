package execution

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/dex/lfg"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

type fakeVenue struct {
	amountOut     *big.Int
	swapErr       error
	receiptStatus uint64

	swapCalled   bool
	lastAmountIn *big.Int
	lastMinOut   *big.Int
	lastTo       common.Address
}

func (f *fakeVenue) AddressFor(symbol string) (common.Address, error) {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa"), nil
}

func (f *fakeVenue) QuoteBestPath(_ context.Context, path []common.Address, amountIn *big.Int) (*lfg.PathQuote, error) {
	return &lfg.PathQuote{
		Route:    path,
		BinSteps: []*big.Int{big.NewInt(20)},
		Versions: []uint8{2},
		Amounts:  []*big.Int{amountIn, f.amountOut},
	}, nil
}

func (f *fakeVenue) QuoteBestPaths(ctx context.Context, paths [][]common.Address, amountIn *big.Int) ([]*lfg.PathQuote, error) {
	out := make([]*lfg.PathQuote, len(paths))
	for i, p := range paths {
		q, err := f.QuoteBestPath(ctx, p, amountIn)
		if err != nil {
			continue
		}
		out[i] = q
	}
	return out, nil
}

func (f *fakeVenue) SwapExactNativeForTokens(_ context.Context, amountIn, minOut *big.Int, _ *lfg.PathQuote, to common.Address, _ time.Time) (string, error) {
	f.swapCalled = true
	f.lastAmountIn = amountIn
	f.lastMinOut = minOut
	f.lastTo = to
	if f.swapErr != nil {
		return "", f.swapErr
	}
	return "0xabc123", nil
}

func (f *fakeVenue) WaitReceipt(context.Context, string, time.Duration) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: f.receiptStatus}, nil
}

type fakeLedger struct {
	balance float64
	deltas  []float64
}

func (f *fakeLedger) Get(context.Context, string) (float64, error) { return f.balance, nil }
func (f *fakeLedger) Adjust(_ context.Context, _ string, d float64) error {
	f.deltas = append(f.deltas, d)
	f.balance += d
	return nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{Tokens: []config.TokenCfg{{Symbol: "JOE"}}}
	cfg.Network.Name = "avalanche"
	cfg.Network.BaseSymbol = "AVAX"
	cfg.Network.Explorer = "https://snowtrace.io"
	cfg.Binance.DepositAddress = "0x00000000000000000000000000000000000000bb"
	cfg.Trade.SwapSize = 2
	cfg.Trade.GasReserve = 0.5
	cfg.Trade.Slippage = 0.005
	cfg.Trade.SlippageSteps = []config.SlippageStep{
		{Margin: 0.06, Mult: 3},
		{Margin: 0.04, Mult: 2},
	}
	cfg.Trade.DeadlineMin = 20
	cfg.Trade.ReceiptTimeoutMs = 1000
	return cfg
}

func opportunity() *types.Opportunity {
	return &types.Opportunity{
		Token:  "JOE",
		CEX:    "binance",
		Margin: 0.02,
		Quote: types.DexQuote{
			Token:   "JOE",
			Network: "avalanche",
			Path:    []common.Address{{0x01}, {0x02}},
		},
	}
}

func TestExecute_InsufficientBalance(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1), receiptStatus: 1}
	led := &fakeLedger{balance: 0.3} // below the 0.5 reserve
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	_, _, err := e.Execute(context.Background(), opportunity())
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, venue.swapCalled, "no swap may be submitted")
	assert.Empty(t, led.deltas, "no ledger mutation on failure")
}

func TestExecute_AmountBoundedBySwapSize(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1e18), receiptStatus: 1}
	led := &fakeLedger{balance: 100}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	_, _, err := e.Execute(context.Background(), opportunity())
	require.NoError(t, err)

	// swap_size 2 AVAX even though 99.5 is spendable
	want, _ := new(big.Float).Mul(big.NewFloat(2), big.NewFloat(1e18)).Int(nil)
	assert.Zero(t, venue.lastAmountIn.Cmp(want))
}

func TestExecute_AmountBoundedBySpendable(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1e18), receiptStatus: 1}
	led := &fakeLedger{balance: 1.5} // spendable = 1.0 < swap_size 2
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	_, _, err := e.Execute(context.Background(), opportunity())
	require.NoError(t, err)

	want, _ := new(big.Float).Mul(big.NewFloat(1.0), big.NewFloat(1e18)).Int(nil)
	assert.Zero(t, venue.lastAmountIn.Cmp(want))
}

func TestExecute_SuccessDecrementsLedger(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1e18), receiptStatus: 1}
	led := &fakeLedger{balance: 10}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	tx, spent, err := e.Execute(context.Background(), opportunity())
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", tx)
	assert.InDelta(t, 2.0, spent, 1e-9)

	require.Len(t, led.deltas, 1)
	assert.InDelta(t, -2.5, led.deltas[0], 1e-9) // spent 2 + 0.5 reserve
}

func TestExecute_RevertLeavesLedgerUntouched(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1e18), receiptStatus: 0}
	led := &fakeLedger{balance: 10}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	_, _, err := e.Execute(context.Background(), opportunity())
	require.Error(t, err)
	assert.Empty(t, led.deltas)
}

func TestExecute_SubmitErrorLeavesLedgerUntouched(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1e18), swapErr: errors.New("nonce too low")}
	led := &fakeLedger{balance: 10}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	_, _, err := e.Execute(context.Background(), opportunity())
	require.Error(t, err)
	assert.Empty(t, led.deltas)
}

func TestExecute_RecipientIsDepositAddress(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1e18), receiptStatus: 1}
	e := NewExecutor(newTestConfig(), venue, &fakeLedger{balance: 10}, zap.NewNop())

	_, _, err := e.Execute(context.Background(), opportunity())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000bb"), venue.lastTo)
}

func TestSlippageFor_Steps(t *testing.T) {
	e := NewExecutor(newTestConfig(), nil, nil, zap.NewNop())

	assert.InDelta(t, 0.005, e.slippageFor(0.02), 1e-12)
	assert.InDelta(t, 0.010, e.slippageFor(0.05), 1e-12)
	assert.InDelta(t, 0.015, e.slippageFor(0.08), 1e-12)
}

func TestQuoteToken_PriceFromAmounts(t *testing.T) {
	// 2 AVAX in, 500 JOE out => 0.004 AVAX per JOE
	out, _ := new(big.Int).SetString("500000000000000000000", 10)
	venue := &fakeVenue{amountOut: out}
	led := &fakeLedger{balance: 10}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	q, err := e.QuoteToken(context.Background(), "JOE")
	require.NoError(t, err)
	assert.InDelta(t, 0.004, q.Price, 1e-12)
	assert.Equal(t, "avalanche", q.Network)
	assert.Len(t, q.Path, 2)
}

func TestQuoteTokens_BatchSharesOneSizing(t *testing.T) {
	out, _ := new(big.Int).SetString("500000000000000000000", 10)
	venue := &fakeVenue{amountOut: out}
	led := &fakeLedger{balance: 10}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	quotes, err := e.QuoteTokens(context.Background(), []string{"JOE", "PNG"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.InDelta(t, 0.004, quotes["JOE"].Price, 1e-12)
	assert.Zero(t, quotes["JOE"].AmountIn.Cmp(quotes["PNG"].AmountIn))
}

func TestQuoteToken_InsufficientBalance(t *testing.T) {
	venue := &fakeVenue{amountOut: big.NewInt(1)}
	led := &fakeLedger{balance: 0.1}
	e := NewExecutor(newTestConfig(), venue, led, zap.NewNop())

	_, err := e.QuoteToken(context.Background(), "JOE")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}
