package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/notify"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

type fakeExchange struct {
	mu        sync.Mutex
	sells     []float64
	buys      []float64
	withdrawn float64
	withdrawAddr string

	sellFills []types.Fill
	buyFills  []types.Fill
	free      float64
	precision int

	sellErr     error
	buyErr      error
	withdrawErr error
}

func (f *fakeExchange) MarketSell(_ context.Context, _ string, qty float64) ([]types.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	f.sells = append(f.sells, qty)
	return f.sellFills, nil
}

func (f *fakeExchange) MarketBuy(_ context.Context, _ string, quoteQty float64) ([]types.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	f.buys = append(f.buys, quoteQty)
	return f.buyFills, nil
}

func (f *fakeExchange) Withdraw(_ context.Context, _, _ string, amount float64, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withdrawErr != nil {
		return f.withdrawErr
	}
	f.withdrawn = amount
	f.withdrawAddr = address
	return nil
}

func (f *fakeExchange) FreeBalance(context.Context, string) (float64, error) {
	return f.free, nil
}

func (f *fakeExchange) SymbolPrecision(context.Context, string) (int, error) {
	return f.precision, nil
}

type fakeDeposits struct {
	mu   sync.Mutex
	deps map[string]types.DepositRecord
}

func (f *fakeDeposits) FindConfirmed(txID string) (types.DepositRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deps[txID]
	return d, ok
}

func (f *fakeDeposits) confirm(txID string, d types.DepositRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deps == nil {
		f.deps = map[string]types.DepositRecord{}
	}
	f.deps[txID] = d
}

type fakeRegistry struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (f *fakeRegistry) Add(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, id)
	return nil
}

func (f *fakeRegistry) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

type fakeFees struct{ fee float64 }

func (f fakeFees) WithdrawalFee(context.Context, string, string) (float64, error) {
	return f.fee, nil
}

func testCfg(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Network.BaseSymbol = "AVAX"
	cfg.Network.CEXNetwork = "AVAXC"
	cfg.Settlement.DepositTimeoutMs = 200
	cfg.Settlement.DepositPollMs = 10
	cfg.Settlement.SellSlices = 3
	cfg.Settlement.SlicePauseMs = 1
	cfg.Settlement.FeeBufferQuote = 0.1
	cfg.Settlement.MinWithdraw = map[string]float64{"AVAX": 1}
	cfg.Settlement.WithdrawPrecision = 5
	return cfg
}

func newTestTracker(cfg *config.Config, ex *fakeExchange, deps *fakeDeposits, reg *fakeRegistry, fees fakeFees) *Tracker {
	return NewTracker(cfg, ex, deps, reg, fees, notify.Nop{}, "0xwallet", zap.NewNop())
}

func TestTrackerHappyPathWithdraws(t *testing.T) {
	cfg := testCfg(t)
	ex := &fakeExchange{
		precision: 2,
		// each slice fills at 0.50 USDT for 9.99 JOE
		sellFills: []types.Fill{{Price: 0.5, Qty: 9.99}},
		buyFills:  []types.Fill{{Price: 35, Qty: 0.06}},
		free:      2.123456,
	}
	deps := &fakeDeposits{}
	deps.confirm("0xabc", types.DepositRecord{TxID: "0xabc", Coin: "JOE", Amount: 30, Status: types.DepositConfirmed})
	reg := &fakeRegistry{}

	tr := newTestTracker(cfg, ex, deps, reg, fakeFees{fee: 0.01})
	state, err := tr.Run(context.Background(), types.PendingSettlement{
		TxID: "0xabc", SubmittedAt: time.Now(), Token: "JOE", AmountIn: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, StateWithdrawn, state)

	// amount/slices - 1/10^prec = 30/3 - 0.01, floored at 2 decimals
	require.Len(t, ex.sells, 3)
	assert.InDelta(t, 9.99, ex.sells[0], 1e-9)

	// proceeds = 3 * 0.5*9.99 - 0.1 = 14.885, floored to one decimal
	require.Len(t, ex.buys, 1)
	assert.InDelta(t, 14.8, ex.buys[0], 1e-9)

	// withdraw = floor(2.123456 - 0.01 - 0.00001, 5)
	assert.InDelta(t, 2.11344, ex.withdrawn, 1e-9)
	assert.Equal(t, "0xwallet", ex.withdrawAddr)

	// pending tx registered then cleared
	assert.Equal(t, []string{"0xabc"}, reg.added)
	assert.Equal(t, []string{"0xabc"}, reg.removed)
}

func TestTrackerBelowMinimumKeepsBalance(t *testing.T) {
	cfg := testCfg(t)
	ex := &fakeExchange{
		precision: 2,
		sellFills: []types.Fill{{Price: 0.5, Qty: 9.99}},
		buyFills:  []types.Fill{{Price: 35, Qty: 0.06}},
		free:      0.4, // under the 1 AVAX minimum
	}
	deps := &fakeDeposits{}
	deps.confirm("0xdef", types.DepositRecord{TxID: "0xdef", Coin: "JOE", Amount: 30})
	reg := &fakeRegistry{}

	tr := newTestTracker(cfg, ex, deps, reg, fakeFees{fee: 0.008})
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xdef", SubmittedAt: time.Now(), AmountIn: 2})
	require.NoError(t, err)
	assert.Equal(t, StateBaseAcquired, state)
	assert.Zero(t, ex.withdrawn)
}

func TestTrackerDepositTimeout(t *testing.T) {
	cfg := testCfg(t)
	cfg.Settlement.DepositTimeoutMs = 30
	ex := &fakeExchange{precision: 2}
	reg := &fakeRegistry{}

	tr := newTestTracker(cfg, ex, &fakeDeposits{}, reg, fakeFees{})
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xslow", SubmittedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, state)

	// nothing traded, registry cleared so the poller stops fetching
	assert.Empty(t, ex.sells)
	assert.Equal(t, []string{"0xslow"}, reg.removed)
}

func TestTrackerDepositArrivesMidWait(t *testing.T) {
	cfg := testCfg(t)
	cfg.Settlement.DepositTimeoutMs = 2000
	ex := &fakeExchange{
		precision: 2,
		sellFills: []types.Fill{{Price: 0.5, Qty: 9.99}},
		buyFills:  []types.Fill{{Price: 35, Qty: 0.06}},
		free:      0.4,
	}
	deps := &fakeDeposits{}
	reg := &fakeRegistry{}

	go func() {
		time.Sleep(30 * time.Millisecond)
		deps.confirm("0xlate", types.DepositRecord{TxID: "0xlate", Coin: "JOE", Amount: 30})
	}()

	tr := newTestTracker(cfg, ex, deps, reg, fakeFees{})
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xlate", SubmittedAt: time.Now(), AmountIn: 2})
	require.NoError(t, err)
	assert.Equal(t, StateBaseAcquired, state)
	assert.Len(t, ex.sells, 3)
}

func TestTrackerResumedRunSkipsProfitRecord(t *testing.T) {
	cfg := testCfg(t)
	ex := &fakeExchange{
		precision: 2,
		sellFills: []types.Fill{{Price: 0.5, Qty: 9.99}},
		buyFills:  []types.Fill{{Price: 35, Qty: 0.06}},
		free:      0.4,
	}
	deps := &fakeDeposits{}
	deps.confirm("0xresume", types.DepositRecord{TxID: "0xresume", Coin: "JOE", Amount: 30})
	notifier := &recordingNotifier{}

	// a settlement relaunched after a restart has no spent amount
	tr := NewTracker(cfg, ex, deps, &fakeRegistry{}, fakeFees{}, notifier, "0xwallet", zap.NewNop())
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xresume", SubmittedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, StateBaseAcquired, state)

	for _, msg := range notifier.messages() {
		assert.NotContains(t, msg, "Profit")
	}
}

func TestTrackerSellRejectionAborts(t *testing.T) {
	cfg := testCfg(t)
	ex := &fakeExchange{precision: 2, sellErr: errors.New("LOT_SIZE")}
	deps := &fakeDeposits{}
	deps.confirm("0xbad", types.DepositRecord{TxID: "0xbad", Coin: "JOE", Amount: 30})

	tr := newTestTracker(cfg, ex, deps, &fakeRegistry{}, fakeFees{})
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xbad", SubmittedAt: time.Now()})
	require.Error(t, err)
	assert.Equal(t, StateDepositConfirmed, state)
	assert.Empty(t, ex.buys)
}

func TestTrackerBuyRejectionAborts(t *testing.T) {
	cfg := testCfg(t)
	ex := &fakeExchange{
		precision: 2,
		sellFills: []types.Fill{{Price: 0.5, Qty: 9.99}},
		buyErr:    errors.New("insufficient balance"),
	}
	deps := &fakeDeposits{}
	deps.confirm("0xbuy", types.DepositRecord{TxID: "0xbuy", Coin: "JOE", Amount: 30})

	tr := newTestTracker(cfg, ex, deps, &fakeRegistry{}, fakeFees{})
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xbuy", SubmittedAt: time.Now()})
	require.Error(t, err)
	assert.Equal(t, StateSold, state)
	assert.Zero(t, ex.withdrawn)
}

func TestTrackerTinyDepositRejected(t *testing.T) {
	cfg := testCfg(t)
	ex := &fakeExchange{precision: 2}
	deps := &fakeDeposits{}
	deps.confirm("0xtiny", types.DepositRecord{TxID: "0xtiny", Coin: "JOE", Amount: 0.02})

	tr := newTestTracker(cfg, ex, deps, &fakeRegistry{}, fakeFees{})
	state, err := tr.Run(context.Background(), types.PendingSettlement{TxID: "0xtiny", SubmittedAt: time.Now()})
	require.Error(t, err)
	assert.Equal(t, StateDepositConfirmed, state)
	assert.Empty(t, ex.sells)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestTrackerShutdownKeepsPendingTx(t *testing.T) {
	cfg := testCfg(t)
	cfg.Settlement.DepositTimeoutMs = 60_000 // far beyond the test
	ex := &fakeExchange{precision: 2}
	reg := &fakeRegistry{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	tr := newTestTracker(cfg, ex, &fakeDeposits{}, reg, fakeFees{})
	state, err := tr.Run(ctx, types.PendingSettlement{TxID: "0xstop", SubmittedAt: time.Now()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAwaitingDeposit, state)

	// not a timeout: the tx must survive the restart
	assert.NotEqual(t, StateTimedOut, state)
	assert.Equal(t, []string{"0xstop"}, reg.added)
	assert.Empty(t, reg.removed)
	assert.Empty(t, ex.sells)
}

func TestSupervisorShutdownIsQuiet(t *testing.T) {
	cfg := testCfg(t)
	cfg.Settlement.DepositTimeoutMs = 60_000
	notifier := &recordingNotifier{}

	tr := NewTracker(cfg, &fakeExchange{precision: 2}, &fakeDeposits{}, &fakeRegistry{}, fakeFees{}, notifier, "0xwallet", zap.NewNop())
	sup := NewSupervisor(tr, notifier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	sup.Launch(ctx, types.PendingSettlement{TxID: "0xquiet", SubmittedAt: time.Now()})
	time.Sleep(30 * time.Millisecond)
	cancel()
	sup.Wait()

	assert.Empty(t, notifier.messages())
}

func TestSupervisorRecoversPanic(t *testing.T) {
	cfg := testCfg(t)
	cfg.Settlement.DepositTimeoutMs = 10

	// precision=0 plus amount 0 would error, but to force a panic we
	// give the tracker a nil deposits source.
	tr := NewTracker(cfg, &fakeExchange{}, nil, &fakeRegistry{}, fakeFees{}, notify.Nop{}, "0xwallet", zap.NewNop())
	sup := NewSupervisor(tr, notify.Nop{}, zap.NewNop())

	sup.Launch(context.Background(), types.PendingSettlement{TxID: "0xboom", SubmittedAt: time.Now()})
	done := make(chan struct{})
	go func() {
		sup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not recover from panic")
	}
}

func TestRoundDown(t *testing.T) {
	assert.InDelta(t, 9.99, roundDown(9.998, 2), 1e-9)
	assert.InDelta(t, 14.8, roundDown(14.885, 1), 1e-9)
	assert.InDelta(t, 2.09254, roundDown(2.0925499, 5), 1e-9)
	assert.InDelta(t, -0.1, roundDown(-0.05, 1), 1e-9)
}
