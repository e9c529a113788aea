// Package settlement drives a completed DEX swap through the CEX side:
// wait for the deposit, liquidate it, buy back the network base asset
// and withdraw it to the bot's wallet. One tracker instance owns one
// trade; transitions are strictly sequential and never retried, because
// a silently duplicated liquidation is worse than a stalled one.
package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/metrics"
	"github.com/g1tt0/universal-arbitrage/internal/notify"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

type State string

const (
	StateSubmitted        State = "SUBMITTED"
	StateAwaitingDeposit  State = "AWAITING_DEPOSIT"
	StateDepositConfirmed State = "DEPOSIT_CONFIRMED"
	StateSold             State = "SOLD"
	StateBaseAcquired     State = "BASE_ACQUIRED"
	StateWithdrawn        State = "WITHDRAWN"
	StateTimedOut         State = "TIMED_OUT"
)

// Exchange is the slice of the CEX client a tracker needs.
type Exchange interface {
	MarketSell(ctx context.Context, symbol string, qty float64) ([]types.Fill, error)
	MarketBuy(ctx context.Context, symbol string, quoteQty float64) ([]types.Fill, error)
	Withdraw(ctx context.Context, asset, network string, amount float64, address string) error
	FreeBalance(ctx context.Context, asset string) (float64, error)
	SymbolPrecision(ctx context.Context, symbol string) (int, error)
}

// Deposits is the shared deposit-history snapshot kept by the poller.
type Deposits interface {
	FindConfirmed(txID string) (types.DepositRecord, bool)
}

// Registry is the persisted pending-transaction set.
type Registry interface {
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// FeeSource answers withdrawal-fee lookups from the venue metadata.
type FeeSource interface {
	WithdrawalFee(ctx context.Context, asset, network string) (float64, error)
}

type Tracker struct {
	cfg      *config.Config
	cex      Exchange
	deposits Deposits
	reg      Registry
	fees     FeeSource
	notifier notify.Notifier
	wallet   string // bot's own address for the final withdrawal
	log      *zap.Logger
}

func NewTracker(cfg *config.Config, cex Exchange, deposits Deposits, reg Registry, fees FeeSource, notifier notify.Notifier, wallet string, log *zap.Logger) *Tracker {
	return &Tracker{cfg: cfg, cex: cex, deposits: deposits, reg: reg, fees: fees, notifier: notifier, wallet: wallet, log: log}
}

// Run drives one settlement to its terminal state. The returned state
// is terminal for the happy and timeout paths; a non-nil error means
// the settlement aborted mid-flight at the returned state.
func (t *Tracker) Run(ctx context.Context, ps types.PendingSettlement) (State, error) {
	state, err := t.run(ctx, ps)
	metrics.SettlementsTotal.WithLabelValues(string(state)).Inc()
	return state, err
}

func (t *Tracker) run(ctx context.Context, ps types.PendingSettlement) (State, error) {
	if err := t.reg.Add(ctx, ps.TxID); err != nil {
		return StateSubmitted, fmt.Errorf("register pending tx: %w", err)
	}
	t.log.Info("waiting for deposit", zap.String("tx", ps.TxID))

	dep, ok, err := t.awaitDeposit(ctx, ps.TxID)
	if err != nil {
		// shutdown, not expiry: the tx stays registered so the next
		// start resumes this settlement
		t.log.Info("deposit wait interrupted, tx stays pending", zap.String("tx", ps.TxID))
		return StateAwaitingDeposit, err
	}
	if derr := t.reg.Remove(ctx, ps.TxID); derr != nil {
		t.log.Error("deregister pending tx failed", zap.String("tx", ps.TxID), zap.Error(derr))
	}
	if !ok {
		t.log.Warn("deposit wait timed out", zap.String("tx", ps.TxID))
		t.notifier.Notify(fmt.Sprintf("Deposit timeout. TX: #%s", short(ps.TxID)))
		return StateTimedOut, nil
	}
	metrics.DepositWaitSeconds.Observe(time.Since(ps.SubmittedAt).Seconds())
	t.log.Info("deposit arrived",
		zap.String("tx", ps.TxID),
		zap.String("coin", dep.Coin),
		zap.Float64("amount", dep.Amount),
	)
	t.notifier.Notify(fmt.Sprintf("Deposit arrived. TX: #%s", short(ps.TxID)))

	proceeds, err := t.sell(ctx, dep, ps.TxID)
	if err != nil {
		return StateDepositConfirmed, err
	}

	bought, err := t.buyBase(ctx, proceeds, ps)
	if err != nil {
		return StateSold, err
	}

	withdrawn, err := t.withdraw(ctx, ps.TxID)
	if err != nil {
		return StateBaseAcquired, err
	}
	if !withdrawn {
		t.log.Info("balance below withdrawal minimum, keeping on exchange",
			zap.String("tx", ps.TxID), zap.Float64("bought", bought))
		return StateBaseAcquired, nil
	}
	return StateWithdrawn, nil
}

// awaitDeposit polls the shared history snapshot until the venue
// confirms the deposit or the window closes. A cancelled context is
// reported as an error, distinct from the window expiring.
func (t *Tracker) awaitDeposit(ctx context.Context, txID string) (types.DepositRecord, bool, error) {
	deadline := time.Now().Add(t.cfg.DepositTimeout())
	tick := time.NewTicker(t.cfg.DepositPoll())
	defer tick.Stop()

	for {
		if dep, ok := t.deposits.FindConfirmed(txID); ok {
			return dep, true, nil
		}
		if time.Now().After(deadline) {
			return types.DepositRecord{}, false, nil
		}
		select {
		case <-ctx.Done():
			return types.DepositRecord{}, false, ctx.Err()
		case <-tick.C:
		}
	}
}

// sell liquidates the confirmed deposit in fixed slices. The awaited
// coin and amount come from the deposit record, not the original swap:
// on-chain execution decides what actually arrived. A venue rejection
// aborts the remaining slices.
func (t *Tracker) sell(ctx context.Context, dep types.DepositRecord, txID string) (float64, error) {
	symbol := dep.Coin + "USDT"
	precision, err := t.cex.SymbolPrecision(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("symbol precision %s: %w", symbol, err)
	}

	slices := t.cfg.Settlement.SellSlices
	step := 1 / math.Pow(10, float64(precision))
	sliceQty := roundDown(dep.Amount/float64(slices)-step, precision)
	if sliceQty <= 0 {
		return 0, fmt.Errorf("deposit %f %s too small to slice", dep.Amount, dep.Coin)
	}
	t.log.Info("selling deposit",
		zap.String("symbol", symbol),
		zap.Float64("amount", dep.Amount),
		zap.Float64("slice_qty", sliceQty),
		zap.Int("slices", slices),
	)

	var fills []types.Fill
	for i := 0; i < slices; i++ {
		part, err := t.cex.MarketSell(ctx, symbol, sliceQty)
		if err != nil {
			return 0, fmt.Errorf("market sell slice %d/%d: %w", i+1, slices, err)
		}
		fills = append(fills, part...)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(t.cfg.SlicePause()):
		}
	}

	total := 0.0
	for _, f := range fills {
		total += f.Price * f.Qty
	}
	proceeds := roundDown(total-t.cfg.Settlement.FeeBufferQuote, 1)
	if proceeds <= 0 {
		return 0, fmt.Errorf("sell proceeds %f too small after fee buffer", total)
	}
	t.log.Info("deposit sold", zap.Float64("proceeds_usdt", proceeds), zap.String("tx", txID))
	t.notifier.Notify(fmt.Sprintf("Total: %.1f #USDT. TX: #%s", proceeds, short(txID)))
	return proceeds, nil
}

// buyBase converts the sell proceeds back into the network base asset
// and emits the profit record against the base actually spent.
func (t *Tracker) buyBase(ctx context.Context, proceeds float64, ps types.PendingSettlement) (float64, error) {
	base := t.cfg.Network.BaseSymbol
	fills, err := t.cex.MarketBuy(ctx, base+"USDT", proceeds)
	if err != nil {
		return 0, fmt.Errorf("market buy %s: %w", base, err)
	}

	bought := 0.0
	for _, f := range fills {
		bought += f.Qty
	}

	// resumed settlements carry no spent amount, so no profit record
	if ps.AmountIn <= 0 {
		t.log.Info("base asset acquired",
			zap.Float64("bought", bought),
			zap.String("tx", ps.TxID),
		)
		return bought, nil
	}

	profit := bought - ps.AmountIn
	metrics.ProfitBase.Add(profit)
	t.log.Info("base asset acquired",
		zap.Float64("bought", bought),
		zap.Float64("profit", profit),
		zap.String("tx", ps.TxID),
	)
	t.notifier.Notify(fmt.Sprintf("Profit: %.3f #%s. TX: #%s", profit, base, short(ps.TxID)))
	return bought, nil
}

// withdraw sends the exchange-side base balance back to the bot's
// wallet when it clears the configured minimum; below that the fees
// are not worth it and the balance stays on the exchange.
func (t *Tracker) withdraw(ctx context.Context, txID string) (bool, error) {
	base := t.cfg.Network.BaseSymbol
	free, err := t.cex.FreeBalance(ctx, base)
	if err != nil {
		return false, fmt.Errorf("free balance %s: %w", base, err)
	}
	if free <= t.cfg.Settlement.MinWithdraw[base] {
		return false, nil
	}

	fee, err := t.fees.WithdrawalFee(ctx, base, t.cfg.Network.CEXNetwork)
	if err != nil {
		return false, fmt.Errorf("withdrawal fee: %w", err)
	}

	prec := t.cfg.Settlement.WithdrawPrecision
	amount := roundDown(free-fee-1/math.Pow(10, float64(prec)), prec)
	if amount <= 0 {
		return false, nil
	}
	t.log.Info("withdrawing base asset",
		zap.Float64("balance", free),
		zap.Float64("fee", fee),
		zap.Float64("amount", amount),
		zap.String("tx", txID),
	)

	if err := t.cex.Withdraw(ctx, base, t.cfg.Network.CEXNetwork, amount, t.wallet); err != nil {
		return false, err
	}
	t.notifier.Notify(fmt.Sprintf("%.5f #%s withdrawn. TX: #%s", amount, base, short(txID)))
	return true, nil
}

func roundDown(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Floor(v*p) / p
}

func short(txID string) string {
	if len(txID) <= 8 {
		return txID
	}
	return txID[:8]
}
