// Package ledger tracks the bot's spendable on-chain balance per
// network. The persisted record is the single source of truth for
// trade sizing: a slow periodic refresh overwrites it from the chain,
// and every successful swap applies an immediate local decrement so sizing
// never reads a balance the swap already spent.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/store"
)

// ChainReader is the slice of ethclient the ledger needs.
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Record is the persisted balance layout: unix seconds + base units.
type Record struct {
	Timestamp int64   `json:"timestamp"`
	Balance   float64 `json:"balance"`
}

type Ledger struct {
	kv     store.KV
	chain  ChainReader
	wallet common.Address
	base   string // network base asset symbol, part of the storage key
	log    *zap.Logger

	mu sync.Mutex
}

func New(kv store.KV, chain ChainReader, wallet common.Address, baseSymbol string, log *zap.Logger) *Ledger {
	return &Ledger{kv: kv, chain: chain, wallet: wallet, base: strings.ToLower(baseSymbol), log: log}
}

func (l *Ledger) key(network string) string {
	return "balance:" + l.base + ":" + network
}

// Get returns the recorded spendable balance. A missing record is a
// zero balance, not an error.
func (l *Ledger) Get(ctx context.Context, network string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx, network)
}

func (l *Ledger) read(ctx context.Context, network string) (float64, error) {
	var rec Record
	ok, err := l.kv.Get(ctx, l.key(network), &rec)
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", network, err)
	}
	if !ok {
		return 0, nil
	}
	return rec.Balance, nil
}

// Refresh overwrites the record from the authoritative on-chain read.
func (l *Ledger) Refresh(ctx context.Context, network string) error {
	wei, err := l.chain.BalanceAt(ctx, l.wallet, nil)
	if err != nil {
		return fmt.Errorf("balance at %s: %w", l.wallet.Hex(), err)
	}
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(ctx, network, bal); err != nil {
		return err
	}
	l.log.Info("balance refreshed", zap.String("network", network), zap.Float64("balance", bal))
	return nil
}

// Adjust applies a signed correction to the record, creating it when
// absent. Read-modify-write runs under the ledger mutex so concurrent
// adjusters and the refresher cannot lose updates.
func (l *Ledger) Adjust(ctx context.Context, network string, delta float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.read(ctx, network)
	if err != nil {
		return err
	}
	next := cur + delta
	if err := l.write(ctx, network, next); err != nil {
		return err
	}
	l.log.Info("balance adjusted",
		zap.String("network", network),
		zap.Float64("delta", delta),
		zap.Float64("balance", next),
	)
	return nil
}

func (l *Ledger) write(ctx context.Context, network string, bal float64) error {
	return l.kv.Put(ctx, l.key(network), Record{Timestamp: time.Now().Unix(), Balance: bal})
}

// RunRefresher overwrites the record on a slow cadence until ctx ends.
// The first refresh happens immediately so the loop starts with a
// usable balance.
func (l *Ledger) RunRefresher(ctx context.Context, network string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		if err := l.Refresh(ctx, network); err != nil {
			l.log.Error("balance refresh failed", zap.String("network", network), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
