package pending

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/types"
)

// HistorySource fetches the venue's full deposit history.
type HistorySource interface {
	DepositHistory(ctx context.Context) ([]types.DepositRecord, error)
}

// Poller refreshes one shared deposit-history snapshot on a short
// cadence, but only while the registry holds at least one awaited
// transaction. Settlement trackers read the snapshot instead of each
// hammering the exchange API.
type Poller struct {
	reg *Registry
	src HistorySource
	log *zap.Logger

	snap atomicSnapshot
}

func NewPoller(reg *Registry, src HistorySource, log *zap.Logger) *Poller {
	return &Poller{reg: reg, src: src, log: log}
}

// FindConfirmed returns the deposit record for txID once the venue
// reports it with a confirmed status.
func (p *Poller) FindConfirmed(txID string) (types.DepositRecord, bool) {
	for _, d := range p.snap.get() {
		if d.TxID == txID && d.Status == types.DepositConfirmed {
			return d, true
		}
	}
	return types.DepositRecord{}, false
}

func (p *Poller) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ids, err := p.reg.List(ctx)
			if err != nil {
				p.log.Error("pending list failed", zap.Error(err))
				continue
			}
			if len(ids) == 0 {
				continue
			}
			hist, err := p.src.DepositHistory(ctx)
			if err != nil {
				p.log.Error("deposit history fetch failed", zap.Error(err))
				continue
			}
			p.snap.set(hist)
		}
	}
}

type atomicSnapshot struct {
	mu   sync.RWMutex
	data []types.DepositRecord
}

func (a *atomicSnapshot) set(d []types.DepositRecord) {
	a.mu.Lock()
	a.data = d
	a.mu.Unlock()
}

func (a *atomicSnapshot) get() []types.DepositRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data
}
