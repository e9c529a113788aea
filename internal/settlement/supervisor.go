package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/metrics"
	"github.com/g1tt0/universal-arbitrage/internal/notify"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

// Supervisor runs trackers on their own goroutines so the trade loop
// never blocks on a settlement. A panicking tracker takes down only
// its own settlement, not the process.
type Supervisor struct {
	tracker  *Tracker
	notifier notify.Notifier
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewSupervisor(tracker *Tracker, notifier notify.Notifier, log *zap.Logger) *Supervisor {
	return &Supervisor{tracker: tracker, notifier: notifier, log: log}
}

// Launch starts tracking the settlement in the background.
func (s *Supervisor) Launch(ctx context.Context, ps types.PendingSettlement) {
	s.wg.Add(1)
	metrics.SettlementsInFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.SettlementsInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("settlement panicked",
					zap.String("tx", ps.TxID),
					zap.Any("panic", r),
				)
				s.notifier.Notify(fmt.Sprintf("Settlement crashed. TX: #%s", short(ps.TxID)))
			}
		}()

		state, err := s.tracker.Run(ctx, ps)
		if errors.Is(err, context.Canceled) {
			s.log.Info("settlement interrupted by shutdown",
				zap.String("tx", ps.TxID),
				zap.String("state", string(state)),
			)
			return
		}
		if err != nil {
			s.log.Error("settlement aborted",
				zap.String("tx", ps.TxID),
				zap.String("state", string(state)),
				zap.Error(err),
			)
			s.notifier.Notify(fmt.Sprintf("Settlement stuck at %s. TX: #%s", state, short(ps.TxID)))
			return
		}
		s.log.Info("settlement finished",
			zap.String("tx", ps.TxID),
			zap.String("state", string(state)),
		)
	}()
}

// Wait blocks until all launched settlements return.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
