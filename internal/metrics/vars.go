package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OpportunityMargin = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_opportunity_margin",
		Help: "Margin fraction of the last detected opportunity per token",
	}, []string{"token"})

	SwapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_swaps_total",
		Help: "Submitted DEX swaps by result",
	}, []string{"result"})

	SettlementsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_settlements_in_flight",
		Help: "Settlement trackers currently running",
	})

	SettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_settlements_total",
		Help: "Finished settlements by terminal state",
	}, []string{"state"})

	DepositWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_deposit_wait_seconds",
		Help:    "Time from swap submission to confirmed CEX deposit",
		Buckets: prometheus.ExponentialBuckets(30, 2, 8),
	})

	QuoterErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_quoter_errors_total",
		Help: "Number of DEX quoter failures",
	})

	ProfitBase = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_profit_base_total",
		Help: "Cumulative realized profit in the network base asset",
	})
)

func init() {
	prometheus.MustRegister(
		OpportunityMargin,
		SwapsTotal,
		SettlementsInFlight,
		SettlementsTotal,
		DepositWaitSeconds,
		QuoterErrors,
		ProfitBase,
	)
}
