package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

func newTestConfig(tokens ...config.TokenCfg) *config.Config {
	cfg := &config.Config{Tokens: tokens}
	cfg.Network.Name = "avalanche"
	cfg.Network.BaseSymbol = "AVAX"
	return cfg
}

func quote(token string, price float64) types.DexQuote {
	return types.DexQuote{Token: token, Network: "avalanche", Price: price}
}

func TestFindBest_CrossRateExample(t *testing.T) {
	// JOE at 0.003 AVAX with AVAX at 35 USDT is 0.105 USDT on the DEX
	// against 0.50 USDT on the CEX: margin 0.79.
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE"})
	cex := map[string]map[string]float64{
		"binance": {"JOE": 0.50, "AVAX": 35.0},
	}
	dex := map[string]types.DexQuote{"JOE": quote("JOE", 0.003)}

	opp := FindBest(cfg, cex, dex, zap.NewNop())
	require.NotNil(t, opp)
	assert.Equal(t, "JOE", opp.Token)
	assert.Equal(t, "binance", opp.CEX)
	assert.InDelta(t, 0.79, opp.Margin, 1e-9)
}

func TestFindBest_BelowThresholdIsNoOpportunity(t *testing.T) {
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE"})
	cex := map[string]map[string]float64{
		// DEX in USDT = 0.4975, margin = 0.5% < default 1%
		"binance": {"JOE": 0.50, "AVAX": 35.0},
	}
	dex := map[string]types.DexQuote{"JOE": quote("JOE", 0.4975/35.0)}

	assert.Nil(t, FindBest(cfg, cex, dex, zap.NewNop()))
}

func TestFindBest_PerTokenThresholdOverride(t *testing.T) {
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE", MinMargin: 0.9})
	cex := map[string]map[string]float64{
		"binance": {"JOE": 0.50, "AVAX": 35.0},
	}
	// margin 0.79 clears the 1% default but not the 90% override
	dex := map[string]types.DexQuote{"JOE": quote("JOE", 0.003)}

	assert.Nil(t, FindBest(cfg, cex, dex, zap.NewNop()))
}

func TestFindBest_NegativeMarginRejected(t *testing.T) {
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE"})
	cex := map[string]map[string]float64{
		"binance": {"JOE": 0.10, "AVAX": 35.0},
	}
	// DEX price above CEX price: margin < 0
	dex := map[string]types.DexQuote{"JOE": quote("JOE", 0.003)}

	assert.Nil(t, FindBest(cfg, cex, dex, zap.NewNop()))
}

func TestFindBest_PicksLargestMargin(t *testing.T) {
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE"}, config.TokenCfg{Symbol: "QI"})
	cex := map[string]map[string]float64{
		"binance": {"JOE": 0.50, "QI": 0.02, "AVAX": 35.0},
	}
	dex := map[string]types.DexQuote{
		"JOE": quote("JOE", 0.003),     // margin 0.79
		"QI":  quote("QI", 0.00051428), // margin ~0.10
	}

	opp := FindBest(cfg, cex, dex, zap.NewNop())
	require.NotNil(t, opp)
	assert.Equal(t, "JOE", opp.Token)
}

func TestFindBest_MissingBasePriceSkipsToken(t *testing.T) {
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE"})
	cex := map[string]map[string]float64{
		"binance": {"JOE": 0.50}, // no AVAX price: cross-rate impossible
	}
	dex := map[string]types.DexQuote{"JOE": quote("JOE", 0.003)}

	assert.Nil(t, FindBest(cfg, cex, dex, zap.NewNop()))
}

func TestFindBest_EmptyInputs(t *testing.T) {
	cfg := newTestConfig(config.TokenCfg{Symbol: "JOE"})
	assert.Nil(t, FindBest(cfg, nil, nil, zap.NewNop()))
	assert.Nil(t, FindBest(cfg, map[string]map[string]float64{}, map[string]types.DexQuote{}, zap.NewNop()))
}
