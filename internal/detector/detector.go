package detector

import (
	"time"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

// FindBest combines CEX order-book prices with DEX quotes and returns
// the single best qualifying opportunity, or nil when nothing clears
// its threshold. Absence of an opportunity is the normal case, not an
// error.
//
// DEX quotes are denominated in the network's base asset, so each one
// is cross-rated into USDT through the CEX price of that base asset
// before comparing.
func FindBest(cfg *config.Config, cexPrices map[string]map[string]float64, dexQuotes map[string]types.DexQuote, log *zap.Logger) *types.Opportunity {
	var best *types.Opportunity

	for token, q := range dexQuotes {
		bestMargin := 0.0
		bestCEX := ""

		for venue, prices := range cexPrices {
			cexPx, ok := prices[token]
			if !ok || cexPx <= 0 {
				continue
			}
			basePx := prices[cfg.Network.BaseSymbol]
			if basePx <= 0 {
				continue
			}

			dexInUSDT := q.Price * basePx
			margin := (cexPx - dexInUSDT) / cexPx

			log.Debug("price pair",
				zap.String("token", token),
				zap.String("cex", venue),
				zap.Float64("cex_usdt", cexPx),
				zap.Float64("dex_usdt", dexInUSDT),
				zap.Float64("margin", margin),
			)

			if margin > bestMargin && margin > cfg.MinMarginFor(token) {
				bestMargin = margin
				bestCEX = venue
			}
		}

		if bestCEX == "" {
			continue
		}
		if best == nil || bestMargin > best.Margin {
			best = &types.Opportunity{
				Token:  token,
				CEX:    bestCEX,
				Margin: bestMargin,
				Quote:  q,
				Ts:     time.Now(),
			}
		}
	}

	return best
}
