// route-check quotes every configured token once at the configured
// swap size and prints the route, the implied DEX price and the cross
// margin against the exchange. Handy before enabling a new token.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/cex/binance"
	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/dex/lfg"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the config file")
	size := flag.Float64("size", 0, "input size in the base asset, 0 = trade.swap_size")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *size > 0 {
		cfg.Trade.SwapSize = *size
	}

	dex, err := lfg.NewClient(cfg, zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "dex client:", err)
		os.Exit(1)
	}
	cex := binance.NewClient(cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bids, err := cex.OrderBookTickers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: no CEX prices:", err)
	}
	basePx := bids[cfg.Network.BaseSymbol+"USDT"]

	amountIn, _ := new(big.Float).Mul(
		big.NewFloat(cfg.Trade.SwapSize), big.NewFloat(1e18)).Int(nil)
	fmt.Printf("size: %g %s   %s: %.2f USDT\n\n",
		cfg.Trade.SwapSize, cfg.Network.BaseSymbol, cfg.Network.BaseSymbol, basePx)

	for _, tc := range cfg.Tokens {
		route := cfg.RouteFor(tc.Symbol)
		addrs, err := resolve(dex, route)
		if err != nil {
			fmt.Printf("%-8s route %v: %v\n", tc.Symbol, route, err)
			continue
		}

		q, err := dex.QuoteBestPath(ctx, addrs, amountIn)
		if err != nil {
			fmt.Printf("%-8s route %v: quote failed: %v\n", tc.Symbol, route, err)
			continue
		}

		in := new(big.Float).SetInt(amountIn)
		out := new(big.Float).SetInt(q.AmountOut())
		price, _ := new(big.Float).Quo(in, out).Float64()

		line := fmt.Sprintf("%-8s route %v  hops %d  price %.8f %s",
			tc.Symbol, route, len(q.Pairs), price, cfg.Network.BaseSymbol)

		if cexPx := bids[tc.Symbol+"USDT"]; cexPx > 0 && basePx > 0 {
			margin := (cexPx - price*basePx) / cexPx
			line += fmt.Sprintf("  cex %.6f USDT  margin %.2f%%", cexPx, margin*100)
		}
		fmt.Println(line)
	}
}

func resolve(dex *lfg.Client, route []string) ([]common.Address, error) {
	addrs := make([]common.Address, 0, len(route))
	for _, sym := range route {
		a, err := dex.AddressFor(sym)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
