// bookwatch streams the exchange book-ticker for the configured
// markets and prints the best bids once a second. Useful for checking
// the websocket feed before trusting it with the trade loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/cex/binance"
	"github.com/g1tt0/universal-arbitrage/internal/config"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if cfg.Binance.WsURL == "" {
		fmt.Fprintln(os.Stderr, "binance.ws_url is not configured")
		os.Exit(1)
	}

	symbols := []string{cfg.Network.BaseSymbol + "USDT"}
	for _, tc := range cfg.Tokens {
		symbols = append(symbols, tc.Symbol+"USDT")
	}
	sort.Strings(symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	cache := binance.NewTickerCache()
	ws := binance.NewWS(cfg.Binance.WsURL, zap.NewNop())
	go ws.Run(ctx, symbols, cache)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			for _, s := range symbols {
				if bid, ok := cache.Bid(s); ok {
					fmt.Printf("%-12s %.8f  ", s, bid)
				} else {
					fmt.Printf("%-12s %-10s  ", s, "-")
				}
			}
			fmt.Println()
		}
	}
}
