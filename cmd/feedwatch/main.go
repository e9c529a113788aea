// feedwatch tails the Redis opportunity feed published by the running
// bot and prints new entries as they arrive.
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

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/feed"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the config file")
	fromStart := flag.Bool("from-start", false, "replay the whole stream instead of tailing")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Redis.Addr == "" {
		fmt.Fprintln(os.Stderr, "redis.addr is not configured, there is no feed to watch")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	con := feed.NewConsumer(cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB)

	if margins, err := con.Margins(ctx); err == nil && len(margins) > 0 {
		tokens := make([]string, 0, len(margins))
		for t := range margins {
			tokens = append(tokens, t)
		}
		sort.Strings(tokens)
		fmt.Println("last margins:")
		for _, t := range tokens {
			fmt.Printf("  %-8s %6.2f%%\n", t, margins[t]*100)
		}
		fmt.Println()
	}

	lastID := "$"
	if *fromStart {
		lastID = "0"
	}
	for ctx.Err() == nil {
		opps, id, err := con.Tail(ctx, lastID, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintln(os.Stderr, "read:", err)
			time.Sleep(2 * time.Second)
			continue
		}
		lastID = id
		for _, o := range opps {
			fmt.Printf("%s  %-8s %-8s margin %6.2f%%  dex %.8f\n",
				o.Ts.Format(time.RFC3339), o.Token, o.CEX, o.Margin*100, o.Quote.Price)
		}
	}
}
