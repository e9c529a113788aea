package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TickerCache holds the latest best bid per symbol written by the ws
// reader and read by the orchestrator loop.
type TickerCache struct {
	mu   sync.RWMutex
	bids map[string]float64
}

func NewTickerCache() *TickerCache {
	return &TickerCache{bids: make(map[string]float64, 16)}
}

func (tc *TickerCache) Set(symbol string, bid float64) {
	tc.mu.Lock()
	tc.bids[symbol] = bid
	tc.mu.Unlock()
}

func (tc *TickerCache) Bid(symbol string) (float64, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	bid, ok := tc.bids[symbol]
	return bid, ok && bid > 0
}

func (tc *TickerCache) Has(symbol string) bool {
	_, ok := tc.Bid(symbol)
	return ok
}

// WS consumes the combined bookTicker stream for a fixed symbol set.
type WS struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger
}

func NewWS(url string, log *zap.Logger) *WS {
	return &WS{
		url: strings.TrimRight(url, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
		log: log,
	}
}

// All four price/qty keys need explicit fields: encoding/json falls
// back to case-insensitive matching, so without a "B" field the bid
// quantity would land in Bid.
type combinedMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		BidQty string `json:"B"`
		Ask    string `json:"a"`
		AskQty string `json:"A"`
	} `json:"data"`
}

// Run keeps the stream alive until ctx ends, reconnecting with a short
// pause after any read or dial failure.
func (w *WS) Run(ctx context.Context, symbols []string, cache *TickerCache) {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	endpoint := w.url + "/stream?streams=" + strings.Join(streams, "/")

	for ctx.Err() == nil {
		if err := w.consume(ctx, endpoint, cache); err != nil && ctx.Err() == nil {
			w.log.Warn("ws stream dropped, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (w *WS) consume(ctx context.Context, endpoint string, cache *TickerCache) error {
	conn, _, err := w.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPingHandler(func(payload string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(5*time.Second))
	})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var msg combinedMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.Symbol == "" {
			continue
		}
		bid, err := strconv.ParseFloat(msg.Data.Bid, 64)
		if err != nil || bid <= 0 {
			continue
		}
		cache.Set(msg.Data.Symbol, bid)
	}
}
