// Package feed publishes live trade state to Redis so dashboards and
// other processes can follow the bot without touching its internals.
package feed

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/types"
)

const (
	oppStream    = "arb:opportunities"
	marginKey    = "arb:margin"
	oppStreamCap = 1000
)

type Publisher struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewPublisher(addr, username, password string, db int, log *zap.Logger) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Username: username,
		Password: password,
	})
	return &Publisher{rdb: rdb, log: log}
}

// PublishOpportunity appends the opportunity to the feed stream and
// updates the per-token margin hash. Feed failures never block
// trading; they are logged and dropped.
func (p *Publisher) PublishOpportunity(ctx context.Context, opp *types.Opportunity) {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: oppStream,
		MaxLen: oppStreamCap,
		Approx: true,
		Values: map[string]interface{}{
			"token":  opp.Token,
			"cex":    opp.CEX,
			"margin": strconv.FormatFloat(opp.Margin, 'f', -1, 64),
			"price":  strconv.FormatFloat(opp.Quote.Price, 'f', -1, 64),
			"ts_ms":  opp.Ts.UnixMilli(),
		},
	}).Err()
	if err != nil {
		p.log.Warn("feed publish failed", zap.Error(err))
		return
	}

	if err := p.rdb.HSet(ctx, marginKey, opp.Token,
		strconv.FormatFloat(opp.Margin, 'f', -1, 64)).Err(); err != nil {
		p.log.Warn("feed margin update failed", zap.Error(err))
	}
}

// Consumer is the read side of the feed, used by the watch tooling.
type Consumer struct {
	rdb *redis.Client
}

func NewConsumer(addr, username, password string, db int) *Consumer {
	return &Consumer{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Username: username,
		Password: password,
	})}
}

// Margins returns the last published margin per token.
func (c *Consumer) Margins(ctx context.Context) (map[string]float64, error) {
	m, err := c.rdb.HGetAll(ctx, marginKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(m))
	for token, v := range m {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[token] = f
	}
	return out, nil
}

// Tail blocks for up to wait and returns opportunities published
// after lastID. Pass "$" to start from the stream tip.
func (c *Consumer) Tail(ctx context.Context, lastID string, wait time.Duration) ([]types.Opportunity, string, error) {
	streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{oppStream, lastID},
		Block:   wait,
		Count:   100,
	}).Result()
	if err == redis.Nil {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, lastID, err
	}

	var out []types.Opportunity
	for _, s := range streams {
		for _, msg := range s.Messages {
			lastID = msg.ID
			opp := types.Opportunity{}
			if v, ok := msg.Values["token"].(string); ok {
				opp.Token = v
			}
			if v, ok := msg.Values["cex"].(string); ok {
				opp.CEX = v
			}
			if v, ok := msg.Values["margin"].(string); ok {
				opp.Margin, _ = strconv.ParseFloat(v, 64)
			}
			if v, ok := msg.Values["price"].(string); ok {
				opp.Quote.Price, _ = strconv.ParseFloat(v, 64)
			}
			if v, ok := msg.Values["ts_ms"].(string); ok {
				ms, _ := strconv.ParseInt(v, 10, 64)
				opp.Ts = time.UnixMilli(ms)
			}
			out = append(out, opp)
		}
	}
	return out, lastID, nil
}
