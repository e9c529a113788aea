package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/store"
)

// ChainMeta is one deposit/withdraw network of a listed coin.
type ChainMeta struct {
	ChainID         string  `json:"chainId"`
	WithdrawFee     float64 `json:"withdrawalMinFee"`
	WithdrawMin     float64 `json:"withdrawalMinSize"`
	DepositEnabled  bool    `json:"isDepositEnabled"`
	WithdrawEnabled bool    `json:"isWithdrawEnabled"`
}

// CoinMeta is the venue metadata kept per listed currency.
type CoinMeta struct {
	Currency string      `json:"currency"`
	Chains   []ChainMeta `json:"chains"`
}

type infoDoc struct {
	Timestamp int64      `json:"timestamp"`
	Data      []CoinMeta `json:"data"`
}

// InfoCache persists the venue's coin/network metadata and refreshes it
// only when the stored copy is older than the TTL, so the expensive
// all-coins call is not paid every cycle.
type InfoCache struct {
	kv     store.KV
	client *Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewInfoCache(kv store.KV, client *Client, ttl time.Duration, log *zap.Logger) *InfoCache {
	return &InfoCache{kv: kv, client: client, ttl: ttl, log: log}
}

const infoKey = "exchange_info:" + Venue

// Refresh re-fetches the metadata if the persisted copy is stale.
func (ic *InfoCache) Refresh(ctx context.Context) error {
	var doc infoDoc
	ok, err := ic.kv.Get(ctx, infoKey, &doc)
	if err != nil {
		return err
	}
	if ok && time.Since(time.Unix(doc.Timestamp, 0)) < ic.ttl {
		return nil
	}

	coins, err := ic.client.api.NewGetAllCoinsInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("all coins info: %w", err)
	}

	data := make([]CoinMeta, 0, len(coins))
	for _, coin := range coins {
		meta := CoinMeta{Currency: coin.Coin}
		for _, n := range coin.NetworkList {
			fee, _ := strconv.ParseFloat(n.WithdrawFee, 64)
			min, _ := strconv.ParseFloat(n.WithdrawMin, 64)
			meta.Chains = append(meta.Chains, ChainMeta{
				ChainID:         strings.ToUpper(n.Network),
				WithdrawFee:     fee,
				WithdrawMin:     min,
				DepositEnabled:  n.DepositEnable,
				WithdrawEnabled: n.WithdrawEnable,
			})
		}
		data = append(data, meta)
	}

	if err := ic.kv.Put(ctx, infoKey, infoDoc{Timestamp: time.Now().Unix(), Data: data}); err != nil {
		return err
	}
	ic.log.Debug("exchange info refreshed", zap.Int("coins", len(data)))
	return nil
}

// WithdrawalFee looks up the fee charged for withdrawing an asset over
// the given network from the persisted metadata.
func (ic *InfoCache) WithdrawalFee(ctx context.Context, asset, network string) (float64, error) {
	chain, err := ic.chain(ctx, asset, network)
	if err != nil {
		return 0, err
	}
	return chain.WithdrawFee, nil
}

// DepositOpen reports whether the venue currently accepts deposits of
// an asset over the given network.
func (ic *InfoCache) DepositOpen(ctx context.Context, asset, network string) (bool, error) {
	chain, err := ic.chain(ctx, asset, network)
	if err != nil {
		return false, err
	}
	return chain.DepositEnabled, nil
}

func (ic *InfoCache) chain(ctx context.Context, asset, network string) (ChainMeta, error) {
	var doc infoDoc
	ok, err := ic.kv.Get(ctx, infoKey, &doc)
	if err != nil {
		return ChainMeta{}, err
	}
	if !ok {
		return ChainMeta{}, fmt.Errorf("no exchange info cached")
	}
	network = strings.ToUpper(network)
	for _, coin := range doc.Data {
		if coin.Currency != asset {
			continue
		}
		for _, chain := range coin.Chains {
			if chain.ChainID == network {
				return chain, nil
			}
		}
	}
	return ChainMeta{}, fmt.Errorf("no chain %s for asset %s in exchange info", network, asset)
}
