// Package binance is the custodial-exchange adapter. It wraps the
// go-binance SDK behind the narrow surface the bot needs: order-book
// tickers, deposit history, market orders, withdrawals and symbol
// precision.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/types"
)

const Venue = "binance"

type Client struct {
	cfg *config.Config
	log *zap.Logger
	api *gobinance.Client
}

func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: log,
		api: gobinance.NewClient(cfg.Binance.ApiKey, cfg.Binance.ApiSecret),
	}
}

// OrderBookTickers returns the best bid per symbol for every listed pair.
func (c *Client) OrderBookTickers(ctx context.Context) (map[string]float64, error) {
	tickers, err := c.api.NewListBookTickersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("book tickers: %w", err)
	}
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		bid, err := strconv.ParseFloat(t.BidPrice, 64)
		if err != nil || bid <= 0 {
			continue
		}
		out[t.Symbol] = bid
	}
	return out, nil
}

// ListedSymbols returns the set of tradable symbols, used by the
// startup compatibility check.
func (c *Client) ListedSymbols(ctx context.Context) (map[string]bool, error) {
	prices, err := c.api.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	out := make(map[string]bool, len(prices))
	for _, p := range prices {
		out[p.Symbol] = true
	}
	return out, nil
}

func (c *Client) DepositHistory(ctx context.Context) ([]types.DepositRecord, error) {
	deposits, err := c.api.NewListDepositsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("deposit history: %w", err)
	}
	out := make([]types.DepositRecord, 0, len(deposits))
	for _, d := range deposits {
		amount, _ := strconv.ParseFloat(d.Amount, 64)
		out = append(out, types.DepositRecord{
			TxID:   d.TxID,
			Coin:   d.Coin,
			Amount: amount,
			Status: d.Status,
		})
	}
	return out, nil
}

// MarketSell places one market sell for qty of the base asset and
// returns the executed fills.
func (c *Client) MarketSell(ctx context.Context, symbol string, qty float64) ([]types.Fill, error) {
	order, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeSell).
		Type(gobinance.OrderTypeMarket).
		Quantity(trim(qty)).
		NewOrderRespType(gobinance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market sell %s: %w", symbol, err)
	}
	return convertFills(order.Fills), nil
}

// MarketBuy places a quote-denominated market buy (spend quoteQty USDT).
func (c *Client) MarketBuy(ctx context.Context, symbol string, quoteQty float64) ([]types.Fill, error) {
	order, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeBuy).
		Type(gobinance.OrderTypeMarket).
		QuoteOrderQty(trim(quoteQty)).
		NewOrderRespType(gobinance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return convertFills(order.Fills), nil
}

func (c *Client) Withdraw(ctx context.Context, asset, network string, amount float64, address string) error {
	_, err := c.api.NewCreateWithdrawService().
		Coin(asset).
		Network(network).
		Address(address).
		Amount(trim(amount)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("withdraw %s: %w", asset, err)
	}
	return nil
}

// FreeBalance returns the spendable exchange balance for one asset.
func (c *Client) FreeBalance(ctx context.Context, asset string) (float64, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("parse balance %s: %w", asset, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

// SymbolPrecision returns the number of quantity decimals allowed for
// a symbol, derived from its lot-size step.
func (c *Client) SymbolPrecision(ctx context.Context, symbol string) (int, error) {
	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			break
		}
		return StepPrecision(lot.StepSize), nil
	}
	return 0, fmt.Errorf("no lot size filter for %s", symbol)
}

// StepPrecision turns a lot step like "0.00100000" into its decimal
// count (3). A step of "1.00000000" yields 0.
func StepPrecision(step string) int {
	i := strings.Index(step, "1")
	if i <= 0 {
		return 0
	}
	return i - 1
}

func convertFills(fills []*gobinance.Fill) []types.Fill {
	out := make([]types.Fill, 0, len(fills))
	for _, f := range fills {
		px, _ := strconv.ParseFloat(f.Price, 64)
		qty, _ := strconv.ParseFloat(f.Quantity, 64)
		out = append(out, types.Fill{Price: px, Qty: qty})
	}
	return out
}

func trim(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}
