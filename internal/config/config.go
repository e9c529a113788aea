package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenCfg describes one token we arbitrage. MinMargin overrides the
// global 1% threshold; Route overrides the default WAVAX->token path.
type TokenCfg struct {
	Symbol    string   `yaml:"symbol"`
	MinMargin float64  `yaml:"min_margin"`
	Route     []string `yaml:"route"`
}

// SlippageStep widens the slippage tolerance once the detected margin
// clears the step's threshold, so a favorably moving price does not
// reject the swap.
type SlippageStep struct {
	Margin float64 `yaml:"margin"`
	Mult   float64 `yaml:"mult"`
}

type Config struct {
	Tokens []TokenCfg `yaml:"tokens"`

	Network struct {
		Name       string `yaml:"name"`
		BaseSymbol string `yaml:"base_symbol"`
		CEXNetwork string `yaml:"cex_network"`
		Explorer   string `yaml:"explorer"`
	} `yaml:"network"`

	Chain struct {
		RPCHTTP            string  `yaml:"rpc_http"`
		WalletPK           string  `yaml:"-"`
		MaxPriorityFeeGwei float64 `yaml:"max_priority_fee_gwei"`
		GasLimitFallback   uint64  `yaml:"gas_limit_fallback"`
	} `yaml:"chain"`

	Binance struct {
		ApiKey         string `yaml:"-"`
		ApiSecret      string `yaml:"-"`
		DepositAddress string `yaml:"-"`
		WsURL          string `yaml:"ws_url"`
	} `yaml:"binance"`

	DEX struct {
		Router        string            `yaml:"router"`
		Quoter        string            `yaml:"quoter"`
		Multicall     string            `yaml:"multicall"`
		WrappedNative string            `yaml:"wrapped_native"`
		Tokens        map[string]string `yaml:"tokens"`
	} `yaml:"dex"`

	Trade struct {
		SwapSize         float64        `yaml:"swap_size"`
		GasReserve       float64        `yaml:"gas_reserve"`
		Slippage         float64        `yaml:"slippage"`
		SlippageSteps    []SlippageStep `yaml:"slippage_steps"`
		DeadlineMin      int            `yaml:"deadline_min"`
		ReceiptTimeoutMs int            `yaml:"receipt_timeout_ms"`
	} `yaml:"trade"`

	Settlement struct {
		DepositTimeoutMs  int                `yaml:"deposit_timeout_ms"`
		DepositPollMs     int                `yaml:"deposit_poll_ms"`
		SellSlices        int                `yaml:"sell_slices"`
		SlicePauseMs      int                `yaml:"slice_pause_ms"`
		FeeBufferQuote    float64            `yaml:"fee_buffer_quote"`
		MinWithdraw       map[string]float64 `yaml:"min_withdraw"`
		WithdrawPrecision int                `yaml:"withdraw_precision"`
	} `yaml:"settlement"`

	Timings struct {
		BalanceRefreshMs int `yaml:"balance_refresh_ms"`
		HistoryPollMs    int `yaml:"history_poll_ms"`
		InfoTTLMs        int `yaml:"info_ttl_ms"`
		IdlePauseMs      int `yaml:"idle_pause_ms"`
	} `yaml:"timings"`

	State struct {
		Dir string `yaml:"dir"`
	} `yaml:"state"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Telegram struct {
		ChatID int64  `yaml:"chat_id"`
		Token  string `yaml:"-"`
	} `yaml:"telegram"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// secrets never live in the yaml file
	c.Chain.WalletPK = os.Getenv("PRIVATE_KEY")
	c.Binance.ApiKey = os.Getenv("BINANCE_PUBLIC")
	c.Binance.ApiSecret = os.Getenv("BINANCE_SECRET")
	c.Binance.DepositAddress = os.Getenv("BINANCE_DEPOSIT_ADDRESS")
	c.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	if rpc := os.Getenv("AVALANCHE_RPC"); rpc != "" {
		c.Chain.RPCHTTP = rpc
	}

	if c.Network.Name == "" {
		c.Network.Name = "avalanche"
	}
	if c.Network.BaseSymbol == "" {
		c.Network.BaseSymbol = "AVAX"
	}
	if c.Network.CEXNetwork == "" {
		c.Network.CEXNetwork = "AVAXC"
	}
	if c.Network.Explorer == "" {
		c.Network.Explorer = "https://snowtrace.io"
	}
	if c.Chain.GasLimitFallback == 0 {
		c.Chain.GasLimitFallback = 500000
	}
	if c.DEX.Multicall == "" {
		// canonical Multicall3 deployment, same address on every chain
		c.DEX.Multicall = "0xcA11bde05977b3631167028862bE2a173976CA11"
	}
	if c.Chain.MaxPriorityFeeGwei == 0 {
		c.Chain.MaxPriorityFeeGwei = 2.5
	}
	if c.Trade.Slippage == 0 {
		c.Trade.Slippage = 0.005
	}
	if len(c.Trade.SlippageSteps) == 0 {
		c.Trade.SlippageSteps = []SlippageStep{
			{Margin: 0.06, Mult: 3},
			{Margin: 0.04, Mult: 2},
		}
	}
	if c.Trade.DeadlineMin == 0 {
		c.Trade.DeadlineMin = 20
	}
	if c.Trade.ReceiptTimeoutMs == 0 {
		c.Trade.ReceiptTimeoutMs = 300_000
	}
	if c.Settlement.DepositTimeoutMs == 0 {
		c.Settlement.DepositTimeoutMs = 3_600_000
	}
	if c.Settlement.DepositPollMs == 0 {
		c.Settlement.DepositPollMs = 2000
	}
	if c.Settlement.SellSlices == 0 {
		c.Settlement.SellSlices = 3
	}
	if c.Settlement.SlicePauseMs == 0 {
		c.Settlement.SlicePauseMs = 1000
	}
	if c.Settlement.FeeBufferQuote == 0 {
		c.Settlement.FeeBufferQuote = 0.1
	}
	if c.Settlement.MinWithdraw == nil {
		c.Settlement.MinWithdraw = map[string]float64{"AVAX": 1, "ETH": 0.5}
	}
	if c.Settlement.WithdrawPrecision == 0 {
		c.Settlement.WithdrawPrecision = 5
	}
	if c.Timings.BalanceRefreshMs == 0 {
		c.Timings.BalanceRefreshMs = 600_000
	}
	if c.Timings.HistoryPollMs == 0 {
		c.Timings.HistoryPollMs = 5000
	}
	if c.Timings.InfoTTLMs == 0 {
		c.Timings.InfoTTLMs = 60_000
	}
	if c.Timings.IdlePauseMs == 0 {
		c.Timings.IdlePauseMs = 1000
	}
	if c.State.Dir == "" {
		c.State.Dir = "./data"
	}
	return &c, nil
}

// Validate checks the pieces without which the process cannot trade.
// Called from main; test-mode runs skip the wallet/key requirements.
func (c *Config) Validate(testMode bool) error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("no tokens configured")
	}
	if c.Chain.RPCHTTP == "" {
		return fmt.Errorf("chain.rpc_http is empty")
	}
	for _, t := range c.Tokens {
		if _, ok := c.DEX.Tokens[t.Symbol]; !ok {
			return fmt.Errorf("no DEX address configured for token %s", t.Symbol)
		}
	}
	if testMode {
		return nil
	}
	if c.Chain.WalletPK == "" {
		return fmt.Errorf("PRIVATE_KEY is not set")
	}
	if c.Binance.ApiKey == "" || c.Binance.ApiSecret == "" {
		return fmt.Errorf("BINANCE_PUBLIC / BINANCE_SECRET are not set")
	}
	if c.Binance.DepositAddress == "" {
		return fmt.Errorf("BINANCE_DEPOSIT_ADDRESS is not set")
	}
	return nil
}

// MinMarginFor returns the arbitrage threshold for a token, default 1%.
func (c *Config) MinMarginFor(token string) float64 {
	for _, t := range c.Tokens {
		if t.Symbol == token && t.MinMargin > 0 {
			return t.MinMargin
		}
	}
	return 0.01
}

// RouteFor returns the configured swap route symbols for a token,
// defaulting to wrapped-native -> token.
func (c *Config) RouteFor(token string) []string {
	for _, t := range c.Tokens {
		if t.Symbol == token && len(t.Route) > 0 {
			return t.Route
		}
	}
	return []string{"WAVAX", token}
}

func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Trade.ReceiptTimeoutMs) * time.Millisecond
}
func (c *Config) DepositTimeout() time.Duration {
	return time.Duration(c.Settlement.DepositTimeoutMs) * time.Millisecond
}
func (c *Config) DepositPoll() time.Duration {
	return time.Duration(c.Settlement.DepositPollMs) * time.Millisecond
}
func (c *Config) SlicePause() time.Duration {
	return time.Duration(c.Settlement.SlicePauseMs) * time.Millisecond
}
func (c *Config) BalanceRefresh() time.Duration {
	return time.Duration(c.Timings.BalanceRefreshMs) * time.Millisecond
}
func (c *Config) HistoryPoll() time.Duration {
	return time.Duration(c.Timings.HistoryPollMs) * time.Millisecond
}
func (c *Config) InfoTTL() time.Duration {
	return time.Duration(c.Timings.InfoTTLMs) * time.Millisecond
}
func (c *Config) IdlePause() time.Duration {
	return time.Duration(c.Timings.IdlePauseMs) * time.Millisecond
}
