// Package lfg is the execution-venue adapter for the LFG v2.2 AMM
// (liquidity-book router + quoter) on Avalanche.
package lfg

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
	"github.com/g1tt0/universal-arbitrage/internal/multicall"
)

// Minimal ABI for LBQuoter.findBestPathFromAmountIn.
const quoterABI = `[
    {"inputs":[{"internalType":"address[]","name":"route","type":"address[]"},{"internalType":"uint128","name":"amountIn","type":"uint128"}],"name":"findBestPathFromAmountIn","outputs":[{"components":[{"internalType":"address[]","name":"route","type":"address[]"},{"internalType":"address[]","name":"pairs","type":"address[]"},{"internalType":"uint256[]","name":"binSteps","type":"uint256[]"},{"internalType":"uint8[]","name":"versions","type":"uint8[]"},{"internalType":"uint128[]","name":"amounts","type":"uint128[]"},{"internalType":"uint128[]","name":"virtualAmountsWithoutSlippage","type":"uint128[]"},{"internalType":"uint128[]","name":"fees","type":"uint128[]"}],"internalType":"struct LBQuoter.Quote","name":"quote","type":"tuple"}],"stateMutability":"view","type":"function"}
]`

// Minimal ABI for LBRouter.swapExactNATIVEForTokens.
const routerABI = `[
    {"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"components":[{"internalType":"uint256[]","name":"pairBinSteps","type":"uint256[]"},{"internalType":"uint8[]","name":"versions","type":"uint8[]"},{"internalType":"address[]","name":"tokenPath","type":"address[]"}],"internalType":"struct ILBRouter.Path","name":"path","type":"tuple"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactNATIVEForTokens","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

// PathQuote is the quoter's best route for a given input amount. The
// last element of Amounts is the expected output.
type PathQuote struct {
	Route    []common.Address
	Pairs    []common.Address
	BinSteps []*big.Int
	Versions []uint8
	Amounts  []*big.Int
	Fees     []*big.Int
}

func (q *PathQuote) AmountOut() *big.Int {
	if len(q.Amounts) == 0 {
		return big.NewInt(0)
	}
	return q.Amounts[len(q.Amounts)-1]
}

type Client struct {
	cfg    *config.Config
	log    *zap.Logger
	ec     *ethclient.Client
	qabi   abi.ABI
	rabi   abi.ABI
	quoter common.Address
	router common.Address
	mc     *multicall.Caller // nil when dex.multicall is not configured
	pk     *ecdsa.PrivateKey
	sender common.Address
}

func NewClient(cfg *config.Config, log *zap.Logger) (*Client, error) {
	ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	qabi, err := abi.JSON(strings.NewReader(quoterABI))
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		log:    log,
		ec:     ec,
		qabi:   qabi,
		rabi:   rabi,
		quoter: common.HexToAddress(cfg.DEX.Quoter),
		router: common.HexToAddress(cfg.DEX.Router),
	}
	if c.quoter == (common.Address{}) || c.router == (common.Address{}) {
		return nil, fmt.Errorf("dex.quoter / dex.router addresses are not configured")
	}

	if cfg.DEX.Multicall != "" {
		mc, err := multicall.New(ec, common.HexToAddress(cfg.DEX.Multicall))
		if err != nil {
			return nil, fmt.Errorf("multicall init: %w", err)
		}
		c.mc = mc
	}

	// the key is absent in test mode; quoting still works without it
	if cfg.Chain.WalletPK != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.WalletPK, "0x"))
		if err != nil {
			return nil, fmt.Errorf("bad private key: %w", err)
		}
		c.pk = pk
		c.sender = crypto.PubkeyToAddress(pk.PublicKey)
	}
	return c, nil
}

// Eth exposes the underlying RPC client for balance reads.
func (c *Client) Eth() *ethclient.Client { return c.ec }

func (c *Client) Sender() common.Address { return c.sender }

// AddressFor resolves a route symbol to its configured token address.
// The wrapped-native symbol maps to dex.wrapped_native.
func (c *Client) AddressFor(symbol string) (common.Address, error) {
	if symbol == "WAVAX" || symbol == c.cfg.Network.BaseSymbol {
		return common.HexToAddress(c.cfg.DEX.WrappedNative), nil
	}
	hex, ok := c.cfg.DEX.Tokens[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("no address for token %s", symbol)
	}
	return common.HexToAddress(hex), nil
}

// QuoteBestPath asks the quoter for the best route spending amountIn
// of the first path token.
func (c *Client) QuoteBestPath(ctx context.Context, path []common.Address, amountIn *big.Int) (*PathQuote, error) {
	input, err := c.qabi.Pack("findBestPathFromAmountIn", path, amountIn)
	if err != nil {
		return nil, fmt.Errorf("pack findBestPathFromAmountIn: %w", err)
	}

	ret, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.quoter, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call quoter: %w", err)
	}
	return c.decodeQuote(ret)
}

// QuoteBestPaths quotes several routes for the same input amount. With
// a multicall address configured this is one RPC round trip; otherwise
// it falls back to sequential quoter calls. A failed route yields a
// nil entry, not an error for the batch.
func (c *Client) QuoteBestPaths(ctx context.Context, paths [][]common.Address, amountIn *big.Int) ([]*PathQuote, error) {
	quotes := make([]*PathQuote, len(paths))

	if c.mc == nil {
		for i, path := range paths {
			q, err := c.QuoteBestPath(ctx, path, amountIn)
			if err != nil {
				c.log.Warn("quote failed", zap.Error(err))
				continue
			}
			quotes[i] = q
		}
		return quotes, nil
	}

	calls := make([]multicall.Call, len(paths))
	for i, path := range paths {
		input, err := c.qabi.Pack("findBestPathFromAmountIn", path, amountIn)
		if err != nil {
			return nil, fmt.Errorf("pack findBestPathFromAmountIn: %w", err)
		}
		calls[i] = multicall.Call{Target: c.quoter, CallData: input}
	}

	results, err := c.mc.Try(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("batch quote: %w", err)
	}
	for i, r := range results {
		if !r.Success {
			c.log.Warn("quoter call reverted in batch", zap.Int("route", i))
			continue
		}
		q, err := c.decodeQuote(r.Data)
		if err != nil {
			c.log.Warn("bad quote in batch", zap.Int("route", i), zap.Error(err))
			continue
		}
		quotes[i] = q
	}
	return quotes, nil
}

func (c *Client) decodeQuote(ret []byte) (*PathQuote, error) {
	out, err := c.qabi.Unpack("findBestPathFromAmountIn", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack quote: %w", err)
	}

	raw := abi.ConvertType(out[0], new(struct {
		Route                         []common.Address
		Pairs                         []common.Address
		BinSteps                      []*big.Int
		Versions                      []uint8
		Amounts                       []*big.Int
		VirtualAmountsWithoutSlippage []*big.Int
		Fees                          []*big.Int
	})).(*struct {
		Route                         []common.Address
		Pairs                         []common.Address
		BinSteps                      []*big.Int
		Versions                      []uint8
		Amounts                       []*big.Int
		VirtualAmountsWithoutSlippage []*big.Int
		Fees                          []*big.Int
	})

	q := &PathQuote{
		Route:    raw.Route,
		Pairs:    raw.Pairs,
		BinSteps: raw.BinSteps,
		Versions: raw.Versions,
		Amounts:  raw.Amounts,
		Fees:     raw.Fees,
	}
	if q.AmountOut().Sign() <= 0 {
		return nil, fmt.Errorf("quoter returned zero output for path")
	}
	return q, nil
}

// SwapExactNativeForTokens submits the swap along the quoted route and
// returns the transaction hash. The receipt is the caller's business.
func (c *Client) SwapExactNativeForTokens(ctx context.Context, amountIn, minOut *big.Int, quote *PathQuote, recipient common.Address, deadline time.Time) (string, error) {
	if c.pk == nil {
		return "", fmt.Errorf("no wallet key configured")
	}

	path := struct {
		PairBinSteps []*big.Int
		Versions     []uint8
		TokenPath    []common.Address
	}{
		PairBinSteps: quote.BinSteps,
		Versions:     quote.Versions,
		TokenPath:    quote.Route,
	}

	input, err := c.rabi.Pack("swapExactNATIVEForTokens", minOut, path, recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return "", fmt.Errorf("pack swapExactNATIVEForTokens: %w", err)
	}

	signedTx, err := c.signTx(ctx, input, amountIn)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.ec.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitReceipt polls for the receipt until it lands or the timeout
// passes. The swap is never resent on timeout: the price it was quoted
// at is long gone.
func (c *Client) WaitReceipt(ctx context.Context, txHash string, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	hash := common.HexToHash(txHash)
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		rcpt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", txHash, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("receipt %s: timeout after %s", txHash, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) signTx(ctx context.Context, input []byte, value *big.Int) (*types.Transaction, error) {
	chainID, err := c.ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	nonce, err := c.ec.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasTipCap := gweiToWei(c.cfg.Chain.MaxPriorityFeeGwei)
	header, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		return nil, fmt.Errorf("get header/base fee: %w", err)
	}
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	gas := c.cfg.Chain.GasLimitFallback
	est, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.sender,
		To:    &c.router,
		Value: value,
		Data:  input,
	})
	if err != nil {
		c.log.Warn("gas estimation failed, using fallback limit",
			zap.Uint64("fallback", gas), zap.Error(err))
	} else {
		gas = est + est/5 // 20% headroom
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        &c.router,
		Value:     value,
		Data:      input,
	})
	return types.SignTx(tx, types.NewLondonSigner(chainID), c.pk)
}

func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return wei
}
