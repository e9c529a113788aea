package lfg

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/g1tt0/universal-arbitrage/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	qabi, err := abi.JSON(strings.NewReader(quoterABI))
	require.NoError(t, err)
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Network.BaseSymbol = "AVAX"
	cfg.DEX.WrappedNative = "0x00000000000000000000000000000000000000aa"
	cfg.DEX.Tokens = map[string]string{"JOE": "0x00000000000000000000000000000000000000bb"}

	return &Client{cfg: cfg, log: zap.NewNop(), qabi: qabi, rabi: rabi}
}

type rawQuote struct {
	Route                         []common.Address
	Pairs                         []common.Address
	BinSteps                      []*big.Int
	Versions                      []uint8
	Amounts                       []*big.Int
	VirtualAmountsWithoutSlippage []*big.Int
	Fees                          []*big.Int
}

func encodeQuote(t *testing.T, c *Client, q rawQuote) []byte {
	t.Helper()
	out, err := c.qabi.Methods["findBestPathFromAmountIn"].Outputs.Pack(q)
	require.NoError(t, err)
	return out
}

func TestDecodeQuote(t *testing.T) {
	c := newTestClient(t)

	in := big.NewInt(2e18)
	out := new(big.Int).Mul(big.NewInt(500), big.NewInt(1e18))
	encoded := encodeQuote(t, c, rawQuote{
		Route:                         []common.Address{{0x0a}, {0x0b}},
		Pairs:                         []common.Address{{0x0c}},
		BinSteps:                      []*big.Int{big.NewInt(20)},
		Versions:                      []uint8{2},
		Amounts:                       []*big.Int{in, out},
		VirtualAmountsWithoutSlippage: []*big.Int{in, out},
		Fees:                          []*big.Int{big.NewInt(3000000000000000)},
	})

	q, err := c.decodeQuote(encoded)
	require.NoError(t, err)
	assert.Len(t, q.Route, 2)
	assert.Len(t, q.Pairs, 1)
	assert.Equal(t, []uint8{2}, q.Versions)
	assert.Zero(t, q.AmountOut().Cmp(out))
}

func TestDecodeQuoteRejectsZeroOutput(t *testing.T) {
	c := newTestClient(t)

	encoded := encodeQuote(t, c, rawQuote{
		Route:                         []common.Address{{0x0a}, {0x0b}},
		Pairs:                         []common.Address{},
		BinSteps:                      []*big.Int{},
		Versions:                      []uint8{},
		Amounts:                       []*big.Int{big.NewInt(2e18), big.NewInt(0)},
		VirtualAmountsWithoutSlippage: []*big.Int{},
		Fees:                          []*big.Int{},
	})

	_, err := c.decodeQuote(encoded)
	assert.Error(t, err)
}

func TestAmountOutEmptyQuote(t *testing.T) {
	q := &PathQuote{}
	assert.Zero(t, q.AmountOut().Sign())
}

func TestAddressFor(t *testing.T) {
	c := newTestClient(t)

	wavax, err := c.AddressFor("WAVAX")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), wavax)

	// the base symbol maps to the wrapped native token too
	base, err := c.AddressFor("AVAX")
	require.NoError(t, err)
	assert.Equal(t, wavax, base)

	joe, err := c.AddressFor("JOE")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000bb"), joe)

	_, err = c.AddressFor("UNKNOWN")
	assert.Error(t, err)
}

func TestGweiToWei(t *testing.T) {
	assert.Zero(t, gweiToWei(2.5).Cmp(big.NewInt(2_500_000_000)))
	assert.Zero(t, gweiToWei(0).Sign())
}
