package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceQuote is a best-effort spot price for one token on one venue,
// denominated in the settlement currency (USDT).
type PriceQuote struct {
	Venue string
	Token string
	Price float64
	Ts    time.Time
}

// DexQuote is a DEX-side price observation plus everything the executor
// needs to replay the trade. Price is denominated in the network's base
// asset per one token unit, not in USDT.
type DexQuote struct {
	Token        string
	Network      string
	Price        float64
	AmountIn     *big.Int // sized input in wei
	TokenAddress common.Address
	Path         []common.Address
	Ts           time.Time
}

// Opportunity is a single qualifying CEX/DEX spread picked by the detector.
// Margin is the fraction (cex - dexInUSDT) / cex.
type Opportunity struct {
	Token  string
	CEX    string
	Margin float64
	Quote  DexQuote
	Ts     time.Time
}

// PendingSettlement identifies one in-flight swap awaiting CEX
// confirmation. AmountIn is the base asset actually spent, used for
// the final profit record.
type PendingSettlement struct {
	TxID        string
	SubmittedAt time.Time
	Token       string
	AmountIn    float64
}

// Deposit statuses as reported by the custodial exchange.
const (
	DepositPending   = 0
	DepositConfirmed = 1
)

// DepositRecord is a read-only fact from the CEX deposit history.
type DepositRecord struct {
	TxID   string
	Coin   string
	Amount float64
	Status int
}

// Fill is one executed slice of a market order.
type Fill struct {
	Price float64
	Qty   float64
}
