// Package multicall batches read-only contract calls through the
// Multicall3 contract, one RPC round trip for the whole set.
package multicall

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal ABI for Multicall3.tryAggregate.
const tryAggregateABI = `[
    {"inputs":[{"internalType":"bool","name":"requireSuccess","type":"bool"},{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call[]","name":"calls","type":"tuple[]"}],"name":"tryAggregate","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}
]`

type Call struct {
	Target   common.Address
	CallData []byte
}

type Result struct {
	Success bool
	Data    []byte
}

type Caller struct {
	ec   *ethclient.Client
	addr common.Address
	abi  abi.ABI
}

func New(ec *ethclient.Client, addr common.Address) (*Caller, error) {
	parsed, err := abi.JSON(strings.NewReader(tryAggregateABI))
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}
	return &Caller{ec: ec, addr: addr, abi: parsed}, nil
}

// Try executes the calls in one batch. A failing call yields a Result
// with Success false instead of failing the batch.
func (c *Caller) Try(ctx context.Context, calls []Call) ([]Result, error) {
	input, err := c.abi.Pack("tryAggregate", false, calls)
	if err != nil {
		return nil, fmt.Errorf("pack tryAggregate: %w", err)
	}

	ret, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call multicall: %w", err)
	}

	results, err := c.decode(ret)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}

func (c *Caller) decode(ret []byte) ([]Result, error) {
	out, err := c.abi.Unpack("tryAggregate", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack tryAggregate: %w", err)
	}

	raw := abi.ConvertType(out[0], new([]struct {
		Success    bool
		ReturnData []byte
	})).(*[]struct {
		Success    bool
		ReturnData []byte
	})

	results := make([]Result, len(*raw))
	for i, r := range *raw {
		results[i] = Result{Success: r.Success, Data: r.ReturnData}
	}
	return results, nil
}
