// Package onchain wraps batched JSON-RPC reads against pool, token and
// bridge contracts. Every operation issues a single BatchCallContext round;
// each address in the batch succeeds or fails independently so a reverting
// contract never aborts the round.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"dexstats/internal/pkg/utils"
)

// maxCallBatch caps one BatchCallContext round; public RPC endpoints reject
// oversized batches.
const maxCallBatch = 200

// Minimal ABI fragments for every view call the engine issues.
const readerABI = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"slot0","outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalMinted","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"calculatePrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	parsedABI     abi.ABI
	parsedABIOnce sync.Once
)

func initParsedABI() {
	parsedABIOnce.Do(func() {
		var err error
		parsedABI, err = abi.JSON(strings.NewReader(readerABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse reader ABI: %v", err))
		}
	})
}

// Uint256Result is one per-address result of a batched uint256 view call.
// OK is false when the individual call failed or returned undecodable data.
type Uint256Result struct {
	Value *big.Int
	OK    bool
}

// ReservesResult is one per-pair result of a batched getReserves call.
type ReservesResult struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
	OK       bool
}

// BalanceQuery asks for the ERC20 balance of Holder in Token.
type BalanceQuery struct {
	Token  string
	Holder string
}

// Reader is the batched-read collaborator consumed by the engine. Result
// slices are parallel to the input slices.
type Reader interface {
	// SqrtPrices returns the current slot0 sqrtPriceX96 of each pool.
	SqrtPrices(ctx context.Context, pools []string) ([]Uint256Result, error)
	// Balances returns ERC20 balances for each (token, holder) query.
	Balances(ctx context.Context, queries []BalanceQuery) ([]Uint256Result, error)
	// Reserves returns constant-product pair reserves.
	Reserves(ctx context.Context, pairs []string) ([]ReservesResult, error)
	// TotalSupplies returns ERC20 total supplies.
	TotalSupplies(ctx context.Context, tokens []string) ([]Uint256Result, error)
	// BridgeMinted returns each bridge contract's minted counter.
	BridgeMinted(ctx context.Context, bridges []string) ([]Uint256Result, error)
	// EquityPrice reads the equity token's computed price accessor.
	EquityPrice(ctx context.Context, token string) (Uint256Result, error)
}

// Client implements Reader over one chain's RPC endpoint.
type Client struct {
	ethClient      *ethclient.Client
	rpcCallTimeout time.Duration
}

// NewClient dials the RPC endpoint and returns a batched reader for it.
func NewClient(rpcURL string, connectTimeout, rpcCallTimeout time.Duration) (*Client, error) {
	initParsedABI()
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	return &Client{ethClient: client, rpcCallTimeout: rpcCallTimeout}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ethClient.Close()
}

func (c *Client) callBatch(ctx context.Context, targets []string, data [][]byte) ([]hexutil.Bytes, []error, error) {
	raw := make([]hexutil.Bytes, len(targets))
	errs := make([]error, len(targets))

	rpcCallCtx, cancel := context.WithTimeout(ctx, c.rpcCallTimeout)
	defer cancel()

	offset := 0
	for _, batch := range utils.BatchStrings(targets, maxCallBatch) {
		batchElems := make([]rpc.BatchElem, len(batch))
		for i, target := range batch {
			callArgs := map[string]interface{}{
				"to":   common.HexToAddress(target),
				"data": hexutil.Bytes(data[offset+i]),
			}
			batchElems[i] = rpc.BatchElem{
				Method: "eth_call",
				Args:   []interface{}{callArgs, "latest"},
				Result: &raw[offset+i],
			}
		}
		if err := c.ethClient.Client().BatchCallContext(rpcCallCtx, batchElems); err != nil {
			return nil, nil, fmt.Errorf("RPC batch call failed: %w", err)
		}
		for i, elem := range batchElems {
			errs[offset+i] = elem.Error
		}
		offset += len(batch)
	}
	return raw, errs, nil
}

func (c *Client) uint256Batch(ctx context.Context, method string, targets []string, data [][]byte) ([]Uint256Result, error) {
	raw, errs, err := c.callBatch(ctx, targets, data)
	if err != nil {
		return nil, err
	}
	results := make([]Uint256Result, len(targets))
	for i := range targets {
		if errs[i] != nil || len(raw[i]) == 0 {
			continue
		}
		unpacked, err := parsedABI.Unpack(method, raw[i])
		if err != nil || len(unpacked) == 0 {
			continue
		}
		value, ok := unpacked[0].(*big.Int)
		if !ok {
			continue
		}
		results[i] = Uint256Result{Value: value, OK: true}
	}
	return results, nil
}

// SqrtPrices implements Reader.
func (c *Client) SqrtPrices(ctx context.Context, pools []string) ([]Uint256Result, error) {
	if len(pools) == 0 {
		return []Uint256Result{}, nil
	}
	callData := parsedABI.Methods["slot0"].ID
	data := make([][]byte, len(pools))
	for i := range pools {
		data[i] = callData
	}
	// slot0 returns a tuple; sqrtPriceX96 is the first word.
	return c.uint256Batch(ctx, "slot0", pools, data)
}

// Balances implements Reader.
func (c *Client) Balances(ctx context.Context, queries []BalanceQuery) ([]Uint256Result, error) {
	if len(queries) == 0 {
		return []Uint256Result{}, nil
	}
	methodID := parsedABI.Methods["balanceOf"].ID
	targets := make([]string, len(queries))
	data := make([][]byte, len(queries))
	for i, q := range queries {
		targets[i] = q.Token
		padded := common.LeftPadBytes(common.HexToAddress(q.Holder).Bytes(), 32)
		data[i] = append(append([]byte{}, methodID...), padded...)
	}
	return c.uint256Batch(ctx, "balanceOf", targets, data)
}

// Reserves implements Reader.
func (c *Client) Reserves(ctx context.Context, pairs []string) ([]ReservesResult, error) {
	if len(pairs) == 0 {
		return []ReservesResult{}, nil
	}
	callData := parsedABI.Methods["getReserves"].ID
	data := make([][]byte, len(pairs))
	for i := range pairs {
		data[i] = callData
	}
	raw, errs, err := c.callBatch(ctx, pairs, data)
	if err != nil {
		return nil, err
	}
	results := make([]ReservesResult, len(pairs))
	for i := range pairs {
		if errs[i] != nil || len(raw[i]) == 0 {
			continue
		}
		unpacked, err := parsedABI.Unpack("getReserves", raw[i])
		if err != nil || len(unpacked) < 2 {
			continue
		}
		r0, ok0 := unpacked[0].(*big.Int)
		r1, ok1 := unpacked[1].(*big.Int)
		if !ok0 || !ok1 {
			continue
		}
		results[i] = ReservesResult{Reserve0: r0, Reserve1: r1, OK: true}
	}
	return results, nil
}

// TotalSupplies implements Reader.
func (c *Client) TotalSupplies(ctx context.Context, tokens []string) ([]Uint256Result, error) {
	if len(tokens) == 0 {
		return []Uint256Result{}, nil
	}
	callData := parsedABI.Methods["totalSupply"].ID
	data := make([][]byte, len(tokens))
	for i := range tokens {
		data[i] = callData
	}
	return c.uint256Batch(ctx, "totalSupply", tokens, data)
}

// BridgeMinted implements Reader.
func (c *Client) BridgeMinted(ctx context.Context, bridges []string) ([]Uint256Result, error) {
	if len(bridges) == 0 {
		return []Uint256Result{}, nil
	}
	callData := parsedABI.Methods["totalMinted"].ID
	data := make([][]byte, len(bridges))
	for i := range bridges {
		data[i] = callData
	}
	return c.uint256Batch(ctx, "totalMinted", bridges, data)
}

// EquityPrice implements Reader.
func (c *Client) EquityPrice(ctx context.Context, token string) (Uint256Result, error) {
	callData := parsedABI.Methods["calculatePrice"].ID
	results, err := c.uint256Batch(ctx, "calculatePrice", []string{token}, [][]byte{callData})
	if err != nil {
		return Uint256Result{}, err
	}
	return results[0], nil
}
