package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// aggregatorABIJSON covers the read methods of the on-chain metrics
// aggregator: a Chainlink-style latestAnswer plus a packed metrics tuple.
const aggregatorABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "token", "type": "address"}], "name": "latestAnswer", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "address", "name": "token", "type": "address"}], "name": "latestTimestamp", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "address", "name": "token", "type": "address"}], "name": "getTokenMetrics", "outputs": [
    {"internalType": "uint256", "name": "volume24h", "type": "uint256"},
    {"internalType": "uint256", "name": "liquidity", "type": "uint256"},
    {"internalType": "uint256", "name": "holders", "type": "uint256"},
    {"internalType": "uint256", "name": "marketCap", "type": "uint256"},
    {"internalType": "uint256", "name": "price", "type": "uint256"},
    {"internalType": "int256", "name": "priceChange24h", "type": "int256"},
    {"internalType": "uint256", "name": "lastUpdate", "type": "uint256"}
  ], "stateMutability": "view", "type": "function"}
]`

var (
	aggregatorABI    abi.ABI
	aggregatorOnce   sync.Once
	aggregatorABIErr error
)

func getAggregatorABI() (abi.ABI, error) {
	aggregatorOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// ChainFeed reads prices and metrics from an on-chain aggregator contract via
// eth_call, retrying transient RPC failures with exponential backoff.
type ChainFeed struct {
	rpcClient  *rpc.Client
	ethClient  *ethclient.Client
	aggregator common.Address

	maxRetries int
	backoff    time.Duration

	mu      sync.RWMutex
	tracked map[string]struct{}
}

// NewChainFeed dials the RPC endpoint and binds the aggregator address.
func NewChainFeed(ctx context.Context, rpcURL, aggregatorAddr string, maxRetries int, backoff time.Duration) (*ChainFeed, error) {
	if !common.IsHexAddress(aggregatorAddr) {
		return nil, fmt.Errorf("invalid aggregator address: %s", aggregatorAddr)
	}
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &ChainFeed{
		rpcClient:  rpcClient,
		ethClient:  ethclient.NewClient(rpcClient),
		aggregator: common.HexToAddress(aggregatorAddr),
		maxRetries: maxRetries,
		backoff:    backoff,
		tracked:    make(map[string]struct{}),
	}, nil
}

// Close closes the underlying RPC client.
func (f *ChainFeed) Close() {
	if f.rpcClient != nil {
		f.rpcClient.Close()
	}
}

func (f *ChainFeed) Track(asset string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked[asset] = struct{}{}
}

func (f *ChainFeed) CurrentPrice(ctx context.Context, asset string) (*big.Int, error) {
	if !common.IsHexAddress(asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	values, err := f.call(ctx, "latestAnswer", common.HexToAddress(asset))
	if err != nil {
		return nil, err
	}
	price, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("latestAnswer unexpected type %T", values[0])
	}
	return price, nil
}

func (f *ChainFeed) GetMetrics(ctx context.Context, asset string) (Metrics, error) {
	if !common.IsHexAddress(asset) {
		return Metrics{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	values, err := f.call(ctx, "getTokenMetrics", common.HexToAddress(asset))
	if err != nil {
		return Metrics{}, err
	}
	if len(values) != 7 {
		return Metrics{}, fmt.Errorf("getTokenMetrics return size %d", len(values))
	}

	metrics := Metrics{}
	fields := []**big.Int{&metrics.Volume24h, &metrics.Liquidity}
	for i, target := range fields {
		v, ok := values[i].(*big.Int)
		if !ok {
			return Metrics{}, fmt.Errorf("getTokenMetrics field %d unexpected type %T", i, values[i])
		}
		*target = v
	}
	holders, ok := values[2].(*big.Int)
	if !ok {
		return Metrics{}, fmt.Errorf("getTokenMetrics holders unexpected type %T", values[2])
	}
	metrics.Holders = holders.Uint64()
	for i, target := range []**big.Int{&metrics.MarketCap, &metrics.Price} {
		v, ok := values[3+i].(*big.Int)
		if !ok {
			return Metrics{}, fmt.Errorf("getTokenMetrics field %d unexpected type %T", 3+i, values[3+i])
		}
		*target = v
	}
	change, ok := values[5].(*big.Int)
	if !ok {
		return Metrics{}, fmt.Errorf("getTokenMetrics change unexpected type %T", values[5])
	}
	metrics.PriceChange24hBps = change.Int64()
	last, ok := values[6].(*big.Int)
	if !ok {
		return Metrics{}, fmt.Errorf("getTokenMetrics lastUpdate unexpected type %T", values[6])
	}
	metrics.LastUpdate = last.Int64()

	return metrics, nil
}

func (f *ChainFeed) IsFresh(asset string, maxAgeSecs int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !common.IsHexAddress(asset) {
		return false
	}
	values, err := f.call(ctx, "latestTimestamp", common.HexToAddress(asset))
	if err != nil {
		return false
	}
	ts, ok := values[0].(*big.Int)
	if !ok {
		return false
	}
	return time.Now().Unix()-ts.Int64() <= maxAgeSecs
}

func (f *ChainFeed) call(ctx context.Context, method string, token common.Address) ([]interface{}, error) {
	aggABI, err := getAggregatorABI()
	if err != nil {
		return nil, err
	}
	data, err := aggABI.Pack(method, token)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &f.aggregator, Data: data}
	var resp []byte
	err = withRetry(ctx, f.maxRetries, f.backoff, func(ctx context.Context) error {
		var callErr error
		resp, callErr = f.ethClient.CallContract(ctx, msg, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := aggABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}
