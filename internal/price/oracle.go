package price

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"creditScope/internal/chain"
)

// Aave-style price oracles quote the base currency with 8 fractional digits.
const oracleExponent = 8

const oracleABIJSON = `[
  {
    "inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
    "name": "getAssetPrice",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const decimalsABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var (
	oracleABI       abi.ABI
	oracleABIOnce   sync.Once
	oracleABIErr    error
	decimalsABI     abi.ABI
	decimalsABIOnce sync.Once
	decimalsABIErr  error
)

func getOracleABI() (abi.ABI, error) {
	oracleABIOnce.Do(func() {
		oracleABI, oracleABIErr = abi.JSON(strings.NewReader(oracleABIJSON))
	})
	return oracleABI, oracleABIErr
}

func getDecimalsABI() (abi.ABI, error) {
	decimalsABIOnce.Do(func() {
		decimalsABI, decimalsABIErr = abi.JSON(strings.NewReader(decimalsABIJSON))
	})
	return decimalsABI, decimalsABIErr
}

// Oracle quotes assets against an on-chain price oracle exposing
// getAssetPrice(asset), with unit prices at 8 fixed-point digits. Token
// decimals are read once per asset and cached.
type Oracle struct {
	chainClient *chain.Client
	oracle      common.Address

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewOracle builds an oracle-backed normalizer. A zero oracle address is
// rejected.
func NewOracle(chainClient *chain.Client, oracle common.Address) (*Oracle, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if oracle == (common.Address{}) {
		return nil, fmt.Errorf("oracle address is zero")
	}
	return &Oracle{
		chainClient: chainClient,
		oracle:      oracle,
		decimals:    make(map[common.Address]uint8),
	}, nil
}

// Address returns the oracle contract address.
func (o *Oracle) Address() common.Address {
	return o.oracle
}

func (o *Oracle) Exponent() uint8 {
	return oracleExponent
}

func (o *Oracle) QuoteUSD(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	unitPrice, err := o.assetPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	decimals, err := o.assetDecimals(ctx, asset)
	if err != nil {
		return nil, err
	}
	return scaleQuote(amount, unitPrice, decimals), nil
}

func (o *Oracle) assetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	priceABI, err := getOracleABI()
	if err != nil {
		return nil, err
	}

	data, err := priceABI.Pack("getAssetPrice", asset)
	if err != nil {
		return nil, fmt.Errorf("pack getAssetPrice: %w", err)
	}

	oracle := o.oracle
	msg := ethereum.CallMsg{To: &oracle, Data: data}
	resp, err := o.chainClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAssetPrice %s: %w", asset.Hex(), err)
	}

	values, err := priceABI.Unpack("getAssetPrice", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack getAssetPrice: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected getAssetPrice arity: %d", len(values))
	}
	unitPrice, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAssetPrice type")
	}
	if unitPrice.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive price for asset %s", asset.Hex())
	}
	return unitPrice, nil
}

// assetDecimals reads and caches the token's decimals.
func (o *Oracle) assetDecimals(ctx context.Context, asset common.Address) (uint8, error) {
	o.mu.RLock()
	decimals, ok := o.decimals[asset]
	o.mu.RUnlock()
	if ok {
		return decimals, nil
	}

	decABI, err := getDecimalsABI()
	if err != nil {
		return 0, err
	}

	data, err := decABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}

	msg := ethereum.CallMsg{To: &asset, Data: data}
	resp, err := o.chainClient.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals %s: %w", asset.Hex(), err)
	}

	values, err := decABI.Unpack("decimals", resp)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unexpected decimals arity: %d", len(values))
	}
	decimals, ok = values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type")
	}

	o.mu.Lock()
	o.decimals[asset] = decimals
	o.mu.Unlock()

	return decimals, nil
}
