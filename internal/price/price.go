package price

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Normalizer quotes a raw ERC-20 amount in fixed-point USD. The ledger
// floor-divides the quote by 10^Exponent() to obtain whole USD.
type Normalizer interface {
	// QuoteUSD converts a raw token amount to USD at 10^Exponent() fixed
	// point. The quote is never negative.
	QuoteUSD(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
	// Exponent is the fixed-point exponent of QuoteUSD results.
	Exponent() uint8
}

// AssetPrice is one config-file price row for the static normalizer.
type AssetPrice struct {
	Asset    string `json:"asset" mapstructure:"asset"`
	Decimals uint8  `json:"decimals" mapstructure:"decimals"`
	// PriceUSD is the unit price at the normalizer's fixed-point exponent.
	PriceUSD uint64 `json:"price_usd" mapstructure:"price_usd"`
}

type staticEntry struct {
	decimals uint8
	priceUSD uint64
}

// Static is a config-driven Normalizer with fixed per-asset unit prices.
type Static struct {
	mu       sync.RWMutex
	data     map[common.Address]staticEntry
	exponent uint8
}

// NewStatic builds a static normalizer from config rows.
func NewStatic(exponent uint8, prices []AssetPrice) (*Static, error) {
	s := &Static{data: make(map[common.Address]staticEntry), exponent: exponent}
	for i, row := range prices {
		if !common.IsHexAddress(row.Asset) {
			return nil, fmt.Errorf("price %d: invalid asset address: %s", i, row.Asset)
		}
		s.data[common.HexToAddress(row.Asset)] = staticEntry{decimals: row.Decimals, priceUSD: row.PriceUSD}
	}
	return s, nil
}

// Set records or replaces the unit price for an asset.
func (s *Static) Set(asset common.Address, decimals uint8, priceUSD uint64) {
	s.mu.Lock()
	s.data[asset] = staticEntry{decimals: decimals, priceUSD: priceUSD}
	s.mu.Unlock()
}

func (s *Static) Exponent() uint8 {
	return s.exponent
}

func (s *Static) QuoteUSD(_ context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	s.mu.RLock()
	entry, ok := s.data[asset]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no price for asset %s", asset.Hex())
	}
	return scaleQuote(amount, new(big.Int).SetUint64(entry.priceUSD), entry.decimals), nil
}

// scaleQuote computes |amount| * unitPrice / 10^decimals with floor division.
func scaleQuote(amount *big.Int, unitPrice *big.Int, decimals uint8) *big.Int {
	quote := new(big.Int).Abs(amount)
	quote.Mul(quote, unitPrice)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return quote.Div(quote, scale)
}
