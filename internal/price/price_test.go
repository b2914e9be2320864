package price

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var wethAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")

func TestStaticQuote(t *testing.T) {
	s, err := NewStatic(8, []AssetPrice{
		{Asset: wethAddr.Hex(), Decimals: 18, PriceUSD: 2000_0000_0000},
	})
	if err != nil {
		t.Fatalf("new static: %v", err)
	}
	if s.Exponent() != 8 {
		t.Fatalf("exponent = %d, want 8", s.Exponent())
	}

	// 1.5 tokens at 2000 USD.
	amount, _ := new(big.Int).SetString("1500000000000000000", 10)
	quote, err := s.QuoteUSD(context.Background(), wethAddr, amount)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := new(big.Int).SetUint64(3000_0000_0000)
	if quote.Cmp(want) != 0 {
		t.Fatalf("quote = %s, want %s", quote, want)
	}
}

func TestStaticQuoteUnknownAsset(t *testing.T) {
	s, err := NewStatic(8, nil)
	if err != nil {
		t.Fatalf("new static: %v", err)
	}
	if _, err := s.QuoteUSD(context.Background(), wethAddr, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for unpriced asset")
	}
}

func TestStaticRejectsBadAddress(t *testing.T) {
	if _, err := NewStatic(8, []AssetPrice{{Asset: "nope", Decimals: 18, PriceUSD: 1}}); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}

func TestScaleQuoteFloorsAndAbs(t *testing.T) {
	// 0.999... of a 6-decimal token at 1 USD floors to zero fractional cents.
	got := scaleQuote(big.NewInt(999_999), big.NewInt(100), 6)
	if got.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("floor division: got %s, want 99", got)
	}

	got = scaleQuote(big.NewInt(-1_000_000), big.NewInt(100), 6)
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("negative amount: got %s, want 100", got)
	}
}
