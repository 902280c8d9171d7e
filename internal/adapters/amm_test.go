package adapters

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestQuoteOut_ConstantProduct(t *testing.T) {
	// 1000 in, reserves 100_000 / 200_000: out = 997*1000*200000 / (100000*1000 + 997*1000)
	amountIn := big.NewInt(1000)
	reserveIn := big.NewInt(100_000)
	reserveOut := big.NewInt(200_000)

	got := QuoteOut(amountIn, reserveIn, reserveOut)
	want := big.NewInt(1974) // floor(199400000000 / 100997000)
	if got.Cmp(want) != 0 {
		t.Errorf("QuoteOut = %s, want %s", got, want)
	}
}

func TestQuoteOut_ZeroCases(t *testing.T) {
	zero := big.NewInt(0)
	if QuoteOut(zero, big.NewInt(10), big.NewInt(10)).Sign() != 0 {
		t.Error("zero input must quote zero")
	}
	if QuoteOut(big.NewInt(5), zero, big.NewInt(10)).Sign() != 0 {
		t.Error("empty reserve must quote zero")
	}
	if QuoteOut(nil, big.NewInt(10), big.NewInt(10)).Sign() != 0 {
		t.Error("nil input must quote zero")
	}
}

func TestToFloat(t *testing.T) {
	wei := new(big.Int)
	wei.SetString("1500000000000000000", 10)
	if got := ToFloat(wei, 18); got != 1.5 {
		t.Errorf("ToFloat(1.5e18, 18) = %f", got)
	}
	if got := ToFloat(big.NewInt(123456), 6); got != 0.123456 {
		t.Errorf("ToFloat(123456, 6) = %f", got)
	}
	if got := ToFloat(nil, 18); got != 0 {
		t.Errorf("ToFloat(nil) = %f", got)
	}
}

func TestLPValueUSD(t *testing.T) {
	state := PairState{
		Reserve0:    big.NewInt(1_000_000), // 1.0 with 6 decimals
		Reserve1:    new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		TotalSupply: big.NewInt(100),
	}
	// Holder owns half the supply. Reserves worth 1*1.0 + 2*0.5 = 2 USD.
	got := LPValueUSD(state, big.NewInt(50), 1.0, 0.5, 6, 18)
	if got < 0.999 || got > 1.001 {
		t.Errorf("LPValueUSD = %f, want 1.0", got)
	}

	if LPValueUSD(state, big.NewInt(0), 1, 1, 6, 18) != 0 {
		t.Error("zero balance must be worth zero")
	}
	if LPValueUSD(PairState{TotalSupply: big.NewInt(0)}, big.NewInt(1), 1, 1, 6, 18) != 0 {
		t.Error("zero supply must not divide")
	}
}

func TestHealthFactor(t *testing.T) {
	hf, ok := HealthFactor(1500, 1000)
	if !ok || hf != 1.5 {
		t.Errorf("HealthFactor = %f ok=%v, want 1.5 true", hf, ok)
	}
	if _, ok := HealthFactor(1500, 0); ok {
		t.Error("zero borrows must report the infinite sentinel")
	}
}

func TestSwapCalldata_Selector(t *testing.T) {
	path := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
	data, err := SwapCalldata(big.NewInt(1000), big.NewInt(990), path, common.HexToAddress("0x3333333333333333333333333333333333333333"), big.NewInt(1_700_000_000))
	if err != nil {
		t.Fatal(err)
	}
	// swapExactTokensForTokens selector.
	want := [4]byte{0x38, 0xed, 0x17, 0x39}
	if [4]byte(data[:4]) != want {
		t.Errorf("selector = %x, want %x", data[:4], want)
	}
}

func TestApproveCalldata_Selector(t *testing.T) {
	data := ApproveCalldata(common.HexToAddress("0x4444444444444444444444444444444444444444"), big.NewInt(1))
	want := [4]byte{0x09, 0x5e, 0xa7, 0xb3}
	if [4]byte(data[:4]) != want {
		t.Errorf("selector = %x, want %x", data[:4], want)
	}
}

func TestAnnualizeRate(t *testing.T) {
	// 1e9 per block at 1e18 scale = 1e-9 per block.
	got := annualizeRate(big.NewInt(1_000_000_000))
	want := 1e-9 * blocksPerYear * 100
	if got < want*0.999 || got > want*1.001 {
		t.Errorf("annualizeRate = %g, want %g", got, want)
	}
}
