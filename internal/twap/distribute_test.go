package twap

import (
	"testing"

	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/pkg/types"
)

func btcSpec() types.PrecisionSpec {
	return types.PrecisionSpec{Symbol: "BTC-PERP", SzDecimals: 5, IsPerp: true}
}

func TestDistributeSizesFrontLoadsRemainder(t *testing.T) {
	t.Parallel()

	sizes, err := distributeSizes(decimal.NewFromFloat(1.00003), 4, btcSpec())
	if err != nil {
		t.Fatalf("distributeSizes: %v", err)
	}
	// totalUnits = 100003, base=25000, remainder=3 -> first 3 get 25001, last gets 25000.
	want := []string{"0.25001", "0.25001", "0.25001", "0.25000"}
	if len(sizes) != len(want) {
		t.Fatalf("got %d sizes, want %d", len(sizes), len(want))
	}
	for i, w := range want {
		if sizes[i].StringFixed(5) != w {
			t.Errorf("sizes[%d] = %s, want %s", i, sizes[i].StringFixed(5), w)
		}
	}
}

func TestDistributeSizesEvenSplit(t *testing.T) {
	t.Parallel()

	sizes, err := distributeSizes(decimal.NewFromFloat(1.0), 4, btcSpec())
	if err != nil {
		t.Fatalf("distributeSizes: %v", err)
	}
	for _, s := range sizes {
		if s.StringFixed(5) != "0.25000" {
			t.Errorf("size = %s, want 0.25000", s.StringFixed(5))
		}
	}
}

func TestDistributeSizesTooSmallForIntervals(t *testing.T) {
	t.Parallel()

	_, err := distributeSizes(decimal.NewFromFloat(0.00002), 4, btcSpec())
	if err == nil {
		t.Fatal("expected TwapSizeTooSmall error")
	}
	gwErr, ok := err.(*gatewayerr.Error)
	if !ok || gwErr.Kind != gatewayerr.KindTwapSizeTooSmall {
		t.Errorf("expected TwapSizeTooSmall, got %v", err)
	}
}

func TestDistributeSizesFloorsOnRoundingError(t *testing.T) {
	t.Parallel()

	// 0.3/0.00001 = 29999.999999999996 in float64 terms; decimal division
	// is exact here, so this exercises the plain-round path instead. Use a
	// spec whose increment does not evenly divide totalSize to exercise the
	// floor fallback.
	spec := types.PrecisionSpec{Symbol: "ETH-PERP", SzDecimals: 4, IsPerp: true}
	sizes, err := distributeSizes(decimal.NewFromFloat(1.00005), 2, spec)
	if err != nil {
		t.Fatalf("distributeSizes: %v", err)
	}
	total := decimal.Zero
	for _, s := range sizes {
		total = total.Add(s)
	}
	if total.GreaterThan(decimal.NewFromFloat(1.00005)) {
		t.Errorf("distributed total %s exceeds requested total", total)
	}
}
