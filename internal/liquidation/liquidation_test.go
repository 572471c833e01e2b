package liquidation

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"perp-gateway/pkg/types"
)

func ptr(f float64) *float64 { return &f }

func TestCalculateBTCLongIsolated(t *testing.T) {
	t.Parallel()

	positionSize := 0.1
	isolatedMargin := 1000.0

	in := Input{
		EntryPrice:     100000,
		Leverage:       10,
		Side:           types.Buy,
		Symbol:         "BTC-PERP",
		MarginMode:     Isolated,
		PositionSize:   &positionSize,
		IsolatedMargin: &isolatedMargin,
		MarginTiers: []types.MarginTier{
			{LowerBound: decimal.NewFromInt(0), MaxLeverage: 40},
			{LowerBound: decimal.NewFromInt(150000), MaxLeverage: 20},
		},
	}

	res, err := Calculate(in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if math.Abs(res.LiquidationPrice-91139.24) > 0.05 {
		t.Errorf("LiquidationPrice = %v, want ~91139.24", res.LiquidationPrice)
	}
	if res.Iterations > maxIterations {
		t.Errorf("Iterations = %d, want <= %d", res.Iterations, maxIterations)
	}
}

func TestCalculateLeverageIgnoredWithExplicitSizeAndMargin(t *testing.T) {
	t.Parallel()

	positionSize := 0.1
	isolatedMargin := 1000.0

	base := Input{
		EntryPrice:     100000,
		Leverage:       10,
		Side:           types.Buy,
		Symbol:         "BTC-PERP",
		MarginMode:     Isolated,
		PositionSize:   &positionSize,
		IsolatedMargin: &isolatedMargin,
		MarginTiers: []types.MarginTier{
			{LowerBound: decimal.NewFromInt(0), MaxLeverage: 40},
		},
	}

	lowLev, err := Calculate(base)
	if err != nil {
		t.Fatalf("Calculate(10x): %v", err)
	}

	highLevInput := base
	highLevInput.Leverage = 40
	highLev, err := Calculate(highLevInput)
	if err != nil {
		t.Fatalf("Calculate(40x): %v", err)
	}

	// Leverage here only affects the margin-derived equity path, not an
	// explicit isolatedMargin; with isolatedMargin fixed, liquidation price
	// is identical across leverage since it is not an input to the formula
	// once positionSize/equity are both explicit. This sanity-checks the
	// engine is deterministic and side-effect free across repeated calls.
	if lowLev.LiquidationPrice != highLev.LiquidationPrice {
		t.Errorf("expected identical liq price with fixed positionSize/equity, got %v vs %v", lowLev.LiquidationPrice, highLev.LiquidationPrice)
	}
}

func TestCalculateRejectsNonPositiveEntryPrice(t *testing.T) {
	t.Parallel()

	_, err := Calculate(Input{EntryPrice: 0, Leverage: 10, Side: types.Buy, MarginMode: Cross, FallbackRate: 0.05, AccountValue: ptr(100)})
	if err == nil {
		t.Fatal("expected error for entryPrice <= 0")
	}
}

func TestCalculateRejectsFallbackRateOutOfRange(t *testing.T) {
	t.Parallel()

	_, err := Calculate(Input{EntryPrice: 100, Leverage: 10, Side: types.Buy, MarginMode: Cross, FallbackRate: 1.5, AccountValue: ptr(100)})
	if err == nil {
		t.Fatal("expected error for fallbackRate outside (0,1)")
	}
}

func TestCalculateCrossBackfillsPositionSize(t *testing.T) {
	t.Parallel()

	accountValue := 5000.0
	in := Input{
		EntryPrice:   50000,
		Leverage:     10,
		Side:         types.Buy,
		MarginMode:   Cross,
		AccountValue: &accountValue,
		FallbackRate: 0.05,
	}

	res, err := Calculate(in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if res.PositionSize <= 0 {
		t.Errorf("expected backfilled positive positionSize, got %v", res.PositionSize)
	}
	if res.LiquidationPrice <= 0 {
		t.Errorf("expected a positive liquidation price, got %v", res.LiquidationPrice)
	}
}
