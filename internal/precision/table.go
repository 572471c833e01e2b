// Package precision implements the gateway's precision and margin-tier
// tables (component A): per-symbol size/price decimals, tick sizes, and
// margin-tier schedules for mainnet/testnet, plus the price/size formatting
// rules (R1-R3) every other component relies on. The table is seeded with
// built-in defaults and primed from upstream meta once the Price Tape's
// first poll completes; it is process-wide read-only from every caller's
// point of view other than the priming writer.
package precision

import (
	"sync"

	"github.com/shopspring/decimal"

	"perp-gateway/pkg/types"
)

// defaultFallbackSpec is used for any symbol with no known precision entry.
var defaultFallbackSpec = types.PrecisionSpec{SzDecimals: 3, PxDecimals: 1, IsPerp: true}

// defaultTick is the tick size applied to symbols with no per-symbol entry.
var defaultTick = decimal.New(1, -2) // 0.01

// unknownSymbolTiers is the single-tier fallback schedule for a symbol with
// no known margin-tier table: maxLeverage 10 gives rate 1/(2*10) = 1/20,
// matching the "1/20 for wholly unknown symbols" contract.
var unknownSymbolTiers = []types.MarginTier{
	{LowerBound: decimal.Zero, MaxLeverage: 10},
}

// builtinPrecision seeds the table with a handful of well-known perpetuals.
// Values follow the conventions observed across the pack's Hyperliquid-style
// reference files: low szDecimals for high-price assets, higher for
// low-price/high-supply assets.
var builtinPrecision = map[types.Symbol]types.PrecisionSpec{
	"BTC-PERP":  {SzDecimals: 5, PxDecimals: 1, IsPerp: true},
	"ETH-PERP":  {SzDecimals: 4, PxDecimals: 2, IsPerp: true},
	"SOL-PERP":  {SzDecimals: 2, PxDecimals: 3, IsPerp: true},
	"DOGE-PERP": {SzDecimals: 0, PxDecimals: 6, IsPerp: true},
	"AVAX-PERP": {SzDecimals: 2, PxDecimals: 3, IsPerp: true},
	"ARB-PERP":  {SzDecimals: 1, PxDecimals: 4, IsPerp: true},
}

var builtinTicks = map[types.Symbol]decimal.Decimal{
	"BTC-PERP":  decimal.New(1, 0),
	"ETH-PERP":  decimal.New(1, -2),
	"SOL-PERP":  decimal.New(1, -3),
	"DOGE-PERP": decimal.New(1, -6),
	"AVAX-PERP": decimal.New(1, -3),
	"ARB-PERP":  decimal.New(1, -4),
}

// builtinMarginTiers is the static mainnet/testnet margin-tier table. Real
// deployments prime additional symbols from upstream meta; this is the
// built-in floor for well-known assets and the two seed tests' fixtures.
var builtinMarginTiers = map[types.Network]map[types.Symbol][]types.MarginTier{
	types.Mainnet: {
		"BTC-PERP": {
			{LowerBound: decimal.NewFromInt(0), MaxLeverage: 40},
			{LowerBound: decimal.NewFromInt(150000), MaxLeverage: 20},
			{LowerBound: decimal.NewFromInt(1000000), MaxLeverage: 10},
		},
		"ETH-PERP": {
			{LowerBound: decimal.NewFromInt(0), MaxLeverage: 25},
			{LowerBound: decimal.NewFromInt(100000), MaxLeverage: 15},
		},
	},
	types.Testnet: {
		"BTC-PERP": {
			{LowerBound: decimal.NewFromInt(0), MaxLeverage: 40},
			{LowerBound: decimal.NewFromInt(100000), MaxLeverage: 20},
		},
		"ETH-PERP": {
			{LowerBound: decimal.NewFromInt(0), MaxLeverage: 25},
		},
	},
}

// Table is the process-wide Precision & Tier Tables component. The zero
// value is not usable; construct with NewTable.
type Table struct {
	mu          sync.RWMutex
	specs       map[types.Symbol]types.PrecisionSpec
	ticks       map[types.Symbol]decimal.Decimal
	marginTiers map[types.Network]map[types.Symbol][]types.MarginTier
}

// NewTable builds a Table seeded with the built-in defaults above.
func NewTable() *Table {
	specs := make(map[types.Symbol]types.PrecisionSpec, len(builtinPrecision))
	for k, v := range builtinPrecision {
		specs[k] = v
	}
	ticks := make(map[types.Symbol]decimal.Decimal, len(builtinTicks))
	for k, v := range builtinTicks {
		ticks[k] = v
	}
	tiers := map[types.Network]map[types.Symbol][]types.MarginTier{
		types.Mainnet: cloneTierMap(builtinMarginTiers[types.Mainnet]),
		types.Testnet: cloneTierMap(builtinMarginTiers[types.Testnet]),
	}
	return &Table{specs: specs, ticks: ticks, marginTiers: tiers}
}

func cloneTierMap(src map[types.Symbol][]types.MarginTier) map[types.Symbol][]types.MarginTier {
	dst := make(map[types.Symbol][]types.MarginTier, len(src))
	for k, v := range src {
		cp := make([]types.MarginTier, len(v))
		copy(cp, v)
		dst[k] = cp
	}
	return dst
}

// GetPrecision returns the PrecisionSpec for symbol, falling back to the
// documented default (szDecimals=3, isPerp=true) for unlisted symbols.
func (t *Table) GetPrecision(symbol types.Symbol) types.PrecisionSpec {
	sym := symbol.Canonical()
	t.mu.RLock()
	defer t.mu.RUnlock()
	if spec, ok := t.specs[sym]; ok {
		return spec
	}
	fallback := defaultFallbackSpec
	fallback.Symbol = sym
	return fallback
}

// SetPrecision primes or overwrites a symbol's PrecisionSpec, used by the
// Price Tape when upstream meta reports a precision for a symbol.
func (t *Table) SetPrecision(symbol types.Symbol, spec types.PrecisionSpec) {
	sym := symbol.Canonical()
	spec.Symbol = sym
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specs[sym] = spec
}

// GetTickSize returns the per-symbol price tick, or the default if unlisted.
func (t *Table) GetTickSize(symbol types.Symbol) decimal.Decimal {
	sym := symbol.Canonical()
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tick, ok := t.ticks[sym]; ok {
		return tick
	}
	return defaultTick
}

// SetTickSize primes or overwrites a symbol's tick size.
func (t *Table) SetTickSize(symbol types.Symbol, tick decimal.Decimal) {
	sym := symbol.Canonical()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks[sym] = tick
}

// GetMarginTiers returns the ordered margin-tier table for symbol on
// network, falling back to the single-tier "wholly unknown" schedule.
func (t *Table) GetMarginTiers(symbol types.Symbol, network types.Network) []types.MarginTier {
	sym := symbol.Canonical()
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bySymbol, ok := t.marginTiers[network]; ok {
		if tiers, ok := bySymbol[sym]; ok {
			out := make([]types.MarginTier, len(tiers))
			copy(out, tiers)
			return out
		}
	}
	out := make([]types.MarginTier, len(unknownSymbolTiers))
	copy(out, unknownSymbolTiers)
	return out
}

// SetMarginTiers primes or overwrites a symbol's margin-tier table.
func (t *Table) SetMarginTiers(symbol types.Symbol, network types.Network, tiers []types.MarginTier) {
	sym := symbol.Canonical()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.marginTiers[network] == nil {
		t.marginTiers[network] = make(map[types.Symbol][]types.MarginTier)
	}
	cp := make([]types.MarginTier, len(tiers))
	copy(cp, tiers)
	t.marginTiers[network][sym] = cp
}

// GetMaintenanceSchedule derives the continuous MaintenanceScheduleTier
// table for symbol on network from its margin tiers.
func (t *Table) GetMaintenanceSchedule(symbol types.Symbol, network types.Network) []types.MaintenanceScheduleTier {
	return types.BuildMaintenanceSchedule(t.GetMarginTiers(symbol, network))
}

// GetMaintenanceMarginFraction returns the scalar fallback maintenance
// margin fraction for symbol: 1/(2*maxLeverage) of its top tier, or 1/20 for
// a wholly unknown symbol.
func (t *Table) GetMaintenanceMarginFraction(symbol types.Symbol, network types.Network) float64 {
	tiers := t.GetMarginTiers(symbol, network)
	if len(tiers) == 0 {
		return 1.0 / 20.0
	}
	top := tiers[len(tiers)-1]
	if top.MaxLeverage <= 0 {
		return 1.0 / 20.0
	}
	return 1.0 / (2.0 * float64(top.MaxLeverage))
}
