// Package types holds the shared vocabulary of the gateway: symbols, precision
// metadata, margin tiers, normalized orders, and TWAP tasks. Nothing in this
// package talks to the network or the filesystem; it is imported by every
// other internal package.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Network selects which margin-tier table and upstream endpoint are active.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Symbol is a canonical trading symbol, e.g. "BTC-PERP". Equality is
// case-insensitive on the upper-case form; use Canonical to normalize before
// comparing or using as a map key.
type Symbol string

const perpSuffix = "-PERP"
const spotSuffix = "-SPOT"

// Canonical upper-cases the symbol and, if it carries neither a -PERP nor a
// -SPOT suffix, appends -PERP (every symbol in this gateway is a perpetual
// unless explicitly marked spot).
func (s Symbol) Canonical() Symbol {
	up := Symbol(strings.ToUpper(string(s)))
	if strings.HasSuffix(string(up), perpSuffix) || strings.HasSuffix(string(up), spotSuffix) {
		return up
	}
	return up + Symbol(perpSuffix)
}

// Base strips any -PERP/-SPOT suffix, returning the underlying asset name.
func (s Symbol) Base() Symbol {
	up := Symbol(strings.ToUpper(string(s)))
	up = Symbol(strings.TrimSuffix(string(up), perpSuffix))
	up = Symbol(strings.TrimSuffix(string(up), spotSuffix))
	return up
}

// IsPerp reports whether the canonical form of s carries the -PERP suffix.
func (s Symbol) IsPerp() bool {
	return strings.HasSuffix(string(s.Canonical()), perpSuffix)
}

// Side is the direction of an order. Buy is treated as "long" throughout the
// liquidation math; sell as "short".
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// TimeInForce governs resting-order behavior for Limit orders.
type TimeInForce string

const (
	Gtc TimeInForce = "Gtc"
	Ioc TimeInForce = "Ioc"
	Alo TimeInForce = "Alo"
)

// TpslKind distinguishes take-profit from stop-loss triggers.
type TpslKind string

const (
	TakeProfit TpslKind = "tp"
	StopLoss   TpslKind = "sl"
)

// LimitParams is the Limit variant of OrderType.
type LimitParams struct {
	Tif TimeInForce
}

// TriggerParams is the Trigger variant of OrderType.
type TriggerParams struct {
	TriggerPx decimal.Decimal
	IsMarket  bool
	Tpsl      TpslKind
}

// OrderType is a tagged union: exactly one of Limit or Trigger is non-nil.
// Exhaustive handling lives in the order pipeline's serializer switch, not in
// per-type methods here.
type OrderType struct {
	Limit   *LimitParams
	Trigger *TriggerParams
}

// NewLimitOrderType builds a Limit order type with the given time-in-force.
func NewLimitOrderType(tif TimeInForce) OrderType {
	return OrderType{Limit: &LimitParams{Tif: tif}}
}

// NewTriggerOrderType builds a Trigger order type.
func NewTriggerOrderType(triggerPx decimal.Decimal, isMarket bool, tpsl TpslKind) OrderType {
	return OrderType{Trigger: &TriggerParams{TriggerPx: triggerPx, IsMarket: isMarket, Tpsl: tpsl}}
}

// IsTrigger reports whether this order type is the Trigger variant.
func (o OrderType) IsTrigger() bool {
	return o.Trigger != nil
}

// Order is a single normalized order as understood by the order pipeline.
// Price is nil when the caller wants the pipeline to synthesize one (market
// orders, or a limit order submitted with a zero/absent price).
type Order struct {
	Symbol     Symbol
	Side       Side
	Size       decimal.Decimal
	Price      *decimal.Decimal
	ReduceOnly bool
	OrderType  OrderType
	ClientID   string
}

// Grouping is the upstream batch-grouping tag.
type Grouping string

const (
	GroupingNa         Grouping = "na"
	GroupingNormalTpsl Grouping = "normalTpsl"
)

// OrderBatch is a non-empty list of orders sharing one grouping tag.
type OrderBatch struct {
	Orders   []Order
	Grouping Grouping
}

// NewOrderBatch builds a batch and derives its grouping tag: any Trigger
// order in a batch of length > 1 forces NormalTpsl, otherwise Na.
func NewOrderBatch(orders []Order) OrderBatch {
	grouping := GroupingNa
	if len(orders) > 1 {
		for _, o := range orders {
			if o.OrderType.IsTrigger() {
				grouping = GroupingNormalTpsl
				break
			}
		}
	}
	return OrderBatch{Orders: orders, Grouping: grouping}
}

// PrecisionSpec describes the decimal precision rules for one symbol.
type PrecisionSpec struct {
	Symbol     Symbol
	SzDecimals int
	PxDecimals int // upstream-reported, passthrough only; never feeds R2
	IsPerp     bool
}

// SizeTick returns the minimum size increment, 10^-SzDecimals.
func (p PrecisionSpec) SizeTick() decimal.Decimal {
	return decimal.New(1, int32(-p.SzDecimals))
}

// MinOrderSize is the smallest representable order size for this symbol.
func (p PrecisionSpec) MinOrderSize() decimal.Decimal {
	return p.SizeTick()
}

// Global constants governing price formatting (PriceRules).
const (
	MaxDecimalsPerp      = 6
	MaxDecimalsSpot      = 8
	MaxSignificantDigits = 5
)

// MaxDecimals returns the applicable decimal ceiling constant for isPerp.
func MaxDecimals(isPerp bool) int {
	if isPerp {
		return MaxDecimalsPerp
	}
	return MaxDecimalsSpot
}

// MarginTier is one rung of a per-symbol leverage schedule.
type MarginTier struct {
	LowerBound  decimal.Decimal
	MaxLeverage int
}

// MaintenanceScheduleTier is the derived, continuous form of a MarginTier:
// rate = 1/(2*maxLeverage), deduction built recursively so maintenance
// margin is piecewise-linear and continuous across tier boundaries.
type MaintenanceScheduleTier struct {
	LowerBound float64
	Rate       float64
	Deduction  float64
}

// BuildMaintenanceSchedule derives a continuous MaintenanceScheduleTier table
// from an ordered list of MarginTiers (first tier's LowerBound MUST be 0).
func BuildMaintenanceSchedule(tiers []MarginTier) []MaintenanceScheduleTier {
	out := make([]MaintenanceScheduleTier, len(tiers))
	var prevRate, prevDeduction float64
	for i, t := range tiers {
		lower, _ := t.LowerBound.Float64()
		rate := 1.0 / (2.0 * float64(t.MaxLeverage))
		var deduction float64
		if i > 0 {
			deduction = prevDeduction + lower*(rate-prevRate)
		}
		out[i] = MaintenanceScheduleTier{LowerBound: lower, Rate: rate, Deduction: deduction}
		prevRate, prevDeduction = rate, deduction
	}
	return out
}

// PricePoint is one symbol's entry in a PriceSnapshot.
type PricePoint struct {
	Price     decimal.Decimal
	Timestamp int64 // unix millis
}

// PriceSnapshot is an immutable mapping from Symbol to PricePoint, the sole
// shared-mutable state of the Price Tape (mutability lives in the holder,
// not in this value — snapshots themselves are swapped wholesale).
type PriceSnapshot struct {
	Prices    map[Symbol]PricePoint
	Network   Network
	Timestamp time.Time
}

// Mid returns the mid price for symbol and whether it was present.
func (s PriceSnapshot) Mid(sym Symbol) (decimal.Decimal, bool) {
	if s.Prices == nil {
		return decimal.Zero, false
	}
	p, ok := s.Prices[sym.Canonical()]
	return p.Price, ok
}

// TwapStatus is the lifecycle state of a TwapTask.
type TwapStatus string

const (
	TwapActive    TwapStatus = "active"
	TwapCompleted TwapStatus = "completed"
	TwapFailed    TwapStatus = "failed"
	TwapCancelled TwapStatus = "cancelled"
)

// SubOrderResult records the outcome of one executed sub-order.
type SubOrderResult struct {
	Index      int
	Ok         bool
	Error      string
	ExecutedAt time.Time
	Size       decimal.Decimal
}

// TwapTask is a scheduled parent order split into sized sub-orders.
type TwapTask struct {
	ID     int64
	Symbol Symbol
	Side   Side

	// Immutable configuration.
	TotalSize       decimal.Decimal
	Intervals       int
	DurationMinutes int
	ReduceOnly      bool
	SubOrderSizes   []decimal.Decimal
	SizeIncrement   decimal.Decimal
	SizePrecision   int
	MinOrderSize    decimal.Decimal

	// Mutable lifecycle state.
	Status          TwapStatus
	CompletedOrders int
	FailedOrders    int
	Results         []SubOrderResult
	CreatedAt       time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}
