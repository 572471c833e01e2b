// Package orderpipeline implements the Order Pipeline (component D): it
// normalizes, prices, and serializes orders before handing them to the
// upstream ExchangeTransport, and classifies upstream failures into the
// gateway's error taxonomy. Grounded in the pack's Hyperliquid-convention
// wire shape and the teacher's internal/exchange/client.go retry/timeout
// scaffolding (carried by internal/upstream, not duplicated here).
package orderpipeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/precision"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

// MinNotionalUSD is the shared $10 minimum order value enforced by both the
// Order Pipeline and the TWAP Scheduler's sub-order preconditions. One
// constant, two call sites, by explicit design: a TWAP sub-order is not
// held to a looser floor than a standalone order.
var MinNotionalUSD = decimal.NewFromInt(10)

var ioc80PercentBuffer = decimal.NewFromFloat(0.8)
var iocAggressiveBuyMultiplier = decimal.NewFromFloat(1.1)
var iocAggressiveSellMultiplier = decimal.NewFromFloat(0.9)

// fallbackPrices is the per-symbol synthetic price for an unpriced non-IOC
// order, and for an unpriced IOC order when no mid is available yet (e.g.
// before the Price Tape's first poll completes).
var fallbackPrices = map[types.Symbol]decimal.Decimal{
	"BTC-PERP":  decimal.NewFromInt(100000),
	"ETH-PERP":  decimal.NewFromInt(3500),
	"SOL-PERP":  decimal.NewFromInt(150),
	"DOGE-PERP": decimal.NewFromFloat(0.1),
	"AVAX-PERP": decimal.NewFromInt(35),
	"ARB-PERP":  decimal.NewFromFloat(1.0),
}

var defaultFallbackPrice = decimal.NewFromInt(10)

// PriceSource is the subset of the Price Tape the pipeline depends on:
// asset-id resolution (with refresh-on-miss) and the current mid price.
type PriceSource interface {
	LookupAssetId(ctx context.Context, symbol types.Symbol) (int, error)
	Mid(symbol types.Symbol) (decimal.Decimal, bool)
}

// Pipeline is the Order Pipeline component.
type Pipeline struct {
	transport upstream.ExchangeTransport
	table     *precision.Table
	prices    PriceSource
}

// New builds a Pipeline.
func New(transport upstream.ExchangeTransport, table *precision.Table, prices PriceSource) *Pipeline {
	return &Pipeline{transport: transport, table: table, prices: prices}
}

// Submit normalizes, prices, and serializes batch, then submits it to the
// upstream transport. The parent (entry) order is always index 0, matching
// batch.Orders' order.
func (p *Pipeline) Submit(ctx context.Context, batch types.OrderBatch) (upstream.OrderResult, error) {
	wireOrders := make([]upstream.OrderWire, 0, len(batch.Orders))

	for _, order := range batch.Orders {
		wire, err := p.prepareOrder(ctx, order)
		if err != nil {
			return upstream.OrderResult{}, err
		}
		wireOrders = append(wireOrders, wire)
	}

	req := upstream.OrderRequest{Orders: wireOrders, Grouping: batch.Grouping}
	return p.transport.Order(ctx, req)
}

// prepareOrder runs one order through resolution, pricing, the deviation
// pre-flight check, notional validation, and wire serialization.
func (p *Pipeline) prepareOrder(ctx context.Context, order types.Order) (upstream.OrderWire, error) {
	assetId, err := p.prices.LookupAssetId(ctx, order.Symbol)
	if err != nil {
		return upstream.OrderWire{}, err
	}

	spec := p.table.GetPrecision(order.Symbol)
	tick := p.table.GetTickSize(order.Symbol)
	mid, hasMid := p.prices.Mid(order.Symbol)

	price := p.resolvePrice(order, spec, mid, hasMid)
	price = precision.QuantizeToTick(price, tick)

	if hasMid && !mid.IsZero() {
		if err := checkDeviation(price, mid, spec); err != nil {
			return upstream.OrderWire{}, err
		}
	}

	if err := validateOrderValue(order.Size, spec, mid, hasMid); err != nil {
		return upstream.OrderWire{}, err
	}

	priceStr, err := precision.FormatPrice(price, spec.SzDecimals, spec.IsPerp)
	if err != nil {
		return upstream.OrderWire{}, err
	}
	sizeStr := precision.FormatSize(order.Size, spec.SzDecimals)

	wire := upstream.OrderWire{
		A: assetId,
		B: order.Side == types.Buy,
		P: priceStr,
		R: order.ReduceOnly,
		S: sizeStr,
	}
	wire.T = orderTypeWire(order.OrderType)
	return wire, nil
}

// resolvePrice synthesizes a price when the caller didn't supply one (or
// supplied zero): an aggressive IOC price for IOC limit orders, or the
// per-symbol fallback constant otherwise.
func (p *Pipeline) resolvePrice(order types.Order, spec types.PrecisionSpec, mid decimal.Decimal, hasMid bool) decimal.Decimal {
	if order.Price != nil && !order.Price.IsZero() {
		return *order.Price
	}

	if isIoc(order.OrderType) {
		return aggressiveIocPrice(order.Symbol, order.Side, mid, hasMid)
	}
	return fallbackPrice(order.Symbol)
}

func isIoc(ot types.OrderType) bool {
	return ot.Limit != nil && ot.Limit.Tif == types.Ioc
}

// aggressiveIocPrice computes mid*1.1 for buy / mid*0.9 for sell, with
// BTC-PERP rounded up to the nearest integer before tick-rounding. Falls
// back to the per-symbol constant if no mid is available.
func aggressiveIocPrice(symbol types.Symbol, side types.Side, mid decimal.Decimal, hasMid bool) decimal.Decimal {
	if !hasMid {
		return fallbackPrice(symbol)
	}

	mult := iocAggressiveBuyMultiplier
	if side == types.Sell {
		mult = iocAggressiveSellMultiplier
	}
	price := mid.Mul(mult)

	if symbol.Canonical() == "BTC-PERP" {
		price = price.Ceil()
	}
	return price
}

func fallbackPrice(symbol types.Symbol) decimal.Decimal {
	if p, ok := fallbackPrices[symbol.Canonical()]; ok {
		return p
	}
	return defaultFallbackPrice
}

// checkDeviation rejects a price that deviates more than 80% from mid,
// suggesting a corrective price at the 80% boundary on the correct side.
func checkDeviation(price, mid decimal.Decimal, spec types.PrecisionSpec) error {
	deviation := price.Sub(mid).Abs().Div(mid)
	if deviation.LessThanOrEqual(ioc80PercentBuffer) {
		return nil
	}

	var suggested decimal.Decimal
	if price.GreaterThan(mid) {
		suggested = mid.Mul(decimal.NewFromFloat(1.8))
	} else {
		suggested = mid.Mul(decimal.NewFromFloat(0.2))
	}
	suggestedStr, _ := precision.FormatPrice(suggested, spec.SzDecimals, spec.IsPerp)

	return gatewayerr.New(gatewayerr.KindPriceDeviation, "order price deviates more than 80% from the current market mid").
		WithField("orderPrice", price.String()).
		WithField("marketPrice", mid.String()).
		WithField("deviation", deviation.String()).
		WithField("suggestedPrice", suggestedStr)
}

// validateOrderValue enforces the minimum order size and the shared $10
// notional floor (when a mid is available to compute notional).
func validateOrderValue(size decimal.Decimal, spec types.PrecisionSpec, mid decimal.Decimal, hasMid bool) error {
	if size.LessThan(spec.MinOrderSize()) {
		return gatewayerr.Validation("size", fmt.Sprintf("order size %s is below the minimum order size %s for %s", size, spec.MinOrderSize(), spec.Symbol))
	}
	if hasMid {
		notional := size.Mul(mid)
		if notional.LessThan(MinNotionalUSD) {
			return gatewayerr.Validation("size", fmt.Sprintf("order notional %s is below the $%s minimum", notional.StringFixed(2), MinNotionalUSD))
		}
	}
	return nil
}

// orderTypeWire converts the normalized OrderType to its wire shape.
func orderTypeWire(ot types.OrderType) any {
	if ot.Trigger != nil {
		return upstream.WireTrigger{
			TriggerPx: ot.Trigger.TriggerPx.String(),
			IsMarket:  ot.Trigger.IsMarket,
			Tpsl:      string(ot.Trigger.Tpsl),
		}
	}
	tif := types.Gtc
	if ot.Limit != nil {
		tif = ot.Limit.Tif
	}
	return upstream.WireLimit{Tif: string(tif)}
}
