package twap

import (
	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/pkg/types"
)

var roundingTolerance = decimal.NewFromFloat(1e-6)

// distributeSizes implements the deterministic front-loaded size
// distribution: the first remainder sub-orders get one extra unit over the
// base unit count, so rounding error concentrates early rather than on the
// final sub-order.
func distributeSizes(totalSize decimal.Decimal, intervals int, spec types.PrecisionSpec) ([]decimal.Decimal, error) {
	increment := spec.SizeTick()

	exactUnits := totalSize.Div(increment)
	roundedUnits := exactUnits.Round(0)
	totalUnits := roundedUnits
	if exactUnits.Sub(roundedUnits).Abs().GreaterThan(roundingTolerance) {
		totalUnits = exactUnits.Floor()
	}
	totalUnitsInt := totalUnits.IntPart()

	minOrderSizeUnits := spec.MinOrderSize().Div(increment).Round(0).IntPart()
	if totalUnitsInt < int64(intervals) || totalUnitsInt < minOrderSizeUnits {
		return nil, gatewayerr.New(gatewayerr.KindTwapSizeTooSmall, "total size is too small to split across the requested number of intervals").
			WithField("totalSize", totalSize.String()).
			WithField("intervals", intervals)
	}

	base := totalUnitsInt / int64(intervals)
	remainder := totalUnitsInt - base*int64(intervals)

	sizes := make([]decimal.Decimal, intervals)
	minSeen := increment.Mul(decimal.NewFromInt(base))
	for i := 0; i < intervals; i++ {
		units := base
		if int64(i) < remainder {
			units++
		}
		size := increment.Mul(decimal.NewFromInt(units))
		sizes[i] = size
		if size.LessThan(minSeen) {
			minSeen = size
		}
	}

	if minSeen.LessThan(spec.MinOrderSize()) {
		return nil, gatewayerr.New(gatewayerr.KindTwapSizeTooSmall, "smallest sub-order size falls below the minimum order size").
			WithField("minSubOrderSize", minSeen.String()).
			WithField("minOrderSize", spec.MinOrderSize().String())
	}

	return sizes, nil
}
