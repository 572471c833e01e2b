// Package liquidation implements the gateway's Liquidation Math Engine
// (component B): a pure, deterministic calculator that finds a position's
// liquidation price via fixed-point iteration across a tiered
// maintenance-margin schedule. Inputs here are already approximate
// (user-facing previews), so unlike the rest of the gateway this package
// uses float64 throughout rather than decimal.Decimal, per the carve-out in
// the money-and-precision design note.
package liquidation

import (
	"math"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/pkg/types"
)

// MarginMode selects which equity figure backs the liquidation formula.
type MarginMode string

const (
	Cross    MarginMode = "cross"
	Isolated MarginMode = "isolated"
)

const maxIterations = 8
const probeConvergenceEps = 1e-8
const rateConvergenceEps = 1e-9
const deductionConvergenceEps = 1e-3
const minDenominatorMagnitude = 1e-12

// Input carries every parameter the engine can consume. Optional fields use
// pointers so "absent" is distinguishable from "zero".
type Input struct {
	EntryPrice float64
	Leverage   float64
	Side       types.Side
	Symbol     types.Symbol
	MarginMode MarginMode

	PositionSize        *float64
	AccountValue        *float64
	IsolatedMargin      *float64
	WalletBalance       *float64
	TransferRequirement *float64

	// MarginTiers, when non-empty, is used to derive the continuous
	// maintenance-margin schedule; its first entry's LowerBound MUST be 0.
	// When empty, FallbackRate is used as a flat maintenance fraction with
	// zero deduction at every notional.
	MarginTiers  []types.MarginTier
	FallbackRate float64
}

// Result is the engine's successful output.
type Result struct {
	LiquidationPrice float64
	Iterations       int
	PositionSize     float64 // resolved (possibly backfilled) position size
	AccountValue     float64 // resolved (possibly backfilled) equity
}

// Calculate runs the fixed-point liquidation solver against in.
func Calculate(in Input) (Result, error) {
	if err := validateInput(in); err != nil {
		return Result{}, err
	}

	schedule := types.BuildMaintenanceSchedule(in.MarginTiers)

	positionSize, accountValue, err := resolveEquityAndSize(in, schedule)
	if err != nil {
		return Result{}, err
	}
	q := math.Abs(positionSize)

	sideMultiplier := 1.0
	if in.Side == types.Sell {
		sideMultiplier = -1.0
	}

	equity := accountValue
	if in.MarginMode == Isolated {
		equity = *in.IsolatedMargin
	}

	probe := in.EntryPrice
	rate, deduction := tierAt(schedule, in.FallbackRate, q*probe)

	for i := 0; i < maxIterations; i++ {
		denom := q * (1 - rate*sideMultiplier)
		if math.Abs(denom) < minDenominatorMagnitude {
			return Result{}, gatewayerr.New(gatewayerr.KindValidation, "liquidation denominator too small")
		}

		newProbe := (q*in.EntryPrice - sideMultiplier*(equity+deduction)) / denom
		if !isFinite(newProbe) {
			return Result{}, gatewayerr.New(gatewayerr.KindValidation, "liquidation probe did not converge to a finite value")
		}
		if newProbe <= 0 {
			return Result{LiquidationPrice: newProbe, Iterations: i + 1, PositionSize: positionSize, AccountValue: accountValue}, nil
		}

		newRate, newDeduction := tierAt(schedule, in.FallbackRate, q*newProbe)

		deltaProbe := math.Abs(newProbe - probe)
		deltaRate := math.Abs(newRate - rate)
		deltaDeduction := math.Abs(newDeduction - deduction)

		if deltaProbe < probeConvergenceEps && deltaRate < rateConvergenceEps && deltaDeduction < deductionConvergenceEps {
			return Result{LiquidationPrice: newProbe, Iterations: i + 1, PositionSize: positionSize, AccountValue: accountValue}, nil
		}

		probe, rate, deduction = newProbe, newRate, newDeduction
	}

	return Result{}, gatewayerr.New(gatewayerr.KindValidation, "liquidation solver did not converge within 8 iterations")
}

// resolveEquityAndSize backfills positionSize from margin equity and
// leverage when absent, and (for cross mode) clips the leverage used to size
// the initial-margin requirement to the tier-allowed max at entry notional.
func resolveEquityAndSize(in Input, schedule []types.MaintenanceScheduleTier) (positionSize, accountValue float64, err error) {
	if in.PositionSize != nil {
		positionSize = *in.PositionSize
		if in.AccountValue != nil {
			accountValue = *in.AccountValue
		}
		return positionSize, accountValue, nil
	}

	var equitySeed float64
	switch in.MarginMode {
	case Isolated:
		if in.IsolatedMargin == nil {
			return 0, 0, gatewayerr.Validation("isolatedMargin", "required when positionSize is absent in isolated mode")
		}
		equitySeed = *in.IsolatedMargin
	case Cross:
		if in.AccountValue != nil {
			equitySeed = *in.AccountValue
		} else if in.WalletBalance != nil {
			equitySeed = *in.WalletBalance
		} else {
			return 0, 0, gatewayerr.Validation("accountValue", "required (or walletBalance) when positionSize is absent in cross mode")
		}
	}

	positionSize = equitySeed * in.Leverage / in.EntryPrice

	if in.MarginMode == Cross {
		entryNotional := math.Abs(positionSize) * in.EntryPrice
		tierMaxLev := maxLeverageAt(in.MarginTiers, entryNotional)
		clippedLeverage := in.Leverage
		if tierMaxLev > 0 && float64(tierMaxLev) < clippedLeverage {
			clippedLeverage = float64(tierMaxLev)
		}
		initialMarginRequired := entryNotional / clippedLeverage
		accountValue = math.Max(equitySeed, initialMarginRequired)
	}

	return positionSize, accountValue, nil
}

// maxLeverageAt returns the MaxLeverage of the highest-lowerBound tier with
// lowerBound <= notional, or 0 if tiers is empty.
func maxLeverageAt(tiers []types.MarginTier, notional float64) int {
	best := 0
	for _, t := range tiers {
		lower, _ := t.LowerBound.Float64()
		if lower <= notional {
			best = t.MaxLeverage
		}
	}
	return best
}

// tierAt picks the highest-lowerBound schedule tier with lowerBound <=
// notional, or falls back to (fallbackRate, 0) when schedule is empty.
func tierAt(schedule []types.MaintenanceScheduleTier, fallbackRate, notional float64) (rate, deduction float64) {
	if len(schedule) == 0 {
		return fallbackRate, 0
	}
	rate, deduction = schedule[0].Rate, schedule[0].Deduction
	for _, tier := range schedule {
		if tier.LowerBound <= notional {
			rate, deduction = tier.Rate, tier.Deduction
		}
	}
	return rate, deduction
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validateInput(in Input) error {
	if !isFinite(in.EntryPrice) || in.EntryPrice <= 0 {
		return gatewayerr.Validation("entryPrice", "must be a finite number > 0")
	}
	if !isFinite(in.Leverage) || in.Leverage <= 0 {
		return gatewayerr.Validation("leverage", "must be a finite number > 0")
	}
	if in.Side != types.Buy && in.Side != types.Sell {
		return gatewayerr.Validation("side", "must be buy or sell")
	}
	if in.MarginMode != Cross && in.MarginMode != Isolated {
		return gatewayerr.Validation("marginMode", "must be cross or isolated")
	}
	if in.MarginMode == Isolated && in.PositionSize == nil && in.IsolatedMargin == nil {
		return gatewayerr.Validation("isolatedMargin", "required in isolated mode when positionSize is absent")
	}
	if len(in.MarginTiers) == 0 {
		if !isFinite(in.FallbackRate) || in.FallbackRate <= 0 || in.FallbackRate >= 1 {
			return gatewayerr.Validation("fallbackRate", "maintenance fraction must be within (0,1) when no margin tiers are supplied")
		}
	} else if !in.MarginTiers[0].LowerBound.IsZero() {
		return gatewayerr.Validation("marginTiers", "first tier must have lowerBound = 0")
	}
	return nil
}
