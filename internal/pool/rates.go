package pool

import (
	"math/big"

	"levercore/internal/scale"
)

// secondsPerYear is the accrual year: 365 days.
const secondsPerYear = 31_536_000

// utilizationWad computes borrowed/supplied in WAD, clamped to 1.0. An empty
// pool has zero utilization.
func utilizationWad(totalBorrowed, totalSupplied *big.Int) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return big.NewInt(0)
	}
	u := scale.WadDiv(totalBorrowed, totalSupplied)
	if u.Cmp(scale.Wad) > 0 {
		return new(big.Int).Set(scale.Wad)
	}
	return u
}

// borrowRateWad evaluates the kinked rate curve at the given utilization.
// Below the kink: base + u*slope1/optimal. At or above: base + slope1 +
// (u-optimal)*slope2/(1-optimal).
func borrowRateWad(params RateParams, utilWad *big.Int) *big.Int {
	rate := new(big.Int).Set(params.BaseRateWad)
	if utilWad == nil || utilWad.Sign() == 0 {
		return rate
	}
	if utilWad.Cmp(params.OptimalUtilWad) < 0 {
		scaled := scale.WadDiv(scale.WadMul(utilWad, params.Slope1Wad), params.OptimalUtilWad)
		return rate.Add(rate, scaled)
	}
	rate.Add(rate, params.Slope1Wad)
	excess := new(big.Int).Sub(utilWad, params.OptimalUtilWad)
	headroom := new(big.Int).Sub(scale.Wad, params.OptimalUtilWad)
	rate.Add(rate, scale.WadDiv(scale.WadMul(excess, params.Slope2Wad), headroom))
	return rate
}

// growthFactorRay converts an annual WAD rate over elapsed seconds into a RAY
// index multiplier: 1 + rate*dt/year.
func growthFactorRay(rateWad *big.Int, elapsedSecs int64) *big.Int {
	if rateWad == nil || rateWad.Sign() == 0 || elapsedSecs <= 0 {
		return new(big.Int).Set(scale.Ray)
	}
	linear := scale.WadToRay(rateWad)
	linear.Mul(linear, big.NewInt(elapsedSecs))
	linear = scale.DivRound(linear, big.NewInt(secondsPerYear))
	return linear.Add(linear, scale.Ray)
}
