package position

import "levercore/internal/registry"

// rangeByLeverage maps leverage to the default range width, both in basis
// points. Unlisted leverages fall back to the formula that produces the same
// breakpoints.
var rangeByLeverage = map[uint64]uint64{
	10_000:  5000,
	20_000:  2500,
	30_000:  1666,
	40_000:  1250,
	50_000:  1000,
	100_000: 500,
}

// DefaultRangeBps returns the range width assigned to a leverage.
func DefaultRangeBps(leverageBps uint64) uint64 {
	if width, ok := rangeByLeverage[leverageBps]; ok {
		return width
	}
	if leverageBps == 0 {
		return 0
	}
	return 50_000_000 / leverageBps
}

// MaxRangeBps is the widest range a leverage may use, before any tier
// adjustment. It coincides with the default width.
func MaxRangeBps(leverageBps uint64) uint64 {
	return DefaultRangeBps(leverageBps)
}

// tierShrinkBps narrows a range for whitelisted volatile assets by tier.
func tierShrinkBps(tier registry.Tier, rangeBps uint64) uint64 {
	switch tier {
	case registry.TierBronze:
		return rangeBps * 8000 / 10_000
	case registry.TierSilver:
		return rangeBps * 9000 / 10_000
	case registry.TierGold:
		return rangeBps * 9500 / 10_000
	default:
		return rangeBps
	}
}
