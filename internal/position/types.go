package position

import "math/big"

// Status is the lifecycle state of a position. OutOfRange is price-driven and
// never persisted: stored positions hold Active until a terminal transition.
type Status uint8

const (
	StatusActive Status = iota
	StatusOutOfRange
	StatusLiquidated
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusOutOfRange:
		return "out_of_range"
	case StatusLiquidated:
		return "liquidated"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one-way final.
func (s Status) Terminal() bool {
	return s == StatusLiquidated || s == StatusClosed
}

// MarginType selects cross or isolated margin accounting.
type MarginType uint8

const (
	MarginCross MarginType = iota
	MarginIsolated
)

func (m MarginType) String() string {
	if m == MarginIsolated {
		return "isolated"
	}
	return "cross"
}

// Position is one leveraged liquidity range account. Owned exclusively by its
// creator and immutable once terminal.
type Position struct {
	ID          uint64
	Owner       string
	BaseAsset   string
	TargetAsset string
	Collateral  *big.Int
	LeverageBps uint64
	RangeBps    uint64
	CenterPrice *big.Int
	LowerBound  *big.Int
	UpperBound  *big.Int
	// Debt is the principal borrowed at open; live debt including interest
	// comes from the lending pool ledger.
	Debt           *big.Int
	AccruedFees    *big.Int
	LastUpdateTime int64
	OpenedAt       int64
	MarginType     MarginType
	Status         Status
	FeeTier        uint8
}

// Preview is the read-only mirror of an open attempt.
type Preview struct {
	OK               bool
	Reason           string
	AllowedRangeBps  uint64
	FinalRangeBps    uint64
	LowerBound       *big.Int
	UpperBound       *big.Int
	BorrowAmount     *big.Int
	TokenWhitelisted bool
	TokenTier        uint8
	MaxLeverageBps   uint64
}
