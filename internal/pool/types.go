package pool

import "math/big"

// RateParams are the utilization-curve parameters for one asset pool. Rates
// are WAD-scaled annual rates; the kink sits at OptimalUtilWad.
type RateParams struct {
	BaseRateWad      *big.Int
	Slope1Wad        *big.Int
	Slope2Wad        *big.Int
	OptimalUtilWad   *big.Int
	ReserveFactorBps uint64
}

// AssetPool is the global accounting state for one supported asset. Amounts
// are in the asset's native units; indexes are RAY-scaled and start at 1.0.
type AssetPool struct {
	Asset          string
	Active         bool
	TotalSupplied  *big.Int
	TotalBorrowed  *big.Int
	SupplyIndex    *big.Int
	BorrowIndex    *big.Int
	LastUpdateTime int64
	// Cash is the pool's held balance; available liquidity is Cash minus
	// Reserves and must never go negative through an operation.
	Cash     *big.Int
	Reserves *big.Int
	Params   RateParams
}

// LedgerEntry is the per-user, per-asset position in a pool. Principals are
// stored pre-divided by the index at write time, so the live balance is
// principal multiplied by the current index.
type LedgerEntry struct {
	User                string
	Asset               string
	PrincipalSupply     *big.Int
	PrincipalBorrow     *big.Int
	SupplyIndexSnapshot *big.Int
	BorrowIndexSnapshot *big.Int
}

// Snapshot is a read-only view of a pool for queries and persistence.
type Snapshot struct {
	Asset          string
	Active         bool
	TotalSupplied  *big.Int
	TotalBorrowed  *big.Int
	SupplyIndex    *big.Int
	BorrowIndex    *big.Int
	Cash           *big.Int
	Reserves       *big.Int
	UtilizationWad *big.Int
	BorrowRateWad  *big.Int
	LastUpdateTime int64
}
