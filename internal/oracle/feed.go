package oracle

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrUnknownAsset   = errors.New("oracle: asset not tracked")
	ErrStalePrice     = errors.New("oracle: price too old")
	ErrUpdateCooldown = errors.New("oracle: update cooldown not elapsed")
	ErrPriceDeviation = errors.New("oracle: price change exceeds bound")
	ErrInvalidUpdate  = errors.New("oracle: invalid update")
)

// Metrics is the externally supplied market snapshot for a tracked asset.
// Monetary values are plain integer USD, Price is WAD-scaled.
type Metrics struct {
	Volume24h         *big.Int
	Liquidity         *big.Int
	Holders           uint64
	MarketCap         *big.Int
	Price             *big.Int
	PriceChange24hBps int64
	LastUpdate        int64
}

// Feed supplies prices and market metrics for tracked assets.
type Feed interface {
	// CurrentPrice returns the latest WAD-scaled price for the asset.
	CurrentPrice(ctx context.Context, asset string) (*big.Int, error)
	// GetMetrics returns the latest metrics snapshot for the asset.
	GetMetrics(ctx context.Context, asset string) (Metrics, error)
	// IsFresh reports whether the asset's data is at most maxAge seconds old.
	IsFresh(asset string, maxAgeSecs int64) bool
	// Track begins tracking an asset. Tracking an already-tracked asset is a
	// no-op.
	Track(asset string)
}
