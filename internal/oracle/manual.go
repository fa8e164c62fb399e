package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	// updateCooldownSecs is the minimum spacing between pushed updates for
	// one asset.
	updateCooldownSecs = 300
	// maxDeviationBps rejects pushed prices that move more than +-100%
	// against the previous observation.
	maxDeviationBps = 10_000
)

type trackedAsset struct {
	metrics    Metrics
	hasMetrics bool
}

// ManualFeed is a push-updated feed. Updates are input-validated: one update
// per asset per cooldown window, and price moves beyond +-100% are rejected.
type ManualFeed struct {
	mu     sync.RWMutex
	assets map[string]*trackedAsset
	nowFn  func() int64
}

func NewManualFeed() *ManualFeed {
	return &ManualFeed{
		assets: make(map[string]*trackedAsset),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the feed clock, for tests.
func (f *ManualFeed) SetClock(nowFn func() int64) {
	if nowFn != nil {
		f.nowFn = nowFn
	}
}

func (f *ManualFeed) Track(asset string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.assets[asset]; !ok {
		f.assets[asset] = &trackedAsset{}
	}
}

// Push validates and stores a metrics update for a tracked asset.
func (f *ManualFeed) Push(asset string, update Metrics) error {
	if update.Price == nil || update.Price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidUpdate)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tracked, ok := f.assets[asset]
	if !ok {
		tracked = &trackedAsset{}
		f.assets[asset] = tracked
	}

	now := f.nowFn()
	if tracked.hasMetrics {
		if now-tracked.metrics.LastUpdate < updateCooldownSecs {
			return ErrUpdateCooldown
		}
		if exceedsDeviation(tracked.metrics.Price, update.Price) {
			return ErrPriceDeviation
		}
	}

	update.LastUpdate = now
	tracked.metrics = cloneMetrics(update)
	tracked.hasMetrics = true
	return nil
}

func (f *ManualFeed) CurrentPrice(_ context.Context, asset string) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tracked, ok := f.assets[asset]
	if !ok || !tracked.hasMetrics {
		return nil, ErrUnknownAsset
	}
	return new(big.Int).Set(tracked.metrics.Price), nil
}

func (f *ManualFeed) GetMetrics(_ context.Context, asset string) (Metrics, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tracked, ok := f.assets[asset]
	if !ok || !tracked.hasMetrics {
		return Metrics{}, ErrUnknownAsset
	}
	return cloneMetrics(tracked.metrics), nil
}

func (f *ManualFeed) IsFresh(asset string, maxAgeSecs int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tracked, ok := f.assets[asset]
	if !ok || !tracked.hasMetrics {
		return false
	}
	return f.nowFn()-tracked.metrics.LastUpdate <= maxAgeSecs
}

func exceedsDeviation(prev, next *big.Int) bool {
	if prev == nil || prev.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(next, prev)
	diff.Abs(diff)
	// |next-prev| / prev >= 100%
	diff.Mul(diff, big.NewInt(10_000))
	bound := new(big.Int).Mul(prev, big.NewInt(maxDeviationBps))
	return diff.Cmp(bound) >= 0
}

func cloneMetrics(m Metrics) Metrics {
	out := m
	out.Volume24h = cloneBig(m.Volume24h)
	out.Liquidity = cloneBig(m.Liquidity)
	out.MarketCap = cloneBig(m.MarketCap)
	out.Price = cloneBig(m.Price)
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
