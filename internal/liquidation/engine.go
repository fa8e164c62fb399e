package liquidation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"levercore/internal/position"
	"levercore/internal/scale"
)

var (
	ErrUnauthorized  = errors.New("liquidation: caller not authorized")
	ErrNotLiquidable = errors.New("liquidation: position not liquidable")
)

const (
	// DefaultThresholdBps triggers liquidation below 85% health.
	DefaultThresholdBps = 8500
	// WhitelistedThresholdBps applies to whitelisted volatile assets.
	WhitelistedThresholdBps = 9000
	// MinThresholdBps and MaxThresholdBps bound admin overrides.
	MinThresholdBps = 5000
	MaxThresholdBps = 9500
	// GracePeriodSecs must elapse after a position's last update before
	// either trigger may fire.
	GracePeriodSecs = 1800
	// DailyCap limits executed liquidations per UTC day.
	DailyCap = 100

	// Reward splits, reported per liquidation. The penalty accounting in the
	// position manager is where value actually moves.
	KeeperRewardBps  = 200
	InsuranceFundBps = 100
	ProtocolFeeBps   = 100
)

type positionSource interface {
	Get(id uint64) (*position.Position, error)
	HealthRatioBps(id uint64) (uint64, error)
	InRange(ctx context.Context, id uint64) (bool, error)
	ForceLiquidate(cap string, liquidator string, id uint64) (penalty, remaining *big.Int, err error)
}

type whitelistSource interface {
	IsWhitelisted(token string) bool
}

// Result reports one executed liquidation with its informational reward
// split.
type Result struct {
	PositionID    uint64
	Reason        string
	Penalty       *big.Int
	Remaining     *big.Int
	KeeperReward  *big.Int
	InsuranceFund *big.Int
	ProtocolFee   *big.Int
}

// Engine decides liquidation eligibility and executes through the position
// manager's forced-liquidation capability.
type Engine struct {
	adminCap      string
	liquidatorCap string
	positions     positionSource
	whitelist     whitelistSource
	store         *DayCounterStore
	nowFn         func() int64

	thresholds map[string]uint64
	day        string
	count      uint64
}

// NewEngine loads the persisted day counter and constructs the engine.
func NewEngine(adminCap, liquidatorCap string, positions positionSource, whitelist whitelistSource, store *DayCounterStore) (*Engine, error) {
	if positions == nil || whitelist == nil {
		return nil, fmt.Errorf("liquidation: missing collaborator handle")
	}
	if store == nil {
		store = NewDayCounterStore("", false)
	}
	e := &Engine{
		adminCap:      adminCap,
		liquidatorCap: liquidatorCap,
		positions:     positions,
		whitelist:     whitelist,
		store:         store,
		nowFn:         func() int64 { return time.Now().Unix() },
		thresholds:    make(map[string]uint64),
	}
	counter, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		e.day = counter.Day
		e.count = counter.Count
	}
	return e, nil
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(nowFn func() int64) {
	if nowFn != nil {
		e.nowFn = nowFn
	}
}

// SetThreshold installs a per-asset liquidation threshold override, clamped
// to the permitted band. Admin only.
func (e *Engine) SetThreshold(cap string, asset string, bps uint64) error {
	if cap != e.adminCap {
		return ErrUnauthorized
	}
	if bps < MinThresholdBps {
		bps = MinThresholdBps
	}
	if bps > MaxThresholdBps {
		bps = MaxThresholdBps
	}
	e.thresholds[asset] = bps
	return nil
}

// ThresholdBps resolves the liquidation threshold for an asset: admin
// override first, then the whitelisted-volatile default, then the global
// default.
func (e *Engine) ThresholdBps(asset string) uint64 {
	if bps, ok := e.thresholds[asset]; ok {
		return bps
	}
	if e.whitelist.IsWhitelisted(asset) {
		return WhitelistedThresholdBps
	}
	return DefaultThresholdBps
}

// CanLiquidate reports whether the position is currently liquidable and, if
// not, why. It fails closed on any read error.
func (e *Engine) CanLiquidate(ctx context.Context, id uint64) (bool, string) {
	pos, err := e.positions.Get(id)
	if err != nil {
		return false, "position not found"
	}
	if pos.Status.Terminal() {
		return false, "position already terminal"
	}
	if e.todayCount() >= DailyCap {
		return false, "daily liquidation cap reached"
	}

	reason := ""
	health, err := e.positions.HealthRatioBps(id)
	if err != nil {
		return false, "health unavailable"
	}
	if health < e.ThresholdBps(pos.TargetAsset) {
		reason = "health below threshold"
	} else {
		inRange, err := e.positions.InRange(ctx, id)
		if err != nil {
			return false, "price unavailable"
		}
		if !inRange {
			reason = "price outside range"
		}
	}
	if reason == "" {
		return false, "position healthy"
	}

	if e.nowFn()-pos.LastUpdateTime < GracePeriodSecs {
		return false, "grace period active"
	}
	return true, reason
}

// Liquidate re-checks eligibility, executes the forced liquidation, and
// advances the day counter.
func (e *Engine) Liquidate(ctx context.Context, keeper string, id uint64) (*Result, error) {
	ok, reason := e.CanLiquidate(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLiquidable, reason)
	}
	pos, err := e.positions.Get(id)
	if err != nil {
		return nil, err
	}

	penalty, remaining, err := e.positions.ForceLiquidate(e.liquidatorCap, keeper, id)
	if err != nil {
		return nil, fmt.Errorf("execute liquidation: %w", err)
	}

	day := e.utcDay()
	if day != e.day {
		e.day = day
		e.count = 0
	}
	e.count++
	if err := e.store.Save(e.day, e.count); err != nil {
		return nil, fmt.Errorf("persist day counter: %w", err)
	}

	return &Result{
		PositionID:    id,
		Reason:        reason,
		Penalty:       penalty,
		Remaining:     remaining,
		KeeperReward:  scale.MulBps(pos.Collateral, KeeperRewardBps),
		InsuranceFund: scale.MulBps(pos.Collateral, InsuranceFundBps),
		ProtocolFee:   scale.MulBps(pos.Collateral, ProtocolFeeBps),
	}, nil
}

// TodayCount returns the number of liquidations executed so far today.
func (e *Engine) TodayCount() uint64 { return e.todayCount() }

func (e *Engine) todayCount() uint64 {
	if e.utcDay() != e.day {
		return 0
	}
	return e.count
}

func (e *Engine) utcDay() string {
	return time.Unix(e.nowFn(), 0).UTC().Format("2006-01-02")
}
