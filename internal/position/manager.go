package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"levercore/internal/events"
	"levercore/internal/oracle"
	"levercore/internal/registry"
	"levercore/internal/scale"
	"levercore/internal/vault"
)

var (
	ErrNotFound              = errors.New("position manager: position not found")
	ErrNotOwner              = errors.New("position manager: caller is not the owner")
	ErrUnauthorized          = errors.New("position manager: caller not authorized")
	ErrTerminal              = errors.New("position manager: position already terminal")
	ErrNotActive             = errors.New("position manager: position not active")
	ErrCollateralTooSmall    = errors.New("position manager: collateral below minimum")
	ErrLeverageOutOfBounds   = errors.New("position manager: leverage outside 1x-10x")
	ErrLeverageCeiling       = errors.New("position manager: leverage above asset ceiling")
	ErrFeeTierInvalid        = errors.New("position manager: fee tier must be 0, 1, or 2")
	ErrRangeTooWide          = errors.New("position manager: range exceeds leverage maximum")
	ErrInsufficientLiquidity = errors.New("position manager: pool liquidity insufficient for borrow")
)

const (
	// MinCollateral is the smallest accepted collateral, in native units.
	MinCollateral = 100
	// MinLeverageBps and MaxLeverageBps bound accepted leverage: 1x to 10x.
	MinLeverageBps = 10_000
	MaxLeverageBps = 100_000
	// MaxFeeTier is the highest accepted fee tier.
	MaxFeeTier = 2
	// PenaltyBps is the collateral penalty taken on forced liquidation.
	PenaltyBps = 300
	// PerformanceFeeBps is the protocol's cut of harvested fees.
	PerformanceFeeBps = 1000
	// DefaultHarvestAPRBps drives the simulated fee accrual.
	DefaultHarvestAPRBps = 2000

	secondsPerYear = 31_536_000
)

// InfiniteHealthBps is the health ratio reported for debt-free positions.
const InfiniteHealthBps = math.MaxUint64

type lendingPool interface {
	Borrow(cap string, asset, borrower string, amount *big.Int) error
	Repay(cap string, asset, borrower string, amount *big.Int) (*big.Int, error)
	DebtOf(asset, borrower string) (*big.Int, error)
	AvailableLiquidity(asset string) (*big.Int, error)
}

type riskRegistry interface {
	MaxLeverageBps(asset string) uint64
	IsWhitelisted(token string) bool
	TierOf(token string) registry.Tier
}

// Config carries the manager's capability tokens and collaborator handles.
type Config struct {
	// PoolCap is presented to the lending pool on borrow/repay.
	PoolCap string
	// LiquidatorCap is required from callers of ForceLiquidate.
	LiquidatorCap string
	Pool          lendingPool
	Registry      riskRegistry
	Feed          oracle.Feed
	Transfer      vault.Transfer
	Sink          events.Sink
}

// Manager owns the position accounts and their lifecycle.
type Manager struct {
	cfg    Config
	nowFn  func() int64
	aprWad *big.Int

	positions map[uint64]*Position
	byOwner   map[string][]uint64
	nextID    uint64
}

// NewManager validates the injected handles once and constructs the manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Pool == nil || cfg.Registry == nil || cfg.Feed == nil || cfg.Transfer == nil {
		return nil, fmt.Errorf("position manager: missing collaborator handle")
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	return &Manager{
		cfg:       cfg,
		nowFn:     func() int64 { return time.Now().Unix() },
		aprWad:    aprWadFromBps(DefaultHarvestAPRBps),
		positions: make(map[uint64]*Position),
		byOwner:   make(map[string][]uint64),
		nextID:    1,
	}, nil
}

// SetClock overrides the manager clock, for tests.
func (m *Manager) SetClock(nowFn func() int64) {
	if nowFn != nil {
		m.nowFn = nowFn
	}
}

// SetHarvestAPRBps configures the simulated base fee APR.
func (m *Manager) SetHarvestAPRBps(bps uint64) {
	m.aprWad = aprWadFromBps(bps)
}

type openPlan struct {
	allowedRangeBps uint64
	finalRangeBps   uint64
	center          *big.Int
	lower           *big.Int
	upper           *big.Int
	debt            *big.Int
	whitelisted     bool
	tier            registry.Tier
	maxLeverageBps  uint64
}

// plan runs the validation and policy steps of an open without touching
// state. Open and Preview share it so they can never disagree.
func (m *Manager) plan(ctx context.Context, targetAsset string, collateral *big.Int, leverageBps uint64, customRangeBps uint64, feeTier uint8) (openPlan, error) {
	out := openPlan{}
	if collateral == nil || collateral.Cmp(big.NewInt(MinCollateral)) < 0 {
		return out, ErrCollateralTooSmall
	}
	if leverageBps < MinLeverageBps || leverageBps > MaxLeverageBps {
		return out, ErrLeverageOutOfBounds
	}
	if feeTier > MaxFeeTier {
		return out, ErrFeeTierInvalid
	}

	out.maxLeverageBps = m.cfg.Registry.MaxLeverageBps(targetAsset)
	out.whitelisted = m.cfg.Registry.IsWhitelisted(targetAsset)
	out.tier = m.cfg.Registry.TierOf(targetAsset)
	if leverageBps > out.maxLeverageBps {
		return out, ErrLeverageCeiling
	}

	rangeBps := DefaultRangeBps(leverageBps)
	if customRangeBps != 0 {
		rangeBps = customRangeBps
	}
	out.allowedRangeBps = MaxRangeBps(leverageBps)
	if rangeBps > out.allowedRangeBps {
		return out, ErrRangeTooWide
	}
	if out.whitelisted {
		rangeBps = tierShrinkBps(out.tier, rangeBps)
	}
	out.finalRangeBps = rangeBps

	out.debt = scale.MulBps(collateral, leverageBps-MinLeverageBps)

	price, err := m.cfg.Feed.CurrentPrice(ctx, targetAsset)
	if err != nil {
		return out, fmt.Errorf("read price: %w", err)
	}
	out.center = price
	delta := scale.MulBps(price, rangeBps)
	out.lower = new(big.Int).Sub(price, delta)
	if out.lower.Sign() < 0 {
		out.lower.SetInt64(0)
	}
	out.upper = new(big.Int).Add(price, delta)
	return out, nil
}

// Open validates, borrows leverage from the pool, and records a new active
// position for the owner.
func (m *Manager) Open(ctx context.Context, owner, baseAsset, targetAsset string, collateral *big.Int, leverageBps uint64, marginType MarginType, customRangeBps uint64, feeTier uint8) (*Position, error) {
	p, err := m.plan(ctx, targetAsset, collateral, leverageBps, customRangeBps, feeTier)
	if err != nil {
		return nil, err
	}

	if p.debt.Sign() > 0 {
		liquidity, err := m.cfg.Pool.AvailableLiquidity(baseAsset)
		if err != nil {
			return nil, fmt.Errorf("check liquidity: %w", err)
		}
		if liquidity.Cmp(p.debt) < 0 {
			return nil, ErrInsufficientLiquidity
		}
	}

	if err := m.cfg.Transfer.TransferIn(baseAsset, owner, collateral); err != nil {
		return nil, fmt.Errorf("pull collateral: %w", err)
	}

	id := m.nextID
	if p.debt.Sign() > 0 {
		if err := m.cfg.Pool.Borrow(m.cfg.PoolCap, baseAsset, borrowerKey(id), p.debt); err != nil {
			// Unwind the collateral pull so the failed open has no effect.
			if refundErr := m.cfg.Transfer.TransferOut(baseAsset, owner, collateral); refundErr != nil {
				return nil, fmt.Errorf("borrow failed (%v) and refund failed: %w", err, refundErr)
			}
			return nil, fmt.Errorf("borrow leverage: %w", err)
		}
	}
	m.nextID++

	now := m.nowFn()
	pos := &Position{
		ID:             id,
		Owner:          owner,
		BaseAsset:      baseAsset,
		TargetAsset:    targetAsset,
		Collateral:     new(big.Int).Set(collateral),
		LeverageBps:    leverageBps,
		RangeBps:       p.finalRangeBps,
		CenterPrice:    new(big.Int).Set(p.center),
		LowerBound:     p.lower,
		UpperBound:     p.upper,
		Debt:           new(big.Int).Set(p.debt),
		AccruedFees:    big.NewInt(0),
		LastUpdateTime: now,
		OpenedAt:       now,
		MarginType:     marginType,
		Status:         StatusActive,
		FeeTier:        feeTier,
	}
	m.positions[id] = pos
	m.byOwner[owner] = append(m.byOwner[owner], id)

	m.emit(events.PositionOpened{
		ID:          id,
		Owner:       owner,
		BaseAsset:   baseAsset,
		TargetAsset: targetAsset,
		Collateral:  collateral.String(),
		LeverageBps: leverageBps,
		RangeBps:    p.finalRangeBps,
		MarginType:  marginType.String(),
		Timestamp:   now,
	})
	return clonePosition(pos), nil
}

// Preview mirrors Open's validation and math without mutating any state.
func (m *Manager) Preview(ctx context.Context, targetAsset string, collateral *big.Int, leverageBps uint64, customRangeBps uint64, feeTier uint8) Preview {
	p, err := m.plan(ctx, targetAsset, collateral, leverageBps, customRangeBps, feeTier)
	out := Preview{
		AllowedRangeBps:  p.allowedRangeBps,
		FinalRangeBps:    p.finalRangeBps,
		LowerBound:       p.lower,
		UpperBound:       p.upper,
		BorrowAmount:     p.debt,
		TokenWhitelisted: p.whitelisted,
		TokenTier:        uint8(p.tier),
		MaxLeverageBps:   p.maxLeverageBps,
	}
	if err != nil {
		out.Reason = err.Error()
		return out
	}
	out.OK = true
	return out
}

// Close harvests pending fees, repays the position's debt, pays the residual
// to the owner, and finalizes the position. Owner only.
func (m *Manager) Close(ctx context.Context, owner string, id uint64) (*Position, error) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if pos.Owner != owner {
		return nil, ErrNotOwner
	}
	if pos.Status.Terminal() {
		return nil, ErrTerminal
	}

	m.applyHarvest(pos)

	repaid := big.NewInt(0)
	debt, err := m.cfg.Pool.DebtOf(pos.BaseAsset, borrowerKey(id))
	if err != nil {
		return nil, fmt.Errorf("read debt: %w", err)
	}
	if debt.Sign() > 0 {
		repaid, err = m.cfg.Pool.Repay(m.cfg.PoolCap, pos.BaseAsset, borrowerKey(id), nil)
		if err != nil {
			return nil, fmt.Errorf("repay debt: %w", err)
		}
	}

	payout := new(big.Int).Add(pos.Collateral, pos.AccruedFees)
	payout.Sub(payout, repaid)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}
	if payout.Sign() > 0 {
		if err := m.cfg.Transfer.TransferOut(pos.BaseAsset, owner, payout); err != nil {
			return nil, fmt.Errorf("pay out close: %w", err)
		}
	}

	now := m.nowFn()
	pos.Status = StatusClosed
	pos.LastUpdateTime = now

	pnl := new(big.Int).Sub(payout, pos.Collateral)
	m.emit(events.PositionClosed{
		ID:              id,
		Owner:           owner,
		FinalCollateral: payout.String(),
		PnL:             pnl.String(),
		Timestamp:       now,
	})
	return clonePosition(pos), nil
}

// Harvest accrues the simulated fee stream into the position. Owner only,
// active positions only. A zero accrual is a silent no-op.
func (m *Manager) Harvest(owner string, id uint64) (*big.Int, error) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if pos.Owner != owner {
		return nil, ErrNotOwner
	}
	if pos.Status != StatusActive {
		return nil, ErrNotActive
	}
	before := new(big.Int).Set(pos.AccruedFees)
	m.applyHarvest(pos)
	return new(big.Int).Sub(pos.AccruedFees, before), nil
}

// applyHarvest computes fees since the last update and credits the net after
// the performance-fee split. Zero fees leave the position untouched.
func (m *Manager) applyHarvest(pos *Position) {
	now := m.nowFn()
	elapsed := now - pos.LastUpdateTime
	if elapsed <= 0 {
		return
	}
	annual := scale.MulBps(scale.WadMul(pos.Collateral, m.aprWad), pos.LeverageBps)
	gross := new(big.Int).Mul(annual, big.NewInt(elapsed))
	gross = scale.DivRound(gross, big.NewInt(secondsPerYear))
	if gross.Sign() == 0 {
		return
	}

	performanceFee := scale.MulBps(gross, PerformanceFeeBps)
	net := new(big.Int).Sub(gross, performanceFee)
	pos.AccruedFees.Add(pos.AccruedFees, net)
	pos.LastUpdateTime = now

	m.emit(events.FeesHarvested{
		ID:             pos.ID,
		Gross:          gross.String(),
		PerformanceFee: performanceFee.String(),
		Net:            net.String(),
		Timestamp:      now,
	})
}

// ForceLiquidate unwinds a position on behalf of the liquidation engine. The
// 3% penalty and the residual collateral stay with the protocol; nothing is
// returned to the owner.
func (m *Manager) ForceLiquidate(cap string, liquidator string, id uint64) (penalty, remaining *big.Int, err error) {
	if cap != m.cfg.LiquidatorCap {
		return nil, nil, ErrUnauthorized
	}
	pos, ok := m.positions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if pos.Status.Terminal() {
		return nil, nil, ErrTerminal
	}

	repaid := big.NewInt(0)
	debt, err := m.cfg.Pool.DebtOf(pos.BaseAsset, borrowerKey(id))
	if err != nil {
		return nil, nil, fmt.Errorf("read debt: %w", err)
	}
	if debt.Sign() > 0 {
		repaid, err = m.cfg.Pool.Repay(m.cfg.PoolCap, pos.BaseAsset, borrowerKey(id), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("repay debt: %w", err)
		}
	}

	penalty = scale.MulBps(pos.Collateral, PenaltyBps)
	remaining = new(big.Int).Add(pos.Collateral, pos.AccruedFees)
	remaining.Sub(remaining, repaid)
	remaining.Sub(remaining, penalty)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	now := m.nowFn()
	pos.Status = StatusLiquidated
	pos.LastUpdateTime = now

	m.emit(events.PositionLiquidated{
		ID:         id,
		Liquidator: liquidator,
		Penalty:    penalty.String(),
		Remaining:  remaining.String(),
		Timestamp:  now,
	})
	return penalty, remaining, nil
}

// Get returns a copy of the position.
func (m *Manager) Get(id uint64) (*Position, error) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePosition(pos), nil
}

// UserPositions returns the owner's position ids in open order.
func (m *Manager) UserPositions(owner string) []uint64 {
	ids := m.byOwner[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// Positions returns a copy of every known position, ordered by id.
func (m *Manager) Positions() []*Position {
	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, clonePosition(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthRatioBps returns (collateral+fees)*10000/debt for the position, or
// InfiniteHealthBps when it has no debt.
func (m *Manager) HealthRatioBps(id uint64) (uint64, error) {
	pos, ok := m.positions[id]
	if !ok {
		return 0, ErrNotFound
	}
	debt, err := m.cfg.Pool.DebtOf(pos.BaseAsset, borrowerKey(id))
	if err != nil {
		return 0, fmt.Errorf("read debt: %w", err)
	}
	if debt.Sign() == 0 {
		return InfiniteHealthBps, nil
	}
	equity := new(big.Int).Add(pos.Collateral, pos.AccruedFees)
	equity.Mul(equity, big.NewInt(scale.BpsDenominator))
	ratio := equity.Quo(equity, debt)
	if !ratio.IsUint64() {
		return InfiniteHealthBps, nil
	}
	return ratio.Uint64(), nil
}

// InRange reports whether the target asset's current price sits inside the
// position's stored bounds.
func (m *Manager) InRange(ctx context.Context, id uint64) (bool, error) {
	pos, ok := m.positions[id]
	if !ok {
		return false, ErrNotFound
	}
	price, err := m.cfg.Feed.CurrentPrice(ctx, pos.TargetAsset)
	if err != nil {
		return false, fmt.Errorf("read price: %w", err)
	}
	return price.Cmp(pos.LowerBound) >= 0 && price.Cmp(pos.UpperBound) <= 0, nil
}

// EffectiveStatus overlays the price-driven out-of-range state on the stored
// status. The stored status never records OutOfRange.
func (m *Manager) EffectiveStatus(ctx context.Context, id uint64) (Status, error) {
	pos, ok := m.positions[id]
	if !ok {
		return StatusActive, ErrNotFound
	}
	if pos.Status != StatusActive {
		return pos.Status, nil
	}
	inRange, err := m.InRange(ctx, id)
	if err != nil {
		return pos.Status, err
	}
	if !inRange {
		return StatusOutOfRange, nil
	}
	return StatusActive, nil
}

// DebtOf returns the position's live debt from the pool ledger.
func (m *Manager) DebtOf(id uint64) (*big.Int, error) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.cfg.Pool.DebtOf(pos.BaseAsset, borrowerKey(id))
}

// emit forwards an audit event. The event stream is observability only; a
// sink failure must not unwind accounting that already committed, so the
// error stops here. Durable sinks log their own write errors.
func (m *Manager) emit(event events.Event) {
	_ = m.cfg.Sink.Emit(event)
}

func borrowerKey(id uint64) string {
	return fmt.Sprintf("position:%d", id)
}

func aprWadFromBps(bps uint64) *big.Int {
	out := new(big.Int).Mul(new(big.Int).SetUint64(bps), scale.Wad)
	return out.Quo(out, big.NewInt(scale.BpsDenominator))
}

func clonePosition(pos *Position) *Position {
	out := *pos
	out.Collateral = new(big.Int).Set(pos.Collateral)
	out.CenterPrice = cloneBig(pos.CenterPrice)
	out.LowerBound = cloneBig(pos.LowerBound)
	out.UpperBound = cloneBig(pos.UpperBound)
	out.Debt = new(big.Int).Set(pos.Debt)
	out.AccruedFees = new(big.Int).Set(pos.AccruedFees)
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
