package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"levercore/internal/events"
	"levercore/internal/liquidation"
	"levercore/internal/oracle"
	"levercore/internal/pool"
	"levercore/internal/position"
	"levercore/internal/registry"
	"levercore/internal/vault"
)

// ErrReentrant is returned when a mutating operation is invoked while
// another one is still in flight.
var ErrReentrant = errors.New("core: reentrant call rejected")

// Config is the composition-root configuration. AdminCap gates the
// administrative operations; the inter-component capabilities are generated
// internally and never leave the core.
type Config struct {
	AdminCap         string
	WhitelistBaseFee *big.Int
	DayCounterPath   string
	Transfer         vault.Transfer
	Feed             oracle.Feed
	Sink             events.Sink
	Logger           *zap.Logger
}

// Core wires the lending pool, position manager, risk registry, and
// liquidation engine behind a single mutating facade. Mutating operations
// run one at a time; a second mutating call while one is in flight fails
// with ErrReentrant instead of queueing.
type Core struct {
	cfg    Config
	logger *zap.Logger

	pool        *pool.Engine
	positions   *position.Manager
	registry    *registry.Registry
	liquidation *liquidation.Engine

	gate chan struct{}
}

// New builds the component graph. The vault transfer and price feed are the
// two external collaborators and must be provided.
func New(cfg Config) (*Core, error) {
	if cfg.Transfer == nil || cfg.Feed == nil {
		return nil, fmt.Errorf("core: transfer and feed are required")
	}
	if cfg.AdminCap == "" {
		return nil, fmt.Errorf("core: admin capability is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WhitelistBaseFee == nil {
		cfg.WhitelistBaseFee = big.NewInt(0)
	}

	managerCap, err := newCapability()
	if err != nil {
		return nil, err
	}
	liquidatorCap, err := newCapability()
	if err != nil {
		return nil, err
	}

	poolEngine := pool.NewEngine(cfg.AdminCap, managerCap, cfg.Transfer, cfg.Sink)
	riskRegistry := registry.New(cfg.AdminCap, cfg.Feed, cfg.Sink, cfg.WhitelistBaseFee)

	manager, err := position.NewManager(position.Config{
		PoolCap:       managerCap,
		LiquidatorCap: liquidatorCap,
		Pool:          poolEngine,
		Registry:      riskRegistry,
		Feed:          cfg.Feed,
		Transfer:      cfg.Transfer,
		Sink:          cfg.Sink,
	})
	if err != nil {
		return nil, err
	}

	store := liquidation.NewDayCounterStore(cfg.DayCounterPath, cfg.DayCounterPath != "")
	liqEngine, err := liquidation.NewEngine(cfg.AdminCap, liquidatorCap, manager, riskRegistry, store)
	if err != nil {
		return nil, err
	}

	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &Core{
		cfg:         cfg,
		logger:      cfg.Logger,
		pool:        poolEngine,
		positions:   manager,
		registry:    riskRegistry,
		liquidation: liqEngine,
		gate:        gate,
	}, nil
}

func newCapability() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: generate capability: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SetClock overrides the clock of every component, for tests.
func (c *Core) SetClock(nowFn func() int64) {
	c.pool.SetClock(nowFn)
	c.positions.SetClock(nowFn)
	c.registry.SetClock(nowFn)
	c.liquidation.SetClock(nowFn)
}

// enter claims the single mutation slot without blocking.
func (c *Core) enter() error {
	select {
	case <-c.gate:
		return nil
	default:
		return ErrReentrant
	}
}

func (c *Core) leave() {
	c.gate <- struct{}{}
}

// AddAsset registers a lendable asset with its rate parameters.
func (c *Core) AddAsset(cap string, asset string, params pool.RateParams) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	if err := c.pool.AddAsset(cap, asset, params); err != nil {
		return err
	}
	c.logger.Info("asset added", zap.String("asset", asset))
	return nil
}

// SetAssetActive pauses or resumes supply and borrow for an asset.
func (c *Core) SetAssetActive(cap string, asset string, active bool) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.pool.SetActive(cap, asset, active)
}

// Supply deposits into the lending pool for the user.
func (c *Core) Supply(user, asset string, amount *big.Int) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.pool.Supply(user, asset, amount)
}

// Withdraw pulls a supplier's funds back out. A nil or zero amount withdraws
// the full balance. Returns the amount withdrawn.
func (c *Core) Withdraw(user, asset string, amount *big.Int) (*big.Int, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.pool.Withdraw(user, asset, amount)
}

// OpenPosition opens a leveraged position for the owner.
func (c *Core) OpenPosition(ctx context.Context, owner, baseAsset, targetAsset string, collateral *big.Int, leverageBps uint64, marginType position.MarginType, customRangeBps uint64, feeTier uint8) (*position.Position, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	pos, err := c.positions.Open(ctx, owner, baseAsset, targetAsset, collateral, leverageBps, marginType, customRangeBps, feeTier)
	if err != nil {
		return nil, err
	}
	c.logger.Info("position opened",
		zap.Uint64("id", pos.ID),
		zap.String("owner", owner),
		zap.Uint64("leverage_bps", leverageBps))
	return pos, nil
}

// ClosePosition closes an owner's position and pays out the residual.
func (c *Core) ClosePosition(ctx context.Context, owner string, id uint64) (*position.Position, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.positions.Close(ctx, owner, id)
}

// HarvestPosition accrues pending fees into the position. Returns the net
// amount credited.
func (c *Core) HarvestPosition(owner string, id uint64) (*big.Int, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.positions.Harvest(owner, id)
}

// Liquidate executes an eligible liquidation on behalf of the keeper.
func (c *Core) Liquidate(ctx context.Context, keeper string, id uint64) (*liquidation.Result, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	result, err := c.liquidation.Liquidate(ctx, keeper, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info("position liquidated",
		zap.Uint64("id", id),
		zap.String("keeper", keeper),
		zap.String("reason", result.Reason))
	return result, nil
}

// RequestWhitelist records a whitelist application for a volatile token.
func (c *Core) RequestWhitelist(token, metadata string, fee *big.Int) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.registry.RequestWhitelist(token, metadata, fee)
}

// EvaluateAndWhitelist scores a pending token against the tier thresholds.
func (c *Core) EvaluateAndWhitelist(ctx context.Context, cap string, token string) (registry.Tier, error) {
	if err := c.enter(); err != nil {
		return registry.TierNone, err
	}
	defer c.leave()
	return c.registry.EvaluateAndWhitelist(ctx, cap, token)
}

// SetAssetClass assigns a static leverage class to an asset.
func (c *Core) SetAssetClass(cap string, asset string, class registry.AssetClass) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.registry.SetAssetClass(cap, asset, class)
}

// SetTierRequirements replaces the thresholds for one tier.
func (c *Core) SetTierRequirements(cap string, tier registry.Tier, reqs registry.TierRequirements) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.registry.SetTierRequirements(cap, tier, reqs)
}

// SetLiquidationThreshold installs a per-asset threshold override.
func (c *Core) SetLiquidationThreshold(cap string, asset string, bps uint64) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.liquidation.SetThreshold(cap, asset, bps)
}

// Read-side passthroughs. These do not take the mutation gate; each
// component serves consistent reads from its own committed state.

func (c *Core) Position(id uint64) (*position.Position, error) { return c.positions.Get(id) }

func (c *Core) UserPositions(owner string) []uint64 { return c.positions.UserPositions(owner) }

func (c *Core) Positions() []*position.Position { return c.positions.Positions() }

func (c *Core) HealthRatioBps(id uint64) (uint64, error) { return c.positions.HealthRatioBps(id) }

func (c *Core) InRange(ctx context.Context, id uint64) (bool, error) {
	return c.positions.InRange(ctx, id)
}

func (c *Core) EffectiveStatus(ctx context.Context, id uint64) (position.Status, error) {
	return c.positions.EffectiveStatus(ctx, id)
}

func (c *Core) PositionDebt(id uint64) (*big.Int, error) { return c.positions.DebtOf(id) }

func (c *Core) PreviewOpen(ctx context.Context, targetAsset string, collateral *big.Int, leverageBps uint64, customRangeBps uint64, feeTier uint8) position.Preview {
	return c.positions.Preview(ctx, targetAsset, collateral, leverageBps, customRangeBps, feeTier)
}

// AllowedRangeBps returns the widest permitted range for a leverage, before
// any tier shrink.
func (c *Core) AllowedRangeBps(leverageBps uint64) uint64 {
	return position.MaxRangeBps(leverageBps)
}

func (c *Core) PoolSnapshot(asset string) (pool.Snapshot, error) { return c.pool.Snapshot(asset) }

func (c *Core) PoolAssets() []string { return c.pool.Assets() }

func (c *Core) SupplyBalanceOf(asset, user string) (*big.Int, error) {
	return c.pool.SupplyBalanceOf(asset, user)
}

func (c *Core) AvailableLiquidity(asset string) (*big.Int, error) {
	return c.pool.AvailableLiquidity(asset)
}

func (c *Core) IsWhitelisted(token string) bool { return c.registry.IsWhitelisted(token) }

func (c *Core) TierOf(token string) registry.Tier { return c.registry.TierOf(token) }

func (c *Core) MaxLeverageBps(asset string) uint64 { return c.registry.MaxLeverageBps(asset) }

func (c *Core) TokenInfo(token string) (registry.TokenInfo, bool) { return c.registry.Info(token) }

func (c *Core) Whitelisted() []string { return c.registry.Whitelisted() }

func (c *Core) TierRequirements(tier registry.Tier) (registry.TierRequirements, bool) {
	return c.registry.Requirements(tier)
}

func (c *Core) CanLiquidate(ctx context.Context, id uint64) (bool, string) {
	return c.liquidation.CanLiquidate(ctx, id)
}

func (c *Core) LiquidationThresholdBps(asset string) uint64 {
	return c.liquidation.ThresholdBps(asset)
}

func (c *Core) LiquidationsToday() uint64 { return c.liquidation.TodayCount() }
