package position

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"levercore/internal/events"
	"levercore/internal/oracle"
	"levercore/internal/pool"
	"levercore/internal/registry"
	"levercore/internal/scale"
	"levercore/internal/vault"
)

type stubFeed struct {
	prices     map[string]*big.Int
	priceCalls int
	failAfter  int // when > 0, price reads past this count fail
}

func (f *stubFeed) CurrentPrice(_ context.Context, asset string) (*big.Int, error) {
	f.priceCalls++
	if f.failAfter > 0 && f.priceCalls > f.failAfter {
		return nil, errors.New("feed offline")
	}
	price, ok := f.prices[asset]
	if !ok {
		return nil, oracle.ErrUnknownAsset
	}
	return new(big.Int).Set(price), nil
}

func (f *stubFeed) GetMetrics(context.Context, string) (oracle.Metrics, error) {
	return oracle.Metrics{}, nil
}

func (f *stubFeed) IsFresh(string, int64) bool { return true }
func (f *stubFeed) Track(string)               {}

type stubRegistry struct {
	ceilings map[string]uint64
	tiers    map[string]registry.Tier
}

func (r *stubRegistry) MaxLeverageBps(asset string) uint64 {
	if ceiling, ok := r.ceilings[asset]; ok {
		return ceiling
	}
	return 25_000
}

func (r *stubRegistry) IsWhitelisted(token string) bool {
	_, ok := r.tiers[token]
	return ok
}

func (r *stubRegistry) TierOf(token string) registry.Tier { return r.tiers[token] }

type managerEnv struct {
	mgr   *Manager
	pool  *pool.Engine
	vault *vault.MemoryVault
	sink  *events.MemorySink
	feed  *stubFeed
	reg   *stubRegistry
	now   int64
}

func wadPct(pct int64) *big.Int {
	out := new(big.Int).Mul(scale.Wad, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}

func newManagerEnv(t *testing.T, poolLiquidity int64) *managerEnv {
	t.Helper()
	env := &managerEnv{
		vault: vault.NewMemoryVault(),
		sink:  events.NewMemorySink(),
		feed:  &stubFeed{prices: map[string]*big.Int{"MEME": big.NewInt(1_000_000)}},
		reg:   &stubRegistry{ceilings: map[string]uint64{}, tiers: map[string]registry.Tier{}},
		now:   1_700_000_000,
	}
	env.pool = pool.NewEngine("admin", "mgr", env.vault, events.Discard{})
	env.pool.SetClock(func() int64 { return env.now })

	params := pool.RateParams{
		BaseRateWad:      wadPct(2),
		Slope1Wad:        wadPct(10),
		Slope2Wad:        wadPct(100),
		OptimalUtilWad:   wadPct(80),
		ReserveFactorBps: 2000,
	}
	if err := env.pool.AddAsset("admin", "USDC", params); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	if poolLiquidity > 0 {
		env.vault.Mint("USDC", "lp", big.NewInt(poolLiquidity))
		env.vault.Approve("USDC", "lp", big.NewInt(poolLiquidity))
		if err := env.pool.Supply("lp", "USDC", big.NewInt(poolLiquidity)); err != nil {
			t.Fatalf("seed pool: %v", err)
		}
	}

	mgr, err := NewManager(Config{
		PoolCap:       "mgr",
		LiquidatorCap: "liq",
		Pool:          env.pool,
		Registry:      env.reg,
		Feed:          env.feed,
		Transfer:      env.vault,
		Sink:          env.sink,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.SetClock(func() int64 { return env.now })
	env.mgr = mgr
	return env
}

func (env *managerEnv) fund(owner string, amount int64) {
	env.vault.Mint("USDC", owner, big.NewInt(amount))
	env.vault.Approve("USDC", owner, big.NewInt(amount))
}

func (env *managerEnv) open(t *testing.T, owner string, collateral int64, leverageBps uint64) *Position {
	t.Helper()
	pos, err := env.mgr.Open(context.Background(), owner, "USDC", "MEME", big.NewInt(collateral), leverageBps, MarginCross, 0, 0)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}

func TestOpenComputesRangeAndBorrow(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	pos := env.open(t, "alice", 1000, 20_000)
	if pos.ID != 1 {
		t.Fatalf("id = %d, want 1", pos.ID)
	}
	if pos.RangeBps != 2500 {
		t.Errorf("range = %d bps, want 2500", pos.RangeBps)
	}
	if pos.Debt.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("debt = %s, want 1000", pos.Debt)
	}
	if pos.LowerBound.Cmp(big.NewInt(750_000)) != 0 || pos.UpperBound.Cmp(big.NewInt(1_250_000)) != 0 {
		t.Errorf("bounds = [%s, %s], want [750000, 1250000]", pos.LowerBound, pos.UpperBound)
	}

	debt, err := env.pool.DebtOf("USDC", "position:1")
	if err != nil {
		t.Fatalf("debt of: %v", err)
	}
	if debt.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("pool debt = %s, want 1000", debt)
	}
	if got := env.vault.BalanceOf("USDC", "alice"); got.Sign() != 0 {
		t.Errorf("alice balance = %s, want 0", got)
	}
	if got := env.mgr.UserPositions("alice"); len(got) != 1 || got[0] != 1 {
		t.Errorf("user positions = %v, want [1]", got)
	}
	if got := env.sink.ByName("PositionOpened"); len(got) != 1 {
		t.Errorf("PositionOpened events = %d, want 1", len(got))
	}
}

func TestOpenThreeX(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	pos := env.open(t, "alice", 1000, 30_000)
	if pos.RangeBps != 1666 {
		t.Errorf("range = %d bps, want 1666", pos.RangeBps)
	}
	if pos.Debt.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("debt = %s, want 2000", pos.Debt)
	}
}

func TestOpenWhitelistShrinksRange(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)
	env.reg.ceilings["MEME"] = 20_000
	env.reg.tiers["MEME"] = registry.TierBronze

	pos := env.open(t, "alice", 1000, 20_000)
	if pos.RangeBps != 2000 {
		t.Errorf("range = %d bps, want 2000 after bronze shrink", pos.RangeBps)
	}
}

func TestOpenCustomRangeCheckedBeforeShrink(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)
	env.reg.ceilings["MEME"] = 20_000
	env.reg.tiers["MEME"] = registry.TierBronze

	// 2500 is exactly the 2x maximum; the bronze shrink applies after the
	// check, not before.
	pos, err := env.mgr.Open(context.Background(), "alice", "USDC", "MEME", big.NewInt(1000), 20_000, MarginCross, 2500, 0)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if pos.RangeBps != 2000 {
		t.Errorf("range = %d bps, want 2000", pos.RangeBps)
	}
}

func TestOpenValidation(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 10_000)
	ctx := context.Background()

	cases := []struct {
		name        string
		collateral  int64
		leverageBps uint64
		rangeBps    uint64
		feeTier     uint8
		wantErr     error
	}{
		{"collateral too small", 99, 20_000, 0, 0, ErrCollateralTooSmall},
		{"leverage below 1x", 1000, 9999, 0, 0, ErrLeverageOutOfBounds},
		{"leverage above 10x", 1000, 100_001, 0, 0, ErrLeverageOutOfBounds},
		{"fee tier invalid", 1000, 20_000, 0, 3, ErrFeeTierInvalid},
		{"leverage above ceiling", 1000, 30_000, 0, 0, ErrLeverageCeiling},
		{"range too wide", 1000, 20_000, 2501, 0, ErrRangeTooWide},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.mgr.Open(ctx, "alice", "USDC", "MEME", big.NewInt(tc.collateral), tc.leverageBps, MarginCross, tc.rangeBps, tc.feeTier)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestOpenInsufficientLiquidityLeavesNoTrace(t *testing.T) {
	env := newManagerEnv(t, 500)
	env.fund("alice", 1000)

	_, err := env.mgr.Open(context.Background(), "alice", "USDC", "MEME", big.NewInt(1000), 20_000, MarginCross, 0, 0)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
	if got := env.vault.BalanceOf("USDC", "alice"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("alice balance = %s, want 1000 untouched", got)
	}
	if got := env.mgr.UserPositions("alice"); len(got) != 0 {
		t.Errorf("user positions = %v, want none", got)
	}
}

func TestPreviewMirrorsOpen(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	preview := env.mgr.Preview(context.Background(), "MEME", big.NewInt(1000), 20_000, 0, 0)
	if !preview.OK {
		t.Fatalf("preview rejected: %s", preview.Reason)
	}

	pos := env.open(t, "alice", 1000, 20_000)
	if preview.FinalRangeBps != pos.RangeBps {
		t.Errorf("preview range = %d, open range = %d", preview.FinalRangeBps, pos.RangeBps)
	}
	if preview.BorrowAmount.Cmp(pos.Debt) != 0 {
		t.Errorf("preview borrow = %s, open debt = %s", preview.BorrowAmount, pos.Debt)
	}
	if preview.LowerBound.Cmp(pos.LowerBound) != 0 || preview.UpperBound.Cmp(pos.UpperBound) != 0 {
		t.Errorf("preview bounds = [%s, %s], open bounds = [%s, %s]",
			preview.LowerBound, preview.UpperBound, pos.LowerBound, pos.UpperBound)
	}
	if preview.MaxLeverageBps != 25_000 {
		t.Errorf("preview ceiling = %d, want 25000", preview.MaxLeverageBps)
	}
}

func TestPreviewReportsRejection(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)

	preview := env.mgr.Preview(context.Background(), "MEME", big.NewInt(1000), 30_000, 0, 0)
	if preview.OK {
		t.Fatal("preview accepted leverage above ceiling")
	}
	if preview.Reason != ErrLeverageCeiling.Error() {
		t.Errorf("reason = %q, want %q", preview.Reason, ErrLeverageCeiling.Error())
	}
}

func TestHarvestAccruesNetFees(t *testing.T) {
	env := newManagerEnv(t, 10_000_000)
	env.fund("alice", 1_000_000)

	pos := env.open(t, "alice", 1_000_000, 20_000)
	env.now += secondsPerYear / 2

	// 20% APR on 1M at 2x over half a year: gross 200_000, 10% fee 20_000.
	net, err := env.mgr.Harvest("alice", pos.ID)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if net.Cmp(big.NewInt(180_000)) != 0 {
		t.Errorf("net = %s, want 180000", net)
	}
	got, err := env.mgr.Get(pos.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccruedFees.Cmp(big.NewInt(180_000)) != 0 {
		t.Errorf("accrued = %s, want 180000", got.AccruedFees)
	}
	if got.LastUpdateTime != env.now {
		t.Errorf("last update = %d, want %d", got.LastUpdateTime, env.now)
	}

	// Harvesting again at the same instant accrues nothing.
	net, err = env.mgr.Harvest("alice", pos.ID)
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if net.Sign() != 0 {
		t.Errorf("second harvest net = %s, want 0", net)
	}
	if got := env.sink.ByName("FeesHarvested"); len(got) != 1 {
		t.Errorf("FeesHarvested events = %d, want 1", len(got))
	}
}

func TestHarvestZeroAccrualIsNoOp(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 100)

	pos := env.open(t, "alice", 100, 10_000)
	openedAt := pos.LastUpdateTime
	env.now++

	// One second on 100 units rounds to zero; the timestamp must not move.
	net, err := env.mgr.Harvest("alice", pos.ID)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if net.Sign() != 0 {
		t.Fatalf("net = %s, want 0", net)
	}
	got, err := env.mgr.Get(pos.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastUpdateTime != openedAt {
		t.Errorf("last update = %d, want unchanged %d", got.LastUpdateTime, openedAt)
	}
	if got := env.sink.ByName("FeesHarvested"); len(got) != 0 {
		t.Errorf("FeesHarvested events = %d, want 0", len(got))
	}
}

func TestCloseNoDebtReturnsCollateral(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	pos := env.open(t, "alice", 1000, 10_000)
	closed, err := env.mgr.Close(context.Background(), "alice", pos.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != StatusClosed {
		t.Errorf("status = %v, want closed", closed.Status)
	}
	if got := env.vault.BalanceOf("USDC", "alice"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("alice balance = %s, want 1000", got)
	}

	if _, err := env.mgr.Close(context.Background(), "alice", pos.ID); !errors.Is(err, ErrTerminal) {
		t.Errorf("second close err = %v, want ErrTerminal", err)
	}
}

func TestCloseRepaysDebtAndFloorsPayout(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	pos := env.open(t, "alice", 1000, 20_000)
	if _, err := env.mgr.Close(context.Background(), "alice", pos.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	debt, err := env.pool.DebtOf("USDC", "position:1")
	if err != nil {
		t.Fatalf("debt of: %v", err)
	}
	if debt.Sign() != 0 {
		t.Errorf("pool debt = %s, want 0 after close", debt)
	}
	// collateral 1000 + fees 0 − repaid 1000 = 0 pays out nothing.
	if got := env.vault.BalanceOf("USDC", "alice"); got.Sign() != 0 {
		t.Errorf("alice balance = %s, want 0", got)
	}
}

func TestCloseOwnerOnly(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	pos := env.open(t, "alice", 1000, 10_000)
	if _, err := env.mgr.Close(context.Background(), "bob", pos.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("err = %v, want ErrNotOwner", err)
	}
}

func TestForceLiquidate(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)

	pos := env.open(t, "alice", 1000, 20_000)

	if _, _, err := env.mgr.ForceLiquidate("wrong", "keeper", pos.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	penalty, remaining, err := env.mgr.ForceLiquidate("liq", "keeper", pos.ID)
	if err != nil {
		t.Fatalf("force liquidate: %v", err)
	}
	if penalty.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("penalty = %s, want 30", penalty)
	}
	if remaining.Sign() != 0 {
		t.Errorf("remaining = %s, want 0", remaining)
	}

	debt, err := env.pool.DebtOf("USDC", "position:1")
	if err != nil {
		t.Fatalf("debt of: %v", err)
	}
	if debt.Sign() != 0 {
		t.Errorf("pool debt = %s, want 0", debt)
	}
	// The owner receives nothing on forced liquidation.
	if got := env.vault.BalanceOf("USDC", "alice"); got.Sign() != 0 {
		t.Errorf("alice balance = %s, want 0", got)
	}

	if _, _, err := env.mgr.ForceLiquidate("liq", "keeper", pos.ID); !errors.Is(err, ErrTerminal) {
		t.Errorf("second liquidation err = %v, want ErrTerminal", err)
	}
	if _, err := env.mgr.Harvest("alice", pos.ID); !errors.Is(err, ErrNotActive) {
		t.Errorf("harvest after liquidation err = %v, want ErrNotActive", err)
	}
}

func TestHealthRatio(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 2000)

	leveraged := env.open(t, "alice", 1000, 20_000)
	health, err := env.mgr.HealthRatioBps(leveraged.ID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health != 10_000 {
		t.Errorf("health = %d, want 10000", health)
	}

	unleveraged := env.open(t, "alice", 1000, 10_000)
	health, err = env.mgr.HealthRatioBps(unleveraged.ID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health != InfiniteHealthBps {
		t.Errorf("health = %d, want infinite", health)
	}
}

func TestEffectiveStatusTracksPrice(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)
	ctx := context.Background()

	pos := env.open(t, "alice", 1000, 20_000)

	status, err := env.mgr.EffectiveStatus(ctx, pos.ID)
	if err != nil {
		t.Fatalf("effective status: %v", err)
	}
	if status != StatusActive {
		t.Fatalf("status = %v, want active", status)
	}

	env.feed.prices["MEME"] = big.NewInt(1_300_000)
	status, err = env.mgr.EffectiveStatus(ctx, pos.ID)
	if err != nil {
		t.Fatalf("effective status: %v", err)
	}
	if status != StatusOutOfRange {
		t.Errorf("status = %v, want out of range", status)
	}
	// The stored status stays active; out-of-range is derived, not persisted.
	got, err := env.mgr.Get(pos.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("stored status = %v, want active", got.Status)
	}

	env.feed.prices["MEME"] = big.NewInt(900_000)
	status, err = env.mgr.EffectiveStatus(ctx, pos.ID)
	if err != nil {
		t.Fatalf("effective status: %v", err)
	}
	if status != StatusActive {
		t.Errorf("status = %v, want active again", status)
	}
}

func TestOpenReadsPriceOnce(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 1000)
	env.feed.failAfter = 1

	pos := env.open(t, "alice", 1000, 20_000)
	if env.feed.priceCalls != 1 {
		t.Fatalf("price reads = %d, want 1", env.feed.priceCalls)
	}
	if pos.CenterPrice.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("center = %s, want 1000000", pos.CenterPrice)
	}
	if pos.LowerBound.Cmp(big.NewInt(750_000)) != 0 || pos.UpperBound.Cmp(big.NewInt(1_250_000)) != 0 {
		t.Errorf("bounds = [%s, %s], want [750000, 1250000]", pos.LowerBound, pos.UpperBound)
	}
}

type failingSink struct {
	emits int
}

func (s *failingSink) Emit(events.Event) error {
	s.emits++
	return errors.New("disk full")
}

func TestOpenSinkFailureStillOpens(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	sink := &failingSink{}
	mgr, err := NewManager(Config{
		PoolCap:       "mgr",
		LiquidatorCap: "liq",
		Pool:          env.pool,
		Registry:      env.reg,
		Feed:          env.feed,
		Transfer:      env.vault,
		Sink:          sink,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.SetClock(func() int64 { return env.now })
	env.fund("alice", 1000)

	pos, err := mgr.Open(context.Background(), "alice", "USDC", "MEME", big.NewInt(1000), 20_000, MarginCross, 0, 0)
	if err != nil {
		t.Fatalf("open with failing sink: %v", err)
	}
	got, err := mgr.Get(pos.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %v, want active", got.Status)
	}
	if got.Debt.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("debt = %s, want 1000", got.Debt)
	}
	if sink.emits == 0 {
		t.Fatal("sink never received an event")
	}
}

func TestPositionsListsAllSorted(t *testing.T) {
	env := newManagerEnv(t, 1_000_000)
	env.fund("alice", 2000)
	env.fund("bob", 1000)
	env.open(t, "alice", 1000, 20_000)
	env.open(t, "bob", 1000, 10_000)
	env.open(t, "alice", 1000, 10_000)

	all := env.mgr.Positions()
	if len(all) != 3 {
		t.Fatalf("positions = %d, want 3", len(all))
	}
	for i, pos := range all {
		if pos.ID != uint64(i+1) {
			t.Fatalf("position %d has id %d, want %d", i, pos.ID, i+1)
		}
	}
	if all[1].Owner != "bob" {
		t.Errorf("owner of 2 = %s, want bob", all[1].Owner)
	}

	// Returned positions are copies; mutating them must not touch state.
	all[0].Collateral.SetInt64(5)
	got, err := env.mgr.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Collateral.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("collateral = %s, want 1000", got.Collateral)
	}
}
