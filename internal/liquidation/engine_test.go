package liquidation

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"levercore/internal/position"
	"levercore/internal/scale"
)

type stubPositions struct {
	positions  map[uint64]*position.Position
	health     map[uint64]uint64
	inRange    map[uint64]bool
	wantCap    string
	liquidated []uint64
}

func (s *stubPositions) Get(id uint64) (*position.Position, error) {
	pos, ok := s.positions[id]
	if !ok {
		return nil, position.ErrNotFound
	}
	clone := *pos
	return &clone, nil
}

func (s *stubPositions) HealthRatioBps(id uint64) (uint64, error) {
	return s.health[id], nil
}

func (s *stubPositions) InRange(_ context.Context, id uint64) (bool, error) {
	return s.inRange[id], nil
}

func (s *stubPositions) ForceLiquidate(cap string, _ string, id uint64) (*big.Int, *big.Int, error) {
	if cap != s.wantCap {
		return nil, nil, position.ErrUnauthorized
	}
	s.positions[id].Status = position.StatusLiquidated
	s.liquidated = append(s.liquidated, id)
	penalty := scale.MulBps(s.positions[id].Collateral, 300)
	return penalty, big.NewInt(0), nil
}

type stubWhitelist map[string]bool

func (s stubWhitelist) IsWhitelisted(token string) bool { return s[token] }

const testNow = int64(1_700_000_000)

func newTestEngine(t *testing.T, store *DayCounterStore) (*Engine, *stubPositions) {
	t.Helper()
	positions := &stubPositions{
		positions: map[uint64]*position.Position{},
		health:    map[uint64]uint64{},
		inRange:   map[uint64]bool{},
		wantCap:   "liq",
	}
	engine, err := NewEngine("admin", "liq", positions, stubWhitelist{"WLMEME": true}, store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(func() int64 { return testNow })
	return engine, positions
}

func addPosition(positions *stubPositions, id uint64, asset string, lastUpdate int64) {
	positions.positions[id] = &position.Position{
		ID:             id,
		Owner:          "alice",
		TargetAsset:    asset,
		Collateral:     big.NewInt(1000),
		Status:         position.StatusActive,
		LastUpdateTime: lastUpdate,
	}
	positions.health[id] = 20_000
	positions.inRange[id] = true
}

func TestCanLiquidateFailsClosed(t *testing.T) {
	engine, positions := newTestEngine(t, nil)

	if ok, reason := engine.CanLiquidate(context.Background(), 99); ok || reason != "position not found" {
		t.Errorf("missing position: ok=%v reason=%q", ok, reason)
	}

	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs)
	positions.positions[1].Status = position.StatusClosed
	if ok, reason := engine.CanLiquidate(context.Background(), 1); ok || reason != "position already terminal" {
		t.Errorf("terminal position: ok=%v reason=%q", ok, reason)
	}

	addPosition(positions, 2, "MEME", testNow-GracePeriodSecs)
	if ok, reason := engine.CanLiquidate(context.Background(), 2); ok || reason != "position healthy" {
		t.Errorf("healthy position: ok=%v reason=%q", ok, reason)
	}
}

func TestHealthTriggerRespectsGracePeriod(t *testing.T) {
	engine, positions := newTestEngine(t, nil)

	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs+1)
	positions.health[1] = 8000
	if ok, reason := engine.CanLiquidate(context.Background(), 1); ok || reason != "grace period active" {
		t.Errorf("inside grace: ok=%v reason=%q", ok, reason)
	}

	addPosition(positions, 2, "MEME", testNow-GracePeriodSecs)
	positions.health[2] = 8000
	if ok, reason := engine.CanLiquidate(context.Background(), 2); !ok || reason != "health below threshold" {
		t.Errorf("after grace: ok=%v reason=%q", ok, reason)
	}
}

func TestRangeTrigger(t *testing.T) {
	engine, positions := newTestEngine(t, nil)

	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs)
	positions.health[1] = 9500
	positions.inRange[1] = false
	if ok, reason := engine.CanLiquidate(context.Background(), 1); !ok || reason != "price outside range" {
		t.Errorf("out of range: ok=%v reason=%q", ok, reason)
	}
}

func TestWhitelistedThreshold(t *testing.T) {
	engine, positions := newTestEngine(t, nil)

	// Health 8700 clears the 8500 default but not the whitelisted 9000.
	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs)
	positions.health[1] = 8700
	if ok, reason := engine.CanLiquidate(context.Background(), 1); ok || reason != "position healthy" {
		t.Errorf("plain asset: ok=%v reason=%q", ok, reason)
	}

	addPosition(positions, 2, "WLMEME", testNow-GracePeriodSecs)
	positions.health[2] = 8700
	if ok, reason := engine.CanLiquidate(context.Background(), 2); !ok || reason != "health below threshold" {
		t.Errorf("whitelisted asset: ok=%v reason=%q", ok, reason)
	}
}

func TestThresholdOverrideClamped(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	if err := engine.SetThreshold("wrong", "MEME", 7000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := engine.SetThreshold("admin", "MEME", 4000); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if got := engine.ThresholdBps("MEME"); got != MinThresholdBps {
		t.Errorf("low override = %d, want %d", got, MinThresholdBps)
	}
	if err := engine.SetThreshold("admin", "MEME", 9900); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if got := engine.ThresholdBps("MEME"); got != MaxThresholdBps {
		t.Errorf("high override = %d, want %d", got, MaxThresholdBps)
	}
}

func TestDailyCapFromPersistedCounter(t *testing.T) {
	store := NewDayCounterStore(filepath.Join(t.TempDir(), "liquidations.json"), true)
	day := time.Unix(testNow, 0).UTC().Format("2006-01-02")
	if err := store.Save(day, DailyCap); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	engine, positions := newTestEngine(t, store)
	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs)
	positions.health[1] = 8000
	if ok, reason := engine.CanLiquidate(context.Background(), 1); ok || reason != "daily liquidation cap reached" {
		t.Errorf("at cap: ok=%v reason=%q", ok, reason)
	}
}

func TestLiquidatePersistsAndSplits(t *testing.T) {
	store := NewDayCounterStore(filepath.Join(t.TempDir(), "liquidations.json"), true)
	engine, positions := newTestEngine(t, store)
	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs)
	positions.health[1] = 8000

	result, err := engine.Liquidate(context.Background(), "keeper", 1)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.Reason != "health below threshold" {
		t.Errorf("reason = %q", result.Reason)
	}
	if result.Penalty.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("penalty = %s, want 30", result.Penalty)
	}
	if result.KeeperReward.Cmp(big.NewInt(20)) != 0 ||
		result.InsuranceFund.Cmp(big.NewInt(10)) != 0 ||
		result.ProtocolFee.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("split = %s/%s/%s, want 20/10/10",
			result.KeeperReward, result.InsuranceFund, result.ProtocolFee)
	}
	if len(positions.liquidated) != 1 || positions.liquidated[0] != 1 {
		t.Errorf("liquidated ids = %v, want [1]", positions.liquidated)
	}
	if engine.TodayCount() != 1 {
		t.Errorf("today count = %d, want 1", engine.TodayCount())
	}

	// Liquidating the now-terminal position again is rejected.
	if _, err := engine.Liquidate(context.Background(), "keeper", 1); !errors.Is(err, ErrNotLiquidable) {
		t.Errorf("second liquidation err = %v, want ErrNotLiquidable", err)
	}

	// A fresh engine picks the counter back up from disk.
	reloaded, _ := newTestEngine(t, store)
	if reloaded.TodayCount() != 1 {
		t.Errorf("reloaded count = %d, want 1", reloaded.TodayCount())
	}
}

func TestDayRolloverResetsCount(t *testing.T) {
	engine, positions := newTestEngine(t, nil)
	addPosition(positions, 1, "MEME", testNow-GracePeriodSecs)
	positions.health[1] = 8000

	if _, err := engine.Liquidate(context.Background(), "keeper", 1); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if engine.TodayCount() != 1 {
		t.Fatalf("today count = %d, want 1", engine.TodayCount())
	}

	engine.SetClock(func() int64 { return testNow + 86_400 })
	if engine.TodayCount() != 0 {
		t.Errorf("next-day count = %d, want 0", engine.TodayCount())
	}
}
