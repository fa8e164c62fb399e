package server

import (
	"bytes"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"levercore/internal/core"
	"levercore/internal/oracle"
	"levercore/internal/pool"
	"levercore/internal/scale"
	"levercore/internal/vault"
)

type serverEnv struct {
	router *mux.Router
	vault  *vault.MemoryVault
	feed   *oracle.ManualFeed
	now    int64
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	env := &serverEnv{
		vault: vault.NewMemoryVault(),
		feed:  oracle.NewManualFeed(),
		now:   1_700_000_000,
	}
	env.feed.SetClock(func() int64 { return env.now })

	c, err := core.New(core.Config{
		AdminCap:         "admin",
		WhitelistBaseFee: big.NewInt(100),
		Transfer:         env.vault,
		Feed:             env.feed,
	})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	c.SetClock(func() int64 { return env.now })

	wad := func(pct int64) *big.Int {
		out := new(big.Int).Mul(scale.Wad, big.NewInt(pct))
		return out.Quo(out, big.NewInt(100))
	}
	params := pool.RateParams{
		BaseRateWad:      wad(2),
		Slope1Wad:        wad(10),
		Slope2Wad:        wad(100),
		OptimalUtilWad:   wad(80),
		ReserveFactorBps: 2000,
	}
	if err := c.AddAsset("admin", "USDC", params); err != nil {
		t.Fatalf("add asset: %v", err)
	}

	env.feed.Track("MEME")
	if err := env.feed.Push("MEME", oracle.Metrics{
		Volume24h: big.NewInt(300_000),
		Liquidity: big.NewInt(150_000),
		Holders:   600,
		MarketCap: big.NewInt(600_000),
		Price:     big.NewInt(1_000_000),
	}); err != nil {
		t.Fatalf("push metrics: %v", err)
	}

	env.router = New(c, env.feed, env.vault, nil).Router()
	return env
}

func (env *serverEnv) fund(owner string, amount int64) {
	env.vault.Mint("USDC", owner, big.NewInt(amount))
	env.vault.Approve("USDC", owner, big.NewInt(amount))
}

func (env *serverEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestSupplyAndPoolQuery(t *testing.T) {
	env := newServerEnv(t)
	env.fund("lp", 1_000_000)

	rec := env.do(t, http.MethodPost, "/api/v1/pools/USDC/supply",
		`{"user":"lp","amount":"1000000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("supply status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/pools/USDC", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pool status = %d", rec.Code)
	}
	var snap struct {
		TotalSupplied string `json:"total_supplied"`
		Cash          string `json:"cash"`
	}
	decodeBody(t, rec, &snap)
	if snap.TotalSupplied != "1000000" || snap.Cash != "1000000" {
		t.Errorf("supplied = %s cash = %s, want 1000000/1000000", snap.TotalSupplied, snap.Cash)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/pools/USDC/balance/lp", "")
	var balance struct {
		Balance string `json:"balance"`
	}
	decodeBody(t, rec, &balance)
	if balance.Balance != "1000000" {
		t.Errorf("balance = %s, want 1000000", balance.Balance)
	}
}

func TestOpenAndQueryPosition(t *testing.T) {
	env := newServerEnv(t)
	env.fund("lp", 1_000_000)
	env.do(t, http.MethodPost, "/api/v1/pools/USDC/supply", `{"user":"lp","amount":"1000000"}`)
	env.fund("alice", 1000)

	rec := env.do(t, http.MethodPost, "/api/v1/positions",
		`{"owner":"alice","base_asset":"USDC","target_asset":"MEME","collateral":"1000","leverage_bps":20000,"margin_type":"cross"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d body = %s", rec.Code, rec.Body.String())
	}
	var opened struct {
		ID       uint64 `json:"id"`
		RangeBps uint64 `json:"range_bps"`
		Debt     string `json:"debt"`
	}
	decodeBody(t, rec, &opened)
	if opened.RangeBps != 2500 || opened.Debt != "1000" {
		t.Errorf("range = %d debt = %s, want 2500/1000", opened.RangeBps, opened.Debt)
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/positions/%d", opened.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got struct {
		Status          string `json:"status"`
		EffectiveStatus string `json:"effective_status"`
		HealthBps       string `json:"health_bps"`
	}
	decodeBody(t, rec, &got)
	if got.Status != "active" || got.EffectiveStatus != "active" {
		t.Errorf("status = %s/%s, want active/active", got.Status, got.EffectiveStatus)
	}
	if got.HealthBps != "10000" {
		t.Errorf("health = %s, want 10000", got.HealthBps)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/users/alice/positions", "")
	var list struct {
		Positions []uint64 `json:"positions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Positions) != 1 || list.Positions[0] != opened.ID {
		t.Errorf("positions = %v, want [%d]", list.Positions, opened.ID)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodGet,
		"/api/v1/positions/preview?asset=MEME&collateral=1000&leverage_bps=20000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rec.Code)
	}
	var preview struct {
		OK            bool   `json:"ok"`
		FinalRangeBps uint64 `json:"final_range_bps"`
		BorrowAmount  string `json:"borrow_amount"`
	}
	decodeBody(t, rec, &preview)
	if !preview.OK || preview.FinalRangeBps != 2500 || preview.BorrowAmount != "1000" {
		t.Errorf("preview = %+v, want ok/2500/1000", preview)
	}
}

func TestAllowedRangeEndpoint(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/ranges/30000", "")
	var out struct {
		AllowedRangeBps uint64 `json:"allowed_range_bps"`
	}
	decodeBody(t, rec, &out)
	if out.AllowedRangeBps != 1666 {
		t.Errorf("allowed range = %d, want 1666", out.AllowedRangeBps)
	}
}

func TestOraclePushCooldown(t *testing.T) {
	env := newServerEnv(t)
	body := `{"volume_24h":"300000","liquidity":"150000","holders":600,"market_cap":"600000","price":"1100000"}`

	env.now += 300
	rec := env.do(t, http.MethodPost, "/api/v1/oracle/MEME", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("push status = %d body = %s", rec.Code, rec.Body.String())
	}

	// Second push inside the per-asset cooldown is rejected.
	rec = env.do(t, http.MethodPost, "/api/v1/oracle/MEME", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("cooldown status = %d, want 429", rec.Code)
	}
}

func TestLedgerEndpoints(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/ledger/USDC/mint",
		`{"holder":"carol","amount":"5000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mint status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/ledger/USDC/approve",
		`{"owner":"carol","amount":"5000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/ledger/USDC/balance/carol", "")
	var balance struct {
		Balance string `json:"balance"`
	}
	decodeBody(t, rec, &balance)
	if balance.Balance != "5000" {
		t.Errorf("balance = %s, want 5000", balance.Balance)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/pools/USDC/supply",
		`{"user":"carol","amount":"5000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("supply after mint status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	env := newServerEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/positions/99", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing position status = %d, want 404", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/v1/admin/thresholds",
		`{"cap":"wrong","asset":"MEME","bps":9000}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad cap status = %d, want 403", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/pools/USDC/supply", `{"user":"lp","amount":"-5"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad amount status = %d, want 400", rec.Code)
	}
}
