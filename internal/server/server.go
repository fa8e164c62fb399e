package server

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"levercore/internal/core"
	"levercore/internal/liquidation"
	"levercore/internal/oracle"
	"levercore/internal/pool"
	"levercore/internal/position"
	"levercore/internal/registry"
	"levercore/internal/vault"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes the core over HTTP. The manual feed and in-process ledger
// are optional; when set, oracle pushes and ledger operations are accepted
// over the API.
type Server struct {
	core   *core.Core
	feed   *oracle.ManualFeed
	ledger *vault.MemoryVault
	logger *zap.Logger
}

func New(c *core.Core, feed *oracle.ManualFeed, ledger *vault.MemoryVault, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{core: c, feed: feed, ledger: ledger, logger: logger}
}

// Router builds the versioned route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument)

	api.HandleFunc("/pools", s.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{asset}", s.handlePool).Methods("GET")
	api.HandleFunc("/pools/{asset}/balance/{user}", s.handleSupplyBalance).Methods("GET")
	api.HandleFunc("/pools/{asset}/supply", s.handleSupply).Methods("POST")
	api.HandleFunc("/pools/{asset}/withdraw", s.handleWithdraw).Methods("POST")

	api.HandleFunc("/positions", s.handleOpen).Methods("POST")
	api.HandleFunc("/positions/preview", s.handlePreview).Methods("GET")
	api.HandleFunc("/positions/{id}", s.handlePosition).Methods("GET")
	api.HandleFunc("/positions/{id}/close", s.handleClose).Methods("POST")
	api.HandleFunc("/positions/{id}/harvest", s.handleHarvest).Methods("POST")
	api.HandleFunc("/positions/{id}/liquidate", s.handleLiquidate).Methods("POST")
	api.HandleFunc("/positions/{id}/liquidable", s.handleLiquidable).Methods("GET")
	api.HandleFunc("/users/{owner}/positions", s.handleUserPositions).Methods("GET")
	api.HandleFunc("/ranges/{leverage}", s.handleAllowedRange).Methods("GET")

	api.HandleFunc("/registry/tokens", s.handleWhitelisted).Methods("GET")
	api.HandleFunc("/registry/tokens/{token}", s.handleTokenInfo).Methods("GET")
	api.HandleFunc("/registry/requests", s.handleWhitelistRequest).Methods("POST")

	api.HandleFunc("/admin/assets", s.handleAddAsset).Methods("POST")
	api.HandleFunc("/admin/evaluate", s.handleEvaluate).Methods("POST")
	api.HandleFunc("/admin/thresholds", s.handleSetThreshold).Methods("POST")

	if s.feed != nil {
		api.HandleFunc("/oracle/{asset}", s.handleOraclePush).Methods("POST")
	}
	if s.ledger != nil {
		api.HandleFunc("/ledger/{asset}/mint", s.handleMint).Methods("POST")
		api.HandleFunc("/ledger/{asset}/approve", s.handleApprove).Methods("POST")
		api.HandleFunc("/ledger/{asset}/balance/{holder}", s.handleLedgerBalance).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}

// instrument records request latency per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(recorder.code)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

type poolResponse struct {
	Asset          string `json:"asset"`
	Active         bool   `json:"active"`
	TotalSupplied  string `json:"total_supplied"`
	TotalBorrowed  string `json:"total_borrowed"`
	SupplyIndex    string `json:"supply_index"`
	BorrowIndex    string `json:"borrow_index"`
	Cash           string `json:"cash"`
	Reserves       string `json:"reserves"`
	UtilizationWad string `json:"utilization_wad"`
	BorrowRateWad  string `json:"borrow_rate_wad"`
}

type positionResponse struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	BaseAsset       string `json:"base_asset"`
	TargetAsset     string `json:"target_asset"`
	Collateral      string `json:"collateral"`
	LeverageBps     uint64 `json:"leverage_bps"`
	RangeBps        uint64 `json:"range_bps"`
	CenterPrice     string `json:"center_price"`
	LowerBound      string `json:"lower_bound"`
	UpperBound      string `json:"upper_bound"`
	Debt            string `json:"debt"`
	AccruedFees     string `json:"accrued_fees"`
	MarginType      string `json:"margin_type"`
	Status          string `json:"status"`
	EffectiveStatus string `json:"effective_status,omitempty"`
	HealthBps       string `json:"health_bps,omitempty"`
	OpenedAt        int64  `json:"opened_at"`
	LastUpdateTime  int64  `json:"last_update_time"`
}

func poolToResponse(snap pool.Snapshot) poolResponse {
	return poolResponse{
		Asset:          snap.Asset,
		Active:         snap.Active,
		TotalSupplied:  snap.TotalSupplied.String(),
		TotalBorrowed:  snap.TotalBorrowed.String(),
		SupplyIndex:    snap.SupplyIndex.String(),
		BorrowIndex:    snap.BorrowIndex.String(),
		Cash:           snap.Cash.String(),
		Reserves:       snap.Reserves.String(),
		UtilizationWad: snap.UtilizationWad.String(),
		BorrowRateWad:  snap.BorrowRateWad.String(),
	}
}

func positionToResponse(pos *position.Position) positionResponse {
	return positionResponse{
		ID:             pos.ID,
		Owner:          pos.Owner,
		BaseAsset:      pos.BaseAsset,
		TargetAsset:    pos.TargetAsset,
		Collateral:     pos.Collateral.String(),
		LeverageBps:    pos.LeverageBps,
		RangeBps:       pos.RangeBps,
		CenterPrice:    pos.CenterPrice.String(),
		LowerBound:     pos.LowerBound.String(),
		UpperBound:     pos.UpperBound.String(),
		Debt:           pos.Debt.String(),
		AccruedFees:    pos.AccruedFees.String(),
		MarginType:     pos.MarginType.String(),
		Status:         pos.Status.String(),
		OpenedAt:       pos.OpenedAt,
		LastUpdateTime: pos.LastUpdateTime,
	}
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	assets := s.core.PoolAssets()
	out := make([]poolResponse, 0, len(assets))
	for _, asset := range assets {
		snap, err := s.core.PoolSnapshot(asset)
		if err != nil {
			continue
		}
		utilization, _ := new(big.Float).SetInt(snap.UtilizationWad).Float64()
		poolUtilization.WithLabelValues(asset).Set(utilization)
		out = append(out, poolToResponse(snap))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"pools": out})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	snap, err := s.core.PoolSnapshot(mux.Vars(r)["asset"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, poolToResponse(snap))
}

func (s *Server) handleSupplyBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := s.core.SupplyBalanceOf(vars["asset"], vars["user"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset":   vars["asset"],
		"user":    vars["user"],
		"balance": balance.String(),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User   string `json:"user"`
		Amount string `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		s.badRequest(w, "invalid amount")
		return
	}
	if err := s.core.Supply(req.User, mux.Vars(r)["asset"], amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "supplied"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User   string `json:"user"`
		Amount string `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	var amount *big.Int
	if req.Amount != "" {
		parsed, ok := parseAmount(req.Amount)
		if !ok {
			s.badRequest(w, "invalid amount")
			return
		}
		amount = parsed
	}
	withdrawn, err := s.core.Withdraw(req.User, mux.Vars(r)["asset"], amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner       string `json:"owner"`
		BaseAsset   string `json:"base_asset"`
		TargetAsset string `json:"target_asset"`
		Collateral  string `json:"collateral"`
		LeverageBps uint64 `json:"leverage_bps"`
		MarginType  string `json:"margin_type"`
		RangeBps    uint64 `json:"range_bps"`
		FeeTier     uint8  `json:"fee_tier"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	collateral, ok := parseAmount(req.Collateral)
	if !ok {
		s.badRequest(w, "invalid collateral")
		return
	}
	marginType := position.MarginCross
	if req.MarginType == "isolated" {
		marginType = position.MarginIsolated
	}

	pos, err := s.core.OpenPosition(r.Context(), req.Owner, req.BaseAsset, req.TargetAsset,
		collateral, req.LeverageBps, marginType, req.RangeBps, req.FeeTier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	positionsOpened.Inc()
	s.writeJSON(w, http.StatusCreated, positionToResponse(pos))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	collateral, ok := parseAmount(query.Get("collateral"))
	if !ok {
		s.badRequest(w, "invalid collateral")
		return
	}
	leverage, err := strconv.ParseUint(query.Get("leverage_bps"), 10, 64)
	if err != nil {
		s.badRequest(w, "invalid leverage_bps")
		return
	}
	rangeBps, _ := strconv.ParseUint(query.Get("range_bps"), 10, 64)
	feeTier, _ := strconv.ParseUint(query.Get("fee_tier"), 10, 8)

	preview := s.core.PreviewOpen(r.Context(), query.Get("asset"), collateral, leverage, rangeBps, uint8(feeTier))
	out := map[string]interface{}{
		"ok":                preview.OK,
		"allowed_range_bps": preview.AllowedRangeBps,
		"final_range_bps":   preview.FinalRangeBps,
		"token_whitelisted": preview.TokenWhitelisted,
		"token_tier":        preview.TokenTier,
		"max_leverage_bps":  preview.MaxLeverageBps,
	}
	if preview.Reason != "" {
		out["reason"] = preview.Reason
	}
	if preview.BorrowAmount != nil {
		out["borrow_amount"] = preview.BorrowAmount.String()
	}
	if preview.LowerBound != nil && preview.UpperBound != nil {
		out["lower_bound"] = preview.LowerBound.String()
		out["upper_bound"] = preview.UpperBound.String()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.positionID(w, r)
	if !ok {
		return
	}
	pos, err := s.core.Position(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := positionToResponse(pos)
	if status, err := s.core.EffectiveStatus(r.Context(), id); err == nil {
		out.EffectiveStatus = status.String()
	}
	if health, err := s.core.HealthRatioBps(id); err == nil {
		out.HealthBps = strconv.FormatUint(health, 10)
	}
	if debt, err := s.core.PositionDebt(id); err == nil {
		out.Debt = debt.String()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := s.positionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Owner string `json:"owner"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	pos, err := s.core.ClosePosition(r.Context(), req.Owner, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	positionsClosed.WithLabelValues("closed").Inc()
	s.writeJSON(w, http.StatusOK, positionToResponse(pos))
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.positionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Owner string `json:"owner"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	net, err := s.core.HarvestPosition(req.Owner, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"net": net.String()})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.positionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Keeper string `json:"keeper"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.core.Liquidate(r.Context(), req.Keeper, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	positionsClosed.WithLabelValues("liquidated").Inc()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"reason":         result.Reason,
		"penalty":        result.Penalty.String(),
		"remaining":      result.Remaining.String(),
		"keeper_reward":  result.KeeperReward.String(),
		"insurance_fund": result.InsuranceFund.String(),
		"protocol_fee":   result.ProtocolFee.String(),
	})
}

func (s *Server) handleLiquidable(w http.ResponseWriter, r *http.Request) {
	id, ok := s.positionID(w, r)
	if !ok {
		return
	}
	liquidable, reason := s.core.CanLiquidate(r.Context(), id)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"liquidable": liquidable,
		"reason":     reason,
	})
}

func (s *Server) handleUserPositions(w http.ResponseWriter, r *http.Request) {
	ids := s.core.UserPositions(mux.Vars(r)["owner"])
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": ids})
}

func (s *Server) handleAllowedRange(w http.ResponseWriter, r *http.Request) {
	leverage, err := strconv.ParseUint(mux.Vars(r)["leverage"], 10, 64)
	if err != nil {
		s.badRequest(w, "invalid leverage")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"leverage_bps":      leverage,
		"allowed_range_bps": s.core.AllowedRangeBps(leverage),
	})
}

func (s *Server) handleWhitelisted(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": s.core.Whitelisted()})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	out := map[string]interface{}{
		"token":            token,
		"whitelisted":      s.core.IsWhitelisted(token),
		"tier":             s.core.TierOf(token).String(),
		"max_leverage_bps": s.core.MaxLeverageBps(token),
		"threshold_bps":    s.core.LiquidationThresholdBps(token),
	}
	if info, ok := s.core.TokenInfo(token); ok {
		out["whitelisted_at"] = info.WhitelistedAt
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWhitelistRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Metadata string `json:"metadata"`
		Fee      string `json:"fee"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	fee, ok := parseAmount(req.Fee)
	if !ok {
		s.badRequest(w, "invalid fee")
		return
	}
	if err := s.core.RequestWhitelist(req.Token, req.Metadata, fee); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cap              string `json:"cap"`
		Asset            string `json:"asset"`
		BaseRateWad      string `json:"base_rate_wad"`
		Slope1Wad        string `json:"slope1_wad"`
		Slope2Wad        string `json:"slope2_wad"`
		OptimalUtilWad   string `json:"optimal_util_wad"`
		ReserveFactorBps uint64 `json:"reserve_factor_bps"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	params := pool.RateParams{ReserveFactorBps: req.ReserveFactorBps}
	var ok bool
	if params.BaseRateWad, ok = parseAmount(req.BaseRateWad); !ok {
		s.badRequest(w, "invalid base_rate_wad")
		return
	}
	if params.Slope1Wad, ok = parseAmount(req.Slope1Wad); !ok {
		s.badRequest(w, "invalid slope1_wad")
		return
	}
	if params.Slope2Wad, ok = parseAmount(req.Slope2Wad); !ok {
		s.badRequest(w, "invalid slope2_wad")
		return
	}
	if params.OptimalUtilWad, ok = parseAmount(req.OptimalUtilWad); !ok {
		s.badRequest(w, "invalid optimal_util_wad")
		return
	}
	if err := s.core.AddAsset(req.Cap, req.Asset, params); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"asset": req.Asset})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cap   string `json:"cap"`
		Token string `json:"token"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	tier, err := s.core.EvaluateAndWhitelist(r.Context(), req.Cap, req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": req.Token,
		"tier":  tier.String(),
	})
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cap   string `json:"cap"`
		Asset string `json:"asset"`
		Bps   uint64 `json:"bps"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.core.SetLiquidationThreshold(req.Cap, req.Asset, req.Bps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"threshold_bps": s.core.LiquidationThresholdBps(req.Asset),
	})
}

func (s *Server) handleOraclePush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume24h         string `json:"volume_24h"`
		Liquidity         string `json:"liquidity"`
		Holders           uint64 `json:"holders"`
		MarketCap         string `json:"market_cap"`
		Price             string `json:"price"`
		PriceChange24hBps int64  `json:"price_change_24h_bps"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	metrics := oracle.Metrics{
		Holders:           req.Holders,
		PriceChange24hBps: req.PriceChange24hBps,
	}
	var ok bool
	if metrics.Price, ok = parseAmount(req.Price); !ok {
		s.badRequest(w, "invalid price")
		return
	}
	if metrics.Volume24h, ok = parseAmount(req.Volume24h); !ok {
		s.badRequest(w, "invalid volume_24h")
		return
	}
	if metrics.Liquidity, ok = parseAmount(req.Liquidity); !ok {
		s.badRequest(w, "invalid liquidity")
		return
	}
	if metrics.MarketCap, ok = parseAmount(req.MarketCap); !ok {
		s.badRequest(w, "invalid market_cap")
		return
	}

	asset := mux.Vars(r)["asset"]
	s.feed.Track(asset)
	if err := s.feed.Push(asset, metrics); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder string `json:"holder"`
		Amount string `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		s.badRequest(w, "invalid amount")
		return
	}
	s.ledger.Mint(mux.Vars(r)["asset"], req.Holder, amount)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner  string `json:"owner"`
		Amount string `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		s.badRequest(w, "invalid amount")
		return
	}
	s.ledger.Approve(mux.Vars(r)["asset"], req.Owner, amount)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance := s.ledger.BalanceOf(vars["asset"], vars["holder"])
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset":   vars["asset"],
		"holder":  vars["holder"],
		"balance": balance.String(),
	})
}

func (s *Server) positionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.badRequest(w, "invalid position id")
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.badRequest(w, "invalid request body")
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func parseAmount(value string) (*big.Int, bool) {
	if value == "" {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, pool.ErrAssetUnknown),
		errors.Is(err, position.ErrNotFound),
		errors.Is(err, oracle.ErrUnknownAsset),
		errors.Is(err, registry.ErrNotRequested):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrUnauthorized),
		errors.Is(err, position.ErrUnauthorized),
		errors.Is(err, position.ErrNotOwner),
		errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, liquidation.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, position.ErrTerminal),
		errors.Is(err, position.ErrNotActive),
		errors.Is(err, registry.ErrAlreadyWhitelisted),
		errors.Is(err, liquidation.ErrNotLiquidable):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrUpdateCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidRateParams),
		errors.Is(err, pool.ErrAssetExists),
		errors.Is(err, pool.ErrAssetInactive),
		errors.Is(err, pool.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrNoDebt),
		errors.Is(err, position.ErrCollateralTooSmall),
		errors.Is(err, position.ErrLeverageOutOfBounds),
		errors.Is(err, position.ErrLeverageCeiling),
		errors.Is(err, position.ErrFeeTierInvalid),
		errors.Is(err, position.ErrRangeTooWide),
		errors.Is(err, position.ErrInsufficientLiquidity),
		errors.Is(err, registry.ErrFeeTooLow),
		errors.Is(err, registry.ErrNoVolume),
		errors.Is(err, registry.ErrBelowAllTiers),
		errors.Is(err, oracle.ErrPriceDeviation),
		errors.Is(err, oracle.ErrInvalidUpdate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
