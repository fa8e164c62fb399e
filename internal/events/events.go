package events

// Audit events emitted by the core on every state transition. Amount fields
// are decimal strings so that records survive JSON round trips without
// precision loss, matching the storage convention for big integers.

// Event is implemented by every audit record.
type Event interface {
	Name() string
}

// AssetAdded records a new asset pool with its rate model parameters.
type AssetAdded struct {
	Asset            string `json:"asset"`
	BaseRateWad      string `json:"base_rate_wad"`
	Slope1Wad        string `json:"slope1_wad"`
	Slope2Wad        string `json:"slope2_wad"`
	OptimalUtilWad   string `json:"optimal_util_wad"`
	ReserveFactorBps uint64 `json:"reserve_factor_bps"`
	Timestamp        int64  `json:"timestamp"`
}

func (AssetAdded) Name() string { return "AssetAdded" }

// Deposited records a supplier deposit into an asset pool.
type Deposited struct {
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	NewIndex  string `json:"new_index"`
	Timestamp int64  `json:"timestamp"`
}

func (Deposited) Name() string { return "Deposited" }

// Withdrawn records a supplier withdrawal from an asset pool.
type Withdrawn struct {
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	NewIndex  string `json:"new_index"`
	Timestamp int64  `json:"timestamp"`
}

func (Withdrawn) Name() string { return "Withdrawn" }

// Borrowed records a draw against pool liquidity by the position manager.
type Borrowed struct {
	Borrower  string `json:"borrower"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	NewIndex  string `json:"new_index"`
	Timestamp int64  `json:"timestamp"`
}

func (Borrowed) Name() string { return "Borrowed" }

// Repaid records a repayment of borrowed liquidity.
type Repaid struct {
	Borrower  string `json:"borrower"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	NewIndex  string `json:"new_index"`
	Timestamp int64  `json:"timestamp"`
}

func (Repaid) Name() string { return "Repaid" }

// PositionOpened records a newly opened leveraged position.
type PositionOpened struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	BaseAsset   string `json:"base_asset"`
	TargetAsset string `json:"target_asset"`
	Collateral  string `json:"collateral"`
	LeverageBps uint64 `json:"leverage_bps"`
	RangeBps    uint64 `json:"range_bps"`
	MarginType  string `json:"margin_type"`
	Timestamp   int64  `json:"timestamp"`
}

func (PositionOpened) Name() string { return "PositionOpened" }

// PositionClosed records a voluntary close with the final payout and PnL.
type PositionClosed struct {
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	FinalCollateral string `json:"final_collateral"`
	PnL             string `json:"pnl"`
	Timestamp       int64  `json:"timestamp"`
}

func (PositionClosed) Name() string { return "PositionClosed" }

// FeesHarvested records a fee harvest with the performance-fee split.
type FeesHarvested struct {
	ID             uint64 `json:"id"`
	Gross          string `json:"gross"`
	PerformanceFee string `json:"performance_fee"`
	Net            string `json:"net"`
	Timestamp      int64  `json:"timestamp"`
}

func (FeesHarvested) Name() string { return "FeesHarvested" }

// PositionLiquidated records a forced liquidation.
type PositionLiquidated struct {
	ID         uint64 `json:"id"`
	Liquidator string `json:"liquidator"`
	Penalty    string `json:"penalty"`
	Remaining  string `json:"remaining"`
	Timestamp  int64  `json:"timestamp"`
}

func (PositionLiquidated) Name() string { return "PositionLiquidated" }

// TokenWhitelisted records a volatile-asset tier assignment.
type TokenWhitelisted struct {
	Token          string `json:"token"`
	Tier           uint8  `json:"tier"`
	MaxLeverageBps uint64 `json:"max_leverage_bps"`
	Timestamp      int64  `json:"timestamp"`
}

func (TokenWhitelisted) Name() string { return "TokenWhitelisted" }

// TierRequirementsUpdated records an admin change to tier thresholds.
type TierRequirementsUpdated struct {
	Tier           uint8  `json:"tier"`
	MinVolume24h   string `json:"min_volume_24h"`
	MinLiquidity   string `json:"min_liquidity"`
	MinHolders     uint64 `json:"min_holders"`
	MinMarketCap   string `json:"min_market_cap"`
	MaxLeverageBps uint64 `json:"max_leverage_bps"`
	Timestamp      int64  `json:"timestamp"`
}

func (TierRequirementsUpdated) Name() string { return "TierRequirementsUpdated" }
