package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"levercore/internal/events"
	"levercore/internal/oracle"
)

var (
	ErrUnauthorized       = errors.New("risk registry: caller not authorized")
	ErrFeeTooLow          = errors.New("risk registry: listing fee below base fee")
	ErrAlreadyWhitelisted = errors.New("risk registry: token already whitelisted")
	ErrNotRequested       = errors.New("risk registry: token was never requested")
	ErrNoVolume           = errors.New("risk registry: token has no trading volume")
	ErrBelowAllTiers      = errors.New("risk registry: metrics below every tier threshold")
)

// Tier classifies a whitelisted volatile asset. Zero means unclassified.
type Tier uint8

const (
	TierNone   Tier = 0
	TierBronze Tier = 1
	TierSilver Tier = 2
	TierGold   Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "none"
	}
}

// AssetClass is the static risk class for assets outside the volatile
// sub-registry. Unknown assets fall back to the volatile ceiling.
type AssetClass uint8

const (
	ClassVolatile AssetClass = iota
	ClassBlueChip
	ClassMajorAlt
)

// Static leverage ceilings per asset class, in basis points.
const (
	BlueChipMaxLeverageBps = 100_000 // 10x
	MajorAltMaxLeverageBps = 50_000  // 5x
	VolatileMaxLeverageBps = 25_000  // 2.5x fallback
)

// TierRequirements are the four metric thresholds a token must clear in full
// to earn a tier, plus the leverage that tier grants.
type TierRequirements struct {
	MinVolume24h   *big.Int
	MinLiquidity   *big.Int
	MinHolders     uint64
	MinMarketCap   *big.Int
	MaxLeverageBps uint64
}

// TokenInfo is the registry record for one volatile asset.
type TokenInfo struct {
	Token          string
	Requested      bool
	Whitelisted    bool
	Tier           Tier
	MaxLeverageBps uint64
	Metadata       string
	Metrics        oracle.Metrics
	WhitelistedAt  int64
}

// Registry tiers volatile assets from externally supplied metrics and exposes
// per-asset leverage ceilings. Not internally synchronized.
type Registry struct {
	adminCap string
	feed     oracle.Feed
	sink     events.Sink
	nowFn    func() int64

	baseFee      *big.Int
	classes      map[string]AssetClass
	tokens       map[string]*TokenInfo
	requirements map[Tier]TierRequirements
}

// New constructs a registry with the default tier requirement table.
func New(adminCap string, feed oracle.Feed, sink events.Sink, baseFee *big.Int) *Registry {
	if sink == nil {
		sink = events.Discard{}
	}
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	return &Registry{
		adminCap: adminCap,
		feed:     feed,
		sink:     sink,
		nowFn:    func() int64 { return time.Now().Unix() },
		baseFee:  new(big.Int).Set(baseFee),
		classes:  make(map[string]AssetClass),
		tokens:   make(map[string]*TokenInfo),
		requirements: map[Tier]TierRequirements{
			TierBronze: {
				MinVolume24h:   big.NewInt(50_000),
				MinLiquidity:   big.NewInt(25_000),
				MinHolders:     100,
				MinMarketCap:   big.NewInt(100_000),
				MaxLeverageBps: 15_000,
			},
			TierSilver: {
				MinVolume24h:   big.NewInt(200_000),
				MinLiquidity:   big.NewInt(100_000),
				MinHolders:     500,
				MinMarketCap:   big.NewInt(500_000),
				MaxLeverageBps: 20_000,
			},
			TierGold: {
				MinVolume24h:   big.NewInt(1_000_000),
				MinLiquidity:   big.NewInt(500_000),
				MinHolders:     2000,
				MinMarketCap:   big.NewInt(2_000_000),
				MaxLeverageBps: 25_000,
			},
		},
	}
}

// SetClock overrides the registry clock, for tests.
func (r *Registry) SetClock(nowFn func() int64) {
	if nowFn != nil {
		r.nowFn = nowFn
	}
}

// SetAssetClass records the static risk class for an asset. Admin capability.
func (r *Registry) SetAssetClass(cap string, asset string, class AssetClass) error {
	if cap != r.adminCap {
		return ErrUnauthorized
	}
	r.classes[asset] = class
	return nil
}

// SetTierRequirements replaces the thresholds for a tier. Admin capability.
func (r *Registry) SetTierRequirements(cap string, tier Tier, reqs TierRequirements) error {
	if cap != r.adminCap {
		return ErrUnauthorized
	}
	if tier == TierNone {
		return fmt.Errorf("risk registry: cannot configure the none tier")
	}
	r.requirements[tier] = cloneRequirements(reqs)
	r.emit(events.TierRequirementsUpdated{
		Tier:           uint8(tier),
		MinVolume24h:   reqs.MinVolume24h.String(),
		MinLiquidity:   reqs.MinLiquidity.String(),
		MinHolders:     reqs.MinHolders,
		MinMarketCap:   reqs.MinMarketCap.String(),
		MaxLeverageBps: reqs.MaxLeverageBps,
		Timestamp:      r.nowFn(),
	})
	return nil
}

// RequestWhitelist begins tracking a token for later tier evaluation. The fee
// must meet the base fee; the token must not already be whitelisted.
func (r *Registry) RequestWhitelist(token, metadata string, fee *big.Int) error {
	if fee == nil || fee.Cmp(r.baseFee) < 0 {
		return ErrFeeTooLow
	}
	if info, ok := r.tokens[token]; ok && info.Whitelisted {
		return ErrAlreadyWhitelisted
	}
	r.feed.Track(token)
	r.tokens[token] = &TokenInfo{
		Token:     token,
		Requested: true,
		Metadata:  metadata,
	}
	return nil
}

// EvaluateAndWhitelist reads the latest metrics and assigns the highest tier
// whose full threshold set is met, checking Gold, then Silver, then Bronze.
// Admin capability.
func (r *Registry) EvaluateAndWhitelist(ctx context.Context, cap string, token string) (Tier, error) {
	if cap != r.adminCap {
		return TierNone, ErrUnauthorized
	}
	info, ok := r.tokens[token]
	if !ok || !info.Requested {
		return TierNone, ErrNotRequested
	}

	metrics, err := r.feed.GetMetrics(ctx, token)
	if err != nil {
		return TierNone, fmt.Errorf("read metrics: %w", err)
	}
	if metrics.Volume24h == nil || metrics.Volume24h.Sign() == 0 {
		return TierNone, ErrNoVolume
	}

	tier := TierNone
	for _, candidate := range []Tier{TierGold, TierSilver, TierBronze} {
		if r.meetsAll(metrics, r.requirements[candidate]) {
			tier = candidate
			break
		}
	}
	if tier == TierNone {
		return TierNone, ErrBelowAllTiers
	}

	now := r.nowFn()
	info.Whitelisted = true
	info.Tier = tier
	info.MaxLeverageBps = r.requirements[tier].MaxLeverageBps
	info.Metrics = metrics
	info.WhitelistedAt = now

	r.emit(events.TokenWhitelisted{
		Token:          token,
		Tier:           uint8(tier),
		MaxLeverageBps: info.MaxLeverageBps,
		Timestamp:      now,
	})
	return tier, nil
}

// IsWhitelisted reports whether the token passed tier evaluation.
func (r *Registry) IsWhitelisted(token string) bool {
	info, ok := r.tokens[token]
	return ok && info.Whitelisted
}

// TierOf returns the token's tier; TierNone for unknown tokens.
func (r *Registry) TierOf(token string) Tier {
	if info, ok := r.tokens[token]; ok {
		return info.Tier
	}
	return TierNone
}

// MaxLeverageBps resolves the leverage ceiling for an asset: the registry
// value for whitelisted volatile assets, the static class ceiling otherwise.
func (r *Registry) MaxLeverageBps(asset string) uint64 {
	if info, ok := r.tokens[asset]; ok && info.Whitelisted {
		return info.MaxLeverageBps
	}
	switch r.classes[asset] {
	case ClassBlueChip:
		return BlueChipMaxLeverageBps
	case ClassMajorAlt:
		return MajorAltMaxLeverageBps
	default:
		return VolatileMaxLeverageBps
	}
}

// Info returns a copy of the registry record for the token.
func (r *Registry) Info(token string) (TokenInfo, bool) {
	info, ok := r.tokens[token]
	if !ok {
		return TokenInfo{}, false
	}
	return *info, true
}

// Whitelisted enumerates the whitelisted token identifiers.
func (r *Registry) Whitelisted() []string {
	var out []string
	for token, info := range r.tokens {
		if info.Whitelisted {
			out = append(out, token)
		}
	}
	return out
}

// Requirements returns the threshold table entry for a tier.
func (r *Registry) Requirements(tier Tier) (TierRequirements, bool) {
	reqs, ok := r.requirements[tier]
	if !ok {
		return TierRequirements{}, false
	}
	return cloneRequirements(reqs), true
}

func (r *Registry) meetsAll(metrics oracle.Metrics, reqs TierRequirements) bool {
	if metrics.Volume24h == nil || metrics.Volume24h.Cmp(reqs.MinVolume24h) < 0 {
		return false
	}
	if metrics.Liquidity == nil || metrics.Liquidity.Cmp(reqs.MinLiquidity) < 0 {
		return false
	}
	if metrics.Holders < reqs.MinHolders {
		return false
	}
	if metrics.MarketCap == nil || metrics.MarketCap.Cmp(reqs.MinMarketCap) < 0 {
		return false
	}
	return true
}

// emit forwards an audit event. The event stream is observability only; a
// sink failure must not unwind registry state that already committed, so the
// error stops here. Durable sinks log their own write errors.
func (r *Registry) emit(event events.Event) {
	_ = r.sink.Emit(event)
}

func cloneRequirements(reqs TierRequirements) TierRequirements {
	return TierRequirements{
		MinVolume24h:   new(big.Int).Set(reqs.MinVolume24h),
		MinLiquidity:   new(big.Int).Set(reqs.MinLiquidity),
		MinHolders:     reqs.MinHolders,
		MinMarketCap:   new(big.Int).Set(reqs.MinMarketCap),
		MaxLeverageBps: reqs.MaxLeverageBps,
	}
}
