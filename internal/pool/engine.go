package pool

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"levercore/internal/events"
	"levercore/internal/scale"
	"levercore/internal/vault"
)

var (
	ErrAssetExists           = errors.New("lending pool: asset already added")
	ErrAssetUnknown          = errors.New("lending pool: asset not added")
	ErrAssetInactive         = errors.New("lending pool: asset not active")
	ErrInvalidAmount         = errors.New("lending pool: amount must be positive")
	ErrInvalidRateParams     = errors.New("lending pool: invalid rate parameters")
	ErrInsufficientBalance   = errors.New("lending pool: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending pool: insufficient liquidity")
	ErrUnauthorized          = errors.New("lending pool: caller not authorized")
	ErrNoDebt                = errors.New("lending pool: no outstanding debt")
)

// maxReserveFactorBps caps the share of interest routed to reserves at 50%.
const maxReserveFactorBps = 5000

type ledgerKey struct {
	user  string
	asset string
}

// Engine owns the per-asset pools and the per-user ledger. It is not
// internally synchronized; the hosting transaction boundary serializes calls.
type Engine struct {
	adminCap   string
	managerCap string
	transfer   vault.Transfer
	sink       events.Sink
	nowFn      func() int64

	pools  map[string]*AssetPool
	ledger map[ledgerKey]*LedgerEntry
}

// NewEngine constructs a pool engine with its capability tokens and
// collaborator handles.
func NewEngine(adminCap, managerCap string, transfer vault.Transfer, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Engine{
		adminCap:   adminCap,
		managerCap: managerCap,
		transfer:   transfer,
		sink:       sink,
		nowFn:      func() int64 { return time.Now().Unix() },
		pools:      make(map[string]*AssetPool),
		ledger:     make(map[ledgerKey]*LedgerEntry),
	}
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(nowFn func() int64) {
	if nowFn != nil {
		e.nowFn = nowFn
	}
}

// AddAsset registers a new asset pool. Admin capability, once per asset.
func (e *Engine) AddAsset(cap string, asset string, params RateParams) error {
	if cap != e.adminCap {
		return ErrUnauthorized
	}
	if asset == "" {
		return fmt.Errorf("%w: empty asset", ErrInvalidRateParams)
	}
	if _, ok := e.pools[asset]; ok {
		return ErrAssetExists
	}
	if err := validateRateParams(params); err != nil {
		return err
	}

	now := e.nowFn()
	e.pools[asset] = &AssetPool{
		Asset:          asset,
		Active:         true,
		TotalSupplied:  big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		SupplyIndex:    new(big.Int).Set(scale.Ray),
		BorrowIndex:    new(big.Int).Set(scale.Ray),
		LastUpdateTime: now,
		Cash:           big.NewInt(0),
		Reserves:       big.NewInt(0),
		Params:         cloneParams(params),
	}

	e.emit(events.AssetAdded{
		Asset:            asset,
		BaseRateWad:      params.BaseRateWad.String(),
		Slope1Wad:        params.Slope1Wad.String(),
		Slope2Wad:        params.Slope2Wad.String(),
		OptimalUtilWad:   params.OptimalUtilWad.String(),
		ReserveFactorBps: params.ReserveFactorBps,
		Timestamp:        now,
	})
	return nil
}

// SetActive flips an asset's active flag. Admin capability.
func (e *Engine) SetActive(cap string, asset string, active bool) error {
	if cap != e.adminCap {
		return ErrUnauthorized
	}
	p, ok := e.pools[asset]
	if !ok {
		return ErrAssetUnknown
	}
	p.Active = active
	return nil
}

// Supply deposits amount of asset for the user. The deposit earns yield
// through the supply index from this point on.
func (e *Engine) Supply(user, asset string, amount *big.Int) error {
	p, err := e.activePool(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.accrue(p)

	if err := e.transfer.TransferIn(asset, user, amount); err != nil {
		return fmt.Errorf("pull deposit: %w", err)
	}

	entry := e.ensureEntry(user, asset)
	principal := scale.RayDiv(amount, p.SupplyIndex)
	if principal.Sign() == 0 {
		principal = big.NewInt(1)
	}
	entry.PrincipalSupply.Add(entry.PrincipalSupply, principal)
	entry.SupplyIndexSnapshot = new(big.Int).Set(p.SupplyIndex)

	p.TotalSupplied.Add(p.TotalSupplied, amount)
	p.Cash.Add(p.Cash, amount)

	e.emit(events.Deposited{
		User:      user,
		Asset:     asset,
		Amount:    amount.String(),
		NewIndex:  p.SupplyIndex.String(),
		Timestamp: p.LastUpdateTime,
	})
	return nil
}

// Withdraw redeems amount of asset for the user; zero means the full
// index-adjusted balance. Returns the amount withdrawn.
func (e *Engine) Withdraw(user, asset string, amount *big.Int) (*big.Int, error) {
	p, err := e.activePool(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(p)

	entry := e.ensureEntry(user, asset)
	balance := scale.RayMul(entry.PrincipalSupply, p.SupplyIndex)
	full := amount == nil || amount.Sign() == 0
	if full {
		amount = balance
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(balance) > 0 {
		return nil, ErrInsufficientBalance
	}
	if amount.Cmp(p.Cash) > 0 || amount.Cmp(e.liquidity(p)) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	if err := e.transfer.TransferOut(asset, user, amount); err != nil {
		return nil, fmt.Errorf("pay out withdrawal: %w", err)
	}

	if full {
		entry.PrincipalSupply = big.NewInt(0)
	} else {
		burned := scale.RayDiv(amount, p.SupplyIndex)
		if burned.Cmp(entry.PrincipalSupply) > 0 {
			burned = new(big.Int).Set(entry.PrincipalSupply)
		}
		entry.PrincipalSupply.Sub(entry.PrincipalSupply, burned)
	}
	entry.SupplyIndexSnapshot = new(big.Int).Set(p.SupplyIndex)

	p.TotalSupplied.Sub(p.TotalSupplied, amount)
	if p.TotalSupplied.Sign() < 0 {
		p.TotalSupplied.SetInt64(0)
	}
	p.Cash.Sub(p.Cash, amount)

	e.emit(events.Withdrawn{
		User:      user,
		Asset:     asset,
		Amount:    amount.String(),
		NewIndex:  p.SupplyIndex.String(),
		Timestamp: p.LastUpdateTime,
	})
	return new(big.Int).Set(amount), nil
}

// Borrow draws amount of liquidity against the borrower identity. Only the
// authorized position manager capability may call it; the drawn value stays
// in protocol custody under the manager's control.
func (e *Engine) Borrow(cap string, asset, borrower string, amount *big.Int) error {
	if cap != e.managerCap {
		return ErrUnauthorized
	}
	p, err := e.activePool(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.accrue(p)

	if amount.Cmp(e.liquidity(p)) > 0 {
		return ErrInsufficientLiquidity
	}

	entry := e.ensureEntry(borrower, asset)
	principal := scale.RayDiv(amount, p.BorrowIndex)
	if principal.Sign() == 0 {
		principal = big.NewInt(1)
	}
	entry.PrincipalBorrow.Add(entry.PrincipalBorrow, principal)
	entry.BorrowIndexSnapshot = new(big.Int).Set(p.BorrowIndex)

	p.TotalBorrowed.Add(p.TotalBorrowed, amount)
	p.Cash.Sub(p.Cash, amount)

	e.emit(events.Borrowed{
		Borrower:  borrower,
		Asset:     asset,
		Amount:    amount.String(),
		NewIndex:  p.BorrowIndex.String(),
		Timestamp: p.LastUpdateTime,
	})
	return nil
}

// Repay retires debt for the borrower identity; zero means the full
// outstanding debt. Only the position manager capability may call it.
// Returns the amount actually repaid.
func (e *Engine) Repay(cap string, asset, borrower string, amount *big.Int) (*big.Int, error) {
	if cap != e.managerCap {
		return nil, ErrUnauthorized
	}
	p, err := e.activePool(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(p)

	entry := e.ensureEntry(borrower, asset)
	debt := scale.RayMul(entry.PrincipalBorrow, p.BorrowIndex)
	if debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	full := amount == nil || amount.Sign() == 0
	if full || amount.Cmp(debt) > 0 {
		amount = debt
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	if amount.Cmp(debt) == 0 {
		entry.PrincipalBorrow = big.NewInt(0)
	} else {
		burned := scale.RayDiv(amount, p.BorrowIndex)
		if burned.Cmp(entry.PrincipalBorrow) > 0 {
			burned = new(big.Int).Set(entry.PrincipalBorrow)
		}
		entry.PrincipalBorrow.Sub(entry.PrincipalBorrow, burned)
	}
	entry.BorrowIndexSnapshot = new(big.Int).Set(p.BorrowIndex)

	p.TotalBorrowed.Sub(p.TotalBorrowed, amount)
	if p.TotalBorrowed.Sign() < 0 {
		p.TotalBorrowed.SetInt64(0)
	}
	p.Cash.Add(p.Cash, amount)

	e.emit(events.Repaid{
		Borrower:  borrower,
		Asset:     asset,
		Amount:    amount.String(),
		NewIndex:  p.BorrowIndex.String(),
		Timestamp: p.LastUpdateTime,
	})
	return new(big.Int).Set(amount), nil
}

// accrue rolls the pool indexes forward to now. It runs exactly once at the
// top of every mutating call, before any balance change.
func (e *Engine) accrue(p *AssetPool) {
	now := e.nowFn()
	elapsed := now - p.LastUpdateTime
	if elapsed <= 0 {
		return
	}
	p.LastUpdateTime = now
	if p.TotalBorrowed.Sign() == 0 {
		return
	}

	util := utilizationWad(p.TotalBorrowed, p.TotalSupplied)
	rate := borrowRateWad(p.Params, util)
	factor := growthFactorRay(rate, elapsed)
	if factor.Cmp(scale.Ray) == 0 {
		return
	}

	p.BorrowIndex = scale.RayMul(p.BorrowIndex, factor)

	growth := new(big.Int).Sub(factor, scale.Ray)
	interest := scale.RayMul(p.TotalBorrowed, growth)
	if interest.Sign() == 0 {
		return
	}

	reserveShare := scale.MulBps(interest, p.Params.ReserveFactorBps)
	net := new(big.Int).Sub(interest, reserveShare)

	p.Reserves.Add(p.Reserves, reserveShare)
	p.TotalBorrowed.Add(p.TotalBorrowed, interest)
	if net.Sign() > 0 && p.TotalSupplied.Sign() > 0 {
		supplyFactor := new(big.Int).Add(scale.Ray, scale.RayDiv(net, p.TotalSupplied))
		p.SupplyIndex = scale.RayMul(p.SupplyIndex, supplyFactor)
		p.TotalSupplied.Add(p.TotalSupplied, net)
	}
}

// DebtOf returns the borrower's current debt including interest that would
// accrue as of now. Read-only; indexes are projected, not written.
func (e *Engine) DebtOf(asset, borrower string) (*big.Int, error) {
	p, ok := e.pools[asset]
	if !ok {
		return nil, ErrAssetUnknown
	}
	entry, ok := e.ledger[ledgerKey{user: borrower, asset: asset}]
	if !ok || entry.PrincipalBorrow.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return scale.RayMul(entry.PrincipalBorrow, e.projectedBorrowIndex(p)), nil
}

// SupplyBalanceOf returns the user's current supply balance including accrued
// yield as of now. Read-only.
func (e *Engine) SupplyBalanceOf(asset, user string) (*big.Int, error) {
	p, ok := e.pools[asset]
	if !ok {
		return nil, ErrAssetUnknown
	}
	entry, ok := e.ledger[ledgerKey{user: user, asset: asset}]
	if !ok || entry.PrincipalSupply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return scale.RayMul(entry.PrincipalSupply, e.projectedSupplyIndex(p)), nil
}

// AvailableLiquidity returns cash minus reserves, floored at zero.
func (e *Engine) AvailableLiquidity(asset string) (*big.Int, error) {
	p, ok := e.pools[asset]
	if !ok {
		return nil, ErrAssetUnknown
	}
	return e.liquidity(p), nil
}

// Snapshot returns a read-only view of the pool with projected rates.
func (e *Engine) Snapshot(asset string) (Snapshot, error) {
	p, ok := e.pools[asset]
	if !ok {
		return Snapshot{}, ErrAssetUnknown
	}
	util := utilizationWad(p.TotalBorrowed, p.TotalSupplied)
	return Snapshot{
		Asset:          p.Asset,
		Active:         p.Active,
		TotalSupplied:  new(big.Int).Set(p.TotalSupplied),
		TotalBorrowed:  new(big.Int).Set(p.TotalBorrowed),
		SupplyIndex:    new(big.Int).Set(p.SupplyIndex),
		BorrowIndex:    new(big.Int).Set(p.BorrowIndex),
		Cash:           new(big.Int).Set(p.Cash),
		Reserves:       new(big.Int).Set(p.Reserves),
		UtilizationWad: util,
		BorrowRateWad:  borrowRateWad(p.Params, util),
		LastUpdateTime: p.LastUpdateTime,
	}, nil
}

// Assets lists the registered asset identifiers.
func (e *Engine) Assets() []string {
	out := make([]string, 0, len(e.pools))
	for asset := range e.pools {
		out = append(out, asset)
	}
	return out
}

func (e *Engine) projectedBorrowIndex(p *AssetPool) *big.Int {
	elapsed := e.nowFn() - p.LastUpdateTime
	if elapsed <= 0 || p.TotalBorrowed.Sign() == 0 {
		return new(big.Int).Set(p.BorrowIndex)
	}
	util := utilizationWad(p.TotalBorrowed, p.TotalSupplied)
	factor := growthFactorRay(borrowRateWad(p.Params, util), elapsed)
	return scale.RayMul(p.BorrowIndex, factor)
}

func (e *Engine) projectedSupplyIndex(p *AssetPool) *big.Int {
	elapsed := e.nowFn() - p.LastUpdateTime
	if elapsed <= 0 || p.TotalBorrowed.Sign() == 0 || p.TotalSupplied.Sign() == 0 {
		return new(big.Int).Set(p.SupplyIndex)
	}
	util := utilizationWad(p.TotalBorrowed, p.TotalSupplied)
	factor := growthFactorRay(borrowRateWad(p.Params, util), elapsed)
	growth := new(big.Int).Sub(factor, scale.Ray)
	interest := scale.RayMul(p.TotalBorrowed, growth)
	net := new(big.Int).Sub(interest, scale.MulBps(interest, p.Params.ReserveFactorBps))
	if net.Sign() <= 0 {
		return new(big.Int).Set(p.SupplyIndex)
	}
	supplyFactor := new(big.Int).Add(scale.Ray, scale.RayDiv(net, p.TotalSupplied))
	return scale.RayMul(p.SupplyIndex, supplyFactor)
}

// emit forwards an audit event. The event stream is observability only; a
// sink failure must not unwind accounting that already committed, so the
// error stops here. Durable sinks log their own write errors.
func (e *Engine) emit(event events.Event) {
	_ = e.sink.Emit(event)
}

func (e *Engine) activePool(asset string) (*AssetPool, error) {
	p, ok := e.pools[asset]
	if !ok {
		return nil, ErrAssetUnknown
	}
	if !p.Active {
		return nil, ErrAssetInactive
	}
	return p, nil
}

func (e *Engine) liquidity(p *AssetPool) *big.Int {
	liquidity := new(big.Int).Sub(p.Cash, p.Reserves)
	if liquidity.Sign() < 0 {
		return big.NewInt(0)
	}
	return liquidity
}

func (e *Engine) ensureEntry(user, asset string) *LedgerEntry {
	key := ledgerKey{user: user, asset: asset}
	entry, ok := e.ledger[key]
	if !ok {
		entry = &LedgerEntry{
			User:                user,
			Asset:               asset,
			PrincipalSupply:     big.NewInt(0),
			PrincipalBorrow:     big.NewInt(0),
			SupplyIndexSnapshot: new(big.Int).Set(scale.Ray),
			BorrowIndexSnapshot: new(big.Int).Set(scale.Ray),
		}
		e.ledger[key] = entry
	}
	return entry
}

func validateRateParams(params RateParams) error {
	for _, v := range []*big.Int{params.BaseRateWad, params.Slope1Wad, params.Slope2Wad, params.OptimalUtilWad} {
		if v == nil || v.Sign() < 0 {
			return ErrInvalidRateParams
		}
	}
	if params.OptimalUtilWad.Sign() == 0 || params.OptimalUtilWad.Cmp(scale.Wad) >= 0 {
		return fmt.Errorf("%w: optimal utilization must be in (0,1)", ErrInvalidRateParams)
	}
	if params.ReserveFactorBps > maxReserveFactorBps {
		return fmt.Errorf("%w: reserve factor above 50%%", ErrInvalidRateParams)
	}
	return nil
}

func cloneParams(params RateParams) RateParams {
	return RateParams{
		BaseRateWad:      new(big.Int).Set(params.BaseRateWad),
		Slope1Wad:        new(big.Int).Set(params.Slope1Wad),
		Slope2Wad:        new(big.Int).Set(params.Slope2Wad),
		OptimalUtilWad:   new(big.Int).Set(params.OptimalUtilWad),
		ReserveFactorBps: params.ReserveFactorBps,
	}
}
