package vault

import (
	"math/big"
	"sync"
)

// CustodyAccount is the holder key the core's pooled funds live under.
const CustodyAccount = "custody"

type balanceKey struct {
	asset  string
	holder string
}

type allowanceKey struct {
	asset   string
	owner   string
	spender string
}

// MemoryVault is an in-process Transfer implementation with ERC20-style
// approve/allowance semantics. It backs tests and the single-process serve
// mode; production deployments substitute a real settlement adapter.
type MemoryVault struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Mint credits a holder out of thin air. Test and bootstrap helper.
func (v *MemoryVault) Mint(asset, holder string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(asset, holder, amount)
}

// Approve grants the custody account permission to pull up to amount from the
// owner.
func (v *MemoryVault) Approve(asset, owner string, amount *big.Int) {
	if amount == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allowances[allowanceKey{asset: asset, owner: owner, spender: CustodyAccount}] = new(big.Int).Set(amount)
}

// Allowance returns the remaining pull allowance for the custody account.
func (v *MemoryVault) Allowance(asset, owner string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if a, ok := v.allowances[allowanceKey{asset: asset, owner: owner, spender: CustodyAccount}]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

func (v *MemoryVault) TransferIn(asset, from string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	allowance, ok := v.allowances[allowanceKey{asset: asset, owner: from, spender: CustodyAccount}]
	if !ok || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	balance := v.balance(asset, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	allowance.Sub(allowance, amount)
	balance.Sub(balance, amount)
	v.credit(asset, CustodyAccount, amount)
	return nil
}

func (v *MemoryVault) TransferOut(asset, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	balance := v.balance(asset, CustodyAccount)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	v.credit(asset, to, amount)
	return nil
}

func (v *MemoryVault) BalanceOf(asset, holder string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance(asset, holder))
}

func (v *MemoryVault) balance(asset, holder string) *big.Int {
	key := balanceKey{asset: asset, holder: holder}
	if b, ok := v.balances[key]; ok {
		return b
	}
	b := big.NewInt(0)
	v.balances[key] = b
	return b
}

func (v *MemoryVault) credit(asset, holder string, amount *big.Int) {
	v.balance(asset, holder).Add(v.balance(asset, holder), amount)
}
