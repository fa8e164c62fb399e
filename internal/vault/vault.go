package vault

import (
	"errors"
	"math/big"
)

var (
	ErrInvalidAmount         = errors.New("vault: amount must be positive")
	ErrInsufficientBalance   = errors.New("vault: insufficient balance")
	ErrInsufficientAllowance = errors.New("vault: insufficient allowance")
)

// Transfer is the external value-transfer collaborator. Implementations must
// move exactly the requested amount or fail without any effect.
type Transfer interface {
	// TransferIn pulls amount of asset from the holder into the core's
	// custody account. Requires a prior approval by the holder.
	TransferIn(asset, from string, amount *big.Int) error
	// TransferOut pushes amount of asset from the custody account to the
	// recipient.
	TransferOut(asset, to string, amount *big.Int) error
	// BalanceOf returns the holder's balance of the asset.
	BalanceOf(asset, holder string) *big.Int
}
