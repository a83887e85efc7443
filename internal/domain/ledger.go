package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValueLedger is the minimal value-transfer surface shared by the native
// ledger and fungible tokens. Transfer moves amount from one account to
// another and fails with ErrInsufficientBalance when the source is short.
type ValueLedger interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
}

// FungibleToken is the consumed payment-token contract surface. There is no
// ambient transaction sender, so the acting party is always explicit:
// TransferFrom names the spender whose allowance is consumed, and Approve
// names the owner granting it.
type FungibleToken interface {
	ValueLedger

	Allowance(owner, spender common.Address) *big.Int
	Approve(owner, spender common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// AssetCollection is the asset-ownership contract surface the market engine
// consumes. The registry implements it; Redeem is the privileged lazy-issuance
// entry point that only the registered marketplace address may call.
type AssetCollection interface {
	Address() common.Address

	Exists(tokenID uint64) bool
	OwnerOf(tokenID uint64) (common.Address, error)
	GetApproved(tokenID uint64) (common.Address, error)
	IsApprovedForAll(owner, operator common.Address) bool
	TransferFrom(caller, from, to common.Address, tokenID uint64) error

	// VerifySignature recovers the voucher signer. It performs no state checks;
	// callers compare the result against the party they expect as issuer.
	VerifySignature(v Voucher) (common.Address, error)

	// Redeem issues the voucher's asset directly to buyer. It fails with
	// ErrOnlyMarketplace for any caller other than the registered market and
	// with ErrAlreadyMinted when the token already exists.
	Redeem(caller, buyer common.Address, v Voucher) error
}
