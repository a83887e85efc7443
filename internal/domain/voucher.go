package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeCurrency is the sentinel currency address meaning native value rather
// than a fungible token contract.
var NativeCurrency = common.Address{}

// Voucher is an off-ledger-signed credential authorizing the terms under which
// an unissued asset may be traded. The asset is materialized on the first
// successful trade that redeems the voucher.
type Voucher struct {
	// TokenID is chosen by the signer and is never reusable once redeemed.
	TokenID uint64 `json:"token_id"`

	// URI is the opaque metadata descriptor assigned to the asset on issuance.
	URI string `json:"uri"`

	// Currency is the accepted payment token, or NativeCurrency.
	Currency common.Address `json:"currency"`

	// MinPrice is the exact price in fixed-price mode, or the auction floor.
	MinPrice *big.Int `json:"min_price"`

	// IsFixedPrice selects buy-now at MinPrice (true) or open bidding (false).
	IsFixedPrice bool `json:"is_fixed_price"`

	// Signature is the 65-byte secp256k1 signature over the EIP-712 digest of
	// the fields above.
	Signature []byte `json:"signature"`
}

// IsNative reports whether the voucher is denominated in native value.
func (v Voucher) IsNative() bool {
	return v.Currency == NativeCurrency
}
