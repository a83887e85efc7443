package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ItemKey identifies a market item: one asset within one collection. Listings,
// offers, and pinned vouchers are all keyed by it.
type ItemKey struct {
	Collection common.Address
	TokenID    uint64
}

// String renders the key as "0xcollection/tokenID" for logs and events.
func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%d", k.Collection.Hex(), k.TokenID)
}

// Listing is an on-ledger record offering an already-issued asset for sale,
// either at a fixed price or open to bidding.
type Listing struct {
	Seller   common.Address `json:"seller"`
	Currency common.Address `json:"currency"`
	Price    *big.Int       `json:"price"`

	// ExpiresAt is the nominal expiry. The zero time is permitted only in
	// fixed-price mode and means the listing never expires.
	ExpiresAt    time.Time `json:"expires_at"`
	IsFixedPrice bool      `json:"is_fixed_price"`
	ListedAt     time.Time `json:"listed_at"`
}

// IsNative reports whether the listing is denominated in native value.
func (l Listing) IsNative() bool {
	return l.Currency == NativeCurrency
}

// Offer is an escrowed bid against a Listing or a pinned Voucher. At most one
// live Offer exists per ItemKey; the marketplace holds its escrow until the
// offer is accepted, rejected, withdrawn, or overwritten.
type Offer struct {
	Buyer    common.Address `json:"buyer"`
	Currency common.Address `json:"currency"`
	Price    *big.Int       `json:"price"`

	// OnVoucher marks an offer created against a pinned voucher for an
	// unissued asset rather than against a Listing.
	OnVoucher bool      `json:"on_voucher"`
	CreatedAt time.Time `json:"created_at"`
}
