package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeKind distinguishes how a trade was executed.
type TradeKind string

const (
	TradeKindBuyNow      TradeKind = "buy_now"       // fixed-price purchase of a listing
	TradeKindOfferAccept TradeKind = "offer_accept"  // seller accepted an escrowed offer
	TradeKindLazyBuyNow  TradeKind = "lazy_buy_now"  // fixed-price voucher redemption
	TradeKindLazyAccept  TradeKind = "lazy_accept"   // accepted offer on a voucher
)

// Trade is a settled exchange of one asset for value, recorded after the
// engine has committed all transfers.
type Trade struct {
	ID         string         `json:"id"`
	Collection common.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	Seller     common.Address `json:"seller"`
	Buyer      common.Address `json:"buyer"`
	Currency   common.Address `json:"currency"`
	Price      *big.Int       `json:"price"`
	Fee        *big.Int       `json:"fee"`
	Kind       TradeKind      `json:"kind"`
	ExecutedAt time.Time      `json:"executed_at"`
}
