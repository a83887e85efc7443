package domain

import "errors"

// Authorization errors.
var (
	ErrNotOwner        = errors.New("caller is not the owner")
	ErrNotSeller       = errors.New("caller is not the seller")
	ErrNotBuyer        = errors.New("caller is not the offer buyer")
	ErrOnlyMarketplace = errors.New("only the marketplace may call this")
)

// State errors.
var (
	ErrAlreadyListed     = errors.New("already listed")
	ErrNoSuchMarketItem  = errors.New("such market item doesn't exist")
	ErrNoSuchOffer       = errors.New("such offer doesn't exist")
	ErrAlreadyMinted     = errors.New("asset already minted")
	ErrNoSuchToken       = errors.New("no such token")
	ErrMarketItemExpired = errors.New("market item expired")
)

// Value errors.
var (
	ErrZeroPrice               = errors.New("listed price should be greater than zero")
	ErrZeroExpiryInAuctionMode = errors.New("expiry should not be zero in auction mode")
	ErrInsufficientValue       = errors.New("insufficient attached value")
	ErrLowerPriceThanPrevious  = errors.New("price not above previous offer")
	ErrFeeTooHigh              = errors.New("fee exceeds denominator")
)

// Capability errors.
var (
	ErrUnsupportedToken      = errors.New("unsupported token")
	ErrUnsupportedCollection = errors.New("unsupported collection")
	ErrNotApproved           = errors.New("collection is not approved to the market")
	ErrFixedPriceMode        = errors.New("item is in fixed price mode")
	ErrNotFixedPriceMode     = errors.New("item is not in fixed price mode")
)

// Token ledger errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidSignature      = errors.New("invalid voucher signature")
)
