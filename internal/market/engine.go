// Package market implements the marketplace ledger: currency and collection
// allow-lists, fee configuration, and the listing/offer/trade state machine
// with its escrow accounting. Operations execute sequentially under one lock
// and either commit fully or leave no trace, matching ledger transaction
// semantics. There is no ambient transaction sender; every operation names its
// caller explicitly.
package market

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// FeeDenominator is the basis-point denominator for trade fees.
const FeeDenominator = 10_000

// DefaultExpiryGrace is added after a listing's nominal expiry before the
// item is treated as truly expired.
const DefaultExpiryGrace = 5 * time.Minute

// TradeRecorder receives settled trades after the engine has committed them.
// Recorder failures are logged and never affect ledger state.
type TradeRecorder interface {
	Record(ctx context.Context, t domain.Trade) error
}

// TradeRecorderFunc adapts a function to the TradeRecorder interface.
type TradeRecorderFunc func(ctx context.Context, t domain.Trade) error

// Record calls f.
func (f TradeRecorderFunc) Record(ctx context.Context, t domain.Trade) error {
	return f(ctx, t)
}

// Config carries the engine's construction parameters.
type Config struct {
	// Owner is the administrative account: the only caller allowed to mutate
	// allow-lists and the fee rate, and the recipient of trade fees.
	Owner common.Address

	// Address is the engine's own account, holding escrowed value between an
	// offer's creation and its resolution.
	Address common.Address

	// FeeBps is the initial fee in basis points over FeeDenominator.
	FeeBps uint64

	// Grace overrides DefaultExpiryGrace when positive.
	Grace time.Duration

	// Now overrides the engine clock. Nil means time.Now.
	Now func() time.Time
}

// Engine owns the marketplace state machine. All exported methods are safe
// for concurrent use.
type Engine struct {
	mu sync.RWMutex

	owner  common.Address
	addr   common.Address
	feeBps uint64
	grace  time.Duration
	now    func() time.Time

	currencyAllowed   map[common.Address]bool
	collectionAllowed map[common.Address]bool

	collections map[common.Address]domain.AssetCollection
	tokens      map[common.Address]domain.FungibleToken
	native      domain.ValueLedger

	listings map[domain.ItemKey]domain.Listing
	offers   map[domain.ItemKey]domain.Offer
	vouchers map[domain.ItemKey]domain.Voucher

	sink   domain.EventSink
	trades TradeRecorder
	logger *slog.Logger
}

// New constructs an Engine. The native ledger, event sink, and trade recorder
// may be nil; a nil native ledger rejects native-value trades, and nil sinks
// are skipped.
func New(cfg Config, native domain.ValueLedger, sink domain.EventSink, trades TradeRecorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultExpiryGrace
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		owner:             cfg.Owner,
		addr:              cfg.Address,
		feeBps:            cfg.FeeBps,
		grace:             grace,
		now:               now,
		currencyAllowed:   make(map[common.Address]bool),
		collectionAllowed: make(map[common.Address]bool),
		collections:       make(map[common.Address]domain.AssetCollection),
		tokens:            make(map[common.Address]domain.FungibleToken),
		native:            native,
		listings:          make(map[domain.ItemKey]domain.Listing),
		offers:            make(map[domain.ItemKey]domain.Offer),
		vouchers:          make(map[domain.ItemKey]domain.Voucher),
		sink:              sink,
		trades:            trades,
		logger:            logger.With(slog.String("component", "market")),
	}
}

// Address returns the engine's escrow account address.
func (e *Engine) Address() common.Address { return e.addr }

// Owner returns the administrative account.
func (e *Engine) Owner() common.Address { return e.owner }

// RegisterCollection wires an asset collection contract so the engine can
// resolve its address. Registration is plumbing; the collection still needs
// to be allow-listed before it can trade.
func (e *Engine) RegisterCollection(c domain.AssetCollection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections[c.Address()] = c
}

// RegisterToken wires a fungible payment token under its address.
func (e *Engine) RegisterToken(addr common.Address, t domain.FungibleToken) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens[addr] = t
}

// WhitelistCurrency flips a payment currency's allow-list entry. Owner only.
func (e *Engine) WhitelistCurrency(ctx context.Context, caller, currency common.Address, allowed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("market: whitelist currency: %w", domain.ErrNotOwner)
	}
	e.currencyAllowed[currency] = allowed
	e.emit(ctx, domain.EventCurrencyWhitelisted, map[string]any{
		"currency": currency.Hex(),
		"allowed":  allowed,
	})
	return nil
}

// WhitelistCollection flips a collection's allow-list entry. Owner only.
func (e *Engine) WhitelistCollection(ctx context.Context, caller, collection common.Address, allowed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("market: whitelist collection: %w", domain.ErrNotOwner)
	}
	e.collectionAllowed[collection] = allowed
	e.emit(ctx, domain.EventCollectionWhitelisted, map[string]any{
		"collection": collection.Hex(),
		"allowed":    allowed,
	})
	return nil
}

// SetFeePercent updates the trade fee in basis points. Owner only. The rate
// is capped at FeeDenominator so a fee can never exceed the trade value.
func (e *Engine) SetFeePercent(ctx context.Context, caller common.Address, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("market: set fee percent: %w", domain.ErrNotOwner)
	}
	if bps > FeeDenominator {
		return fmt.Errorf("market: set fee percent: %d bps: %w", bps, domain.ErrFeeTooHigh)
	}
	e.feeBps = bps
	e.emit(ctx, domain.EventFeePercentUpdated, map[string]any{
		"fee_bps": bps,
	})
	return nil
}

// ListItem puts an already-issued asset up for sale. The caller must own the
// asset and have approved the engine to move it.
func (e *Engine) ListItem(ctx context.Context, caller, collection common.Address, tokenID uint64, currency common.Address, price *big.Int, expiresAt time.Time, isFixedPrice bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: tokenID}

	if !e.currencyAllowed[currency] {
		return fmt.Errorf("market: list %s: currency %s: %w", key, currency.Hex(), domain.ErrUnsupportedToken)
	}
	col, err := e.collection(collection)
	if err != nil {
		return fmt.Errorf("market: list %s: %w", key, err)
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("market: list %s: %w", key, domain.ErrZeroPrice)
	}
	if !isFixedPrice && expiresAt.IsZero() {
		return fmt.Errorf("market: list %s: %w", key, domain.ErrZeroExpiryInAuctionMode)
	}
	owner, err := col.OwnerOf(tokenID)
	if err != nil {
		return fmt.Errorf("market: list %s: %w", key, err)
	}
	if owner != caller {
		return fmt.Errorf("market: list %s: %w", key, domain.ErrNotOwner)
	}
	if !e.marketApproved(col, owner, tokenID) {
		return fmt.Errorf("market: list %s: %w", key, domain.ErrNotApproved)
	}
	if _, ok := e.listings[key]; ok {
		return fmt.Errorf("market: list %s: %w", key, domain.ErrAlreadyListed)
	}

	e.listings[key] = domain.Listing{
		Seller:       caller,
		Currency:     currency,
		Price:        new(big.Int).Set(price),
		ExpiresAt:    expiresAt,
		IsFixedPrice: isFixedPrice,
		ListedAt:     e.now(),
	}
	e.emit(ctx, domain.EventItemListed, map[string]any{
		"collection":     collection.Hex(),
		"token_id":       tokenID,
		"seller":         caller.Hex(),
		"currency":       currency.Hex(),
		"price":          price.String(),
		"expires_at":     expiresAt,
		"is_fixed_price": isFixedPrice,
	})
	return nil
}

// UnlistItem removes a listing. Only the listing's seller may call it. Any
// open offer on the same key is untouched and must be resolved separately.
func (e *Engine) UnlistItem(ctx context.Context, caller, collection common.Address, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: tokenID}
	listing, ok := e.listings[key]
	if !ok {
		return fmt.Errorf("market: unlist %s: %w", key, domain.ErrNoSuchMarketItem)
	}
	if caller != listing.Seller {
		return fmt.Errorf("market: unlist %s: %w", key, domain.ErrNotSeller)
	}

	delete(e.listings, key)
	e.emit(ctx, domain.EventItemUnlisted, map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"seller":     caller.Hex(),
	})
	return nil
}

// CreateOffer escrows a bid against an auction listing. The price must
// strictly exceed both the listing floor and any live offer; the previous
// offer's escrow is refunded before the new escrow is taken.
func (e *Engine) CreateOffer(ctx context.Context, caller, collection common.Address, tokenID uint64, price, attached *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: tokenID}
	listing, ok := e.listings[key]
	if !ok {
		return fmt.Errorf("market: offer %s: %w", key, domain.ErrNoSuchMarketItem)
	}
	if e.expired(listing) {
		return fmt.Errorf("market: offer %s: %w", key, domain.ErrMarketItemExpired)
	}
	if listing.IsFixedPrice {
		return fmt.Errorf("market: offer %s: %w", key, domain.ErrFixedPriceMode)
	}
	col, err := e.collection(collection)
	if err != nil {
		return fmt.Errorf("market: offer %s: %w", key, err)
	}
	if !e.sellerStillHolds(col, listing.Seller, tokenID) {
		return fmt.Errorf("market: offer %s: %w", key, domain.ErrNotApproved)
	}
	if price == nil || price.Cmp(listing.Price) <= 0 {
		return fmt.Errorf("market: offer %s: %w", key, domain.ErrLowerPriceThanPrevious)
	}
	if prev, ok := e.offers[key]; ok && price.Cmp(prev.Price) <= 0 {
		return fmt.Errorf("market: offer %s: %w", key, domain.ErrLowerPriceThanPrevious)
	}
	if err := e.checkFunds(caller, listing.Currency, price, attached); err != nil {
		return fmt.Errorf("market: offer %s: %w", key, err)
	}

	if err := e.replaceOffer(ctx, key, domain.Offer{
		Buyer:     caller,
		Currency:  listing.Currency,
		Price:     new(big.Int).Set(price),
		CreatedAt: e.now(),
	}); err != nil {
		return fmt.Errorf("market: offer %s: %w", key, err)
	}
	e.emit(ctx, domain.EventOfferCreated, map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"buyer":      caller.Hex(),
		"currency":   listing.Currency.Hex(),
		"price":      price.String(),
	})
	return nil
}

// CreateLazyOffer escrows a bid against a signed voucher for an unissued
// asset. No listing is required; the voucher's terms are pinned on-ledger on
// first use and every later offer for the key must reference the same voucher.
func (e *Engine) CreateLazyOffer(ctx context.Context, caller, collection common.Address, v domain.Voucher, price, attached *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: v.TokenID}

	if !e.currencyAllowed[v.Currency] {
		return fmt.Errorf("market: lazy offer %s: currency %s: %w", key, v.Currency.Hex(), domain.ErrUnsupportedToken)
	}
	if !e.collectionAllowed[collection] {
		return fmt.Errorf("market: lazy offer %s: %w", key, domain.ErrUnsupportedCollection)
	}
	col, err := e.collection(collection)
	if err != nil {
		return fmt.Errorf("market: lazy offer %s: %w", key, err)
	}
	if v.IsFixedPrice {
		return fmt.Errorf("market: lazy offer %s: %w", key, domain.ErrFixedPriceMode)
	}
	if col.Exists(v.TokenID) {
		return fmt.Errorf("market: lazy offer %s: %w", key, domain.ErrAlreadyMinted)
	}
	if _, err := col.VerifySignature(v); err != nil {
		return fmt.Errorf("market: lazy offer %s: %w", key, err)
	}
	pinned, pinnedOK := e.vouchers[key]
	if pinnedOK && !bytes.Equal(pinned.Signature, v.Signature) {
		return fmt.Errorf("market: lazy offer %s: voucher differs from pinned terms: %w", key, domain.ErrInvalidSignature)
	}
	floor := minPriceOrZero(v)
	if price == nil || price.Cmp(floor) <= 0 {
		return fmt.Errorf("market: lazy offer %s: %w", key, domain.ErrLowerPriceThanPrevious)
	}
	if prev, ok := e.offers[key]; ok && price.Cmp(prev.Price) <= 0 {
		return fmt.Errorf("market: lazy offer %s: %w", key, domain.ErrLowerPriceThanPrevious)
	}
	if err := e.checkFunds(caller, v.Currency, price, attached); err != nil {
		return fmt.Errorf("market: lazy offer %s: %w", key, err)
	}

	if err := e.replaceOffer(ctx, key, domain.Offer{
		Buyer:     caller,
		Currency:  v.Currency,
		Price:     new(big.Int).Set(price),
		OnVoucher: true,
		CreatedAt: e.now(),
	}); err != nil {
		return fmt.Errorf("market: lazy offer %s: %w", key, err)
	}
	if !pinnedOK {
		e.vouchers[key] = v
		e.emit(ctx, domain.EventVoucherWritten, map[string]any{
			"collection":     collection.Hex(),
			"token_id":       v.TokenID,
			"uri":            v.URI,
			"currency":       v.Currency.Hex(),
			"min_price":      floor.String(),
			"is_fixed_price": v.IsFixedPrice,
		})
	}
	e.emit(ctx, domain.EventOfferCreated, map[string]any{
		"collection": collection.Hex(),
		"token_id":   v.TokenID,
		"buyer":      caller.Hex(),
		"currency":   v.Currency.Hex(),
		"price":      price.String(),
	})
	return nil
}

// WithdrawOffer refunds and deletes the caller's live offer.
func (e *Engine) WithdrawOffer(ctx context.Context, caller, collection common.Address, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: tokenID}
	offer, ok := e.offers[key]
	if !ok {
		return fmt.Errorf("market: withdraw %s: %w", key, domain.ErrNoSuchOffer)
	}
	if caller != offer.Buyer {
		return fmt.Errorf("market: withdraw %s: %w", key, domain.ErrNotBuyer)
	}
	if err := e.payOut(offer.Currency, offer.Buyer, offer.Price); err != nil {
		return fmt.Errorf("market: withdraw %s: refund: %w", key, err)
	}

	delete(e.offers, key)
	e.emit(ctx, domain.EventOfferWithdrawn, map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"buyer":      caller.Hex(),
		"price":      offer.Price.String(),
	})
	return nil
}

// AcceptOffer resolves the live offer on a key. Only the seller may call it:
// the listing's seller on the listing track, or the address recovered from
// the pinned voucher on the voucher track. accept=false refunds the buyer;
// accept=true settles the trade, redeeming the voucher first when the asset
// is not yet issued.
func (e *Engine) AcceptOffer(ctx context.Context, caller, collection common.Address, tokenID uint64, accept bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: tokenID}
	offer, ok := e.offers[key]
	if !ok {
		return fmt.Errorf("market: accept %s: %w", key, domain.ErrNoSuchOffer)
	}
	col, err := e.collection(collection)
	if err != nil {
		return fmt.Errorf("market: accept %s: %w", key, err)
	}

	if offer.OnVoucher {
		return e.resolveVoucherOffer(ctx, col, key, offer, caller, accept)
	}
	return e.resolveListingOffer(ctx, col, key, offer, caller, accept)
}

func (e *Engine) resolveListingOffer(ctx context.Context, col domain.AssetCollection, key domain.ItemKey, offer domain.Offer, caller common.Address, accept bool) error {
	listing, ok := e.listings[key]
	if !ok {
		return fmt.Errorf("market: accept %s: %w", key, domain.ErrNoSuchMarketItem)
	}
	if caller != listing.Seller {
		return fmt.Errorf("market: accept %s: %w", key, domain.ErrNotSeller)
	}
	if !accept {
		return e.rejectOffer(ctx, key, offer)
	}
	if !e.sellerStillHolds(col, listing.Seller, key.TokenID) {
		return fmt.Errorf("market: accept %s: %w", key, domain.ErrNotApproved)
	}
	if err := col.TransferFrom(e.addr, listing.Seller, offer.Buyer, key.TokenID); err != nil {
		return fmt.Errorf("market: accept %s: asset transfer: %w", key, err)
	}
	fee := e.fee(offer.Price)
	if err := e.release(offer.Currency, listing.Seller, offer.Price, fee); err != nil {
		return fmt.Errorf("market: accept %s: %w", key, err)
	}

	delete(e.listings, key)
	delete(e.offers, key)
	e.settle(ctx, domain.Trade{
		Collection: key.Collection,
		TokenID:    key.TokenID,
		Seller:     listing.Seller,
		Buyer:      offer.Buyer,
		Currency:   offer.Currency,
		Price:      offer.Price,
		Fee:        fee,
		Kind:       domain.TradeKindOfferAccept,
	})
	e.emit(ctx, domain.EventOfferAccepted, map[string]any{
		"collection": key.Collection.Hex(),
		"token_id":   key.TokenID,
		"seller":     listing.Seller.Hex(),
		"buyer":      offer.Buyer.Hex(),
		"price":      offer.Price.String(),
	})
	return nil
}

func (e *Engine) resolveVoucherOffer(ctx context.Context, col domain.AssetCollection, key domain.ItemKey, offer domain.Offer, caller common.Address, accept bool) error {
	v, ok := e.vouchers[key]
	if !ok {
		return fmt.Errorf("market: accept %s: %w", key, domain.ErrNoSuchOffer)
	}
	seller, err := col.VerifySignature(v)
	if err != nil {
		return fmt.Errorf("market: accept %s: %w", key, err)
	}
	if caller != seller {
		return fmt.Errorf("market: accept %s: %w", key, domain.ErrNotSeller)
	}
	if !accept {
		return e.rejectOffer(ctx, key, offer)
	}
	// Redeem before any value moves so a failure leaves escrow intact.
	if err := col.Redeem(e.addr, offer.Buyer, v); err != nil {
		return fmt.Errorf("market: accept %s: redeem: %w", key, err)
	}
	fee := e.fee(offer.Price)
	if err := e.release(offer.Currency, seller, offer.Price, fee); err != nil {
		return fmt.Errorf("market: accept %s: %w", key, err)
	}

	delete(e.offers, key)
	delete(e.vouchers, key)
	e.settle(ctx, domain.Trade{
		Collection: key.Collection,
		TokenID:    key.TokenID,
		Seller:     seller,
		Buyer:      offer.Buyer,
		Currency:   offer.Currency,
		Price:      offer.Price,
		Fee:        fee,
		Kind:       domain.TradeKindLazyAccept,
	})
	e.emit(ctx, domain.EventOfferAccepted, map[string]any{
		"collection": key.Collection.Hex(),
		"token_id":   key.TokenID,
		"seller":     seller.Hex(),
		"buyer":      offer.Buyer.Hex(),
		"price":      offer.Price.String(),
	})
	return nil
}

func (e *Engine) rejectOffer(ctx context.Context, key domain.ItemKey, offer domain.Offer) error {
	if err := e.payOut(offer.Currency, offer.Buyer, offer.Price); err != nil {
		return fmt.Errorf("market: reject %s: refund: %w", key, err)
	}
	delete(e.offers, key)
	e.emit(ctx, domain.EventOfferRejected, map[string]any{
		"collection": key.Collection.Hex(),
		"token_id":   key.TokenID,
		"buyer":      offer.Buyer.Hex(),
		"price":      offer.Price.String(),
	})
	return nil
}

// BuyItem purchases a fixed-price listing outright at its asking price.
func (e *Engine) BuyItem(ctx context.Context, caller, collection common.Address, tokenID uint64, attached *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: tokenID}
	listing, ok := e.listings[key]
	if !ok {
		return fmt.Errorf("market: buy %s: %w", key, domain.ErrNoSuchMarketItem)
	}
	if e.expired(listing) {
		return fmt.Errorf("market: buy %s: %w", key, domain.ErrMarketItemExpired)
	}
	if !listing.IsFixedPrice {
		return fmt.Errorf("market: buy %s: %w", key, domain.ErrNotFixedPriceMode)
	}
	col, err := e.collection(collection)
	if err != nil {
		return fmt.Errorf("market: buy %s: %w", key, err)
	}
	if !e.sellerStillHolds(col, listing.Seller, tokenID) {
		return fmt.Errorf("market: buy %s: %w", key, domain.ErrNotApproved)
	}
	if err := e.checkFunds(caller, listing.Currency, listing.Price, attached); err != nil {
		return fmt.Errorf("market: buy %s: %w", key, err)
	}

	if err := col.TransferFrom(e.addr, listing.Seller, caller, tokenID); err != nil {
		return fmt.Errorf("market: buy %s: asset transfer: %w", key, err)
	}
	if err := e.pullEscrow(caller, listing.Currency, listing.Price); err != nil {
		return fmt.Errorf("market: buy %s: %w", key, err)
	}
	fee := e.fee(listing.Price)
	if err := e.release(listing.Currency, listing.Seller, listing.Price, fee); err != nil {
		return fmt.Errorf("market: buy %s: %w", key, err)
	}

	delete(e.listings, key)
	e.settle(ctx, domain.Trade{
		Collection: collection,
		TokenID:    tokenID,
		Seller:     listing.Seller,
		Buyer:      caller,
		Currency:   listing.Currency,
		Price:      listing.Price,
		Fee:        fee,
		Kind:       domain.TradeKindBuyNow,
	})
	e.emit(ctx, domain.EventItemBought, map[string]any{
		"collection": collection.Hex(),
		"token_id":   tokenID,
		"seller":     listing.Seller.Hex(),
		"buyer":      caller.Hex(),
		"price":      listing.Price.String(),
	})
	return nil
}

// BuyLazyNFT purchases an unissued asset outright against a fixed-price
// voucher. The asset is redeemed directly to the buyer and the voucher's
// minimum price is split between the recovered signer and the fee recipient.
func (e *Engine) BuyLazyNFT(ctx context.Context, caller, collection common.Address, v domain.Voucher, attached *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := domain.ItemKey{Collection: collection, TokenID: v.TokenID}

	if !e.currencyAllowed[v.Currency] {
		return fmt.Errorf("market: lazy buy %s: currency %s: %w", key, v.Currency.Hex(), domain.ErrUnsupportedToken)
	}
	if !e.collectionAllowed[collection] {
		return fmt.Errorf("market: lazy buy %s: %w", key, domain.ErrUnsupportedCollection)
	}
	col, err := e.collection(collection)
	if err != nil {
		return fmt.Errorf("market: lazy buy %s: %w", key, err)
	}
	if !v.IsFixedPrice {
		return fmt.Errorf("market: lazy buy %s: %w", key, domain.ErrNotFixedPriceMode)
	}
	if col.Exists(v.TokenID) {
		return fmt.Errorf("market: lazy buy %s: %w", key, domain.ErrAlreadyMinted)
	}
	seller, err := col.VerifySignature(v)
	if err != nil {
		return fmt.Errorf("market: lazy buy %s: %w", key, err)
	}
	price := minPriceOrZero(v)
	if price.Sign() <= 0 {
		return fmt.Errorf("market: lazy buy %s: %w", key, domain.ErrZeroPrice)
	}
	if err := e.checkFunds(caller, v.Currency, price, attached); err != nil {
		return fmt.Errorf("market: lazy buy %s: %w", key, err)
	}

	// Redeem before any value moves so a failure leaves balances intact.
	if err := col.Redeem(e.addr, caller, v); err != nil {
		return fmt.Errorf("market: lazy buy %s: redeem: %w", key, err)
	}
	if err := e.pullEscrow(caller, v.Currency, price); err != nil {
		return fmt.Errorf("market: lazy buy %s: %w", key, err)
	}
	fee := e.fee(price)
	if err := e.release(v.Currency, seller, price, fee); err != nil {
		return fmt.Errorf("market: lazy buy %s: %w", key, err)
	}

	delete(e.vouchers, key)
	e.emit(ctx, domain.EventVoucherWritten, map[string]any{
		"collection":     collection.Hex(),
		"token_id":       v.TokenID,
		"uri":            v.URI,
		"currency":       v.Currency.Hex(),
		"min_price":      price.String(),
		"is_fixed_price": v.IsFixedPrice,
	})
	e.emit(ctx, domain.EventItemBought, map[string]any{
		"collection": collection.Hex(),
		"token_id":   v.TokenID,
		"seller":     seller.Hex(),
		"buyer":      caller.Hex(),
		"price":      price.String(),
	})
	e.settle(ctx, domain.Trade{
		Collection: collection,
		TokenID:    v.TokenID,
		Seller:     seller,
		Buyer:      caller,
		Currency:   v.Currency,
		Price:      price,
		Fee:        fee,
		Kind:       domain.TradeKindLazyBuyNow,
	})
	return nil
}

// GetListing returns the live listing for a key, if any.
func (e *Engine) GetListing(collection common.Address, tokenID uint64) (domain.Listing, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listings[domain.ItemKey{Collection: collection, TokenID: tokenID}]
	return l, ok
}

// GetOffer returns the live offer for a key, if any.
func (e *Engine) GetOffer(collection common.Address, tokenID uint64) (domain.Offer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.offers[domain.ItemKey{Collection: collection, TokenID: tokenID}]
	return o, ok
}

// Listings returns a snapshot of all live listings.
func (e *Engine) Listings() map[domain.ItemKey]domain.Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.ItemKey]domain.Listing, len(e.listings))
	for k, l := range e.listings {
		out[k] = l
	}
	return out
}

// Offers returns a snapshot of all live offers.
func (e *Engine) Offers() map[domain.ItemKey]domain.Offer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.ItemKey]domain.Offer, len(e.offers))
	for k, o := range e.offers {
		out[k] = o
	}
	return out
}

// FeeBps returns the current fee rate in basis points.
func (e *Engine) FeeBps() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeBps
}

// CurrencyAllowed reports whether a currency is on the allow-list.
func (e *Engine) CurrencyAllowed(currency common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currencyAllowed[currency]
}

// CollectionAllowed reports whether a collection is on the allow-list.
func (e *Engine) CollectionAllowed(collection common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collectionAllowed[collection]
}

// collection resolves a registered, allow-listed collection.
func (e *Engine) collection(addr common.Address) (domain.AssetCollection, error) {
	if !e.collectionAllowed[addr] {
		return nil, domain.ErrUnsupportedCollection
	}
	col, ok := e.collections[addr]
	if !ok {
		return nil, domain.ErrUnsupportedCollection
	}
	return col, nil
}

// marketApproved reports whether the engine may move the token on the owner's
// behalf.
func (e *Engine) marketApproved(col domain.AssetCollection, owner common.Address, tokenID uint64) bool {
	if col.IsApprovedForAll(owner, e.addr) {
		return true
	}
	approved, err := col.GetApproved(tokenID)
	if err != nil {
		return false
	}
	return approved == e.addr
}

// sellerStillHolds reports whether the listed seller still owns the token and
// the engine is still approved to move it.
func (e *Engine) sellerStillHolds(col domain.AssetCollection, seller common.Address, tokenID uint64) bool {
	owner, err := col.OwnerOf(tokenID)
	if err != nil || owner != seller {
		return false
	}
	return e.marketApproved(col, seller, tokenID)
}

func (e *Engine) expired(l domain.Listing) bool {
	if l.ExpiresAt.IsZero() {
		return false
	}
	return e.now().After(l.ExpiresAt.Add(e.grace))
}

func (e *Engine) fee(price *big.Int) *big.Int {
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(e.feeBps))
	return fee.Div(fee, big.NewInt(FeeDenominator))
}

// checkFunds validates the buyer can cover price in the given currency before
// any state is touched. Native payment requires the attached value to match
// the price exactly.
func (e *Engine) checkFunds(buyer, currency common.Address, price, attached *big.Int) error {
	if currency == domain.NativeCurrency {
		if e.native == nil {
			return domain.ErrUnsupportedToken
		}
		if attached == nil || attached.Cmp(price) != 0 {
			return domain.ErrInsufficientValue
		}
		if e.native.BalanceOf(buyer).Cmp(price) < 0 {
			return domain.ErrInsufficientBalance
		}
		return nil
	}
	tok, ok := e.tokens[currency]
	if !ok {
		return domain.ErrUnsupportedToken
	}
	if tok.BalanceOf(buyer).Cmp(price) < 0 {
		return domain.ErrInsufficientBalance
	}
	if tok.Allowance(buyer, e.addr).Cmp(price) < 0 {
		return domain.ErrInsufficientAllowance
	}
	return nil
}

// pullEscrow moves price from the buyer into the engine's escrow account.
// Callers must have validated funds already.
func (e *Engine) pullEscrow(buyer, currency common.Address, price *big.Int) error {
	if currency == domain.NativeCurrency {
		return e.native.Transfer(buyer, e.addr, price)
	}
	tok, ok := e.tokens[currency]
	if !ok {
		return domain.ErrUnsupportedToken
	}
	return tok.TransferFrom(e.addr, buyer, e.addr, price)
}

// payOut moves value out of the engine's escrow account.
func (e *Engine) payOut(currency, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if currency == domain.NativeCurrency {
		return e.native.Transfer(e.addr, to, amount)
	}
	tok, ok := e.tokens[currency]
	if !ok {
		return domain.ErrUnsupportedToken
	}
	return tok.Transfer(e.addr, to, amount)
}

// release splits escrowed price between the seller and the fee recipient.
func (e *Engine) release(currency, seller common.Address, price, fee *big.Int) error {
	net := new(big.Int).Sub(price, fee)
	if err := e.payOut(currency, seller, net); err != nil {
		return fmt.Errorf("seller payout: %w", err)
	}
	if err := e.payOut(currency, e.owner, fee); err != nil {
		return fmt.Errorf("fee payout: %w", err)
	}
	return nil
}

// replaceOffer refunds any previous escrow for the key, pulls the new buyer's
// escrow, and records the offer. Fund checks happened before the refund, so
// the book can never end up with the old offer gone and the new one unfunded.
func (e *Engine) replaceOffer(ctx context.Context, key domain.ItemKey, offer domain.Offer) error {
	if prev, ok := e.offers[key]; ok {
		if err := e.payOut(prev.Currency, prev.Buyer, prev.Price); err != nil {
			return fmt.Errorf("refund previous offer: %w", err)
		}
		e.emit(ctx, domain.EventOfferWithdrawn, map[string]any{
			"collection": key.Collection.Hex(),
			"token_id":   key.TokenID,
			"buyer":      prev.Buyer.Hex(),
			"price":      prev.Price.String(),
		})
	}
	if err := e.pullEscrow(offer.Buyer, offer.Currency, offer.Price); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	e.offers[key] = offer
	return nil
}

// settle records a completed trade and emits the TradeExecuted event.
func (e *Engine) settle(ctx context.Context, t domain.Trade) {
	t.ID = uuid.NewString()
	t.ExecutedAt = e.now()
	if e.trades != nil {
		if err := e.trades.Record(ctx, t); err != nil {
			e.logger.Warn("trade record failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()))
		}
	}
	e.emit(ctx, domain.EventTradeExecuted, map[string]any{
		"trade_id":   t.ID,
		"collection": t.Collection.Hex(),
		"token_id":   t.TokenID,
		"seller":     t.Seller.Hex(),
		"buyer":      t.Buyer.Hex(),
		"currency":   t.Currency.Hex(),
		"price":      t.Price.String(),
		"fee":        t.Fee.String(),
		"kind":       string(t.Kind),
	})
}

func (e *Engine) emit(ctx context.Context, name string, attrs map[string]any) {
	if e.sink == nil {
		return
	}
	ev := domain.Event{
		ID:    uuid.NewString(),
		Name:  name,
		At:    e.now(),
		Attrs: attrs,
	}
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.logger.Warn("event sink emit failed",
			slog.String("event", name),
			slog.String("error", err.Error()))
	}
}

func minPriceOrZero(v domain.Voucher) *big.Int {
	if v.MinPrice == nil {
		return new(big.Int)
	}
	return v.MinPrice
}
