package market

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mintmarket/internal/domain"
	"github.com/alanyoungcy/mintmarket/internal/registry"
	"github.com/alanyoungcy/mintmarket/internal/token"
)

var (
	adminAddr    = common.HexToAddress("0xAD")
	engineAddr   = common.HexToAddress("0xE5")
	registryAddr = common.HexToAddress("0xC0")
	tokenAddr    = common.HexToAddress("0x70")
)

const voucherURI = "ipfs://QmQFcbsk1Vjt1n361MceM5iNeMTuFzuVUZ1hKFWD7ZCpuC"

type recordedTrades struct {
	trades []domain.Trade
}

func (r *recordedTrades) Record(_ context.Context, t domain.Trade) error {
	r.trades = append(r.trades, t)
	return nil
}

type sinkCapture struct {
	events []domain.Event
}

func (s *sinkCapture) Emit(_ context.Context, ev domain.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *sinkCapture) count(name string) int {
	n := 0
	for _, ev := range s.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (s *sinkCapture) last(name string) (domain.Event, bool) {
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Name == name {
			return s.events[i], true
		}
	}
	return domain.Event{}, false
}

// fixture wires an engine against in-memory ledgers with a controllable clock.
type fixture struct {
	engine *Engine
	reg    *registry.Registry
	tok    *token.Token
	native *token.NativeLedger
	sink   *sinkCapture
	trades *recordedTrades
	clock  *fakeClock

	sellerKey *ecdsa.PrivateKey
	seller    common.Address
	buyerA    common.Address
	buyerB    common.Address
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *fakeClock) set(t time.Time)         { c.t = t }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	sink := &sinkCapture{}
	trades := &recordedTrades{}

	sellerKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		sink:      sink,
		trades:    trades,
		clock:     clock,
		sellerKey: sellerKey,
		seller:    ethcrypto.PubkeyToAddress(sellerKey.PublicKey),
		buyerA:    common.HexToAddress("0xA1"),
		buyerB:    common.HexToAddress("0xB2"),
	}

	f.reg = registry.New(registry.Config{
		Name:    "Pharma Trace",
		Symbol:  "PTNFT",
		Address: registryAddr,
		Market:  engineAddr,
		ChainID: 1337,
	}, sink, slog.Default())

	f.tok = token.New("Pharma Token", "PT", 18, adminAddr)
	f.native = token.NewNativeLedger()

	f.engine = New(Config{
		Owner:   adminAddr,
		Address: engineAddr,
		FeeBps:  250, // 2.5%
		Now:     clock.now,
	}, f.native, sink, trades, slog.Default())

	f.engine.RegisterCollection(f.reg)
	f.engine.RegisterToken(tokenAddr, f.tok)

	ctx := context.Background()
	require.NoError(t, f.engine.WhitelistCurrency(ctx, adminAddr, tokenAddr, true))
	require.NoError(t, f.engine.WhitelistCurrency(ctx, adminAddr, domain.NativeCurrency, true))
	require.NoError(t, f.engine.WhitelistCollection(ctx, adminAddr, registryAddr, true))
	return f
}

// fund mints tokens to an account and approves the engine for the full amount.
func (f *fixture) fund(t *testing.T, addr common.Address, amount int64) {
	t.Helper()
	require.NoError(t, f.tok.MintTo(adminAddr, addr, big.NewInt(amount)))
	require.NoError(t, f.tok.Approve(addr, engineAddr, big.NewInt(amount)))
}

// mintAsset issues a token to the seller through a redeemed voucher and
// approves the engine to move it.
func (f *fixture) mintAsset(t *testing.T, tokenID uint64) {
	t.Helper()
	v := f.voucher(t, tokenID, 1, tokenAddr, true)
	require.NoError(t, f.reg.Redeem(engineAddr, f.seller, v))
	require.NoError(t, f.reg.Approve(f.seller, engineAddr, tokenID))
}

func (f *fixture) voucher(t *testing.T, tokenID uint64, minPrice int64, currency common.Address, fixed bool) domain.Voucher {
	t.Helper()
	v := domain.Voucher{
		TokenID:      tokenID,
		URI:          voucherURI,
		Currency:     currency,
		MinPrice:     big.NewInt(minPrice),
		IsFixedPrice: fixed,
	}
	signed, err := f.reg.Signer().Sign(v, f.sellerKey)
	require.NoError(t, err)
	return signed
}

func (f *fixture) list(t *testing.T, tokenID uint64, price int64, expiry time.Time, fixed bool) {
	t.Helper()
	require.NoError(t, f.engine.ListItem(context.Background(), f.seller, registryAddr, tokenID, tokenAddr, big.NewInt(price), expiry, fixed))
}

func (f *fixture) dayFromNow() time.Time {
	return f.clock.t.Add(24 * time.Hour)
}

func TestAdminOpsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.WhitelistCurrency(ctx, f.buyerA, tokenAddr, false)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.True(t, f.engine.CurrencyAllowed(tokenAddr), "allow-list must be unchanged")

	err = f.engine.WhitelistCollection(ctx, f.buyerA, registryAddr, false)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.True(t, f.engine.CollectionAllowed(registryAddr))

	err = f.engine.SetFeePercent(ctx, f.buyerA, 100)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.Equal(t, uint64(250), f.engine.FeeBps())
}

func TestSetFeePercentCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.SetFeePercent(ctx, adminAddr, FeeDenominator+1)
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)

	require.NoError(t, f.engine.SetFeePercent(ctx, adminAddr, FeeDenominator))
	assert.Equal(t, uint64(FeeDenominator), f.engine.FeeBps())
}

func TestListItemValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	expiry := f.dayFromNow()

	// Currency off the allow-list.
	other := common.HexToAddress("0x99")
	err := f.engine.ListItem(ctx, f.seller, registryAddr, 5, other, big.NewInt(10), expiry, false)
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)

	// Zero price.
	err = f.engine.ListItem(ctx, f.seller, registryAddr, 5, tokenAddr, big.NewInt(0), expiry, false)
	assert.ErrorIs(t, err, domain.ErrZeroPrice)

	// Zero expiry in auction mode.
	err = f.engine.ListItem(ctx, f.seller, registryAddr, 5, tokenAddr, big.NewInt(10), time.Time{}, false)
	assert.ErrorIs(t, err, domain.ErrZeroExpiryInAuctionMode)

	// Caller does not own the asset.
	err = f.engine.ListItem(ctx, f.buyerA, registryAddr, 5, tokenAddr, big.NewInt(10), expiry, false)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	// Engine not approved.
	f.mintAssetUnapproved(t, 6)
	err = f.engine.ListItem(ctx, f.seller, registryAddr, 6, tokenAddr, big.NewInt(10), expiry, false)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	// Double listing.
	f.list(t, 5, 10, expiry, false)
	err = f.engine.ListItem(ctx, f.seller, registryAddr, 5, tokenAddr, big.NewInt(10), expiry, false)
	assert.ErrorIs(t, err, domain.ErrAlreadyListed)
}

// mintAssetUnapproved issues an asset without granting the engine approval.
func (f *fixture) mintAssetUnapproved(t *testing.T, tokenID uint64) {
	t.Helper()
	v := f.voucher(t, tokenID, 1, tokenAddr, true)
	require.NoError(t, f.reg.Redeem(engineAddr, f.seller, v))
}

func TestUnlistItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)

	err := f.engine.UnlistItem(ctx, f.buyerA, registryAddr, 5)
	assert.ErrorIs(t, err, domain.ErrNotSeller)

	require.NoError(t, f.engine.UnlistItem(ctx, f.seller, registryAddr, 5))
	_, ok := f.engine.GetListing(registryAddr, 5)
	assert.False(t, ok)

	err = f.engine.UnlistItem(ctx, f.seller, registryAddr, 5)
	assert.ErrorIs(t, err, domain.ErrNoSuchMarketItem)
}

func TestOfferOverwriteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// List asset #5 for 10 units, auction mode, expiry in one day.
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)
	f.fund(t, f.buyerB, 100)

	// Buyer A offers 11: succeeds, escrow = 11.
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))
	assert.Equal(t, big.NewInt(11), f.tok.BalanceOf(engineAddr))
	assert.Equal(t, big.NewInt(89), f.tok.BalanceOf(f.buyerA))

	// Buyer B offers 11: equal price rejected.
	err := f.engine.CreateOffer(ctx, f.buyerB, registryAddr, 5, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrLowerPriceThanPrevious)

	// Degenerate overwrite with zero price.
	err = f.engine.CreateOffer(ctx, f.buyerB, registryAddr, 5, big.NewInt(0), nil)
	assert.ErrorIs(t, err, domain.ErrLowerPriceThanPrevious)

	// Buyer B offers 12: A refunded in full, escrow = 12.
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerB, registryAddr, 5, big.NewInt(12), nil))
	assert.Equal(t, big.NewInt(100), f.tok.BalanceOf(f.buyerA))
	assert.Equal(t, big.NewInt(88), f.tok.BalanceOf(f.buyerB))
	assert.Equal(t, big.NewInt(12), f.tok.BalanceOf(engineAddr))

	offer, ok := f.engine.GetOffer(registryAddr, 5)
	require.True(t, ok)
	assert.Equal(t, f.buyerB, offer.Buyer)
	assert.Equal(t, big.NewInt(12), offer.Price)

	// Seller accepts: B owns the asset, seller nets 12 - fee, admin gets fee.
	require.NoError(t, f.engine.AcceptOffer(ctx, f.seller, registryAddr, 5, true))

	owner, err := f.reg.OwnerOf(5)
	require.NoError(t, err)
	assert.Equal(t, f.buyerB, owner)

	// fee = 12 * 250 / 10000 = 0 (integer division).
	assert.Equal(t, big.NewInt(12), f.tok.BalanceOf(f.seller))
	assert.Equal(t, big.NewInt(0), f.tok.BalanceOf(engineAddr))

	_, ok = f.engine.GetListing(registryAddr, 5)
	assert.False(t, ok)
	_, ok = f.engine.GetOffer(registryAddr, 5)
	assert.False(t, ok)

	require.Len(t, f.trades.trades, 1)
	assert.Equal(t, domain.TradeKindOfferAccept, f.trades.trades[0].Kind)
}

func TestOfferRequiresAuctionListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)

	err := f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrNoSuchMarketItem)

	f.mintAsset(t, 5)
	f.list(t, 5, 10, time.Time{}, true)
	err = f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrFixedPriceMode)
}

func TestOfferFailsBelowFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)

	err := f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(10), nil)
	assert.ErrorIs(t, err, domain.ErrLowerPriceThanPrevious)
}

func TestOfferInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)

	// No balance.
	err := f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Balance without allowance.
	require.NoError(t, f.tok.MintTo(adminAddr, f.buyerA, big.NewInt(100)))
	err = f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestListingExpiryGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	expiry := f.dayFromNow()
	f.list(t, 5, 10, expiry, false)
	f.fund(t, f.buyerA, 100)

	// Exactly at expiry + grace the listing is still usable.
	f.clock.set(expiry.Add(DefaultExpiryGrace))
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))

	// One tick past the grace it is expired.
	f.clock.advance(time.Second)
	err := f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(12), nil)
	assert.ErrorIs(t, err, domain.ErrMarketItemExpired)
}

func TestWithdrawOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))

	err := f.engine.WithdrawOffer(ctx, f.buyerB, registryAddr, 5)
	assert.ErrorIs(t, err, domain.ErrNotBuyer)

	require.NoError(t, f.engine.WithdrawOffer(ctx, f.buyerA, registryAddr, 5))
	assert.Equal(t, big.NewInt(100), f.tok.BalanceOf(f.buyerA))
	assert.Equal(t, big.NewInt(0), f.tok.BalanceOf(engineAddr))

	err = f.engine.WithdrawOffer(ctx, f.buyerA, registryAddr, 5)
	assert.ErrorIs(t, err, domain.ErrNoSuchOffer)
}

func TestRejectOfferRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))

	require.NoError(t, f.engine.AcceptOffer(ctx, f.seller, registryAddr, 5, false))
	assert.Equal(t, big.NewInt(100), f.tok.BalanceOf(f.buyerA))

	_, ok := f.engine.GetOffer(registryAddr, 5)
	assert.False(t, ok)
	// The listing survives a rejection.
	_, ok = f.engine.GetListing(registryAddr, 5)
	assert.True(t, ok)
	assert.Equal(t, 1, f.sink.count(domain.EventOfferRejected))
}

func TestAcceptOfferAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)

	err := f.engine.AcceptOffer(ctx, f.seller, registryAddr, 5, true)
	assert.ErrorIs(t, err, domain.ErrNoSuchOffer)

	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))
	err = f.engine.AcceptOffer(ctx, f.buyerA, registryAddr, 5, true)
	assert.ErrorIs(t, err, domain.ErrNotSeller)
}

func TestAcceptAfterApprovalRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))

	// Seller revokes the engine's approval after the offer was escrowed.
	require.NoError(t, f.reg.Approve(f.seller, common.Address{}, 5))

	err := f.engine.AcceptOffer(ctx, f.seller, registryAddr, 5, true)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	// Escrow must be intact so the buyer can still withdraw.
	assert.Equal(t, big.NewInt(11), f.tok.BalanceOf(engineAddr))
	require.NoError(t, f.engine.WithdrawOffer(ctx, f.buyerA, registryAddr, 5))
	assert.Equal(t, big.NewInt(100), f.tok.BalanceOf(f.buyerA))
}

func TestFeeSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetFeePercent(ctx, adminAddr, 1000)) // 10%

	f.mintAsset(t, 5)
	f.list(t, 5, 100, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 1000)
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(200), nil))
	require.NoError(t, f.engine.AcceptOffer(ctx, f.seller, registryAddr, 5, true))

	// fee = 200 * 1000 / 10000 = 20.
	assert.Equal(t, big.NewInt(180), f.tok.BalanceOf(f.seller))
	assert.Equal(t, big.NewInt(20), f.tok.BalanceOf(adminAddr))
	assert.Equal(t, big.NewInt(0), f.tok.BalanceOf(engineAddr))
}

func TestBuyItemFixedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetFeePercent(ctx, adminAddr, 1000))

	f.mintAsset(t, 5)
	f.list(t, 5, 50, time.Time{}, true)
	f.fund(t, f.buyerA, 100)

	require.NoError(t, f.engine.BuyItem(ctx, f.buyerA, registryAddr, 5, nil))

	owner, err := f.reg.OwnerOf(5)
	require.NoError(t, err)
	assert.Equal(t, f.buyerA, owner)
	assert.Equal(t, big.NewInt(45), f.tok.BalanceOf(f.seller))
	assert.Equal(t, big.NewInt(5), f.tok.BalanceOf(adminAddr))
	assert.Equal(t, big.NewInt(50), f.tok.BalanceOf(f.buyerA))

	_, ok := f.engine.GetListing(registryAddr, 5)
	assert.False(t, ok)
	assert.Equal(t, 1, f.sink.count(domain.EventItemBought))
	assert.Equal(t, 1, f.sink.count(domain.EventTradeExecuted))
}

func TestBuyItemRejectsAuctionListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)

	err := f.engine.BuyItem(ctx, f.buyerA, registryAddr, 5, nil)
	assert.ErrorIs(t, err, domain.ErrNotFixedPriceMode)
}

func TestLazyOfferLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)
	f.fund(t, f.buyerB, 100)

	v := f.voucher(t, 9, 10, tokenAddr, false)

	// First lazy offer pins the voucher and emits VoucherWritten once.
	require.NoError(t, f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, v, big.NewInt(11), nil))
	assert.Equal(t, 1, f.sink.count(domain.EventVoucherWritten))
	assert.Equal(t, big.NewInt(11), f.tok.BalanceOf(engineAddr))

	// Overwrite follows the same monotonicity rule; no second VoucherWritten.
	err := f.engine.CreateLazyOffer(ctx, f.buyerB, registryAddr, v, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrLowerPriceThanPrevious)
	require.NoError(t, f.engine.CreateLazyOffer(ctx, f.buyerB, registryAddr, v, big.NewInt(12), nil))
	assert.Equal(t, 1, f.sink.count(domain.EventVoucherWritten))
	assert.Equal(t, big.NewInt(100), f.tok.BalanceOf(f.buyerA))

	// Signer accepts: asset minted to buyer B, proceeds to signer.
	require.NoError(t, f.engine.AcceptOffer(ctx, f.seller, registryAddr, 9, true))
	owner, err := f.reg.OwnerOf(9)
	require.NoError(t, err)
	assert.Equal(t, f.buyerB, owner)
	assert.Equal(t, big.NewInt(12), f.tok.BalanceOf(f.seller))

	require.Len(t, f.trades.trades, 1)
	assert.Equal(t, domain.TradeKindLazyAccept, f.trades.trades[0].Kind)
}

func TestLazyOfferValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)

	// Fixed-price voucher must use BuyLazyNFT.
	fixed := f.voucher(t, 9, 10, tokenAddr, true)
	err := f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, fixed, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrFixedPriceMode)

	// Currency off the allow-list.
	other := f.voucher(t, 9, 10, common.HexToAddress("0x99"), false)
	err = f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, other, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)

	// Price at the voucher floor is rejected.
	v := f.voucher(t, 9, 10, tokenAddr, false)
	err = f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, v, big.NewInt(10), nil)
	assert.ErrorIs(t, err, domain.ErrLowerPriceThanPrevious)

	// Already-issued asset cannot take lazy offers.
	f.mintAsset(t, 7)
	minted := f.voucher(t, 7, 10, tokenAddr, false)
	err = f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, minted, big.NewInt(11), nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyMinted)
}

func TestLazyOfferConflictingVoucherRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)
	f.fund(t, f.buyerB, 100)

	v1 := f.voucher(t, 9, 10, tokenAddr, false)
	require.NoError(t, f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, v1, big.NewInt(11), nil))

	// A second voucher for the same assetId with different terms is refused.
	v2 := f.voucher(t, 9, 20, tokenAddr, false)
	err := f.engine.CreateLazyOffer(ctx, f.buyerB, registryAddr, v2, big.NewInt(25), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestLazyRejectRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)

	v := f.voucher(t, 9, 10, tokenAddr, false)
	require.NoError(t, f.engine.CreateLazyOffer(ctx, f.buyerA, registryAddr, v, big.NewInt(11), nil))
	require.NoError(t, f.engine.AcceptOffer(ctx, f.seller, registryAddr, 9, false))

	assert.Equal(t, big.NewInt(100), f.tok.BalanceOf(f.buyerA))
	assert.False(t, f.reg.Exists(9))
}

func TestBuyLazyNFTNative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetFeePercent(ctx, adminAddr, 1000))

	// Voucher for unissued asset #9, fixed price 100 native units.
	v := f.voucher(t, 9, 100, domain.NativeCurrency, true)
	f.native.Fund(f.buyerA, big.NewInt(500))

	// Attached value must match the price exactly.
	err := f.engine.BuyLazyNFT(ctx, f.buyerA, registryAddr, v, big.NewInt(99))
	assert.ErrorIs(t, err, domain.ErrInsufficientValue)

	require.NoError(t, f.engine.BuyLazyNFT(ctx, f.buyerA, registryAddr, v, big.NewInt(100)))

	owner, err := f.reg.OwnerOf(9)
	require.NoError(t, err)
	assert.Equal(t, f.buyerA, owner)
	assert.Equal(t, big.NewInt(400), f.native.BalanceOf(f.buyerA))
	assert.Equal(t, big.NewInt(90), f.native.BalanceOf(f.seller))
	assert.Equal(t, big.NewInt(10), f.native.BalanceOf(adminAddr))

	// Repeating the purchase fails: the asset now exists.
	err = f.engine.BuyLazyNFT(ctx, f.buyerA, registryAddr, v, big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrAlreadyMinted)

	assert.Equal(t, 1, f.sink.count(domain.EventVoucherWritten))
	assert.Equal(t, 1, f.sink.count(domain.EventItemBought))
	assert.Equal(t, 1, f.sink.count(domain.EventTradeExecuted))
	assert.Equal(t, 1, f.sink.count(domain.EventRedeemVoucher))
}

func TestBuyLazyNFTRejectsAuctionVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)

	v := f.voucher(t, 9, 10, tokenAddr, false)
	err := f.engine.BuyLazyNFT(ctx, f.buyerA, registryAddr, v, nil)
	assert.ErrorIs(t, err, domain.ErrNotFixedPriceMode)
}

func TestBuyLazyNFTUnlistedCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, f.buyerA, 100)
	require.NoError(t, f.engine.WhitelistCollection(ctx, adminAddr, registryAddr, false))

	v := f.voucher(t, 9, 10, tokenAddr, true)
	err := f.engine.BuyLazyNFT(ctx, f.buyerA, registryAddr, v, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCollection)
}

func TestNativeOfferEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	require.NoError(t, f.engine.ListItem(ctx, f.seller, registryAddr, 5, domain.NativeCurrency, big.NewInt(10), f.dayFromNow(), false))
	f.native.Fund(f.buyerA, big.NewInt(50))

	// Attached value must equal the offered price.
	err := f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientValue)

	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), big.NewInt(11)))
	assert.Equal(t, big.NewInt(11), f.native.BalanceOf(engineAddr))
	assert.Equal(t, big.NewInt(39), f.native.BalanceOf(f.buyerA))

	require.NoError(t, f.engine.AcceptOffer(ctx, f.seller, registryAddr, 5, true))
	assert.Equal(t, big.NewInt(0), f.native.BalanceOf(engineAddr))
	assert.Equal(t, big.NewInt(11), f.native.BalanceOf(f.seller))
}

func TestOfferEventPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mintAsset(t, 5)
	f.list(t, 5, 10, f.dayFromNow(), false)
	f.fund(t, f.buyerA, 100)
	require.NoError(t, f.engine.CreateOffer(ctx, f.buyerA, registryAddr, 5, big.NewInt(11), nil))

	ev, ok := f.sink.last(domain.EventOfferCreated)
	require.True(t, ok)
	assert.Equal(t, f.buyerA.Hex(), ev.Attrs["buyer"])
	assert.Equal(t, "11", ev.Attrs["price"])
	assert.Equal(t, uint64(5), ev.Attrs["token_id"])
}
