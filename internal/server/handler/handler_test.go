package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

var (
	testOwner      = common.HexToAddress("0x00000000000000000000000000000000000000AD")
	testMarket     = common.HexToAddress("0x00000000000000000000000000000000000000E5")
	testCollection = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	testSeller     = common.HexToAddress("0x0000000000000000000000000000000000000011")
	testBuyer      = common.HexToAddress("0x0000000000000000000000000000000000000022")
)

type fakeBook struct {
	listings map[domain.ItemKey]domain.Listing
	offers   map[domain.ItemKey]domain.Offer
}

func (b *fakeBook) Listings() map[domain.ItemKey]domain.Listing { return b.listings }

func (b *fakeBook) GetListing(collection common.Address, tokenID uint64) (domain.Listing, bool) {
	l, ok := b.listings[domain.ItemKey{Collection: collection, TokenID: tokenID}]
	return l, ok
}

func (b *fakeBook) Offers() map[domain.ItemKey]domain.Offer { return b.offers }

func (b *fakeBook) GetOffer(collection common.Address, tokenID uint64) (domain.Offer, bool) {
	o, ok := b.offers[domain.ItemKey{Collection: collection, TokenID: tokenID}]
	return o, ok
}

func (b *fakeBook) FeeBps() uint64          { return 250 }
func (b *fakeBook) Owner() common.Address   { return testOwner }
func (b *fakeBook) Address() common.Address { return testMarket }

func newFakeBook() *fakeBook {
	key := domain.ItemKey{Collection: testCollection, TokenID: 7}
	return &fakeBook{
		listings: map[domain.ItemKey]domain.Listing{
			key: {
				Seller:       testSeller,
				Currency:     domain.NativeCurrency,
				Price:        big.NewInt(500),
				IsFixedPrice: true,
				ListedAt:     time.Now().UTC(),
			},
		},
		offers: map[domain.ItemKey]domain.Offer{
			key: {
				Buyer:     testBuyer,
				Currency:  domain.NativeCurrency,
				Price:     big.NewInt(500),
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.Default()
}

// routeRequest sends req through a mux with the given pattern registered, so
// path parameters resolve the same way they do on the real server.
func routeRequest(t *testing.T, pattern string, fn http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, fn)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListListings(t *testing.T) {
	h := NewMarketHandler(newFakeBook(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	rec := routeRequest(t, "GET /api/listings", h.ListListings, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count    int `json:"count"`
		Listings []struct {
			Collection string `json:"collection"`
			TokenID    uint64 `json:"token_id"`
			Seller     string `json:"seller"`
			Price      string `json:"price"`
		} `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, testCollection.Hex(), body.Listings[0].Collection)
	assert.Equal(t, uint64(7), body.Listings[0].TokenID)
	assert.Equal(t, testSeller.Hex(), body.Listings[0].Seller)
	assert.Equal(t, "500", body.Listings[0].Price)
}

func TestGetListing(t *testing.T) {
	h := NewMarketHandler(newFakeBook(), testLogger())
	pattern := "GET /api/listings/{collection}/{tokenId}"

	req := httptest.NewRequest(http.MethodGet, "/api/listings/"+testCollection.Hex()+"/7", nil)
	rec := routeRequest(t, pattern, h.GetListing, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/listings/"+testCollection.Hex()+"/8", nil)
	rec = routeRequest(t, pattern, h.GetListing, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/listings/not-an-address/7", nil)
	rec = routeRequest(t, pattern, h.GetListing, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOffer(t *testing.T) {
	h := NewMarketHandler(newFakeBook(), testLogger())
	pattern := "GET /api/offers/{collection}/{tokenId}"

	req := httptest.NewRequest(http.MethodGet, "/api/offers/"+testCollection.Hex()+"/7", nil)
	rec := routeRequest(t, pattern, h.GetOffer, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Buyer string `json:"buyer"`
		Price string `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, testBuyer.Hex(), body.Buyer)
	assert.Equal(t, "500", body.Price)
}

func TestGetMarketInfo(t *testing.T) {
	h := NewMarketHandler(newFakeBook(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/market", nil)
	rec := routeRequest(t, "GET /api/market", h.GetMarketInfo, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Owner  string `json:"owner"`
		FeeBps uint64 `json:"fee_bps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, testOwner.Hex(), body.Owner)
	assert.Equal(t, uint64(250), body.FeeBps)
}

// fakeOps records the last submitted operation and returns a canned error.
type fakeOps struct {
	lastOp string
	err    error
}

func (f *fakeOps) WhitelistCurrency(ctx context.Context, caller, currency common.Address, allowed bool) error {
	f.lastOp = "whitelist_currency"
	return f.err
}

func (f *fakeOps) WhitelistCollection(ctx context.Context, caller, collection common.Address, allowed bool) error {
	f.lastOp = "whitelist_collection"
	return f.err
}

func (f *fakeOps) SetFeePercent(ctx context.Context, caller common.Address, bps uint64) error {
	f.lastOp = "set_fee_percent"
	return f.err
}

func (f *fakeOps) ListItem(ctx context.Context, caller, collection common.Address, tokenID uint64, currency common.Address, price *big.Int, expiresAt time.Time, isFixedPrice bool) error {
	f.lastOp = "list_item"
	return f.err
}

func (f *fakeOps) UnlistItem(ctx context.Context, caller, collection common.Address, tokenID uint64) error {
	f.lastOp = "unlist_item"
	return f.err
}

func (f *fakeOps) CreateOffer(ctx context.Context, caller, collection common.Address, tokenID uint64, price, attached *big.Int) error {
	f.lastOp = "create_offer"
	return f.err
}

func (f *fakeOps) CreateLazyOffer(ctx context.Context, caller, collection common.Address, v domain.Voucher, price, attached *big.Int) error {
	f.lastOp = "create_lazy_offer"
	return f.err
}

func (f *fakeOps) WithdrawOffer(ctx context.Context, caller, collection common.Address, tokenID uint64) error {
	f.lastOp = "withdraw_offer"
	return f.err
}

func (f *fakeOps) AcceptOffer(ctx context.Context, caller, collection common.Address, tokenID uint64, accept bool) error {
	f.lastOp = "accept_offer"
	return f.err
}

func (f *fakeOps) BuyItem(ctx context.Context, caller, collection common.Address, tokenID uint64, attached *big.Int) error {
	f.lastOp = "buy_item"
	return f.err
}

func (f *fakeOps) BuyLazyNFT(ctx context.Context, caller, collection common.Address, v domain.Voucher, attached *big.Int) error {
	f.lastOp = "buy_lazy_nft"
	return f.err
}

func TestListItemOp(t *testing.T) {
	ops := &fakeOps{}
	h := NewOpsHandler(ops, testLogger())

	body := `{
		"caller": "` + testSeller.Hex() + `",
		"collection": "` + testCollection.Hex() + `",
		"token_id": 7,
		"currency": "0x0000000000000000000000000000000000000000",
		"price": "500",
		"expires_at": "",
		"is_fixed_price": true
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/ops/list", strings.NewReader(body))
	rec := routeRequest(t, "POST /api/ops/list", h.ListItem, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "list_item", ops.lastOp)
}

func TestListItemOpRejectsBadAddress(t *testing.T) {
	ops := &fakeOps{}
	h := NewOpsHandler(ops, testLogger())

	body := `{"caller": "nope", "collection": "` + testCollection.Hex() + `", "token_id": 7, "currency": "0x0000000000000000000000000000000000000000", "price": "500", "expires_at": "", "is_fixed_price": true}`
	req := httptest.NewRequest(http.MethodPost, "/api/ops/list", strings.NewReader(body))
	rec := routeRequest(t, "POST /api/ops/list", h.ListItem, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ops.lastOp)
}

func TestOpErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"authorization", domain.ErrNotSeller, http.StatusForbidden},
		{"missing item", domain.ErrNoSuchMarketItem, http.StatusNotFound},
		{"domain rule", domain.ErrLowerPriceThanPrevious, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := &fakeOps{err: tt.err}
			h := NewOpsHandler(ops, testLogger())

			body := `{"caller": "` + testBuyer.Hex() + `", "collection": "` + testCollection.Hex() + `", "token_id": 7}`
			req := httptest.NewRequest(http.MethodPost, "/api/ops/withdraw", strings.NewReader(body))
			rec := routeRequest(t, "POST /api/ops/withdraw", h.WithdrawOffer, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBuyLazyNFTOpParsesVoucher(t *testing.T) {
	ops := &fakeOps{}
	h := NewOpsHandler(ops, testLogger())

	body := `{
		"caller": "` + testBuyer.Hex() + `",
		"collection": "` + testCollection.Hex() + `",
		"voucher": {
			"token_id": 9,
			"uri": "ipfs://QmQFcbsk1Vjt1n361MceM5iNeMTuFzuVUZ1hKFWD7ZCpuC",
			"currency": "0x0000000000000000000000000000000000000000",
			"min_price": "150",
			"is_fixed_price": true,
			"signature": "0xdeadbeef"
		},
		"attached": "150"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/ops/lazy-buy", strings.NewReader(body))
	rec := routeRequest(t, "POST /api/ops/lazy-buy", h.BuyLazyNFT, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buy_lazy_nft", ops.lastOp)
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=9999&offset=10&since=2026-01-01T00:00:00Z", nil)
	opts := parseListOpts(req)

	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 10, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2026, opts.Since.Year())
	assert.Nil(t, opts.Until)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := routeRequest(t, "GET /api/health", h.HealthCheck, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
