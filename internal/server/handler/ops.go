package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// OpsService is the mutating surface of the marketplace ledger that
// OpsHandler submits operations to. The market engine satisfies it.
type OpsService interface {
	WhitelistCurrency(ctx context.Context, caller, currency common.Address, allowed bool) error
	WhitelistCollection(ctx context.Context, caller, collection common.Address, allowed bool) error
	SetFeePercent(ctx context.Context, caller common.Address, bps uint64) error

	ListItem(ctx context.Context, caller, collection common.Address, tokenID uint64, currency common.Address, price *big.Int, expiresAt time.Time, isFixedPrice bool) error
	UnlistItem(ctx context.Context, caller, collection common.Address, tokenID uint64) error
	CreateOffer(ctx context.Context, caller, collection common.Address, tokenID uint64, price, attached *big.Int) error
	CreateLazyOffer(ctx context.Context, caller, collection common.Address, v domain.Voucher, price, attached *big.Int) error
	WithdrawOffer(ctx context.Context, caller, collection common.Address, tokenID uint64) error
	AcceptOffer(ctx context.Context, caller, collection common.Address, tokenID uint64, accept bool) error
	BuyItem(ctx context.Context, caller, collection common.Address, tokenID uint64, attached *big.Int) error
	BuyLazyNFT(ctx context.Context, caller, collection common.Address, v domain.Voucher, attached *big.Int) error
}

// OpsHandler accepts ledger operations over HTTP. Every request body names
// the caller address the operation runs as; the engine enforces authorization
// against that address exactly as it does for any other entry point.
type OpsHandler struct {
	svc    OpsService
	logger *slog.Logger
}

// NewOpsHandler creates an OpsHandler submitting to the given service.
func NewOpsHandler(svc OpsService, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		svc:    svc,
		logger: logHandler(logger, "ops"),
	}
}

// addressField parses a required hex address from a request body field.
func addressField(w http.ResponseWriter, field, value string) (common.Address, bool) {
	if !common.IsHexAddress(value) {
		writeError(w, http.StatusBadRequest, "invalid "+field+" address")
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

// amountField parses a required decimal big-integer from a request body field.
func amountField(w http.ResponseWriter, field, value string) (*big.Int, bool) {
	n, ok := parseAmount(value)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid "+field+" amount")
		return nil, false
	}
	return n, true
}

// voucherBody is the wire form of a signed lazy-issuance voucher.
type voucherBody struct {
	TokenID      uint64 `json:"token_id"`
	URI          string `json:"uri"`
	Currency     string `json:"currency"`
	MinPrice     string `json:"min_price"`
	IsFixedPrice bool   `json:"is_fixed_price"`
	Signature    string `json:"signature"` // 0x-prefixed hex
}

// voucherField validates and converts a voucherBody into a domain.Voucher.
func voucherField(w http.ResponseWriter, body voucherBody) (domain.Voucher, bool) {
	currency, ok := addressField(w, "voucher currency", body.Currency)
	if !ok {
		return domain.Voucher{}, false
	}
	minPrice, ok := amountField(w, "voucher min_price", body.MinPrice)
	if !ok {
		return domain.Voucher{}, false
	}
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid voucher signature encoding")
		return domain.Voucher{}, false
	}

	return domain.Voucher{
		TokenID:      body.TokenID,
		URI:          body.URI,
		Currency:     currency,
		MinPrice:     minPrice,
		IsFixedPrice: body.IsFixedPrice,
		Signature:    sig,
	}, true
}

// submit runs op and writes the uniform accepted/error response.
func (h *OpsHandler) submit(w http.ResponseWriter, name string, op func() error) {
	if err := op(); err != nil {
		h.logger.Warn("operation rejected",
			slog.String("op", name),
			slog.String("error", err.Error()),
		)
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "op": name})
}

// WhitelistCurrency toggles a payment currency on the allow-list.
// POST /api/admin/currencies
func (h *OpsHandler) WhitelistCurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Currency string `json:"currency"`
		Allowed  bool   `json:"allowed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := addressField(w, "caller", req.Caller)
	if !ok {
		return
	}
	currency, ok := addressField(w, "currency", req.Currency)
	if !ok {
		return
	}

	h.submit(w, "whitelist_currency", func() error {
		return h.svc.WhitelistCurrency(r.Context(), caller, currency, req.Allowed)
	})
}

// WhitelistCollection toggles an asset collection on the allow-list.
// POST /api/admin/collections
func (h *OpsHandler) WhitelistCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller     string `json:"caller"`
		Collection string `json:"collection"`
		Allowed    bool   `json:"allowed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := addressField(w, "caller", req.Caller)
	if !ok {
		return
	}
	collection, ok := addressField(w, "collection", req.Collection)
	if !ok {
		return
	}

	h.submit(w, "whitelist_collection", func() error {
		return h.svc.WhitelistCollection(r.Context(), caller, collection, req.Allowed)
	})
}

// SetFeePercent updates the marketplace fee, in basis points.
// PUT /api/admin/fee
func (h *OpsHandler) SetFeePercent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		FeeBps uint64 `json:"fee_bps"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := addressField(w, "caller", req.Caller)
	if !ok {
		return
	}

	h.submit(w, "set_fee_percent", func() error {
		return h.svc.SetFeePercent(r.Context(), caller, req.FeeBps)
	})
}

// ListItem places an issued asset on the book.
// POST /api/ops/list
func (h *OpsHandler) ListItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		Collection   string `json:"collection"`
		TokenID      uint64 `json:"token_id"`
		Currency     string `json:"currency"`
		Price        string `json:"price"`
		ExpiresAt    string `json:"expires_at"` // RFC 3339, empty = never
		IsFixedPrice bool   `json:"is_fixed_price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := addressField(w, "caller", req.Caller)
	if !ok {
		return
	}
	collection, ok := addressField(w, "collection", req.Collection)
	if !ok {
		return
	}
	currency, ok := addressField(w, "currency", req.Currency)
	if !ok {
		return
	}
	price, ok := amountField(w, "price", req.Price)
	if !ok {
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expires_at timestamp")
			return
		}
		expiresAt = t
	}

	h.submit(w, "list_item", func() error {
		return h.svc.ListItem(r.Context(), caller, collection, req.TokenID, currency, price, expiresAt, req.IsFixedPrice)
	})
}

// itemBody is the common caller/collection/token triple of item operations.
type itemBody struct {
	Caller     string `json:"caller"`
	Collection string `json:"collection"`
	TokenID    uint64 `json:"token_id"`
}

// itemFields parses the common triple out of an itemBody.
func itemFields(w http.ResponseWriter, body itemBody) (caller, collection common.Address, ok bool) {
	caller, ok = addressField(w, "caller", body.Caller)
	if !ok {
		return
	}
	collection, ok = addressField(w, "collection", body.Collection)
	return
}

// UnlistItem removes the caller's listing from the book.
// POST /api/ops/unlist
func (h *OpsHandler) UnlistItem(w http.ResponseWriter, r *http.Request) {
	var req itemBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, collection, ok := itemFields(w, req)
	if !ok {
		return
	}

	h.submit(w, "unlist_item", func() error {
		return h.svc.UnlistItem(r.Context(), caller, collection, req.TokenID)
	})
}

// CreateOffer escrows a bid against an auction listing.
// POST /api/ops/offer
func (h *OpsHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		itemBody
		Price    string `json:"price"`
		Attached string `json:"attached"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, collection, ok := itemFields(w, req.itemBody)
	if !ok {
		return
	}
	price, ok := amountField(w, "price", req.Price)
	if !ok {
		return
	}
	attached, ok := amountField(w, "attached", req.Attached)
	if !ok {
		return
	}

	h.submit(w, "create_offer", func() error {
		return h.svc.CreateOffer(r.Context(), caller, collection, req.TokenID, price, attached)
	})
}

// CreateLazyOffer escrows a bid against a signed voucher for an unissued
// asset, pinning the voucher on first use.
// POST /api/ops/lazy-offer
func (h *OpsHandler) CreateLazyOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller     string      `json:"caller"`
		Collection string      `json:"collection"`
		Voucher    voucherBody `json:"voucher"`
		Price      string      `json:"price"`
		Attached   string      `json:"attached"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := addressField(w, "caller", req.Caller)
	if !ok {
		return
	}
	collection, ok := addressField(w, "collection", req.Collection)
	if !ok {
		return
	}
	v, ok := voucherField(w, req.Voucher)
	if !ok {
		return
	}
	price, ok := amountField(w, "price", req.Price)
	if !ok {
		return
	}
	attached, ok := amountField(w, "attached", req.Attached)
	if !ok {
		return
	}

	h.submit(w, "create_lazy_offer", func() error {
		return h.svc.CreateLazyOffer(r.Context(), caller, collection, v, price, attached)
	})
}

// WithdrawOffer refunds and removes the caller's escrowed offer.
// POST /api/ops/withdraw
func (h *OpsHandler) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	var req itemBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, collection, ok := itemFields(w, req)
	if !ok {
		return
	}

	h.submit(w, "withdraw_offer", func() error {
		return h.svc.WithdrawOffer(r.Context(), caller, collection, req.TokenID)
	})
}

// AcceptOffer resolves the escrowed offer on an item: accept settles the
// trade, reject refunds the buyer.
// POST /api/ops/accept
func (h *OpsHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		itemBody
		Accept bool `json:"accept"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, collection, ok := itemFields(w, req.itemBody)
	if !ok {
		return
	}

	h.submit(w, "accept_offer", func() error {
		return h.svc.AcceptOffer(r.Context(), caller, collection, req.TokenID, req.Accept)
	})
}

// BuyItem settles a fixed-price listing immediately.
// POST /api/ops/buy
func (h *OpsHandler) BuyItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		itemBody
		Attached string `json:"attached"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, collection, ok := itemFields(w, req.itemBody)
	if !ok {
		return
	}
	attached, ok := amountField(w, "attached", req.Attached)
	if !ok {
		return
	}

	h.submit(w, "buy_item", func() error {
		return h.svc.BuyItem(r.Context(), caller, collection, req.TokenID, attached)
	})
}

// BuyLazyNFT issues and buys an unissued asset from a fixed-price voucher in
// a single step.
// POST /api/ops/lazy-buy
func (h *OpsHandler) BuyLazyNFT(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller     string      `json:"caller"`
		Collection string      `json:"collection"`
		Voucher    voucherBody `json:"voucher"`
		Attached   string      `json:"attached"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := addressField(w, "caller", req.Caller)
	if !ok {
		return
	}
	collection, ok := addressField(w, "collection", req.Collection)
	if !ok {
		return
	}
	v, ok := voucherField(w, req.Voucher)
	if !ok {
		return
	}
	attached, ok := amountField(w, "attached", req.Attached)
	if !ok {
		return
	}

	h.submit(w, "buy_lazy_nft", func() error {
		return h.svc.BuyLazyNFT(r.Context(), caller, collection, v, attached)
	})
}
