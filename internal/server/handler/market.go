package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// MarketBook is the read side of the marketplace ledger that MarketHandler
// serves. The market engine satisfies it.
type MarketBook interface {
	Listings() map[domain.ItemKey]domain.Listing
	GetListing(collection common.Address, tokenID uint64) (domain.Listing, bool)
	Offers() map[domain.ItemKey]domain.Offer
	GetOffer(collection common.Address, tokenID uint64) (domain.Offer, bool)
	FeeBps() uint64
	Owner() common.Address
	Address() common.Address
}

// MarketHandler serves read endpoints over the live marketplace book:
// listings, escrowed offers, and the fee configuration.
type MarketHandler struct {
	book   MarketBook
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler backed by the given book.
func NewMarketHandler(book MarketBook, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		book:   book,
		logger: logHandler(logger, "market"),
	}
}

// listingEntry is a JSON-friendly flattening of an ItemKey plus its Listing.
type listingEntry struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"token_id"`
	domain.Listing
}

// offerEntry is a JSON-friendly flattening of an ItemKey plus its Offer.
type offerEntry struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"token_id"`
	domain.Offer
}

// ListListings returns every live listing on the book.
// GET /api/listings
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings := h.book.Listings()

	entries := make([]listingEntry, 0, len(listings))
	for key, l := range listings {
		entries = append(entries, listingEntry{
			Collection: key.Collection.Hex(),
			TokenID:    key.TokenID,
			Listing:    l,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"listings": entries,
		"count":    len(entries),
	})
}

// GetListing returns the listing for one item.
// GET /api/listings/{collection}/{tokenId}
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	tokenID, ok := pathTokenID(r, "tokenId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	l, ok := h.book.GetListing(collection, tokenID)
	if !ok {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}

	writeJSON(w, http.StatusOK, listingEntry{
		Collection: collection.Hex(),
		TokenID:    tokenID,
		Listing:    l,
	})
}

// ListOffers returns every escrowed offer on the book.
// GET /api/offers
func (h *MarketHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers := h.book.Offers()

	entries := make([]offerEntry, 0, len(offers))
	for key, o := range offers {
		entries = append(entries, offerEntry{
			Collection: key.Collection.Hex(),
			TokenID:    key.TokenID,
			Offer:      o,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"offers": entries,
		"count":  len(entries),
	})
}

// GetOffer returns the escrowed offer for one item.
// GET /api/offers/{collection}/{tokenId}
func (h *MarketHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}
	tokenID, ok := pathTokenID(r, "tokenId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	o, ok := h.book.GetOffer(collection, tokenID)
	if !ok {
		writeError(w, http.StatusNotFound, "offer not found")
		return
	}

	writeJSON(w, http.StatusOK, offerEntry{
		Collection: collection.Hex(),
		TokenID:    tokenID,
		Offer:      o,
	})
}

// GetMarketInfo returns the marketplace configuration snapshot.
// GET /api/market
func (h *MarketHandler) GetMarketInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   h.book.Owner().Hex(),
		"address": h.book.Address().Hex(),
		"fee_bps": h.book.FeeBps(),
	})
}
