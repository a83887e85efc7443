package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// TradeReader is the slice of the trade store TradeHandler depends on.
type TradeReader interface {
	GetByID(ctx context.Context, id string) (domain.Trade, error)
	ListByCollection(ctx context.Context, collection common.Address, opts domain.ListOpts) ([]domain.Trade, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Trade, error)
}

// TradeHandler serves the settled-trade history endpoints.
type TradeHandler struct {
	trades TradeReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler backed by the given reader.
func NewTradeHandler(trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trade"),
	}
}

// ListRecent returns the most recently settled trades, newest first.
// GET /api/trades?limit=50
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := h.trades.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list trades", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}

// ListByCollection returns settled trades for one collection.
// GET /api/trades/collection/{collection}
func (h *TradeHandler) ListByCollection(w http.ResponseWriter, r *http.Request) {
	collection, ok := pathAddress(r, "collection")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection address")
		return
	}

	trades, err := h.trades.ListByCollection(r.Context(), collection, parseListOpts(r))
	if err != nil {
		h.logger.Error("failed to list trades",
			slog.String("collection", collection.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collection": collection.Hex(),
		"trades":     trades,
		"count":      len(trades),
	})
}

// GetTrade returns a single settled trade by its ID.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.Error("failed to get trade",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}

	writeJSON(w, http.StatusOK, trade)
}
