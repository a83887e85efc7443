package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. Optional since/until bounds are
// RFC 3339 timestamps.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}

	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}

	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathAddress extracts a named path parameter and parses it as a hex address.
func pathAddress(r *http.Request, name string) (common.Address, bool) {
	v := pathParam(r, name)
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// pathTokenID extracts a named path parameter and parses it as a token ID.
func pathTokenID(r *http.Request, name string) (uint64, bool) {
	n, err := strconv.ParseUint(pathParam(r, name), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseAmount parses a base-10 decimal string into a big integer amount.
// The empty string parses as zero.
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// decodeJSON decodes a JSON request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// errStatus maps ledger errors to HTTP status codes. Authorization failures
// become 403, missing records 404, everything else a 422 since the request
// itself was well-formed but the operation could not be applied.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotSeller),
		errors.Is(err, domain.ErrNotBuyer),
		errors.Is(err, domain.ErrOnlyMarketplace):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoSuchMarketItem),
		errors.Is(err, domain.ErrNoSuchOffer),
		errors.Is(err, domain.ErrNoSuchToken):
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
