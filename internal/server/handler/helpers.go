// Package handler contains the HTTP handlers for the factorpool API. Request
// and response bodies carry amounts as decimal strings and addresses as
// 0x-prefixed hex.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code.
// If marshaling fails, it falls back to a plain 500.
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

// writeDomainError maps well-known ledger errors to HTTP status codes.
// Unrecognized errors are logged and reported as 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrPoolHalted),
		errors.Is(err, domain.ErrSlippageExceeded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrSelfDealing),
		errors.Is(err, domain.ErrMaturityInPast),
		errors.Is(err, domain.ErrInvalidRate),
		errors.Is(err, domain.ErrAmountTooLarge),
		errors.Is(err, domain.ErrInvalidWeight),
		errors.Is(err, domain.ErrWeightOverflow),
		errors.Is(err, domain.ErrNotOverdue),
		errors.Is(err, domain.ErrRebalanceCooldown),
		errors.Is(err, domain.ErrTooManyStrategies),
		errors.Is(err, domain.ErrStrategyPaused),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrInsufficientBuffer),
		errors.Is(err, domain.ErrAllocationCap),
		errors.Is(err, domain.ErrStrategyExists),
		errors.Is(err, domain.ErrStrategyNotFound),
		errors.Is(err, domain.ErrTreasuryManagerNotSet):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// pathID extracts the {id} path parameter as an invoice id.
func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

// parseAddress validates and parses a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address: " + s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a decimal-string amount. Empty strings are rejected.
func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.New("invalid amount: " + s)
	}
	return v, nil
}

// parseLimit extracts a limit query parameter. Defaults to 50, capped at 500.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
