package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// PoolService defines the pool methods the handler requires.
type PoolService interface {
	Deposit(ctx context.Context, caller common.Address, assets *uint256.Int) (*uint256.Int, error)
	Withdraw(ctx context.Context, caller common.Address, assets *uint256.Int) (*uint256.Int, error)
	Redeem(ctx context.Context, caller common.Address, shares *uint256.Int) (*uint256.Int, error)
	HaltPool(ctx context.Context, caller common.Address) error
	UnhaltPool(ctx context.Context, caller common.Address) error
	PoolSnapshot() domain.PoolState
	SharesOf(lp common.Address) *uint256.Int
	SharePrice() *uint256.Int
}

// PoolHandler serves LP capital pool endpoints.
type PoolHandler struct {
	ledger PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(ledger PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{ledger: ledger, logger: logger}
}

// Snapshot returns the current pool state and share price.
// GET /api/pool
func (h *PoolHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pool":        toPoolDTO(h.ledger.PoolSnapshot()),
		"share_price": h.ledger.SharePrice().Dec(),
	})
}

// Shares returns the share balance of one LP.
// GET /api/pool/shares/{address}
func (h *PoolHandler) Shares(w http.ResponseWriter, r *http.Request) {
	lp, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": lp.Hex(),
		"shares":  h.ledger.SharesOf(lp).Dec(),
	})
}

// amountRequest is the body shape for deposit/withdraw/redeem.
type amountRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// move runs a caller-and-amount pool operation shared by the deposit,
// withdraw, and redeem endpoints.
func (h *PoolHandler) move(w http.ResponseWriter, r *http.Request, field string,
	op func(ctx context.Context, caller common.Address, amount *uint256.Int) (*uint256.Int, error)) {

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := op(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{field: out.Dec()})
}

// Deposit adds liquidity and mints shares.
// POST /api/pool/deposit
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "shares", h.ledger.Deposit)
}

// Withdraw removes an exact asset amount, burning the covering shares.
// POST /api/pool/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "shares_burned", h.ledger.Withdraw)
}

// Redeem burns an exact share amount for the backing assets.
// POST /api/pool/redeem
func (h *PoolHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "assets", h.ledger.Redeem)
}

// halt runs a caller-only pool control endpoint.
func (h *PoolHandler) halt(w http.ResponseWriter, r *http.Request, status string,
	op func(ctx context.Context, caller common.Address) error) {

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), caller); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// Halt stops deposits, withdrawals, and fundings.
// POST /api/pool/halt
func (h *PoolHandler) Halt(w http.ResponseWriter, r *http.Request) {
	h.halt(w, r, "halted", h.ledger.HaltPool)
}

// Unhalt resumes pool operations.
// POST /api/pool/unhalt
func (h *PoolHandler) Unhalt(w http.ResponseWriter, r *http.Request) {
	h.halt(w, r, "active", h.ledger.UnhaltPool)
}
