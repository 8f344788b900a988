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

// TreasuryService defines the treasury methods the handler requires. New
// strategies are registered from config at startup, so the HTTP surface
// manages weights and lifecycle of existing ones only.
type TreasuryService interface {
	Strategies() []domain.StrategyRecord
	RemoveStrategy(ctx context.Context, caller common.Address, name string) error
	SetStrategyWeight(ctx context.Context, caller common.Address, name string, weightBps uint16) error
	PauseStrategy(ctx context.Context, caller common.Address, name string) error
	UnpauseStrategy(ctx context.Context, caller common.Address, name string) error
	Rebalance(ctx context.Context, caller common.Address) error
	HarvestYield(ctx context.Context, caller common.Address, name string) error
	EmergencyWithdrawStrategy(ctx context.Context, caller common.Address, name string) error
	DepositToTreasury(ctx context.Context, caller common.Address, amount *uint256.Int) error
	WithdrawFromTreasury(ctx context.Context, caller common.Address, amount *uint256.Int) error
}

// TreasuryHandler serves treasury allocation endpoints.
type TreasuryHandler struct {
	ledger TreasuryService
	logger *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler.
func NewTreasuryHandler(ledger TreasuryService, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{ledger: ledger, logger: logger}
}

// List returns the registered strategies.
// GET /api/treasury/strategies
func (h *TreasuryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": toStrategyDTOs(h.ledger.Strategies()),
	})
}

// byName runs a caller-keyed operation on the strategy named in the path.
func (h *TreasuryHandler) byName(w http.ResponseWriter, r *http.Request, status string,
	op func(ctx context.Context, caller common.Address, name string) error) {

	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing strategy name")
		return
	}

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

	if err := op(r.Context(), caller, name); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "strategy": name})
}

// Remove drains and deregisters a strategy.
// DELETE /api/treasury/strategies/{name}
func (h *TreasuryHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.byName(w, r, "removed", h.ledger.RemoveStrategy)
}

// setWeightRequest is the PUT weight body.
type setWeightRequest struct {
	Caller    string `json:"caller"`
	WeightBps uint16 `json:"weight_bps"`
}

// SetWeight updates a strategy's target weight.
// PUT /api/treasury/strategies/{name}/weight
func (h *TreasuryHandler) SetWeight(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing strategy name")
		return
	}

	var req setWeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ledger.SetStrategyWeight(r.Context(), caller, name, req.WeightBps); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategy": name, "weight_bps": req.WeightBps})
}

// Pause excludes a strategy from new allocations.
// POST /api/treasury/strategies/{name}/pause
func (h *TreasuryHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.byName(w, r, "paused", h.ledger.PauseStrategy)
}

// Unpause re-enables a paused strategy.
// POST /api/treasury/strategies/{name}/unpause
func (h *TreasuryHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.byName(w, r, "active", h.ledger.UnpauseStrategy)
}

// Harvest realizes accumulated yield from one strategy.
// POST /api/treasury/strategies/{name}/harvest
func (h *TreasuryHandler) Harvest(w http.ResponseWriter, r *http.Request) {
	h.byName(w, r, "harvested", h.ledger.HarvestYield)
}

// EmergencyWithdraw pulls everything out of a strategy and deactivates it.
// POST /api/treasury/strategies/{name}/emergency-withdraw
func (h *TreasuryHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.byName(w, r, "withdrawn", h.ledger.EmergencyWithdrawStrategy)
}

// Rebalance redistributes strategy holdings to match target weights.
// POST /api/treasury/rebalance
func (h *TreasuryHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
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

	if err := h.ledger.Rebalance(r.Context(), caller); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebalanced"})
}

// transfer runs a caller-and-amount treasury funding operation.
func (h *TreasuryHandler) transfer(w http.ResponseWriter, r *http.Request, status string,
	op func(ctx context.Context, caller common.Address, amount *uint256.Int) error) {

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

	if err := op(r.Context(), caller, amount); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "amount": amount.Dec()})
}

// Deposit moves idle liquidity into the treasury.
// POST /api/treasury/deposit
func (h *TreasuryHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "deposited", h.ledger.DepositToTreasury)
}

// Withdraw pulls treasury holdings back into available liquidity.
// POST /api/treasury/withdraw
func (h *TreasuryHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "withdrawn", h.ledger.WithdrawFromTreasury)
}
