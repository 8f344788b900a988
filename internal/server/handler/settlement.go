package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/settlement"
)

// SettlementService defines the settlement methods the handler requires.
type SettlementService interface {
	FundInvoice(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)
	BatchFund(ctx context.Context, caller common.Address, ids []uint64) (settlement.BatchResult, error)
	ProcessRepayment(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)
}

// SettlementHandler serves funding and repayment endpoints.
type SettlementHandler struct {
	ledger SettlementService
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(ledger SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{ledger: ledger, logger: logger}
}

// Fund disburses funding for one invoice.
// POST /api/invoices/{id}/fund
func (h *SettlementHandler) Fund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice id")
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

	inv, err := h.ledger.FundInvoice(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// batchFundRequest is the POST /api/settlement/batch-fund body.
type batchFundRequest struct {
	Caller string   `json:"caller"`
	IDs    []uint64 `json:"ids"`
}

// batchFundResponse reports which invoices were funded and which skipped.
type batchFundResponse struct {
	Funded  []uint64 `json:"funded"`
	Skipped []uint64 `json:"skipped"`
}

// BatchFund disburses funding for a set of invoices. Invoices that cannot be
// funded individually are skipped rather than failing the batch.
// POST /api/settlement/batch-fund
func (h *SettlementHandler) BatchFund(w http.ResponseWriter, r *http.Request) {
	var req batchFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ledger.BatchFund(r.Context(), caller, req.IDs)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	out := batchFundResponse{Funded: res.Funded, Skipped: res.Skipped}
	if out.Funded == nil {
		out.Funded = []uint64{}
	}
	if out.Skipped == nil {
		out.Skipped = []uint64{}
	}
	writeJSON(w, http.StatusOK, out)
}

// Repay settles a funded invoice at face value. Caller must be the buyer.
// POST /api/invoices/{id}/repay
func (h *SettlementHandler) Repay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice id")
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

	inv, err := h.ledger.ProcessRepayment(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}
