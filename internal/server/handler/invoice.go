package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/registry"
)

// InvoiceService defines the methods the invoice handler requires from the
// ledger facade.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, caller common.Address, p registry.CreateParams) (domain.Invoice, error)
	ApproveInvoice(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)
	CancelInvoice(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)
	MarkFundingApproved(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)
	MarkDefaulted(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)
	Invoice(id uint64) (domain.Invoice, error)
	Invoices() []domain.Invoice
	PendingApprovals(buyer common.Address) []domain.Invoice
	UpcomingRepayments(buyer common.Address) []domain.Invoice
	IsOverdue(id uint64) (bool, error)
}

// InvoiceHandler serves invoice lifecycle endpoints.
type InvoiceHandler struct {
	ledger InvoiceService
	logger *slog.Logger
}

// NewInvoiceHandler creates an InvoiceHandler.
func NewInvoiceHandler(ledger InvoiceService, logger *slog.Logger) *InvoiceHandler {
	return &InvoiceHandler{ledger: ledger, logger: logger}
}

// createInvoiceRequest is the POST /api/invoices body.
type createInvoiceRequest struct {
	Supplier        string    `json:"supplier"`
	Buyer           string    `json:"buyer"`
	FaceValue       string    `json:"face_value"`
	DiscountRateBps uint16    `json:"discount_rate_bps"`
	MaturityDate    time.Time `json:"maturity_date"`
	ContentHash     string    `json:"content_hash,omitempty"`
	ExternalID      string    `json:"external_id,omitempty"`
}

// Create registers a new invoice with the supplier as caller.
// POST /api/invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	supplier, err := parseAddress(req.Supplier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	face, err := parseAmount(req.FaceValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inv, err := h.ledger.CreateInvoice(r.Context(), supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       face,
		DiscountRateBps: req.DiscountRateBps,
		MaturityDate:    req.MaturityDate,
		ContentHash:     common.HexToHash(req.ContentHash),
		ExternalID:      req.ExternalID,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// List returns invoices, optionally filtered by a buyer view.
// GET /api/invoices?buyer=0x...&view=pending|upcoming
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if b := q.Get("buyer"); b != "" {
		buyer, err := parseAddress(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var invs []domain.Invoice
		switch q.Get("view") {
		case "upcoming":
			invs = h.ledger.UpcomingRepayments(buyer)
		default:
			invs = h.ledger.PendingApprovals(buyer)
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": toInvoiceDTOs(invs)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"invoices": toInvoiceDTOs(h.ledger.Invoices())})
}

// Get returns one invoice by id.
// GET /api/invoices/{id}
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}

	inv, err := h.ledger.Invoice(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	overdue, _ := h.ledger.IsOverdue(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"invoice": toInvoiceDTO(inv),
		"overdue": overdue,
	})
}

// callerRequest is the body shape for transition endpoints that only need
// the acting address.
type callerRequest struct {
	Caller string `json:"caller"`
}

// transition runs a caller-keyed status transition shared by the lifecycle
// endpoints.
func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error)) {

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

	inv, err := op(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// Approve moves a pending invoice to approved. Caller must be the buyer.
// POST /api/invoices/{id}/approve
func (h *InvoiceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.ApproveInvoice)
}

// Cancel cancels a not-yet-funded invoice.
// POST /api/invoices/{id}/cancel
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.CancelInvoice)
}

// ApproveFunding marks an approved invoice as cleared for funding.
// POST /api/invoices/{id}/approve-funding
func (h *InvoiceHandler) ApproveFunding(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.MarkFundingApproved)
}

// Default marks an overdue funded invoice as defaulted.
// POST /api/invoices/{id}/default
func (h *InvoiceHandler) Default(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.MarkDefaulted)
}
