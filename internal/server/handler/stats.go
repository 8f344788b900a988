package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/ledger"
)

// StatsService defines the aggregate query methods the handler requires.
type StatsService interface {
	Stats(ctx context.Context) (ledger.Stats, error)
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

// StatsHandler serves aggregate statistics and the event feed.
type StatsHandler struct {
	ledger StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(ledger StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{ledger: ledger, logger: logger}
}

// statsDTO is the JSON wire shape of the aggregate statistics.
type statsDTO struct {
	TotalFunded    string  `json:"total_funded"`
	TotalRepaid    string  `json:"total_repaid"`
	ActiveInvoices int     `json:"active_invoices"`
	Pool           poolDTO `json:"pool"`
	SharePrice     string  `json:"share_price"`
	UtilizationBps uint64  `json:"utilization_bps"`
	TreasuryValue  string  `json:"treasury_value,omitempty"`
}

// Stats returns aggregate registry, pool, and treasury statistics.
// GET /api/stats
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	dto := statsDTO{
		TotalFunded:    st.Registry.TotalFunded.Dec(),
		TotalRepaid:    st.Registry.TotalRepaid.Dec(),
		ActiveInvoices: st.Registry.ActiveCount,
		Pool:           toPoolDTO(st.Pool),
		SharePrice:     st.SharePrice.Dec(),
		UtilizationBps: st.UtilizationBps,
	}
	if st.TreasuryValue != nil {
		dto.TreasuryValue = st.TreasuryValue.Dec()
	}
	writeJSON(w, http.StatusOK, dto)
}

// Events returns the most recent ledger events, newest first.
// GET /api/events?limit=50
func (h *StatsHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.ledger.RecentEvents(r.Context(), parseLimit(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
