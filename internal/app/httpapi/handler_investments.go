package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/internal/middleware"
)

type createInvestmentRequest struct {
	PlanID string          `json:"planId" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *handler) listInvestmentPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.app.Investments.ListPlans(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plans)
}

func (h *handler) createInvestment(w http.ResponseWriter, r *http.Request) {
	var req createInvestmentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.app.Investments.CreateInvestment(r.Context(), middleware.GetUserID(r.Context()), req.PlanID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (h *handler) listInvestments(w http.ResponseWriter, r *http.Request) {
	views, err := h.app.Investments.ListUserInvestments(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}
