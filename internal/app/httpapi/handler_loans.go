package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/loan"
	"github.com/vaultline/ledger/internal/app/services/loans"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/internal/middleware"
)

type initiateLoanRequest struct {
	PlanID  string          `json:"planId" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Purpose string          `json:"purpose" validate:"max=500"`
}

type loanListQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=pending approved rejected active completed defaulted"`
	UserID string `json:"userId"`
}

func (h *handler) listLoanPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.app.Loans.ListPlans(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plans)
}

func (h *handler) initiateLoan(w http.ResponseWriter, r *http.Request) {
	var req initiateLoanRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.app.Loans.InitiateLoan(r.Context(), middleware.GetUserID(r.Context()), loans.InitiateRequest{
		PlanID:  req.PlanID,
		Amount:  req.Amount,
		Purpose: req.Purpose,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) listLoans(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.app.Loans.ListUserLoans(r.Context(), middleware.GetUserID(r.Context()), page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) adminListLoans(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := loanListQuery{Status: r.URL.Query().Get("status"), UserID: r.URL.Query().Get("userId")}
	if err := h.validate.Struct(q); err != nil {
		h.fail(w, r, validationError(err))
		return
	}
	result, err := h.app.Loans.ListAllLoans(r.Context(), loan.Filter{UserID: q.UserID, Status: loan.Status(q.Status)}, page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) approveLoan(w http.ResponseWriter, r *http.Request) {
	approved, err := h.app.Loans.ApproveLoan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, approved)
}

func (h *handler) rejectLoan(w http.ResponseWriter, r *http.Request) {
	var req adminNotesRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rejected, err := h.app.Loans.RejectLoan(r.Context(), mux.Vars(r)["id"], req.AdminNotes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rejected)
}

func (h *handler) recordRepayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		h.fail(w, r, svcerrors.Validation("index must be an integer"))
		return
	}
	updated, err := h.app.Loans.RecordRepayment(r.Context(), vars["id"], index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) markDefaulted(w http.ResponseWriter, r *http.Request) {
	var req adminNotesRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	defaulted, err := h.app.Loans.MarkDefaulted(r.Context(), mux.Vars(r)["id"], req.AdminNotes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, defaulted)
}
