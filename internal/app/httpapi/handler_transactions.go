package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/transaction"
	"github.com/vaultline/ledger/internal/app/services/transactions"
	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/internal/middleware"
)

type transactionRequest struct {
	CryptoType    string          `json:"cryptoType" validate:"required,max=16"`
	Amount        decimal.Decimal `json:"amount"`
	WalletAddress string          `json:"walletAddress" validate:"max=256"`
}

type transactionListQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=pending completed rejected"`
	Type   string `json:"type" validate:"omitempty,oneof=deposit withdrawal"`
	UserID string `json:"userId"`
}

func (h *handler) createDeposit(w http.ResponseWriter, r *http.Request) {
	h.createTransaction(w, r, h.app.Transactions.CreateDeposit)
}

func (h *handler) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.createTransaction(w, r, h.app.Transactions.CreateWithdrawal)
}

type createFunc func(ctx context.Context, userID string, req transactions.Request) (transaction.Transaction, error)

func (h *handler) createTransaction(w http.ResponseWriter, r *http.Request, create createFunc) {
	var req transactionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := create(r.Context(), middleware.GetUserID(r.Context()), transactions.Request{
		CryptoType:    req.CryptoType,
		Amount:        req.Amount,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.app.Transactions.ListUserTransactions(r.Context(), middleware.GetUserID(r.Context()), page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) adminListTransactions(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	q := transactionListQuery{Status: query.Get("status"), Type: query.Get("type"), UserID: query.Get("userId")}
	if err := h.validate.Struct(q); err != nil {
		h.fail(w, r, validationError(err))
		return
	}
	result, err := h.app.Transactions.ListAllTransactions(r.Context(), transaction.Filter{
		UserID: q.UserID,
		Type:   transaction.Type(q.Type),
		Status: transaction.Status(q.Status),
	}, page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) approveTransaction(w http.ResponseWriter, r *http.Request) {
	settled, err := h.app.Transactions.Approve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settled)
}

func (h *handler) rejectTransaction(w http.ResponseWriter, r *http.Request) {
	var req adminNotesRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rejected, err := h.app.Transactions.Reject(r.Context(), mux.Vars(r)["id"], req.AdminNotes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rejected)
}
