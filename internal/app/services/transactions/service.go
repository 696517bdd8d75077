// Package transactions handles crypto deposits and withdrawals: user
// requests, admin settlement with price conversion, and listings.
package transactions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/app/domain/reference"
	"github.com/vaultline/ledger/internal/app/domain/transaction"
	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/pricing"
	"github.com/vaultline/ledger/internal/app/storage"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/pkg/logger"
)

// Request is a user's deposit or withdrawal request. Amount is in USD.
type Request struct {
	CryptoType    string
	Amount        decimal.Decimal
	WalletAddress string
}

// Page is one page of a transaction listing.
type Page struct {
	Transactions []transaction.Transaction `json:"transactions"`
	Total        int                       `json:"total"`
	Page         int                       `json:"page"`
	Limit        int                       `json:"limit"`
}

// Service manages deposits and withdrawals.
type Service struct {
	store    storage.Store
	oracle   pricing.Oracle
	notifier notify.Notifier
	symbols  map[string]bool
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a transactions service accepting the given crypto symbols.
func New(store storage.Store, oracle pricing.Oracle, notifier notify.Notifier, symbols []string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transactions")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[account.NormalizeSymbol(s)] = true
	}
	return &Service{store: store, oracle: oracle, notifier: notifier, symbols: set, log: log, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateDeposit records a pending deposit.
func (s *Service) CreateDeposit(ctx context.Context, userID string, req Request) (transaction.Transaction, error) {
	return s.create(ctx, userID, transaction.TypeDeposit, req)
}

// CreateWithdrawal records a pending withdrawal. The balance is checked now
// and debited on approval.
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, req Request) (transaction.Transaction, error) {
	if strings.TrimSpace(req.WalletAddress) == "" {
		return transaction.Transaction{}, svcerrors.Validation("walletAddress is required for withdrawals")
	}
	return s.create(ctx, userID, transaction.TypeWithdrawal, req)
}

func (s *Service) create(ctx context.Context, userID string, typ transaction.Type, req Request) (transaction.Transaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return transaction.Transaction{}, svcerrors.NotAuthenticated("")
	}
	symbol := account.NormalizeSymbol(req.CryptoType)
	if !s.symbols[symbol] {
		return transaction.Transaction{}, svcerrors.Validation("Unsupported crypto type %q", req.CryptoType)
	}
	if !req.Amount.IsPositive() {
		return transaction.Transaction{}, svcerrors.Validation("Amount must be greater than zero")
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return transaction.Transaction{}, svcerrors.NotFound("profile", userID)
	}
	if err != nil {
		return transaction.Transaction{}, svcerrors.Unexpected("Failed to load profile", err)
	}
	if typ == transaction.TypeWithdrawal && profile.Balance.LessThan(req.Amount) {
		return transaction.Transaction{}, svcerrors.InsufficientFunds("Insufficient balance for this withdrawal")
	}

	now := s.now().UTC()
	created, err := s.store.CreateTransaction(ctx, transaction.Transaction{
		UserID:        userID,
		Type:          typ,
		CryptoType:    symbol,
		Amount:        req.Amount,
		Status:        transaction.StatusPending,
		Reference:     reference.New(typ.ReferencePrefix(), now),
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		CreatedAt:     now,
	})
	if err != nil {
		s.log.FromContext(ctx).WithError(err).WithField("type", typ).Error("create transaction failed")
		return transaction.Transaction{}, svcerrors.Unexpected("Failed to create transaction", err)
	}

	metrics.RecordTransactionTransition(string(typ), string(transaction.StatusPending))
	s.log.FromContext(ctx).
		WithField("transaction_id", created.ID).
		WithField("type", typ).
		WithField("reference", created.Reference).
		Info("transaction requested")
	return created, nil
}

// ApproveDeposit completes a pending deposit.
func (s *Service) ApproveDeposit(ctx context.Context, txID string) (transaction.Transaction, error) {
	return s.approve(ctx, txID, transaction.TypeDeposit)
}

// ApproveWithdrawal completes a pending withdrawal.
func (s *Service) ApproveWithdrawal(ctx context.Context, txID string) (transaction.Transaction, error) {
	return s.approve(ctx, txID, transaction.TypeWithdrawal)
}

// Approve completes a pending transaction of either type.
func (s *Service) Approve(ctx context.Context, txID string) (transaction.Transaction, error) {
	return s.approve(ctx, txID, "")
}

// RejectDeposit rejects a pending deposit.
func (s *Service) RejectDeposit(ctx context.Context, txID, adminNotes string) (transaction.Transaction, error) {
	return s.reject(ctx, txID, transaction.TypeDeposit, adminNotes)
}

// RejectWithdrawal rejects a pending withdrawal.
func (s *Service) RejectWithdrawal(ctx context.Context, txID, adminNotes string) (transaction.Transaction, error) {
	return s.reject(ctx, txID, transaction.TypeWithdrawal, adminNotes)
}

// Reject rejects a pending transaction of either type.
func (s *Service) Reject(ctx context.Context, txID, adminNotes string) (transaction.Transaction, error) {
	return s.reject(ctx, txID, "", adminNotes)
}

// approve fetches the USD price before opening the store transaction so a
// failed lookup writes nothing.
func (s *Service) approve(ctx context.Context, txID string, want transaction.Type) (transaction.Transaction, error) {
	current, err := s.pending(ctx, txID, want)
	if err != nil {
		return transaction.Transaction{}, err
	}

	price, err := s.oracle.USDPrice(ctx, current.CryptoType)
	if err != nil {
		s.log.FromContext(ctx).WithError(err).WithField("symbol", current.CryptoType).Warn("price lookup failed")
		return transaction.Transaction{}, svcerrors.Upstream("price-oracle", err)
	}
	cryptoAmount := pricing.CryptoAmount(current.Amount, price)

	settlement := transaction.Settlement{
		TransactionID: current.ID,
		Status:        transaction.StatusCompleted,
		CryptoAmount:  &cryptoAmount,
		PriceUSD:      &price,
		ProcessedAt:   s.now().UTC(),
	}

	var settled transaction.Transaction
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		var err error
		if settled, err = tx.SettleTransaction(ctx, settlement); err != nil {
			return err
		}
		if settled.Type == transaction.TypeWithdrawal {
			_, err = tx.IncrementBalance(ctx, settled.UserID, settled.Amount.Neg())
			return err
		}
		if _, err = tx.IncrementBalance(ctx, settled.UserID, settled.Amount); err != nil {
			return err
		}
		_, err = tx.IncrementWallet(ctx, settled.UserID, settled.CryptoType, cryptoAmount)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			return transaction.Transaction{}, svcerrors.InsufficientFunds("Insufficient balance to complete this withdrawal")
		}
		return transaction.Transaction{}, s.settleError(ctx, txID, err)
	}

	metrics.RecordTransactionTransition(string(settled.Type), string(settled.Status))
	s.log.FromContext(ctx).
		WithField("transaction_id", settled.ID).
		WithField("type", settled.Type).
		WithField("price_usd", price.String()).
		WithField("crypto_amount", cryptoAmount.String()).
		Info("transaction approved")

	kind := notify.KindDepositApproved
	if settled.Type == transaction.TypeWithdrawal {
		kind = notify.KindWithdrawalApproved
	}
	s.notifyOwner(ctx, kind, settled)
	return settled, nil
}

func (s *Service) reject(ctx context.Context, txID string, want transaction.Type, notes string) (transaction.Transaction, error) {
	if _, err := s.pending(ctx, txID, want); err != nil {
		return transaction.Transaction{}, err
	}
	settled, err := s.store.SettleTransaction(ctx, transaction.Settlement{
		TransactionID: txID,
		Status:        transaction.StatusRejected,
		AdminNotes:    strings.TrimSpace(notes),
		ProcessedAt:   s.now().UTC(),
	})
	if err != nil {
		return transaction.Transaction{}, s.settleError(ctx, txID, err)
	}

	metrics.RecordTransactionTransition(string(settled.Type), string(settled.Status))
	s.log.FromContext(ctx).WithField("transaction_id", settled.ID).WithField("type", settled.Type).Info("transaction rejected")

	kind := notify.KindDepositRejected
	if settled.Type == transaction.TypeWithdrawal {
		kind = notify.KindWithdrawalRejected
	}
	s.notifyOwner(ctx, kind, settled)
	return settled, nil
}

// pending loads txID and checks it is a pending transaction of type want
// (any type when want is empty).
func (s *Service) pending(ctx context.Context, txID string, want transaction.Type) (transaction.Transaction, error) {
	if strings.TrimSpace(txID) == "" {
		return transaction.Transaction{}, svcerrors.Validation("transactionId is required")
	}
	t, err := s.store.GetTransaction(ctx, txID)
	if errors.Is(err, storage.ErrNotFound) {
		return transaction.Transaction{}, svcerrors.NotFound(resourceName(want), txID)
	}
	if err != nil {
		return transaction.Transaction{}, svcerrors.Unexpected("Failed to load transaction", err)
	}
	if want != "" && t.Type != want {
		return transaction.Transaction{}, svcerrors.NotFound(resourceName(want), txID)
	}
	if t.Status != transaction.StatusPending {
		return transaction.Transaction{}, svcerrors.AlreadyProcessed(resourceName(t.Type), txID, string(t.Status))
	}
	return t, nil
}

func (s *Service) settleError(ctx context.Context, txID string, err error) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		t, gerr := s.store.GetTransaction(ctx, txID)
		status := "unknown"
		if gerr == nil {
			status = string(t.Status)
		}
		return svcerrors.AlreadyProcessed(resourceName(t.Type), txID, status)
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("transaction", txID)
	}
	s.log.FromContext(ctx).WithError(err).WithField("transaction_id", txID).Error("settle transaction failed")
	return svcerrors.Unexpected("Failed to update transaction", err)
}

func resourceName(t transaction.Type) string {
	if t == "" {
		return "transaction"
	}
	return string(t)
}

func (s *Service) notifyOwner(ctx context.Context, kind notify.Kind, t transaction.Transaction) {
	profile, err := s.store.GetProfile(ctx, t.UserID)
	if err != nil {
		s.log.FromContext(ctx).WithError(err).WithField("kind", kind).Warn("notification skipped: profile lookup failed")
		return
	}
	data := map[string]any{
		"reference":     t.Reference,
		"amount":        t.Amount.StringFixed(2),
		"cryptoType":    t.CryptoType,
		"walletAddress": t.WalletAddress,
		"adminNotes":    t.AdminNotes,
	}
	if t.CryptoAmount != nil {
		data["cryptoAmount"] = t.CryptoAmount.String()
	}
	s.notifier.Notify(ctx, kind, profile.Email, data)
}

// ListUserTransactions returns one page of the caller's transactions, newest first.
func (s *Service) ListUserTransactions(ctx context.Context, userID string, page, limit int) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, svcerrors.NotAuthenticated("")
	}
	return s.list(ctx, transaction.Filter{UserID: userID}, page, limit)
}

// ListAllTransactions returns one page of transactions matching f.
func (s *Service) ListAllTransactions(ctx context.Context, f transaction.Filter, page, limit int) (Page, error) {
	if f.Type != "" && !f.Type.Valid() {
		return Page{}, svcerrors.Validation("Unknown transaction type %q", f.Type)
	}
	return s.list(ctx, f, page, limit)
}

func (s *Service) list(ctx context.Context, f transaction.Filter, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	limit, _ = storage.NormalizePage(limit, 0)
	f.Limit, f.Offset = limit, (page-1)*limit

	items, total, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return Page{}, svcerrors.Unexpected("Failed to load transactions", err)
	}
	if items == nil {
		items = []transaction.Transaction{}
	}
	return Page{Transactions: items, Total: total, Page: page, Limit: limit}, nil
}
