package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/domain/loan"
	"github.com/vaultline/ledger/internal/app/domain/transaction"
)

var (
	// ErrNotFound is returned when a point read or conditional update finds no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrInsufficientFunds is returned when an increment would drive a balance negative.
	ErrInsufficientFunds = errors.New("storage: insufficient funds")
	// ErrConflict is returned when a guarded update loses its precondition or a
	// unique constraint is violated.
	ErrConflict = errors.New("storage: conflict")
)

// AccountStore persists profiles and their balances. Balances only move
// through the increment methods.
type AccountStore interface {
	CreateProfile(ctx context.Context, p account.Profile) (account.Profile, error)
	GetProfile(ctx context.Context, id string) (account.Profile, error)
	// IncrementBalance adds delta to the USD balance and returns the new value.
	// It fails with ErrInsufficientFunds, leaving the balance untouched, when
	// the result would be negative.
	IncrementBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	IncrementWallet(ctx context.Context, userID, symbol string, delta decimal.Decimal) (decimal.Decimal, error)
}

// PlanStore persists the investment and loan plan catalogs.
type PlanStore interface {
	UpsertInvestmentPlan(ctx context.Context, p investment.Plan) error
	GetInvestmentPlan(ctx context.Context, id string) (investment.Plan, error)
	ListInvestmentPlans(ctx context.Context) ([]investment.Plan, error)

	UpsertLoanPlan(ctx context.Context, p loan.Plan) error
	GetLoanPlan(ctx context.Context, id string) (loan.Plan, error)
	ListLoanPlans(ctx context.Context) ([]loan.Plan, error)
}

// InvestmentStore persists investments and payout records.
type InvestmentStore interface {
	CreateInvestment(ctx context.Context, inv investment.Investment) (investment.Investment, error)
	GetInvestment(ctx context.Context, id string) (investment.Investment, error)
	// ListInvestmentViews returns a user's investments newest first joined with plan display fields.
	ListInvestmentViews(ctx context.Context, userID string) ([]investment.View, error)
	// ListDueInvestments returns active investments with NextPayoutDate <= now.
	// Rows never failed come first, oldest due first; rows with a recorded
	// payout failure follow, least recently failed first.
	ListDueInvestments(ctx context.Context, now time.Time, limit int) ([]investment.Due, error)
	// AdvanceInvestment applies adv only while the row is active and still has
	// adv.ExpectedPayouts payouts; otherwise ErrConflict. It clears any
	// recorded payout failure.
	AdvanceInvestment(ctx context.Context, adv investment.Advance) (investment.Investment, error)
	// RecordPayoutFailure stamps a failed payout attempt on the investment.
	RecordPayoutFailure(ctx context.Context, investmentID string, at time.Time) error

	// CreatePayout fails with ErrConflict when the (investment, sequence) pair exists.
	CreatePayout(ctx context.Context, p investment.Payout) (investment.Payout, error)
	ListPayouts(ctx context.Context, investmentID string) ([]investment.Payout, error)
}

// LoanStore persists loans.
type LoanStore interface {
	CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	// ApproveLoan moves a pending loan to approved; ErrConflict when it is no longer pending.
	ApproveLoan(ctx context.Context, a loan.Approval) (loan.Loan, error)
	// TransitionLoan applies t when the current status is in t.From; ErrConflict otherwise.
	TransitionLoan(ctx context.Context, t loan.Transition) (loan.Loan, error)
	UpdateRepaymentSchedule(ctx context.Context, id string, schedule loan.Schedule, status loan.Status, at time.Time) (loan.Loan, error)
	// ListLoans returns one page of loans newest first and the total match count.
	ListLoans(ctx context.Context, f loan.Filter) ([]loan.View, int, error)
}

// TransactionStore persists deposits and withdrawals.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, t transaction.Transaction) (transaction.Transaction, error)
	GetTransaction(ctx context.Context, id string) (transaction.Transaction, error)
	// SettleTransaction moves a pending transaction to s.Status; ErrConflict when it is no longer pending.
	SettleTransaction(ctx context.Context, s transaction.Settlement) (transaction.Transaction, error)
	ListTransactions(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, int, error)
}

// Ledger is the full set of ledger reads and writes.
type Ledger interface {
	AccountStore
	PlanStore
	InvestmentStore
	LoanStore
	TransactionStore
}

// Transactor runs fn against a transactional view of the ledger. Every write
// made through tx is committed when fn returns nil and discarded otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Ledger) error) error
}

// Store is a ledger with transaction support.
type Store interface {
	Ledger
	Transactor
}

// DefaultPageSize bounds list queries that do not specify a limit.
const DefaultPageSize = 50

// MaxPageSize caps caller supplied limits.
const MaxPageSize = 200

// NormalizePage clamps limit/offset into the supported range.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
