package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vaultline/ledger/internal/app/domain/loan"
	"github.com/vaultline/ledger/internal/app/domain/transaction"
	"github.com/vaultline/ledger/internal/app/storage"
)

// --- LoanStore --------------------------------------------------------------

var loanColumnList = []string{
	"id", "user_id", "plan_id", "amount", "status", "reference", "interest_amount",
	"total_repayment_amount", "repayment_schedule", "admin_notes", "purpose", "due_date",
	"approved_at", "rejected_at", "created_at", "updated_at",
}

var loanColumns = strings.Join(loanColumnList, ", ")

const loanPlanColumns = `id, title, interest, min_amount, max_amount, duration_days, repayment_interval`

func (q *queries) UpsertLoanPlan(ctx context.Context, p loan.Plan) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO loan_plans (`+loanPlanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, interest = EXCLUDED.interest, min_amount = EXCLUDED.min_amount,
		    max_amount = EXCLUDED.max_amount, duration_days = EXCLUDED.duration_days,
		    repayment_interval = EXCLUDED.repayment_interval
	`, p.ID, p.Title, p.Interest, p.MinAmount, p.MaxAmount, p.DurationDays, p.RepaymentInterval)
	return mapErr(err)
}

func (q *queries) GetLoanPlan(ctx context.Context, id string) (loan.Plan, error) {
	var p loan.Plan
	err := sqlx.GetContext(ctx, q.ext, &p, `SELECT `+loanPlanColumns+` FROM loan_plans WHERE id = $1`, id)
	return p, mapErr(err)
}

func (q *queries) ListLoanPlans(ctx context.Context) ([]loan.Plan, error) {
	var plans []loan.Plan
	err := sqlx.SelectContext(ctx, q.ext, &plans, `SELECT `+loanPlanColumns+` FROM loan_plans ORDER BY min_amount, id`)
	return plans, err
}

func (q *queries) CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := q.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now

	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, l.ID, l.UserID, l.PlanID, l.Amount, l.Status, l.Reference, l.InterestAmount,
		l.TotalRepaymentAmount, l.RepaymentSchedule, l.AdminNotes, l.Purpose, l.DueDate,
		l.ApprovedAt, l.RejectedAt, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return loan.Loan{}, mapErr(err)
	}
	return l, nil
}

func (q *queries) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	var l loan.Loan
	err := sqlx.GetContext(ctx, q.ext, &l, `SELECT `+loanColumns+` FROM loans WHERE id = $1`+q.forUpdate(), id)
	return l, mapErr(err)
}

func (q *queries) ApproveLoan(ctx context.Context, a loan.Approval) (loan.Loan, error) {
	var l loan.Loan
	err := sqlx.GetContext(ctx, q.ext, &l, `
		UPDATE loans
		SET status = 'approved', repayment_schedule = $2, due_date = $3, approved_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+loanColumns,
		a.LoanID, a.Schedule, a.DueDate, a.ApprovedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, q.missingOr(ctx, "loans", a.LoanID, storage.ErrConflict)
	}
	return l, mapErr(err)
}

func (q *queries) TransitionLoan(ctx context.Context, t loan.Transition) (loan.Loan, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}

	var l loan.Loan
	err := sqlx.GetContext(ctx, q.ext, &l, `
		UPDATE loans
		SET status = $2::text,
		    admin_notes = CASE WHEN $3::text = '' THEN admin_notes ELSE $3::text END,
		    rejected_at = CASE WHEN $2::text = 'rejected' THEN $4 ELSE rejected_at END,
		    updated_at = $4
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+loanColumns,
		t.LoanID, string(t.To), t.AdminNotes, t.At, pq.Array(from))
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, q.missingOr(ctx, "loans", t.LoanID, storage.ErrConflict)
	}
	return l, mapErr(err)
}

func (q *queries) UpdateRepaymentSchedule(ctx context.Context, id string, schedule loan.Schedule, status loan.Status, at time.Time) (loan.Loan, error) {
	var l loan.Loan
	err := sqlx.GetContext(ctx, q.ext, &l, `
		UPDATE loans
		SET repayment_schedule = $2, status = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+loanColumns,
		id, schedule, status, at)
	return l, mapErr(err)
}

// where accumulates positional filter clauses.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) page(limit, offset int) (string, []any) {
	args := append(append([]any(nil), w.args...), limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)+1, len(w.args)+2), args
}

func (q *queries) ListLoans(ctx context.Context, f loan.Filter) ([]loan.View, int, error) {
	var w where
	if f.UserID != "" {
		w.add("l.user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		w.add("l.status = $%d", string(f.Status))
	}

	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, `SELECT COUNT(*) FROM loans l`+w.String(), w.args...); err != nil {
		return nil, 0, err
	}

	limit, offset := storage.NormalizePage(f.Limit, f.Offset)
	pageSQL, args := w.page(limit, offset)
	var views []loan.View
	err := sqlx.SelectContext(ctx, q.ext, &views, `
		SELECT `+prefixed("l", loanColumnList)+`,
		       COALESCE(lp.title, '') AS plan_title,
		       COALESCE(pr.email, '') AS user_email,
		       COALESCE(pr.full_name, '') AS user_name
		FROM loans l
		LEFT JOIN loan_plans lp ON lp.id = l.plan_id
		LEFT JOIN profiles pr ON pr.id = l.user_id`+w.String()+`
		ORDER BY l.created_at DESC, l.id DESC`+pageSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

// --- TransactionStore -------------------------------------------------------

const transactionColumns = `id, user_id, type, crypto_type, amount, crypto_amount, price_usd, status,
	reference, wallet_address, admin_notes, processed_at, created_at, updated_at`

func (q *queries) CreateTransaction(ctx context.Context, t transaction.Transaction) (transaction.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CryptoType = strings.ToUpper(t.CryptoType)
	now := q.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO crypto_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.ID, t.UserID, t.Type, t.CryptoType, t.Amount, t.CryptoAmount, t.PriceUSD, t.Status,
		t.Reference, t.WalletAddress, t.AdminNotes, t.ProcessedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return transaction.Transaction{}, mapErr(err)
	}
	return t, nil
}

func (q *queries) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	var t transaction.Transaction
	err := sqlx.GetContext(ctx, q.ext, &t, `SELECT `+transactionColumns+` FROM crypto_transactions WHERE id = $1`+q.forUpdate(), id)
	return t, mapErr(err)
}

func (q *queries) SettleTransaction(ctx context.Context, s transaction.Settlement) (transaction.Transaction, error) {
	var t transaction.Transaction
	err := sqlx.GetContext(ctx, q.ext, &t, `
		UPDATE crypto_transactions
		SET status = $2, crypto_amount = $3, price_usd = $4,
		    admin_notes = CASE WHEN $5::text = '' THEN admin_notes ELSE $5::text END,
		    processed_at = $6, updated_at = $6
		WHERE id = $1 AND status = 'pending'
		RETURNING `+transactionColumns,
		s.TransactionID, s.Status, s.CryptoAmount, s.PriceUSD, s.AdminNotes, s.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Transaction{}, q.missingOr(ctx, "crypto_transactions", s.TransactionID, storage.ErrConflict)
	}
	return t, mapErr(err)
}

func (q *queries) ListTransactions(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, int, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = $%d", f.UserID)
	}
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}

	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, `SELECT COUNT(*) FROM crypto_transactions`+w.String(), w.args...); err != nil {
		return nil, 0, err
	}

	limit, offset := storage.NormalizePage(f.Limit, f.Offset)
	pageSQL, args := w.page(limit, offset)
	var items []transaction.Transaction
	err := sqlx.SelectContext(ctx, q.ext, &items, `SELECT `+transactionColumns+` FROM crypto_transactions`+
		w.String()+` ORDER BY created_at DESC, id DESC`+pageSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
