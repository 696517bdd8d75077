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
	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/storage"
)

// Store implements the ledger storage interfaces backed by PostgreSQL.
type Store struct {
	*queries
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{
		queries: &queries{ext: db, now: func() time.Time { return time.Now().UTC() }},
		db:      db,
	}
}

// Open connects to dsn with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// WithinTx runs fn inside a database transaction. Point reads of loans and
// transactions made through tx take row locks until commit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Ledger) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	q := &queries{ext: tx, lockRows: true, now: s.now}
	if err := fn(ctx, q); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// queries holds every statement and runs against either the pool or a tx.
type queries struct {
	ext      sqlx.ExtContext
	lockRows bool
	now      func() time.Time
}

var _ storage.Ledger = (*queries)(nil)

func (q *queries) forUpdate() string {
	if q.lockRows {
		return " FOR UPDATE"
	}
	return ""
}

// mapErr translates driver errors into storage sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Constraint)
		case "23514":
			if strings.HasSuffix(pqErr.Constraint, "balance_check") {
				return storage.ErrInsufficientFunds
			}
		}
	}
	return err
}

func (q *queries) exists(ctx context.Context, table, id string) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, q.ext, &ok, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id)
	return ok, err
}

// missingOr resolves a zero-row conditional update into ErrNotFound or the given error.
func (q *queries) missingOr(ctx context.Context, table, id string, otherwise error) error {
	ok, err := q.exists(ctx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return otherwise
}

// --- AccountStore -----------------------------------------------------------

const profileColumns = `id, email, full_name, balance, created_at, updated_at`

func (q *queries) CreateProfile(ctx context.Context, p account.Profile) (account.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := q.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO profiles (id, email, full_name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Email, p.FullName, p.Balance, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return account.Profile{}, mapErr(err)
	}
	if p.Wallets == nil {
		p.Wallets = map[string]decimal.Decimal{}
	}
	return p, nil
}

func (q *queries) GetProfile(ctx context.Context, id string) (account.Profile, error) {
	var p account.Profile
	if err := sqlx.GetContext(ctx, q.ext, &p, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id); err != nil {
		return account.Profile{}, mapErr(err)
	}

	var wallets []struct {
		Symbol  string          `db:"symbol"`
		Balance decimal.Decimal `db:"balance"`
	}
	if err := sqlx.SelectContext(ctx, q.ext, &wallets, `
		SELECT symbol, balance FROM wallet_balances WHERE user_id = $1 ORDER BY symbol
	`, id); err != nil {
		return account.Profile{}, err
	}
	p.Wallets = make(map[string]decimal.Decimal, len(wallets))
	for _, w := range wallets {
		p.Wallets[w.Symbol] = w.Balance
	}
	return p, nil
}

func (q *queries) IncrementBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q.ext, &balance, `
		UPDATE profiles
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance
	`, userID, delta, q.now())
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, q.missingOr(ctx, "profiles", userID, storage.ErrInsufficientFunds)
	}
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	return balance, nil
}

func (q *queries) IncrementWallet(ctx context.Context, userID, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q.ext, &balance, `
		INSERT INTO wallet_balances (user_id, symbol, balance, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, symbol) DO UPDATE
		SET balance = wallet_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		WHERE wallet_balances.balance + EXCLUDED.balance >= 0
		RETURNING balance
	`, userID, account.NormalizeSymbol(symbol), delta, q.now())
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, storage.ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	return balance, nil
}

// --- PlanStore --------------------------------------------------------------

const investmentPlanColumns = `id, title, percentage, duration_days, min_amount, max_amount, interval_days`

func (q *queries) UpsertInvestmentPlan(ctx context.Context, p investment.Plan) error {
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO investment_plans (`+investmentPlanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, percentage = EXCLUDED.percentage, duration_days = EXCLUDED.duration_days,
		    min_amount = EXCLUDED.min_amount, max_amount = EXCLUDED.max_amount, interval_days = EXCLUDED.interval_days
	`, p.ID, p.Title, p.Percentage, p.DurationDays, p.MinAmount, p.MaxAmount, p.IntervalDays)
	return mapErr(err)
}

func (q *queries) GetInvestmentPlan(ctx context.Context, id string) (investment.Plan, error) {
	var p investment.Plan
	err := sqlx.GetContext(ctx, q.ext, &p, `SELECT `+investmentPlanColumns+` FROM investment_plans WHERE id = $1`, id)
	return p, mapErr(err)
}

func (q *queries) ListInvestmentPlans(ctx context.Context) ([]investment.Plan, error) {
	var plans []investment.Plan
	err := sqlx.SelectContext(ctx, q.ext, &plans, `SELECT `+investmentPlanColumns+` FROM investment_plans ORDER BY min_amount, id`)
	return plans, err
}

// --- InvestmentStore --------------------------------------------------------

var investmentColumnList = []string{
	"id", "user_id", "plan_id", "amount", "expected_return", "start_date", "end_date",
	"status", "next_payout_date", "total_payouts", "created_at", "updated_at",
}

var investmentColumns = strings.Join(investmentColumnList, ", ")

func prefixed(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func (q *queries) CreateInvestment(ctx context.Context, inv investment.Investment) (investment.Investment, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := q.now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO investments (`+investmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, inv.ID, inv.UserID, inv.PlanID, inv.Amount, inv.ExpectedReturn, inv.StartDate, inv.EndDate,
		inv.Status, inv.NextPayoutDate, inv.TotalPayouts, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return investment.Investment{}, mapErr(err)
	}
	return inv, nil
}

func (q *queries) GetInvestment(ctx context.Context, id string) (investment.Investment, error) {
	var inv investment.Investment
	err := sqlx.GetContext(ctx, q.ext, &inv, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id)
	return inv, mapErr(err)
}

func (q *queries) ListInvestmentViews(ctx context.Context, userID string) ([]investment.View, error) {
	var views []investment.View
	err := sqlx.SelectContext(ctx, q.ext, &views, `
		SELECT `+prefixed("i", investmentColumnList)+`, p.title AS plan_title, p.percentage AS plan_percentage
		FROM investments i
		JOIN investment_plans p ON p.id = i.plan_id
		WHERE i.user_id = $1
		ORDER BY i.created_at DESC, i.id DESC
	`, userID)
	return views, err
}

type dueRow struct {
	investment.Investment
	PlanTitle        string          `db:"plan_title"`
	PlanPercentage   decimal.Decimal `db:"plan_percentage"`
	PlanDurationDays int             `db:"plan_duration_days"`
	PlanMinAmount    decimal.Decimal `db:"plan_min_amount"`
	PlanMaxAmount    decimal.Decimal `db:"plan_max_amount"`
	PlanIntervalDays int             `db:"plan_interval_days"`
}

func (q *queries) ListDueInvestments(ctx context.Context, now time.Time, limit int) ([]investment.Due, error) {
	if limit <= 0 {
		limit = storage.MaxPageSize
	}
	var rows []dueRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT `+prefixed("i", investmentColumnList)+`,
		       p.title AS plan_title, p.percentage AS plan_percentage, p.duration_days AS plan_duration_days,
		       p.min_amount AS plan_min_amount, p.max_amount AS plan_max_amount, p.interval_days AS plan_interval_days
		FROM investments i
		JOIN investment_plans p ON p.id = i.plan_id
		WHERE i.status = 'active' AND i.next_payout_date <= $1
		ORDER BY i.payout_failed_at NULLS FIRST, i.next_payout_date, i.id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	out := make([]investment.Due, len(rows))
	for i, r := range rows {
		out[i] = investment.Due{
			Investment: r.Investment,
			Plan: investment.Plan{
				ID:           r.PlanID,
				Title:        r.PlanTitle,
				Percentage:   r.PlanPercentage,
				DurationDays: r.PlanDurationDays,
				MinAmount:    r.PlanMinAmount,
				MaxAmount:    r.PlanMaxAmount,
				IntervalDays: r.PlanIntervalDays,
			},
		}
	}
	return out, nil
}

func (q *queries) AdvanceInvestment(ctx context.Context, adv investment.Advance) (investment.Investment, error) {
	var inv investment.Investment
	err := sqlx.GetContext(ctx, q.ext, &inv, `
		UPDATE investments
		SET total_payouts = $3, next_payout_date = $4, status = $5, updated_at = $6, payout_failed_at = NULL
		WHERE id = $1 AND status = 'active' AND total_payouts = $2
		RETURNING `+investmentColumns,
		adv.InvestmentID, adv.ExpectedPayouts, adv.TotalPayouts, adv.NextPayoutDate, adv.Status, adv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return investment.Investment{}, q.missingOr(ctx, "investments", adv.InvestmentID, storage.ErrConflict)
	}
	return inv, mapErr(err)
}

func (q *queries) RecordPayoutFailure(ctx context.Context, investmentID string, at time.Time) error {
	res, err := q.ext.ExecContext(ctx, `UPDATE investments SET payout_failed_at = $2 WHERE id = $1`, investmentID, at)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) CreatePayout(ctx context.Context, p investment.Payout) (investment.Payout, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO investment_payouts (id, investment_id, user_id, sequence, amount, payout_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.InvestmentID, p.UserID, p.Sequence, p.Amount, p.PayoutDate)
	if err != nil {
		return investment.Payout{}, mapErr(err)
	}
	return p, nil
}

func (q *queries) ListPayouts(ctx context.Context, investmentID string) ([]investment.Payout, error) {
	var payouts []investment.Payout
	err := sqlx.SelectContext(ctx, q.ext, &payouts, `
		SELECT id, investment_id, user_id, sequence, amount, payout_date
		FROM investment_payouts
		WHERE investment_id = $1
		ORDER BY sequence
	`, investmentID)
	return payouts, err
}
