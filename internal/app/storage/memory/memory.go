package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/domain/loan"
	"github.com/vaultline/ledger/internal/app/domain/transaction"
	"github.com/vaultline/ledger/internal/app/storage"
)

// Store is an in-memory ledger. It is safe for concurrent use and is intended
// for tests and local development. Transactions hold the store lock for their
// whole duration and restore a snapshot when the callback fails.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	s.st = newState(s.clock)
	return s
}

// SetClock overrides the timestamp source used for created/updated fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) clock() time.Time { return s.now().UTC() }

// WithinTx implements storage.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, s.st); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// AccountStore ---------------------------------------------------------------

func (s *Store) CreateProfile(ctx context.Context, p account.Profile) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateProfile(ctx, p)
}

func (s *Store) GetProfile(ctx context.Context, id string) (account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetProfile(ctx, id)
}

func (s *Store) IncrementBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IncrementBalance(ctx, userID, delta)
}

func (s *Store) IncrementWallet(ctx context.Context, userID, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IncrementWallet(ctx, userID, symbol, delta)
}

// PlanStore ------------------------------------------------------------------

func (s *Store) UpsertInvestmentPlan(ctx context.Context, p investment.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertInvestmentPlan(ctx, p)
}

func (s *Store) GetInvestmentPlan(ctx context.Context, id string) (investment.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetInvestmentPlan(ctx, id)
}

func (s *Store) ListInvestmentPlans(ctx context.Context) ([]investment.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListInvestmentPlans(ctx)
}

func (s *Store) UpsertLoanPlan(ctx context.Context, p loan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertLoanPlan(ctx, p)
}

func (s *Store) GetLoanPlan(ctx context.Context, id string) (loan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetLoanPlan(ctx, id)
}

func (s *Store) ListLoanPlans(ctx context.Context) ([]loan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListLoanPlans(ctx)
}

// InvestmentStore ------------------------------------------------------------

func (s *Store) CreateInvestment(ctx context.Context, inv investment.Investment) (investment.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateInvestment(ctx, inv)
}

func (s *Store) GetInvestment(ctx context.Context, id string) (investment.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetInvestment(ctx, id)
}

func (s *Store) ListInvestmentViews(ctx context.Context, userID string) ([]investment.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListInvestmentViews(ctx, userID)
}

func (s *Store) ListDueInvestments(ctx context.Context, now time.Time, limit int) ([]investment.Due, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListDueInvestments(ctx, now, limit)
}

func (s *Store) AdvanceInvestment(ctx context.Context, adv investment.Advance) (investment.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AdvanceInvestment(ctx, adv)
}

func (s *Store) RecordPayoutFailure(ctx context.Context, investmentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RecordPayoutFailure(ctx, investmentID, at)
}

func (s *Store) CreatePayout(ctx context.Context, p investment.Payout) (investment.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreatePayout(ctx, p)
}

func (s *Store) ListPayouts(ctx context.Context, investmentID string) ([]investment.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListPayouts(ctx, investmentID)
}

// LoanStore ------------------------------------------------------------------

func (s *Store) CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateLoan(ctx, l)
}

func (s *Store) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetLoan(ctx, id)
}

func (s *Store) ApproveLoan(ctx context.Context, a loan.Approval) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ApproveLoan(ctx, a)
}

func (s *Store) TransitionLoan(ctx context.Context, t loan.Transition) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.TransitionLoan(ctx, t)
}

func (s *Store) UpdateRepaymentSchedule(ctx context.Context, id string, schedule loan.Schedule, status loan.Status, at time.Time) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateRepaymentSchedule(ctx, id, schedule, status, at)
}

func (s *Store) ListLoans(ctx context.Context, f loan.Filter) ([]loan.View, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListLoans(ctx, f)
}

// TransactionStore -----------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, t transaction.Transaction) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateTransaction(ctx, t)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetTransaction(ctx, id)
}

func (s *Store) SettleTransaction(ctx context.Context, st transaction.Settlement) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.SettleTransaction(ctx, st)
}

func (s *Store) ListTransactions(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListTransactions(ctx, f)
}

// state holds the data and implements storage.Ledger without locking. The
// Store serialises access to it.
type state struct {
	now          func() time.Time
	profiles     map[string]account.Profile
	invPlans     map[string]investment.Plan
	loanPlans    map[string]loan.Plan
	investments  map[string]investment.Investment
	payouts      map[string][]investment.Payout
	loans        map[string]loan.Loan
	transactions map[string]transaction.Transaction
	// failed payout attempts, cleared when the investment advances
	attempts map[string]time.Time
}

var _ storage.Ledger = (*state)(nil)

func newState(now func() time.Time) *state {
	return &state{
		now:          now,
		profiles:     make(map[string]account.Profile),
		invPlans:     make(map[string]investment.Plan),
		loanPlans:    make(map[string]loan.Plan),
		investments:  make(map[string]investment.Investment),
		payouts:      make(map[string][]investment.Payout),
		loans:        make(map[string]loan.Loan),
		transactions: make(map[string]transaction.Transaction),
		attempts:     make(map[string]time.Time),
	}
}

func (st *state) clone() *state {
	cp := newState(st.now)
	for k, v := range st.profiles {
		cp.profiles[k] = v.Clone()
	}
	for k, v := range st.invPlans {
		cp.invPlans[k] = v
	}
	for k, v := range st.loanPlans {
		cp.loanPlans[k] = v
	}
	for k, v := range st.investments {
		cp.investments[k] = v
	}
	for k, v := range st.payouts {
		cp.payouts[k] = append([]investment.Payout(nil), v...)
	}
	for k, v := range st.loans {
		cp.loans[k] = v.Clone()
	}
	for k, v := range st.transactions {
		cp.transactions[k] = v
	}
	for k, v := range st.attempts {
		cp.attempts[k] = v
	}
	return cp
}

func (st *state) CreateProfile(_ context.Context, p account.Profile) (account.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := st.profiles[p.ID]; exists {
		return account.Profile{}, fmt.Errorf("profile %s: %w", p.ID, storage.ErrConflict)
	}
	if p.Balance.IsNegative() {
		return account.Profile{}, storage.ErrInsufficientFunds
	}
	now := st.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p = p.Clone()
	if p.Wallets == nil {
		p.Wallets = map[string]decimal.Decimal{}
	}
	st.profiles[p.ID] = p
	return p.Clone(), nil
}

func (st *state) GetProfile(_ context.Context, id string) (account.Profile, error) {
	p, ok := st.profiles[id]
	if !ok {
		return account.Profile{}, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (st *state) IncrementBalance(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := st.profiles[userID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	next := p.Balance.Add(delta)
	if next.IsNegative() {
		return p.Balance, storage.ErrInsufficientFunds
	}
	p.Balance = next
	p.UpdatedAt = st.now()
	st.profiles[userID] = p
	return next, nil
}

func (st *state) IncrementWallet(_ context.Context, userID, symbol string, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := st.profiles[userID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	symbol = account.NormalizeSymbol(symbol)
	current := p.WalletBalance(symbol)
	next := current.Add(delta)
	if next.IsNegative() {
		return current, storage.ErrInsufficientFunds
	}
	p = p.Clone()
	if p.Wallets == nil {
		p.Wallets = map[string]decimal.Decimal{}
	}
	p.Wallets[symbol] = next
	p.UpdatedAt = st.now()
	st.profiles[userID] = p
	return next, nil
}

func (st *state) UpsertInvestmentPlan(_ context.Context, p investment.Plan) error {
	st.invPlans[p.ID] = p
	return nil
}

func (st *state) GetInvestmentPlan(_ context.Context, id string) (investment.Plan, error) {
	p, ok := st.invPlans[id]
	if !ok {
		return investment.Plan{}, storage.ErrNotFound
	}
	return p, nil
}

func (st *state) ListInvestmentPlans(_ context.Context) ([]investment.Plan, error) {
	out := make([]investment.Plan, 0, len(st.invPlans))
	for _, p := range st.invPlans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MinAmount.Equal(out[j].MinAmount) {
			return out[i].MinAmount.LessThan(out[j].MinAmount)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) UpsertLoanPlan(_ context.Context, p loan.Plan) error {
	st.loanPlans[p.ID] = p
	return nil
}

func (st *state) GetLoanPlan(_ context.Context, id string) (loan.Plan, error) {
	p, ok := st.loanPlans[id]
	if !ok {
		return loan.Plan{}, storage.ErrNotFound
	}
	return p, nil
}

func (st *state) ListLoanPlans(_ context.Context) ([]loan.Plan, error) {
	out := make([]loan.Plan, 0, len(st.loanPlans))
	for _, p := range st.loanPlans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MinAmount.Equal(out[j].MinAmount) {
			return out[i].MinAmount.LessThan(out[j].MinAmount)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) CreateInvestment(_ context.Context, inv investment.Investment) (investment.Investment, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if _, exists := st.investments[inv.ID]; exists {
		return investment.Investment{}, fmt.Errorf("investment %s: %w", inv.ID, storage.ErrConflict)
	}
	if _, ok := st.profiles[inv.UserID]; !ok {
		return investment.Investment{}, fmt.Errorf("profile %s: %w", inv.UserID, storage.ErrNotFound)
	}
	if _, ok := st.invPlans[inv.PlanID]; !ok {
		return investment.Investment{}, fmt.Errorf("plan %s: %w", inv.PlanID, storage.ErrNotFound)
	}
	now := st.now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	st.investments[inv.ID] = inv
	return inv, nil
}

func (st *state) GetInvestment(_ context.Context, id string) (investment.Investment, error) {
	inv, ok := st.investments[id]
	if !ok {
		return investment.Investment{}, storage.ErrNotFound
	}
	return inv, nil
}

func (st *state) ListInvestmentViews(_ context.Context, userID string) ([]investment.View, error) {
	var out []investment.View
	for _, inv := range st.investments {
		if inv.UserID != userID {
			continue
		}
		plan := st.invPlans[inv.PlanID]
		out = append(out, investment.View{Investment: inv, PlanTitle: plan.Title, PlanPercentage: plan.Percentage})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (st *state) ListDueInvestments(_ context.Context, now time.Time, limit int) ([]investment.Due, error) {
	var out []investment.Due
	for _, inv := range st.investments {
		if inv.Status != investment.StatusActive || inv.NextPayoutDate.After(now) {
			continue
		}
		plan, ok := st.invPlans[inv.PlanID]
		if !ok {
			continue
		}
		out = append(out, investment.Due{Investment: inv, Plan: plan})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Investment, out[j].Investment
		fa, aFailed := st.attempts[a.ID]
		fb, bFailed := st.attempts[b.ID]
		switch {
		case aFailed != bFailed:
			return !aFailed
		case aFailed && !fa.Equal(fb):
			return fa.Before(fb)
		}
		if !a.NextPayoutDate.Equal(b.NextPayoutDate) {
			return a.NextPayoutDate.Before(b.NextPayoutDate)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *state) AdvanceInvestment(_ context.Context, adv investment.Advance) (investment.Investment, error) {
	inv, ok := st.investments[adv.InvestmentID]
	if !ok {
		return investment.Investment{}, storage.ErrNotFound
	}
	if inv.Status != investment.StatusActive || inv.TotalPayouts != adv.ExpectedPayouts {
		return investment.Investment{}, storage.ErrConflict
	}
	inv.TotalPayouts = adv.TotalPayouts
	inv.NextPayoutDate = adv.NextPayoutDate
	inv.Status = adv.Status
	inv.UpdatedAt = adv.UpdatedAt
	st.investments[inv.ID] = inv
	delete(st.attempts, inv.ID)
	return inv, nil
}

func (st *state) RecordPayoutFailure(_ context.Context, investmentID string, at time.Time) error {
	if _, ok := st.investments[investmentID]; !ok {
		return storage.ErrNotFound
	}
	st.attempts[investmentID] = at
	return nil
}

func (st *state) CreatePayout(_ context.Context, p investment.Payout) (investment.Payout, error) {
	for _, existing := range st.payouts[p.InvestmentID] {
		if existing.Sequence == p.Sequence {
			return investment.Payout{}, fmt.Errorf("payout %s#%d: %w", p.InvestmentID, p.Sequence, storage.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	st.payouts[p.InvestmentID] = append(st.payouts[p.InvestmentID], p)
	return p, nil
}

func (st *state) ListPayouts(_ context.Context, investmentID string) ([]investment.Payout, error) {
	out := append([]investment.Payout(nil), st.payouts[investmentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (st *state) CreateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if _, exists := st.loans[l.ID]; exists {
		return loan.Loan{}, fmt.Errorf("loan %s: %w", l.ID, storage.ErrConflict)
	}
	for _, existing := range st.loans {
		if existing.Reference == l.Reference {
			return loan.Loan{}, fmt.Errorf("loan reference %s: %w", l.Reference, storage.ErrConflict)
		}
	}
	now := st.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	st.loans[l.ID] = l.Clone()
	return l, nil
}

func (st *state) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	l, ok := st.loans[id]
	if !ok {
		return loan.Loan{}, storage.ErrNotFound
	}
	return l.Clone(), nil
}

func (st *state) ApproveLoan(_ context.Context, a loan.Approval) (loan.Loan, error) {
	l, ok := st.loans[a.LoanID]
	if !ok {
		return loan.Loan{}, storage.ErrNotFound
	}
	if l.Status != loan.StatusPending {
		return loan.Loan{}, storage.ErrConflict
	}
	approvedAt, due := a.ApprovedAt, a.DueDate
	l.Status = loan.StatusApproved
	l.RepaymentSchedule = a.Schedule.Clone()
	l.DueDate = &due
	l.ApprovedAt = &approvedAt
	l.UpdatedAt = approvedAt
	st.loans[l.ID] = l
	return l.Clone(), nil
}

func (st *state) TransitionLoan(_ context.Context, t loan.Transition) (loan.Loan, error) {
	l, ok := st.loans[t.LoanID]
	if !ok {
		return loan.Loan{}, storage.ErrNotFound
	}
	if !t.Allows(l.Status) {
		return loan.Loan{}, storage.ErrConflict
	}
	at := t.At
	l.Status = t.To
	if t.AdminNotes != "" {
		l.AdminNotes = t.AdminNotes
	}
	if t.To == loan.StatusRejected {
		l.RejectedAt = &at
	}
	l.UpdatedAt = at
	st.loans[l.ID] = l
	return l.Clone(), nil
}

func (st *state) UpdateRepaymentSchedule(_ context.Context, id string, schedule loan.Schedule, status loan.Status, at time.Time) (loan.Loan, error) {
	l, ok := st.loans[id]
	if !ok {
		return loan.Loan{}, storage.ErrNotFound
	}
	l.RepaymentSchedule = schedule.Clone()
	l.Status = status
	l.UpdatedAt = at
	st.loans[id] = l
	return l.Clone(), nil
}

func (st *state) ListLoans(_ context.Context, f loan.Filter) ([]loan.View, int, error) {
	var matched []loan.View
	for _, l := range st.loans {
		if f.UserID != "" && l.UserID != f.UserID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		v := loan.View{Loan: l.Clone(), PlanTitle: st.loanPlans[l.PlanID].Title}
		if p, ok := st.profiles[l.UserID]; ok {
			v.UserEmail = p.Email
			v.UserName = p.FullName
		}
		matched = append(matched, v)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	limit, offset := storage.NormalizePage(f.Limit, f.Offset)
	return page(matched, limit, offset), len(matched), nil
}

func (st *state) CreateTransaction(_ context.Context, t transaction.Transaction) (transaction.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := st.transactions[t.ID]; exists {
		return transaction.Transaction{}, fmt.Errorf("transaction %s: %w", t.ID, storage.ErrConflict)
	}
	t.CryptoType = strings.ToUpper(t.CryptoType)
	now := st.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	st.transactions[t.ID] = t
	return t, nil
}

func (st *state) GetTransaction(_ context.Context, id string) (transaction.Transaction, error) {
	t, ok := st.transactions[id]
	if !ok {
		return transaction.Transaction{}, storage.ErrNotFound
	}
	return t, nil
}

func (st *state) SettleTransaction(_ context.Context, s transaction.Settlement) (transaction.Transaction, error) {
	t, ok := st.transactions[s.TransactionID]
	if !ok {
		return transaction.Transaction{}, storage.ErrNotFound
	}
	if t.Status != transaction.StatusPending {
		return transaction.Transaction{}, storage.ErrConflict
	}
	processed := s.ProcessedAt
	t.Status = s.Status
	t.CryptoAmount = s.CryptoAmount
	t.PriceUSD = s.PriceUSD
	if s.AdminNotes != "" {
		t.AdminNotes = s.AdminNotes
	}
	t.ProcessedAt = &processed
	t.UpdatedAt = processed
	st.transactions[t.ID] = t
	return t, nil
}

func (st *state) ListTransactions(_ context.Context, f transaction.Filter) ([]transaction.Transaction, int, error) {
	var matched []transaction.Transaction
	for _, t := range st.transactions {
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	limit, offset := storage.NormalizePage(f.Limit, f.Offset)
	return page(matched, limit, offset), len(matched), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
