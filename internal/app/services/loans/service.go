// Package loans implements the loan application, review and repayment
// lifecycle.
package loans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/loan"
	"github.com/vaultline/ledger/internal/app/domain/reference"
	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/storage"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/pkg/logger"
)

// ReferencePrefix prefixes loan reference codes.
const ReferencePrefix = "LOAN"

// InitiateRequest is a loan application.
type InitiateRequest struct {
	PlanID  string
	Amount  decimal.Decimal
	Purpose string
}

// Page is one page of a loan listing.
type Page struct {
	Loans []loan.View `json:"loans"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Service manages loans.
type Service struct {
	store      storage.Store
	notifier   notify.Notifier
	adminEmail string
	log        *logger.Logger
	now        func() time.Time
}

// New constructs a loans service. adminEmail receives new-application
// notices; when empty they are not sent.
func New(store storage.Store, notifier notify.Notifier, adminEmail string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loans")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{store: store, notifier: notifier, adminEmail: adminEmail, log: log, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ListPlans returns the loan plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]loan.Plan, error) {
	plans, err := s.store.ListLoanPlans(ctx)
	if err != nil {
		return nil, svcerrors.Unexpected("Failed to load loan plans", err)
	}
	return plans, nil
}

// InitiateLoan records a pending loan application against the stored plan.
func (s *Service) InitiateLoan(ctx context.Context, userID string, req InitiateRequest) (loan.Loan, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return loan.Loan{}, svcerrors.NotAuthenticated("")
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return loan.Loan{}, svcerrors.Validation("planId is required")
	}
	if !req.Amount.IsPositive() {
		return loan.Loan{}, svcerrors.Validation("Amount must be greater than zero")
	}

	plan, err := s.store.GetLoanPlan(ctx, planID)
	if errors.Is(err, storage.ErrNotFound) {
		return loan.Loan{}, svcerrors.NotFound("loan plan", planID)
	}
	if err != nil {
		return loan.Loan{}, svcerrors.Unexpected("Failed to load loan plan", err)
	}
	if !plan.InRange(req.Amount) {
		return loan.Loan{}, svcerrors.Validation("Amount must be between $%s and $%s for the %s plan",
			plan.MinAmount.StringFixed(2), plan.MaxAmount.StringFixed(2), plan.Title).
			WithDetails("minAmount", plan.MinAmount.String()).
			WithDetails("maxAmount", plan.MaxAmount.String())
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return loan.Loan{}, svcerrors.NotFound("profile", userID)
	}
	if err != nil {
		return loan.Loan{}, svcerrors.Unexpected("Failed to load profile", err)
	}

	now := s.now().UTC()
	interest, total := loan.Terms(plan, req.Amount)
	created, err := s.store.CreateLoan(ctx, loan.Loan{
		UserID:               userID,
		PlanID:               plan.ID,
		Amount:               req.Amount,
		Status:               loan.StatusPending,
		Reference:            reference.New(ReferencePrefix, now),
		InterestAmount:       interest,
		TotalRepaymentAmount: total,
		Purpose:              strings.TrimSpace(req.Purpose),
		CreatedAt:            now,
	})
	if err != nil {
		s.log.FromContext(ctx).WithError(err).WithField("plan_id", plan.ID).Error("create loan failed")
		return loan.Loan{}, svcerrors.Unexpected("Failed to create loan application", err)
	}

	metrics.RecordLoanTransition(string(loan.StatusPending))
	s.log.FromContext(ctx).
		WithField("loan_id", created.ID).
		WithField("reference", created.Reference).
		WithField("amount", created.Amount.String()).
		Info("loan application submitted")

	if s.adminEmail != "" {
		s.notifier.Notify(ctx, notify.KindLoanSubmitted, s.adminEmail, map[string]any{
			"reference": created.Reference,
			"amount":    created.Amount.StringFixed(2),
			"planTitle": plan.Title,
			"purpose":   created.Purpose,
			"userEmail": profile.Email,
		})
	}
	return created, nil
}

// ApproveLoan approves a pending loan, builds its repayment schedule and
// credits the principal to the borrower. Status change and credit commit
// together.
func (s *Service) ApproveLoan(ctx context.Context, loanID string) (loan.Loan, error) {
	current, err := s.getLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if current.Status != loan.StatusPending {
		return loan.Loan{}, svcerrors.AlreadyProcessed("loan", loanID, string(current.Status))
	}
	plan, err := s.store.GetLoanPlan(ctx, current.PlanID)
	if err != nil {
		return loan.Loan{}, svcerrors.Unexpected("Failed to load loan plan", err)
	}

	now := s.now().UTC()
	approval := loan.Approval{
		LoanID:     current.ID,
		Schedule:   loan.BuildSchedule(current.TotalRepaymentAmount, plan.DurationDays, plan.RepaymentInterval, now),
		DueDate:    now.AddDate(0, 0, plan.DurationDays),
		ApprovedAt: now,
	}

	var approved loan.Loan
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		var err error
		if approved, err = tx.ApproveLoan(ctx, approval); err != nil {
			return err
		}
		_, err = tx.IncrementBalance(ctx, approved.UserID, approved.Amount)
		return err
	})
	if err != nil {
		return loan.Loan{}, s.transitionError(ctx, loanID, "approve", err)
	}

	metrics.RecordLoanTransition(string(loan.StatusApproved))
	s.log.FromContext(ctx).WithField("loan_id", loanID).WithField("installments", len(approval.Schedule)).Info("loan approved")

	s.notifyBorrower(ctx, notify.KindLoanApproved, approved, map[string]any{
		"reference":            approved.Reference,
		"amount":               approved.Amount.StringFixed(2),
		"totalRepaymentAmount": approved.TotalRepaymentAmount.StringFixed(2),
		"dueDate":              approval.DueDate.Format("2006-01-02"),
	})
	return approved, nil
}

// RejectLoan declines a pending loan.
func (s *Service) RejectLoan(ctx context.Context, loanID, adminNotes string) (loan.Loan, error) {
	rejected, err := s.transition(ctx, loanID, []loan.Status{loan.StatusPending}, loan.StatusRejected, adminNotes)
	if err != nil {
		return loan.Loan{}, err
	}
	s.notifyBorrower(ctx, notify.KindLoanRejected, rejected, map[string]any{
		"reference":  rejected.Reference,
		"amount":     rejected.Amount.StringFixed(2),
		"adminNotes": rejected.AdminNotes,
	})
	return rejected, nil
}

// MarkDefaulted moves an approved or active loan to defaulted.
func (s *Service) MarkDefaulted(ctx context.Context, loanID, adminNotes string) (loan.Loan, error) {
	return s.transition(ctx, loanID, []loan.Status{loan.StatusApproved, loan.StatusActive}, loan.StatusDefaulted, adminNotes)
}

// RecordRepayment marks installment index (0-based) as paid. The loan turns
// active on its first repayment and completed once every installment is paid.
func (s *Service) RecordRepayment(ctx context.Context, loanID string, index int) (loan.Loan, error) {
	var updated loan.Loan
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		l, err := tx.GetLoan(ctx, loanID)
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("loan", loanID)
		}
		if err != nil {
			return err
		}
		if l.Status != loan.StatusApproved && l.Status != loan.StatusActive {
			return svcerrors.AlreadyProcessed("loan", loanID, string(l.Status))
		}
		if index < 0 || index >= len(l.RepaymentSchedule) {
			return svcerrors.Validation("Installment %d does not exist; the schedule has %d installments", index, len(l.RepaymentSchedule))
		}
		if l.RepaymentSchedule[index].Status == loan.InstallmentPaid {
			return svcerrors.AlreadyProcessed("installment", fmt.Sprintf("%s#%d", loanID, index), string(loan.InstallmentPaid))
		}

		now := s.now().UTC()
		schedule := l.RepaymentSchedule.Clone()
		schedule[index].Status = loan.InstallmentPaid
		schedule[index].PaidAt = &now

		status := loan.StatusActive
		if schedule.AllPaid() {
			status = loan.StatusCompleted
		}
		updated, err = tx.UpdateRepaymentSchedule(ctx, loanID, schedule, status, now)
		return err
	})
	if err != nil {
		if svcerrors.GetServiceError(err) != nil {
			return loan.Loan{}, err
		}
		s.log.FromContext(ctx).WithError(err).WithField("loan_id", loanID).Error("record repayment failed")
		return loan.Loan{}, svcerrors.Unexpected("Failed to record repayment", err)
	}

	metrics.RecordLoanTransition(string(updated.Status))
	s.log.FromContext(ctx).WithField("loan_id", loanID).WithField("installment", index).
		WithField("status", updated.Status).Info("loan repayment recorded")
	return updated, nil
}

// ListUserLoans returns one page of the caller's loans, newest first.
func (s *Service) ListUserLoans(ctx context.Context, userID string, page, limit int) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, svcerrors.NotAuthenticated("")
	}
	return s.list(ctx, loan.Filter{UserID: userID}, page, limit)
}

// ListAllLoans returns one page of all loans matching f. f.Limit and f.Offset
// are derived from page and limit.
func (s *Service) ListAllLoans(ctx context.Context, f loan.Filter, page, limit int) (Page, error) {
	return s.list(ctx, f, page, limit)
}

func (s *Service) list(ctx context.Context, f loan.Filter, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	limit, _ = storage.NormalizePage(limit, 0)
	f.Limit, f.Offset = limit, (page-1)*limit

	views, total, err := s.store.ListLoans(ctx, f)
	if err != nil {
		return Page{}, svcerrors.Unexpected("Failed to load loans", err)
	}
	if views == nil {
		views = []loan.View{}
	}
	return Page{Loans: views, Total: total, Page: page, Limit: limit}, nil
}

func (s *Service) transition(ctx context.Context, loanID string, from []loan.Status, to loan.Status, notes string) (loan.Loan, error) {
	current, err := s.getLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	t := loan.Transition{LoanID: loanID, From: from, To: to, AdminNotes: strings.TrimSpace(notes), At: s.now().UTC()}
	if !t.Allows(current.Status) {
		return loan.Loan{}, svcerrors.AlreadyProcessed("loan", loanID, string(current.Status))
	}

	updated, err := s.store.TransitionLoan(ctx, t)
	if err != nil {
		return loan.Loan{}, s.transitionError(ctx, loanID, string(to), err)
	}
	metrics.RecordLoanTransition(string(to))
	s.log.FromContext(ctx).WithField("loan_id", loanID).WithField("status", to).Info("loan status changed")
	return updated, nil
}

// transitionError maps a failed conditional update. A lost compare-and-set is
// reported with the status the winner left behind.
func (s *Service) transitionError(ctx context.Context, loanID, action string, err error) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		status := "unknown"
		if l, gerr := s.store.GetLoan(ctx, loanID); gerr == nil {
			status = string(l.Status)
		}
		return svcerrors.AlreadyProcessed("loan", loanID, status)
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("loan", loanID)
	}
	s.log.FromContext(ctx).WithError(err).WithField("loan_id", loanID).WithField("action", action).Error("loan update failed")
	return svcerrors.Unexpected("Failed to update loan", err)
}

func (s *Service) getLoan(ctx context.Context, loanID string) (loan.Loan, error) {
	if strings.TrimSpace(loanID) == "" {
		return loan.Loan{}, svcerrors.Validation("loanId is required")
	}
	l, err := s.store.GetLoan(ctx, loanID)
	if errors.Is(err, storage.ErrNotFound) {
		return loan.Loan{}, svcerrors.NotFound("loan", loanID)
	}
	if err != nil {
		return loan.Loan{}, svcerrors.Unexpected("Failed to load loan", err)
	}
	return l, nil
}

func (s *Service) notifyBorrower(ctx context.Context, kind notify.Kind, l loan.Loan, data map[string]any) {
	profile, err := s.store.GetProfile(ctx, l.UserID)
	if err != nil {
		s.log.FromContext(ctx).WithError(err).WithField("kind", kind).Warn("notification skipped: profile lookup failed")
		return
	}
	s.notifier.Notify(ctx, kind, profile.Email, data)
}
