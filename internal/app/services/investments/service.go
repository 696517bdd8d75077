// Package investments opens investments against plan catalog entries and
// lists a user's portfolio.
package investments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/storage"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/pkg/logger"
)

// Service manages investment creation and listing.
type Service struct {
	store    storage.Store
	notifier notify.Notifier
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an investments service.
func New(store storage.Store, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("investments")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{store: store, notifier: notifier, log: log, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ListPlans returns the investment plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]investment.Plan, error) {
	plans, err := s.store.ListInvestmentPlans(ctx)
	if err != nil {
		return nil, svcerrors.Unexpected("Failed to load investment plans", err)
	}
	return plans, nil
}

// CreateInvestment debits amount from the user's balance and opens an
// investment in planID. Both writes commit together or not at all.
func (s *Service) CreateInvestment(ctx context.Context, userID, planID string, amount decimal.Decimal) (investment.View, error) {
	userID = strings.TrimSpace(userID)
	planID = strings.TrimSpace(planID)
	if userID == "" {
		return investment.View{}, svcerrors.NotAuthenticated("")
	}
	if planID == "" {
		return investment.View{}, svcerrors.Validation("planId is required")
	}
	if !amount.IsPositive() {
		return investment.View{}, svcerrors.Validation("Amount must be greater than zero")
	}

	plan, err := s.store.GetInvestmentPlan(ctx, planID)
	if errors.Is(err, storage.ErrNotFound) {
		return investment.View{}, svcerrors.NotFound("investment plan", planID)
	}
	if err != nil {
		return investment.View{}, svcerrors.Unexpected("Failed to load investment plan", err)
	}
	if !plan.InRange(amount) {
		return investment.View{}, svcerrors.Validation("Amount must be between $%s and $%s for the %s plan",
			plan.MinAmount.StringFixed(2), plan.MaxAmount.StringFixed(2), plan.Title).
			WithDetails("minAmount", plan.MinAmount.String()).
			WithDetails("maxAmount", plan.MaxAmount.String())
	}

	inv := plan.Open(userID, amount, s.now())
	var created investment.Investment
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		if _, err := tx.IncrementBalance(ctx, userID, amount.Neg()); err != nil {
			return err
		}
		created, err = tx.CreateInvestment(ctx, inv)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInsufficientFunds):
		return investment.View{}, svcerrors.InsufficientFunds("Insufficient balance for this investment")
	case errors.Is(err, storage.ErrNotFound):
		return investment.View{}, svcerrors.NotFound("profile", userID)
	default:
		s.log.FromContext(ctx).WithError(err).WithField("plan_id", planID).Error("create investment failed")
		return investment.View{}, svcerrors.Unexpected("Failed to create investment", err)
	}

	metrics.RecordInvestmentCreated(plan.ID)
	s.log.FromContext(ctx).
		WithField("investment_id", created.ID).
		WithField("plan_id", plan.ID).
		WithField("amount", amount.String()).
		Info("investment created")

	s.notifyConfirmation(ctx, created, plan)
	return investment.View{Investment: created, PlanTitle: plan.Title, PlanPercentage: plan.Percentage}, nil
}

func (s *Service) notifyConfirmation(ctx context.Context, inv investment.Investment, plan investment.Plan) {
	profile, err := s.store.GetProfile(ctx, inv.UserID)
	if err != nil {
		s.log.FromContext(ctx).WithError(err).Warn("confirmation skipped: profile lookup failed")
		return
	}
	s.notifier.Notify(ctx, notify.KindInvestmentConfirmation, profile.Email, map[string]any{
		"amount":         inv.Amount.StringFixed(2),
		"planTitle":      plan.Title,
		"expectedReturn": inv.ExpectedReturn.StringFixed(2),
		"endDate":        inv.EndDate.Format("2006-01-02"),
	})
}

// ListUserInvestments returns the caller's investments, newest first.
func (s *Service) ListUserInvestments(ctx context.Context, userID string) ([]investment.View, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, svcerrors.NotAuthenticated("")
	}
	views, err := s.store.ListInvestmentViews(ctx, userID)
	if err != nil {
		return nil, svcerrors.Unexpected("Failed to load investments", err)
	}
	if views == nil {
		views = []investment.View{}
	}
	return views, nil
}
