// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/domain/loan"
	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/storage"
)

// Notification is one call captured by RecordingNotifier.
type Notification struct {
	Kind      notify.Kind
	Recipient string
	Data      map[string]any
}

// RecordingNotifier captures notifications synchronously.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *RecordingNotifier) Notify(_ context.Context, kind notify.Kind, recipient string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{Kind: kind, Recipient: recipient, Data: data})
}

// Sent returns a copy of the captured notifications.
func (r *RecordingNotifier) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Kinds returns the captured kinds in order.
func (r *RecordingNotifier) Kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Kind
	}
	return out
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Epoch is the default start time for ledger tests.
var Epoch = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// OneDayPlan is a one-day plan paying 400% once.
func OneDayPlan() investment.Plan {
	return investment.Plan{
		ID: "flash", Title: "Flash", Percentage: Dec("400"), DurationDays: 1, IntervalDays: 1,
		MinAmount: Dec("300"), MaxAmount: Dec("999"),
	}
}

// WeeklyPlan is a 28-day plan paying 2.5% every 7 days.
func WeeklyPlan() investment.Plan {
	return investment.Plan{
		ID: "weekly", Title: "Weekly", Percentage: Dec("2.5"), DurationDays: 28, IntervalDays: 7,
		MinAmount: Dec("100"), MaxAmount: Dec("10000"),
	}
}

// PersonalLoanPlan is a 5% 30-day weekly loan plan.
func PersonalLoanPlan() loan.Plan {
	return loan.Plan{
		ID: "personal", Title: "Personal", Interest: Dec("5"), DurationDays: 30,
		RepaymentInterval: loan.IntervalWeekly, MinAmount: Dec("100"), MaxAmount: Dec("5000"),
	}
}

// SeedProfile creates a profile holding balance.
func SeedProfile(t testing.TB, store storage.AccountStore, userID, email string, balance decimal.Decimal) account.Profile {
	t.Helper()
	ctx := context.Background()
	p, err := store.CreateProfile(ctx, account.Profile{ID: userID, Email: email, FullName: userID})
	if err != nil {
		t.Fatalf("seed profile %s: %v", userID, err)
	}
	if !balance.IsZero() {
		if p.Balance, err = store.IncrementBalance(ctx, userID, balance); err != nil {
			t.Fatalf("seed balance %s: %v", userID, err)
		}
	}
	return p
}

// SeedPlans upserts the given plans.
func SeedPlans(t testing.TB, store storage.PlanStore, invPlans []investment.Plan, loanPlans []loan.Plan) {
	t.Helper()
	ctx := context.Background()
	for _, p := range invPlans {
		if err := store.UpsertInvestmentPlan(ctx, p); err != nil {
			t.Fatalf("seed investment plan %s: %v", p.ID, err)
		}
	}
	for _, p := range loanPlans {
		if err := store.UpsertLoanPlan(ctx, p); err != nil {
			t.Fatalf("seed loan plan %s: %v", p.ID, err)
		}
	}
}

// Balance reads a user's USD balance.
func Balance(t testing.TB, store storage.AccountStore, userID string) decimal.Decimal {
	t.Helper()
	p, err := store.GetProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("get profile %s: %v", userID, err)
	}
	return p.Balance
}
