package investment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks the catalog invariants of a plan.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if p.DurationDays <= 0 {
		return fmt.Errorf("plan %s: durationDays must be positive", p.ID)
	}
	if p.IntervalDays <= 0 {
		return fmt.Errorf("plan %s: intervalDays must be positive", p.ID)
	}
	if p.MinAmount.IsNegative() || p.MaxAmount.LessThan(p.MinAmount) {
		return fmt.Errorf("plan %s: invalid amount range [%s, %s]", p.ID, p.MinAmount, p.MaxAmount)
	}
	if p.Percentage.IsNegative() {
		return fmt.Errorf("plan %s: percentage must not be negative", p.ID)
	}
	return nil
}

// InRange reports whether amount lies within [MinAmount, MaxAmount], inclusive.
func (p Plan) InRange(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.MinAmount) && amount.LessThanOrEqual(p.MaxAmount)
}

// PayoutCount is floor(DurationDays / IntervalDays).
func (p Plan) PayoutCount() int {
	if p.IntervalDays <= 0 {
		return 0
	}
	return p.DurationDays / p.IntervalDays
}

// PayoutAmount is the credit for a single payout window: amount * percentage/100.
func (p Plan) PayoutAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(p.Percentage).Div(hundred)
}

// ExpectedReturn is PayoutAmount * PayoutCount.
func (p Plan) ExpectedReturn(amount decimal.Decimal) decimal.Decimal {
	return p.PayoutAmount(amount).Mul(decimal.NewFromInt(int64(p.PayoutCount())))
}

// Open builds a new active investment starting at now.
func (p Plan) Open(userID string, amount decimal.Decimal, now time.Time) Investment {
	now = now.UTC()
	return Investment{
		UserID:         userID,
		PlanID:         p.ID,
		Amount:         amount,
		ExpectedReturn: p.ExpectedReturn(amount),
		StartDate:      now,
		EndDate:        AddDays(now, p.DurationDays),
		Status:         StatusActive,
		NextPayoutDate: AddDays(now, p.IntervalDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NextAdvance computes the state after one payout credited at now.
func NextAdvance(inv Investment, plan Plan, now time.Time) Advance {
	status := StatusActive
	if !inv.EndDate.After(now) {
		status = StatusCompleted
	}
	return Advance{
		InvestmentID:    inv.ID,
		ExpectedPayouts: inv.TotalPayouts,
		TotalPayouts:    inv.TotalPayouts + 1,
		NextPayoutDate:  AddDays(inv.NextPayoutDate, plan.IntervalDays),
		Status:          status,
		UpdatedAt:       now.UTC(),
	}
}

// Exhausted reports whether every payout window of the plan has been credited.
func Exhausted(inv Investment, plan Plan) bool {
	return inv.TotalPayouts >= plan.PayoutCount()
}

// AddDays adds whole 24h days.
func AddDays(t time.Time, days int) time.Time {
	return t.Add(time.Duration(days) * 24 * time.Hour)
}
