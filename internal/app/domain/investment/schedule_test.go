package investment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPlanArithmeticOneDayPlan(t *testing.T) {
	plan := Plan{ID: "p", Percentage: d("400"), DurationDays: 1, IntervalDays: 1, MinAmount: d("300"), MaxAmount: d("999")}

	if got := plan.PayoutCount(); got != 1 {
		t.Fatalf("PayoutCount() = %d, want 1", got)
	}
	if got := plan.ExpectedReturn(d("500")); !got.Equal(d("2000")) {
		t.Fatalf("ExpectedReturn() = %s, want 2000", got)
	}
	if got := plan.PayoutAmount(d("500")); !got.Equal(d("2000")) {
		t.Fatalf("PayoutAmount() = %s, want 2000", got)
	}
}

func TestPlanPayoutCountFloors(t *testing.T) {
	plan := Plan{DurationDays: 30, IntervalDays: 7, Percentage: d("2.5")}
	if got := plan.PayoutCount(); got != 4 {
		t.Fatalf("PayoutCount() = %d, want 4", got)
	}
	if got := plan.ExpectedReturn(d("1000")); !got.Equal(d("100")) {
		t.Fatalf("ExpectedReturn() = %s, want 100", got)
	}
}

func TestPlanInRangeInclusive(t *testing.T) {
	plan := Plan{MinAmount: d("300"), MaxAmount: d("999")}
	cases := map[string]bool{"299.99": false, "300": true, "650": true, "999": true, "999.01": false}
	for amount, want := range cases {
		if got := plan.InRange(d(amount)); got != want {
			t.Errorf("InRange(%s) = %v, want %v", amount, got, want)
		}
	}
}

func TestOpenSetsDates(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	plan := Plan{ID: "p", Percentage: d("5"), DurationDays: 30, IntervalDays: 7}
	inv := plan.Open("u1", d("100"), now)

	if !inv.EndDate.Equal(now.AddDate(0, 0, 30)) {
		t.Errorf("EndDate = %v", inv.EndDate)
	}
	if !inv.NextPayoutDate.Equal(now.AddDate(0, 0, 7)) {
		t.Errorf("NextPayoutDate = %v", inv.NextPayoutDate)
	}
	if inv.Status != StatusActive || inv.TotalPayouts != 0 {
		t.Errorf("unexpected initial state: %+v", inv)
	}
}

func TestNextAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := Plan{ID: "p", Percentage: d("5"), DurationDays: 14, IntervalDays: 7}
	inv := plan.Open("u1", d("100"), start)

	adv := NextAdvance(inv, plan, start.AddDate(0, 0, 7))
	if adv.Status != StatusActive {
		t.Fatalf("status = %s, want active before end date", adv.Status)
	}
	if !adv.NextPayoutDate.Equal(start.AddDate(0, 0, 14)) || adv.TotalPayouts != 1 || adv.ExpectedPayouts != 0 {
		t.Fatalf("unexpected advance: %+v", adv)
	}

	inv.TotalPayouts = 1
	inv.NextPayoutDate = adv.NextPayoutDate
	adv = NextAdvance(inv, plan, start.AddDate(0, 0, 14))
	if adv.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed at end date", adv.Status)
	}
	inv.TotalPayouts = 2
	if !Exhausted(inv, plan) {
		t.Fatal("Exhausted() = false after all payouts")
	}
}

func TestPlanValidate(t *testing.T) {
	valid := Plan{ID: "p", DurationDays: 10, IntervalDays: 1, MinAmount: d("1"), MaxAmount: d("10"), Percentage: d("1")}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	bad := valid
	bad.MaxAmount = d("0.5")
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for inverted range")
	}
	bad = valid
	bad.IntervalDays = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
