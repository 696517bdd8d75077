package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodDays returns the nominal length of one repayment period.
func (i Interval) PeriodDays() int {
	switch i {
	case IntervalWeekly:
		return 7
	case IntervalBiWeekly:
		return 14
	default:
		return 30
	}
}

// dueAfter returns the due date of the n-th period (1-based) counted from start.
// Monthly periods advance by calendar months.
func (i Interval) dueAfter(start time.Time, n int) time.Time {
	if i == IntervalMonthly {
		return start.AddDate(0, n, 0)
	}
	return start.AddDate(0, 0, n*i.PeriodDays())
}

// Periods is ceil(durationDays / periodDays), at least one.
func Periods(durationDays int, interval Interval) int {
	period := interval.PeriodDays()
	n := (durationDays + period - 1) / period
	if n < 1 {
		n = 1
	}
	return n
}

// BuildSchedule splits total evenly across the repayment periods of a loan
// approved at start. Each installment is total/n rounded to cents; the last
// installment does not absorb the rounding remainder.
func BuildSchedule(total decimal.Decimal, durationDays int, interval Interval, start time.Time) Schedule {
	n := Periods(durationDays, interval)
	per := total.Div(decimal.NewFromInt(int64(n))).Round(2)

	out := make(Schedule, n)
	for k := 0; k < n; k++ {
		out[k] = Installment{
			DueDate: interval.dueAfter(start, k+1),
			Amount:  per,
			Status:  InstallmentPending,
		}
	}
	return out
}

// Terms computes the fixed interest and total repayment for a principal.
func Terms(plan Plan, amount decimal.Decimal) (interest, total decimal.Decimal) {
	interest = plan.InterestAmount(amount)
	return interest, amount.Add(interest)
}
