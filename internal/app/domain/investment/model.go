// Package investment holds the investment plan catalog types, user
// investments, payout records and the schedule arithmetic shared by the
// lifecycle manager and the payout processor.
package investment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a user investment.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Plan is an immutable catalog entry.
type Plan struct {
	ID           string          `json:"id" db:"id"`
	Title        string          `json:"title" db:"title"`
	Percentage   decimal.Decimal `json:"percentage" db:"percentage"`
	DurationDays int             `json:"durationDays" db:"duration_days"`
	MinAmount    decimal.Decimal `json:"minAmount" db:"min_amount"`
	MaxAmount    decimal.Decimal `json:"maxAmount" db:"max_amount"`
	IntervalDays int             `json:"intervalDays" db:"interval_days"`
}

// Investment is a user's position in a plan. Amount and ExpectedReturn are
// fixed at creation; only the payout processor mutates the remaining fields.
type Investment struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"userId" db:"user_id"`
	PlanID         string          `json:"planId" db:"plan_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	ExpectedReturn decimal.Decimal `json:"expectedReturn" db:"expected_return"`
	StartDate      time.Time       `json:"startDate" db:"start_date"`
	EndDate        time.Time       `json:"endDate" db:"end_date"`
	Status         Status          `json:"status" db:"status"`
	NextPayoutDate time.Time       `json:"nextPayoutDate" db:"next_payout_date"`
	TotalPayouts   int             `json:"totalPayouts" db:"total_payouts"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// View is the read-side join of an investment with display fields of its plan.
type View struct {
	Investment
	PlanTitle      string          `json:"planTitle" db:"plan_title"`
	PlanPercentage decimal.Decimal `json:"planPercentage" db:"plan_percentage"`
}

// Due pairs an investment selected by a payout sweep with its plan.
type Due struct {
	Investment Investment
	Plan       Plan
}

// Payout is one credited payout window. Sequence is 1-based and unique per investment.
type Payout struct {
	ID           string          `json:"id" db:"id"`
	InvestmentID string          `json:"investmentId" db:"investment_id"`
	UserID       string          `json:"userId" db:"user_id"`
	Sequence     int             `json:"sequence" db:"sequence"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	PayoutDate   time.Time       `json:"payoutDate" db:"payout_date"`
}

// Advance is a compare-and-set update applied after a payout is credited.
// ExpectedPayouts is the TotalPayouts value the processor read.
type Advance struct {
	InvestmentID    string
	ExpectedPayouts int
	TotalPayouts    int
	NextPayoutDate  time.Time
	Status          Status
	UpdatedAt       time.Time
}
