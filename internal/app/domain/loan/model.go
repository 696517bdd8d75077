// Package loan contains loan plans, loan records and repayment schedule generation.
package loan

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a loan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDefaulted Status = "defaulted"
)

// Interval is the repayment cadence of a loan plan.
type Interval string

const (
	IntervalWeekly   Interval = "weekly"
	IntervalBiWeekly Interval = "bi-weekly"
	IntervalMonthly  Interval = "monthly"
)

// Valid reports whether the interval is one of the supported cadences.
func (i Interval) Valid() bool {
	switch i {
	case IntervalWeekly, IntervalBiWeekly, IntervalMonthly:
		return true
	}
	return false
}

// Plan is an immutable loan catalog entry. Interest is a flat percentage of the principal.
type Plan struct {
	ID                string          `json:"id" db:"id"`
	Title             string          `json:"title" db:"title"`
	Interest          decimal.Decimal `json:"interest" db:"interest"`
	MinAmount         decimal.Decimal `json:"minAmount" db:"min_amount"`
	MaxAmount         decimal.Decimal `json:"maxAmount" db:"max_amount"`
	DurationDays      int             `json:"durationDays" db:"duration_days"`
	RepaymentInterval Interval        `json:"repaymentInterval" db:"repayment_interval"`
}

// Validate checks the catalog invariants of a plan.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("loan plan id is required")
	}
	if p.DurationDays <= 0 {
		return fmt.Errorf("loan plan %s: durationDays must be positive", p.ID)
	}
	if !p.RepaymentInterval.Valid() {
		return fmt.Errorf("loan plan %s: unsupported repayment interval %q", p.ID, p.RepaymentInterval)
	}
	if p.MinAmount.IsNegative() || p.MaxAmount.LessThan(p.MinAmount) {
		return fmt.Errorf("loan plan %s: invalid amount range [%s, %s]", p.ID, p.MinAmount, p.MaxAmount)
	}
	if p.Interest.IsNegative() {
		return fmt.Errorf("loan plan %s: interest must not be negative", p.ID)
	}
	return nil
}

// InRange reports whether amount lies within [MinAmount, MaxAmount], inclusive.
func (p Plan) InRange(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.MinAmount) && amount.LessThanOrEqual(p.MaxAmount)
}

// InterestAmount is the flat interest charged on amount.
func (p Plan) InterestAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(p.Interest).Div(decimal.NewFromInt(100))
}

// InstallmentStatus tracks collection of a single repayment.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
)

// Installment is one entry of a repayment schedule.
type Installment struct {
	DueDate time.Time         `json:"dueDate"`
	Amount  decimal.Decimal   `json:"amount"`
	Status  InstallmentStatus `json:"status"`
	PaidAt  *time.Time        `json:"paidAt,omitempty"`
}

// Schedule is stored as a JSON document column.
type Schedule []Installment

// Value implements driver.Valuer. The document is returned as text so lib/pq
// does not encode it as bytea.
func (s Schedule) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (s *Schedule) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("loan schedule: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Total sums the scheduled amounts.
func (s Schedule) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range s {
		sum = sum.Add(inst.Amount)
	}
	return sum
}

// AllPaid reports whether every installment has been collected.
func (s Schedule) AllPaid() bool {
	if len(s) == 0 {
		return false
	}
	for _, inst := range s {
		if inst.Status != InstallmentPaid {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	for i, inst := range s {
		out[i] = inst
		if inst.PaidAt != nil {
			t := *inst.PaidAt
			out[i].PaidAt = &t
		}
	}
	return out
}

// Loan is a user's loan request and, once approved, its repayment state.
type Loan struct {
	ID                   string          `json:"id" db:"id"`
	UserID               string          `json:"userId" db:"user_id"`
	PlanID               string          `json:"planId" db:"plan_id"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Status               Status          `json:"status" db:"status"`
	Reference            string          `json:"reference" db:"reference"`
	InterestAmount       decimal.Decimal `json:"interestAmount" db:"interest_amount"`
	TotalRepaymentAmount decimal.Decimal `json:"totalRepaymentAmount" db:"total_repayment_amount"`
	RepaymentSchedule    Schedule        `json:"repaymentSchedule" db:"repayment_schedule"`
	AdminNotes           string          `json:"adminNotes,omitempty" db:"admin_notes"`
	Purpose              string          `json:"purpose" db:"purpose"`
	DueDate              *time.Time      `json:"dueDate,omitempty" db:"due_date"`
	ApprovedAt           *time.Time      `json:"approvedAt,omitempty" db:"approved_at"`
	RejectedAt           *time.Time      `json:"rejectedAt,omitempty" db:"rejected_at"`
	CreatedAt            time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time       `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy.
func (l Loan) Clone() Loan {
	cp := l
	cp.RepaymentSchedule = l.RepaymentSchedule.Clone()
	cp.DueDate = cloneTime(l.DueDate)
	cp.ApprovedAt = cloneTime(l.ApprovedAt)
	cp.RejectedAt = cloneTime(l.RejectedAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// View joins a loan with its plan title and, for admin listings, the owner's identity.
type View struct {
	Loan
	PlanTitle string `json:"planTitle" db:"plan_title"`
	UserEmail string `json:"userEmail,omitempty" db:"user_email"`
	UserName  string `json:"userName,omitempty" db:"user_name"`
}

// Approval is the conditional pending -> approved update.
type Approval struct {
	LoanID     string
	Schedule   Schedule
	DueDate    time.Time
	ApprovedAt time.Time
}

// Filter narrows loan listings.
type Filter struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}

// Transition is a conditional status change guarded on the current status.
type Transition struct {
	LoanID     string
	From       []Status
	To         Status
	AdminNotes string
	At         time.Time
}

// Allows reports whether status is one of the accepted starting states.
func (t Transition) Allows(status Status) bool {
	for _, s := range t.From {
		if s == status {
			return true
		}
	}
	return false
}
