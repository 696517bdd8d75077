package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/domain/loan"
)

// Catalog is the set of investment and loan plans offered to users.
type Catalog struct {
	InvestmentPlans []investment.Plan
	LoanPlans       []loan.Plan
}

type catalogFile struct {
	InvestmentPlans []struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		Percentage   string `yaml:"percentage"`
		DurationDays int    `yaml:"durationDays"`
		IntervalDays int    `yaml:"intervalDays"`
		MinAmount    string `yaml:"minAmount"`
		MaxAmount    string `yaml:"maxAmount"`
	} `yaml:"investmentPlans"`
	LoanPlans []struct {
		ID                string `yaml:"id"`
		Title             string `yaml:"title"`
		Interest          string `yaml:"interest"`
		DurationDays      int    `yaml:"durationDays"`
		RepaymentInterval string `yaml:"repaymentInterval"`
		MinAmount         string `yaml:"minAmount"`
		MaxAmount         string `yaml:"maxAmount"`
	} `yaml:"loanPlans"`
}

// LoadCatalogFromPath parses and validates a YAML plan catalog.
func LoadCatalogFromPath(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML catalog bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	var (
		cat  Catalog
		errs []error
		num  = func(planID, field, v string) decimal.Decimal {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("plan %s: %s %q: %w", planID, field, v, err))
			}
			return d
		}
	)

	seen := map[string]bool{}
	for _, p := range raw.InvestmentPlans {
		plan := investment.Plan{
			ID:           p.ID,
			Title:        p.Title,
			Percentage:   num(p.ID, "percentage", p.Percentage),
			DurationDays: p.DurationDays,
			IntervalDays: p.IntervalDays,
			MinAmount:    num(p.ID, "minAmount", p.MinAmount),
			MaxAmount:    num(p.ID, "maxAmount", p.MaxAmount),
		}
		if seen[plan.ID] {
			return nil, fmt.Errorf("duplicate investment plan %s", plan.ID)
		}
		seen[plan.ID] = true
		cat.InvestmentPlans = append(cat.InvestmentPlans, plan)
	}

	seen = map[string]bool{}
	for _, p := range raw.LoanPlans {
		plan := loan.Plan{
			ID:                p.ID,
			Title:             p.Title,
			Interest:          num(p.ID, "interest", p.Interest),
			DurationDays:      p.DurationDays,
			RepaymentInterval: loan.Interval(p.RepaymentInterval),
			MinAmount:         num(p.ID, "minAmount", p.MinAmount),
			MaxAmount:         num(p.ID, "maxAmount", p.MaxAmount),
		}
		if seen[plan.ID] {
			return nil, fmt.Errorf("duplicate loan plan %s", plan.ID)
		}
		seen[plan.ID] = true
		cat.LoanPlans = append(cat.LoanPlans, plan)
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks every plan.
func (c *Catalog) Validate() error {
	for _, p := range c.InvestmentPlans {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, p := range c.LoanPlans {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCatalogOrDefault loads the catalog at path, or the built-in catalog when
// path is empty.
func LoadCatalogOrDefault(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	return LoadCatalogFromPath(path)
}

// DefaultCatalog returns the built-in plan catalog.
func DefaultCatalog() *Catalog {
	d := decimal.RequireFromString
	return &Catalog{
		InvestmentPlans: []investment.Plan{
			{ID: "starter", Title: "Starter", Percentage: d("2.5"), DurationDays: 30, IntervalDays: 7, MinAmount: d("100"), MaxAmount: d("999")},
			{ID: "silver", Title: "Silver", Percentage: d("4"), DurationDays: 60, IntervalDays: 7, MinAmount: d("1000"), MaxAmount: d("4999")},
			{ID: "gold", Title: "Gold", Percentage: d("6"), DurationDays: 90, IntervalDays: 14, MinAmount: d("5000"), MaxAmount: d("19999")},
			{ID: "platinum", Title: "Platinum", Percentage: d("10"), DurationDays: 180, IntervalDays: 30, MinAmount: d("20000"), MaxAmount: d("100000")},
		},
		LoanPlans: []loan.Plan{
			{ID: "personal", Title: "Personal", Interest: d("5"), DurationDays: 30, RepaymentInterval: loan.IntervalWeekly, MinAmount: d("100"), MaxAmount: d("5000")},
			{ID: "business", Title: "Business", Interest: d("8"), DurationDays: 90, RepaymentInterval: loan.IntervalBiWeekly, MinAmount: d("1000"), MaxAmount: d("25000")},
			{ID: "growth", Title: "Growth", Interest: d("12"), DurationDays: 180, RepaymentInterval: loan.IntervalMonthly, MinAmount: d("5000"), MaxAmount: d("100000")},
		},
	}
}
