// Package payouts credits periodic returns on active investments.
package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/app/storage"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/pkg/logger"
)

// DefaultBatchSize bounds how many due investments one sweep examines.
const DefaultBatchSize = 500

// SweepResult summarises one ProcessDue call.
type SweepResult struct {
	Processed int             `json:"processed"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Credited  decimal.Decimal `json:"credited"`
}

type outcome int

const (
	outcomeCredited outcome = iota
	outcomeCompleted
	outcomeSkipped
)

// Processor runs payout sweeps.
type Processor struct {
	store     storage.Store
	log       *logger.Logger
	now       func() time.Time
	batchSize int
}

// NewProcessor constructs a payout processor.
func NewProcessor(store storage.Store, batchSize int, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewDefault("payouts")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Processor{store: store, log: log, now: time.Now, batchSize: batchSize}
}

// SetClock overrides the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// ProcessDue credits one payout window on every active investment whose next
// payout date has passed. Each investment is handled in its own store
// transaction; a failure is counted and does not stop the sweep.
func (p *Processor) ProcessDue(ctx context.Context) (SweepResult, error) {
	now := p.now().UTC()
	result := SweepResult{Credited: decimal.Zero}

	due, err := p.store.ListDueInvestments(ctx, now, p.batchSize)
	if err != nil {
		return result, svcerrors.Unexpected("Failed to list due investments", err)
	}

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		entry := p.log.FromContext(ctx).WithField("investment_id", d.Investment.ID)
		credited, done, out, err := p.processOne(ctx, d, now)
		if err != nil {
			result.Failed++
			metrics.RecordPayout("failed", 0)
			entry.WithError(err).Error("payout failed")
			// Moves the row behind healthy due rows in later batches.
			if markErr := p.store.RecordPayoutFailure(ctx, d.Investment.ID, now); markErr != nil {
				entry.WithError(markErr).Warn("record payout failure")
			}
			continue
		}
		switch out {
		case outcomeSkipped:
			result.Skipped++
			metrics.RecordPayout("skipped", 0)
			entry.Debug("payout skipped: investment advanced concurrently")
			continue
		case outcomeCredited:
			result.Credited = result.Credited.Add(credited)
			usd, _ := credited.Float64()
			metrics.RecordPayout("credited", usd)
			entry.WithField("amount", credited.String()).Info("payout credited")
		}
		if done {
			result.Completed++
			metrics.RecordPayout("completed", 0)
			entry.Info("investment completed")
		}
	}
	return result, nil
}

func (p *Processor) processOne(ctx context.Context, d investment.Due, now time.Time) (decimal.Decimal, bool, outcome, error) {
	inv, plan := d.Investment, d.Plan

	if investment.Exhausted(inv, plan) {
		adv := investment.Advance{
			InvestmentID:    inv.ID,
			ExpectedPayouts: inv.TotalPayouts,
			TotalPayouts:    inv.TotalPayouts,
			NextPayoutDate:  inv.NextPayoutDate,
			Status:          investment.StatusCompleted,
			UpdatedAt:       now,
		}
		if _, err := p.store.AdvanceInvestment(ctx, adv); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return decimal.Zero, false, outcomeSkipped, nil
			}
			return decimal.Zero, false, 0, err
		}
		return decimal.Zero, true, outcomeCompleted, nil
	}

	amount := plan.PayoutAmount(inv.Amount)
	adv := investment.NextAdvance(inv, plan, now)

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		if _, err := tx.IncrementBalance(ctx, inv.UserID, amount); err != nil {
			return err
		}
		if _, err := tx.CreatePayout(ctx, investment.Payout{
			InvestmentID: inv.ID,
			UserID:       inv.UserID,
			Sequence:     inv.TotalPayouts + 1,
			Amount:       amount,
			PayoutDate:   now,
		}); err != nil {
			return err
		}
		_, err := tx.AdvanceInvestment(ctx, adv)
		return err
	})
	if errors.Is(err, storage.ErrConflict) {
		return decimal.Zero, false, outcomeSkipped, nil
	}
	if err != nil {
		return decimal.Zero, false, 0, err
	}
	return amount, adv.Status == investment.StatusCompleted, outcomeCredited, nil
}
