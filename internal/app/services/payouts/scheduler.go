package payouts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/locking"
	"github.com/vaultline/ledger/pkg/logger"
)

// LockKey is the lease name shared by every sweep runner.
const LockKey = "payout-sweep"

// Scheduler runs the payout sweep on a cron schedule. Every run first takes a
// lease from the Locker so at most one sweep executes across all replicas.
type Scheduler struct {
	processor *Processor
	locker    locking.Locker
	lockTTL   time.Duration
	schedule  string
	log       *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler validates the schedule (standard cron or @every descriptors).
func NewScheduler(processor *Processor, locker locking.Locker, schedule string, lockTTL time.Duration, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("payout-scheduler")
	}
	if locker == nil {
		locker = locking.NewLocal()
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid payout schedule %q: %w", schedule, err)
	}
	return &Scheduler{processor: processor, locker: locker, lockTTL: lockTTL, schedule: schedule, log: log}, nil
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "payout-scheduler" }

// Start registers the sweep job and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cronLog := cron.PrintfLogger(s.log)
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, _, err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Error("scheduled payout sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule payout sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", s.schedule).Info("payout scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one guarded sweep. ran is false when another runner holds
// the lease.
func (s *Scheduler) RunOnce(ctx context.Context) (result SweepResult, ran bool, err error) {
	start := time.Now()
	lease, ok, err := s.locker.TryLock(ctx, LockKey, s.lockTTL)
	if err != nil {
		metrics.ObserveSweep("error", time.Since(start))
		return SweepResult{}, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		metrics.ObserveSweep("skipped", time.Since(start))
		s.log.Info("payout sweep skipped: lease held elsewhere")
		return SweepResult{}, false, nil
	}
	defer func() {
		if rerr := lease.Release(context.Background()); rerr != nil {
			s.log.WithError(rerr).Warn("release sweep lock")
		}
	}()

	result, err = s.processor.ProcessDue(ctx)
	label := "ok"
	if err != nil {
		label = "error"
	}
	metrics.ObserveSweep(label, time.Since(start))
	s.log.WithField("processed", result.Processed).
		WithField("completed", result.Completed).
		WithField("failed", result.Failed).
		WithField("skipped", result.Skipped).
		WithField("credited", result.Credited.String()).
		WithField("duration", time.Since(start).String()).
		Info("payout sweep finished")
	return result, true, err
}
