package app

import (
	"context"
	"fmt"

	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/pricing"
	"github.com/vaultline/ledger/internal/app/services/accounts"
	"github.com/vaultline/ledger/internal/app/services/investments"
	"github.com/vaultline/ledger/internal/app/services/loans"
	"github.com/vaultline/ledger/internal/app/services/payouts"
	"github.com/vaultline/ledger/internal/app/services/transactions"
	"github.com/vaultline/ledger/internal/app/storage"
	"github.com/vaultline/ledger/internal/app/storage/memory"
	"github.com/vaultline/ledger/internal/app/system"
	"github.com/vaultline/ledger/internal/config"
	"github.com/vaultline/ledger/internal/locking"
	"github.com/vaultline/ledger/pkg/logger"
)

// Dependencies are the collaborators the application is built from. Nil
// fields fall back to in-process implementations.
type Dependencies struct {
	Store    storage.Store
	Oracle   pricing.Oracle
	Notifier notify.Notifier
	Locker   locking.Locker

	Symbols    []string
	AdminEmail string
	Payouts    config.PayoutConfig
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store        storage.Store
	Accounts     *accounts.Service
	Investments  *investments.Service
	Loans        *loans.Service
	Transactions *transactions.Service
	Payouts      *payouts.Processor
	// Sweeps runs lock-guarded sweeps. It is only started on a schedule when
	// payouts are enabled.
	Sweeps *payouts.Scheduler
}

// New builds a fully initialised application.
func New(deps Dependencies, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Store == nil {
		deps.Store = memory.New()
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("price oracle is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Locker == nil {
		deps.Locker = locking.NewLocal()
	}
	if deps.Payouts.Schedule == "" {
		deps.Payouts.Schedule = "@every 1h"
	}
	if len(deps.Symbols) == 0 {
		deps.Symbols = config.DefaultSymbols
	}

	manager := system.NewManager()
	if c, ok := deps.Notifier.(notificationCloser); ok {
		// Registered first so it stops last, after every producer.
		if err := manager.Register(notifierService{c}); err != nil {
			return nil, fmt.Errorf("register notifier: %w", err)
		}
	}

	processor := payouts.NewProcessor(deps.Store, deps.Payouts.BatchSize, log.Named("payouts"))
	application := &Application{
		manager:      manager,
		log:          log,
		Store:        deps.Store,
		Accounts:     accounts.New(deps.Store, log.Named("accounts")),
		Investments:  investments.New(deps.Store, deps.Notifier, log.Named("investments")),
		Loans:        loans.New(deps.Store, deps.Notifier, deps.AdminEmail, log.Named("loans")),
		Transactions: transactions.New(deps.Store, deps.Oracle, deps.Notifier, deps.Symbols, log.Named("transactions")),
		Payouts:      processor,
	}

	sched, err := payouts.NewScheduler(processor, deps.Locker, deps.Payouts.Schedule, deps.Payouts.LockTTL, log.Named("payout-scheduler"))
	if err != nil {
		return nil, err
	}
	application.Sweeps = sched
	if deps.Payouts.Enabled {
		if err := manager.Register(sched); err != nil {
			return nil, fmt.Errorf("register %s: %w", sched.Name(), err)
		}
	} else {
		log.Warn("PAYOUTS_ENABLED=false; scheduled payout sweeps disabled")
	}

	return application, nil
}

// RunPayoutSweep runs one lock-guarded payout sweep. ran is false when another
// process holds the sweep lease.
func (a *Application) RunPayoutSweep(ctx context.Context) (result payouts.SweepResult, ran bool, err error) {
	return a.Sweeps.RunOnce(ctx)
}

// SeedCatalog upserts every plan in cat.
func (a *Application) SeedCatalog(ctx context.Context, cat *config.Catalog) error {
	for _, p := range cat.InvestmentPlans {
		if err := a.Store.UpsertInvestmentPlan(ctx, p); err != nil {
			return fmt.Errorf("seed investment plan %s: %w", p.ID, err)
		}
	}
	for _, p := range cat.LoanPlans {
		if err := a.Store.UpsertLoanPlan(ctx, p); err != nil {
			return fmt.Errorf("seed loan plan %s: %w", p.ID, err)
		}
	}
	a.log.WithField("investment_plans", len(cat.InvestmentPlans)).
		WithField("loan_plans", len(cat.LoanPlans)).
		Info("plan catalog seeded")
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

type notificationCloser interface {
	Close(ctx context.Context) error
}

// notifierService drains in-flight notifications on Stop.
type notifierService struct {
	closer notificationCloser
}

func (notifierService) Name() string                     { return "notifier" }
func (notifierService) Start(context.Context) error      { return nil }
func (n notifierService) Stop(ctx context.Context) error { return n.closer.Close(ctx) }
