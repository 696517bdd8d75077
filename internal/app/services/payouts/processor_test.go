package payouts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/ledger/internal/app/domain/investment"
	"github.com/vaultline/ledger/internal/app/storage"
	"github.com/vaultline/ledger/internal/app/storage/memory"
	"github.com/vaultline/ledger/pkg/logger"
	"github.com/vaultline/ledger/pkg/testutil"
)

type fixture struct {
	store *memory.Store
	proc  *Processor
	clock *testutil.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	clock := testutil.NewClock(testutil.Epoch)
	store.SetClock(clock.Now)
	testutil.SeedPlans(t, store, []investment.Plan{testutil.OneDayPlan(), testutil.WeeklyPlan()}, nil)

	proc := NewProcessor(store, 0, logger.NewNop())
	proc.SetClock(clock.Now)
	return fixture{store: store, proc: proc, clock: clock}
}

func (f fixture) open(t *testing.T, userID string, plan investment.Plan, amount string) investment.Investment {
	t.Helper()
	inv, err := f.store.CreateInvestment(context.Background(), plan.Open(userID, testutil.Dec(amount), f.clock.Now()))
	require.NoError(t, err)
	return inv
}

const day = 24 * time.Hour

func TestProcessDue_SinglePayoutCompletes(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("500"))
	inv := f.open(t, "u-1", testutil.OneDayPlan(), "500")

	res, err := f.proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed, "nothing is due before the first interval")

	f.clock.Advance(day)
	res, err = f.proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Completed)
	assert.True(t, res.Credited.Equal(testutil.Dec("2000")), res.Credited.String())
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("2500")))

	got, err := f.store.GetInvestment(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, investment.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.TotalPayouts)

	payouts, err := f.store.ListPayouts(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, 1, payouts[0].Sequence)
	assert.True(t, payouts[0].Amount.Equal(testutil.Dec("2000")))
}

func TestProcessDue_CreditsExpectedReturnAcrossWindows(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
	inv := f.open(t, "u-1", testutil.WeeklyPlan(), "1000")

	for week := 1; week <= 4; week++ {
		f.clock.Advance(7 * day)
		res, err := f.proc.ProcessDue(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.Processed, "week %d", week)
		assert.True(t, res.Credited.Equal(testutil.Dec("25")), "week %d credited %s", week, res.Credited)

		got, err := f.store.GetInvestment(context.Background(), inv.ID)
		require.NoError(t, err)
		assert.Equal(t, week, got.TotalPayouts)
		if week < 4 {
			assert.Equal(t, investment.StatusActive, got.Status)
		} else {
			assert.Equal(t, investment.StatusCompleted, got.Status)
		}
	}

	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(inv.ExpectedReturn),
		"credited total must equal expected return %s", inv.ExpectedReturn)
}

func TestProcessDue_CompletedInvestmentsAreNotPaidAgain(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
	f.open(t, "u-1", testutil.OneDayPlan(), "300")

	f.clock.Advance(day)
	_, err := f.proc.ProcessDue(context.Background())
	require.NoError(t, err)
	before := testutil.Balance(t, f.store, "u-1")

	for i := 0; i < 3; i++ {
		f.clock.Advance(day)
		res, err := f.proc.ProcessDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Processed)
	}
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(before))
}

func TestProcessDue_ExhaustedInvestmentCompletesWithoutCredit(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
	plan := testutil.OneDayPlan()
	opened := plan.Open("u-1", testutil.Dec("300"), f.clock.Now())
	opened.TotalPayouts = plan.PayoutCount()
	opened.EndDate = opened.EndDate.Add(30 * day)
	inv, err := f.store.CreateInvestment(context.Background(), opened)
	require.NoError(t, err)

	f.clock.Advance(day)
	res, err := f.proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.True(t, res.Credited.IsZero())
	assert.True(t, testutil.Balance(t, f.store, "u-1").IsZero())

	got, err := f.store.GetInvestment(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, investment.StatusCompleted, got.Status)
}

// faultyStore injects failures into the transactional ledger view.
type faultyStore struct {
	*memory.Store
	payoutErr  error
	advanceErr error
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Ledger) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		return fn(ctx, &faultyLedger{Ledger: tx, store: s})
	})
}

type faultyLedger struct {
	storage.Ledger
	store *faultyStore
}

func (l *faultyLedger) CreatePayout(ctx context.Context, p investment.Payout) (investment.Payout, error) {
	if l.store.payoutErr != nil {
		return investment.Payout{}, l.store.payoutErr
	}
	return l.Ledger.CreatePayout(ctx, p)
}

func (l *faultyLedger) AdvanceInvestment(ctx context.Context, adv investment.Advance) (investment.Investment, error) {
	if l.store.advanceErr != nil {
		return investment.Investment{}, l.store.advanceErr
	}
	return l.Ledger.AdvanceInvestment(ctx, adv)
}

func TestProcessDue_FailuresRollBackTheCredit(t *testing.T) {
	cases := []struct {
		name       string
		payoutErr  error
		advanceErr error
		failed     int
		skipped    int
	}{
		{name: "payout insert fails", payoutErr: errors.New("disk full"), failed: 1},
		{name: "advance fails", advanceErr: errors.New("connection reset"), failed: 1},
		{name: "advance loses race", advanceErr: storage.ErrConflict, skipped: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
			inv := f.open(t, "u-1", testutil.OneDayPlan(), "500")

			store := &faultyStore{Store: f.store, payoutErr: tc.payoutErr, advanceErr: tc.advanceErr}
			proc := NewProcessor(store, 10, logger.NewNop())
			proc.SetClock(f.clock.Now)

			f.clock.Advance(day)
			res, err := proc.ProcessDue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.failed, res.Failed)
			assert.Equal(t, tc.skipped, res.Skipped)
			assert.True(t, res.Credited.IsZero())
			assert.True(t, testutil.Balance(t, f.store, "u-1").IsZero(), "balance must be rolled back")

			payouts, err := f.store.ListPayouts(context.Background(), inv.ID)
			require.NoError(t, err)
			assert.Empty(t, payouts)

			got, err := f.store.GetInvestment(context.Background(), inv.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.TotalPayouts)
			assert.Equal(t, investment.StatusActive, got.Status)

			// The untouched row is still due, so the next healthy sweep pays it once.
			res, err = f.proc.ProcessDue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Processed)
			assert.Equal(t, 1, res.Completed)
			assert.True(t, res.Credited.Equal(testutil.Dec("2000")), res.Credited.String())

			payouts, err = f.store.ListPayouts(context.Background(), inv.ID)
			require.NoError(t, err)
			require.Len(t, payouts, 1)
			assert.Equal(t, 1, payouts[0].Sequence)

			res, err = f.proc.ProcessDue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, res.Processed)
			assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("2000")))
		})
	}
}

func TestProcessDue_LatePayoutPastEndDateCompletes(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
	inv := f.open(t, "u-1", testutil.WeeklyPlan(), "1000")
	require.True(t, inv.ExpectedReturn.Equal(testutil.Dec("100")))

	// No sweep ran during the 28-day term.
	f.clock.Advance(35 * day)
	res, err := f.proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Completed)
	assert.True(t, res.Credited.Equal(testutil.Dec("25")), res.Credited.String())

	got, err := f.store.GetInvestment(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, investment.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.TotalPayouts)

	f.clock.Advance(7 * day)
	res, err = f.proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("25")))
}

func TestProcessDue_OneFailureDoesNotStopTheSweep(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
	testutil.SeedProfile(t, f.store, "u-2", "u2@example.com", testutil.Dec("0"))
	f.open(t, "u-1", testutil.OneDayPlan(), "500")
	f.open(t, "u-2", testutil.OneDayPlan(), "300")

	store := &flakyStore{Store: f.store, failOn: 1}
	proc := NewProcessor(store, 10, logger.NewNop())
	proc.SetClock(f.clock.Now)

	f.clock.Advance(day)
	res, err := proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Completed)
	assert.False(t, res.Credited.IsZero())
}

// flakyStore fails the n-th transaction.
type flakyStore struct {
	*memory.Store
	failOn int
	calls  int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Ledger) error) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("serialization failure")
	}
	return s.Store.WithinTx(ctx, fn)
}

func TestProcessDue_ConcurrentSweepsCreditOnce(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"u-1", "u-2", "u-3"} {
		testutil.SeedProfile(t, f.store, id, id+"@example.com", testutil.Dec("0"))
		f.open(t, id, testutil.OneDayPlan(), "500")
	}
	f.clock.Advance(day)

	var wg sync.WaitGroup
	results := make([]SweepResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewProcessor(f.store, 10, logger.NewNop())
			p.SetClock(f.clock.Now)
			res, err := p.ProcessDue(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, r := range results {
		credited += r.Processed - r.Skipped - r.Failed
	}
	assert.Equal(t, 3, credited)
	for _, id := range []string{"u-1", "u-2", "u-3"} {
		assert.True(t, testutil.Balance(t, f.store, id).Equal(testutil.Dec("2000")), id)
	}
}

func TestProcessDue_HonoursBatchSize(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"u-1", "u-2", "u-3"} {
		testutil.SeedProfile(t, f.store, id, id+"@example.com", testutil.Dec("0"))
		f.open(t, id, testutil.OneDayPlan(), "500")
	}
	proc := NewProcessor(f.store, 2, logger.NewNop())
	proc.SetClock(f.clock.Now)
	f.clock.Advance(day)

	res, err := proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	res, err = proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

// brokenUserStore fails every balance credit for one user.
type brokenUserStore struct {
	*memory.Store
	userID string
}

func (s *brokenUserStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Ledger) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Ledger) error {
		return fn(ctx, &brokenUserLedger{Ledger: tx, userID: s.userID})
	})
}

type brokenUserLedger struct {
	storage.Ledger
	userID string
}

func (l *brokenUserLedger) IncrementBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if userID == l.userID {
		return decimal.Zero, errors.New("account frozen upstream")
	}
	return l.Ledger.IncrementBalance(ctx, userID, delta)
}

func TestProcessDue_FailingRowsDoNotStarveTheBatch(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.store, "u-bad", "bad@example.com", testutil.Dec("0"))
	testutil.SeedProfile(t, f.store, "u-1", "u1@example.com", testutil.Dec("0"))
	bad := f.open(t, "u-bad", testutil.OneDayPlan(), "500")
	f.clock.Advance(time.Hour)
	good := f.open(t, "u-1", testutil.OneDayPlan(), "500")
	require.True(t, bad.NextPayoutDate.Before(good.NextPayoutDate))

	proc := NewProcessor(&brokenUserStore{Store: f.store, userID: "u-bad"}, 1, logger.NewNop())
	proc.SetClock(f.clock.Now)
	f.clock.Advance(2 * day)

	res, err := proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed, "the earliest due row goes first")

	res, err = proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, res.Completed, "the failed row yields its slot")
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("2000")))

	res, err = proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed, "the failed row is retried once nothing else is due")

	got, err := f.store.GetInvestment(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, investment.StatusActive, got.Status)
}
