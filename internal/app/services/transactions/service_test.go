package transactions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/ledger/internal/app/domain/transaction"
	"github.com/vaultline/ledger/internal/app/notify"
	"github.com/vaultline/ledger/internal/app/pricing"
	"github.com/vaultline/ledger/internal/app/storage/memory"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/pkg/logger"
	"github.com/vaultline/ledger/pkg/testutil"
)

type fixture struct {
	store    *memory.Store
	svc      *Service
	notifier *testutil.RecordingNotifier
	clock    *testutil.Clock
}

func newFixture(t *testing.T, balance string, oracle pricing.Oracle) fixture {
	t.Helper()
	store := memory.New()
	clock := testutil.NewClock(testutil.Epoch)
	store.SetClock(clock.Now)
	testutil.SeedProfile(t, store, "u-1", "u1@example.com", testutil.Dec(balance))

	if oracle == nil {
		oracle = pricing.NewStaticOracle(map[string]decimal.Decimal{"BTC": testutil.Dec("40000"), "ETH": testutil.Dec("2500")})
	}
	notifier := &testutil.RecordingNotifier{}
	svc := New(store, oracle, notifier, []string{"btc", "ETH"}, logger.NewNop())
	svc.SetClock(clock.Now)
	return fixture{store: store, svc: svc, notifier: notifier, clock: clock}
}

func TestCreateDeposit(t *testing.T) {
	f := newFixture(t, "0", nil)
	tx, err := f.svc.CreateDeposit(context.Background(), "u-1", Request{CryptoType: "btc", Amount: testutil.Dec("1000")})
	require.NoError(t, err)

	assert.Equal(t, transaction.TypeDeposit, tx.Type)
	assert.Equal(t, transaction.StatusPending, tx.Status)
	assert.Equal(t, "BTC", tx.CryptoType)
	assert.Regexp(t, `^DEP-\d+-[A-Z0-9]{6}$`, tx.Reference)
	assert.Nil(t, tx.CryptoAmount)
	assert.True(t, testutil.Balance(t, f.store, "u-1").IsZero())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, "100", nil)
	ctx := context.Background()

	_, err := f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "DOGE", Amount: testutil.Dec("10")})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))

	_, err = f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("0")})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))

	_, err = f.svc.CreateDeposit(ctx, "", Request{CryptoType: "BTC", Amount: testutil.Dec("10")})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotAuthenticated))

	_, err = f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("10")})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation), "wallet address required")

	_, err = f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("100.01"), WalletAddress: "bc1q"})
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInsufficientFunds))
}

func TestApproveDepositCreditsBalanceAndWallet(t *testing.T) {
	f := newFixture(t, "0", nil)
	ctx := context.Background()
	tx, err := f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("1000")})
	require.NoError(t, err)

	approved, err := f.svc.ApproveDeposit(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCompleted, approved.Status)
	require.NotNil(t, approved.PriceUSD)
	require.NotNil(t, approved.CryptoAmount)
	assert.True(t, approved.PriceUSD.Equal(testutil.Dec("40000")))
	assert.True(t, approved.CryptoAmount.Equal(testutil.Dec("0.025")))
	require.NotNil(t, approved.ProcessedAt)

	profile, err := f.store.GetProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, profile.Balance.Equal(testutil.Dec("1000")))
	assert.True(t, profile.WalletBalance("BTC").Equal(testutil.Dec("0.025")))

	assert.Equal(t, []notify.Kind{notify.KindDepositApproved}, f.notifier.Kinds())
	assert.Equal(t, "0.025", f.notifier.Sent()[0].Data["cryptoAmount"])

	_, err = f.svc.ApproveDeposit(ctx, tx.ID)
	se := svcerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, svcerrors.CodeAlreadyProcessed, se.Code)
	assert.Equal(t, "completed", se.CurrentStatus())
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("1000")), "credited once")
}

func TestApproveWithdrawalDebitsBalance(t *testing.T) {
	f := newFixture(t, "500", nil)
	ctx := context.Background()
	tx, err := f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "ETH", Amount: testutil.Dec("250"), WalletAddress: "0xabc"})
	require.NoError(t, err)
	assert.Regexp(t, `^WDR-`, tx.Reference)

	approved, err := f.svc.Approve(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, approved.CryptoAmount.Equal(testutil.Dec("0.1")))
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("250")))
	assert.Equal(t, []notify.Kind{notify.KindWithdrawalApproved}, f.notifier.Kinds())
}

func TestApproveWithdrawalInsufficientAtApproval(t *testing.T) {
	f := newFixture(t, "300", nil)
	ctx := context.Background()
	first, err := f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "ETH", Amount: testutil.Dec("200"), WalletAddress: "0xabc"})
	require.NoError(t, err)
	second, err := f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "ETH", Amount: testutil.Dec("200"), WalletAddress: "0xabc"})
	require.NoError(t, err)

	_, err = f.svc.ApproveWithdrawal(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.svc.ApproveWithdrawal(ctx, second.ID)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeInsufficientFunds), "%v", err)

	got, err := f.store.GetTransaction(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, got.Status, "settlement rolled back")
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("100")))
}

func TestApprovePriceFailureWritesNothing(t *testing.T) {
	var calls int32
	oracle := pricing.OracleFunc(func(context.Context, string) (decimal.Decimal, error) {
		atomic.AddInt32(&calls, 1)
		return decimal.Zero, errors.New("quote service unavailable")
	})
	f := newFixture(t, "0", oracle)
	ctx := context.Background()
	tx, err := f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("1000")})
	require.NoError(t, err)

	_, err = f.svc.ApproveDeposit(ctx, tx.ID)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeUpstream), "%v", err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	got, err := f.store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, got.Status)
	assert.True(t, testutil.Balance(t, f.store, "u-1").IsZero())
	assert.Empty(t, f.notifier.Kinds())
}

func TestApproveChecksType(t *testing.T) {
	f := newFixture(t, "0", nil)
	ctx := context.Background()
	tx, err := f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("10")})
	require.NoError(t, err)

	_, err = f.svc.ApproveWithdrawal(ctx, tx.ID)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))

	_, err = f.svc.ApproveDeposit(ctx, "missing")
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeNotFound))
}

func TestReject(t *testing.T) {
	f := newFixture(t, "100", nil)
	ctx := context.Background()
	tx, err := f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("50"), WalletAddress: "bc1q"})
	require.NoError(t, err)

	rejected, err := f.svc.RejectWithdrawal(ctx, tx.ID, " address flagged ")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRejected, rejected.Status)
	assert.Equal(t, "address flagged", rejected.AdminNotes)
	assert.Nil(t, rejected.CryptoAmount)
	assert.True(t, testutil.Balance(t, f.store, "u-1").Equal(testutil.Dec("100")))
	assert.Equal(t, []notify.Kind{notify.KindWithdrawalRejected}, f.notifier.Kinds())

	_, err = f.svc.Approve(ctx, tx.ID)
	assert.Equal(t, "rejected", svcerrors.GetServiceError(err).CurrentStatus())

	dep, err := f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("50")})
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, dep.ID, "")
	require.NoError(t, err)
	assert.Equal(t, notify.KindDepositRejected, f.notifier.Kinds()[1])
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t, "1000", nil)
	ctx := context.Background()
	testutil.SeedProfile(t, f.store, "u-2", "u2@example.com", testutil.Dec("0"))

	dep, err := f.svc.CreateDeposit(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("10")})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	wdr, err := f.svc.CreateWithdrawal(ctx, "u-1", Request{CryptoType: "BTC", Amount: testutil.Dec("20"), WalletAddress: "bc1q"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.CreateDeposit(ctx, "u-2", Request{CryptoType: "ETH", Amount: testutil.Dec("30")})
	require.NoError(t, err)

	own, err := f.svc.ListUserTransactions(ctx, "u-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, own.Total)
	assert.Equal(t, wdr.ID, own.Transactions[0].ID)
	assert.Equal(t, dep.ID, own.Transactions[1].ID)

	deposits, err := f.svc.ListAllTransactions(ctx, transaction.Filter{Type: transaction.TypeDeposit}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, deposits.Total)

	_, err = f.svc.ListAllTransactions(ctx, transaction.Filter{Type: "transfer"}, 1, 10)
	assert.True(t, svcerrors.IsCode(err, svcerrors.CodeValidation))
}
