package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultline/ledger/internal/app/domain/loan"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "@every 1h", cfg.Payouts.Schedule)
	assert.Equal(t, 3, cfg.Pricing.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Pricing.InitialBackoff)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, CSV{"*"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Pricing.Symbols.Contains("BTC"))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("ADMIN_USER_IDS", " admin-1, admin-2 ,")
	t.Setenv("SUPPORTED_CRYPTO", "btc,doge")
	t.Setenv("PAYOUT_LOCK", "postgres")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, CSV{"admin-1", "admin-2"}, cfg.Auth.AdminUserIDs)
	assert.Equal(t, CSV{"BTC", "DOGE"}, cfg.Pricing.Symbols)
	assert.Equal(t, "postgres", cfg.Payouts.LockBackend)
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("PAYOUT_LOCK", "redis")

	_, err := FromEnv()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "DATABASE_URL"), msg)
	assert.True(t, strings.Contains(msg, "AUTH_JWT_SECRET"), msg)
	assert.True(t, strings.Contains(msg, "REDIS_URL"), msg)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("AUTH_JWT_SECRET=from-file\nSERVER_PORT=9090\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("AUTH_JWT_SECRET", "")
	os.Unsetenv("AUTH_JWT_SECRET")
	t.Cleanup(func() { os.Unsetenv("SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 9090, cfg.Server.Port)
}

const sampleCatalog = `
investmentPlans:
  - id: flash
    title: Flash
    percentage: "400"
    durationDays: 1
    intervalDays: 1
    minAmount: "300"
    maxAmount: "999"
loanPlans:
  - id: weekly
    title: Weekly
    interest: "5"
    durationDays: 30
    repaymentInterval: weekly
    minAmount: "100"
    maxAmount: "5000"
`

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, cat.InvestmentPlans, 1)
	require.Len(t, cat.LoanPlans, 1)

	assert.True(t, cat.InvestmentPlans[0].Percentage.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, loan.IntervalWeekly, cat.LoanPlans[0].RepaymentInterval)
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	_, err := ParseCatalog([]byte(strings.Replace(sampleCatalog, `"400"`, `"lots"`, 1)))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(strings.Replace(sampleCatalog, "repaymentInterval: weekly", "repaymentInterval: daily", 1)))
	assert.Error(t, err)
}

func TestLoadCatalogOrDefault(t *testing.T) {
	cat, err := LoadCatalogOrDefault("")
	require.NoError(t, err)
	require.NoError(t, cat.Validate())
	assert.NotEmpty(t, cat.InvestmentPlans)

	_, err = LoadCatalogOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
