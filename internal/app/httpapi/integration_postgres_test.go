//go:build integration && postgres

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/vaultline/ledger/internal/app/runtime"
	"github.com/vaultline/ledger/internal/config"
	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/pkg/logger"
)

// Exercises migrations and the deposit/loan flows against a real Postgres.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	secret := "integration-secret"
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{Driver: "postgres", DSN: dsn, Migrate: true, MaxOpenConns: 5},
		Logging:  logger.LoggingConfig{Level: "warn", Output: "stderr"},
		Auth:     config.AuthConfig{Mode: "jwt", JWTSecret: secret, AdminRole: "admin"},
		Pricing:  config.PricingConfig{Mode: "static", StaticPrices: config.CSV{"BTC=40000"}, Symbols: config.CSV{"BTC"}},
		Mail:     config.MailConfig{Driver: "log"},
		Payouts:  config.PayoutConfig{Schedule: "@every 1h", BatchSize: 100, LockBackend: "postgres"},
		CORS:     config.CORSConfig{AllowedOrigins: config.CSV{"*"}},
	}

	ctx := context.Background()
	rt, err := runtime.NewApplication(ctx, cfg)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(ctx) })
	handler := rt.Handler()

	userID := "it-user-" + time.Now().Format("150405.000000")
	userToken := sign(t, secret, userID, "")
	adminToken := sign(t, secret, "it-admin", "admin")

	deposit := call(t, handler, http.MethodPost, "/api/transactions/deposits", userToken,
		map[string]any{"cryptoType": "BTC", "amount": "2000"}, http.StatusCreated)
	call(t, handler, http.MethodPost, "/api/admin/transactions/"+deposit["id"].(string)+"/approve", adminToken, nil, http.StatusOK)

	profile := call(t, handler, http.MethodGet, "/api/profile", userToken, nil, http.StatusOK)
	if profile["balance"] != "2000" {
		t.Fatalf("balance = %v", profile["balance"])
	}

	loan := call(t, handler, http.MethodPost, "/api/loans", userToken,
		map[string]any{"planId": "personal", "amount": "500", "purpose": "integration"}, http.StatusCreated)
	call(t, handler, http.MethodPost, "/api/admin/loans/"+loan["id"].(string)+"/approve", adminToken, nil, http.StatusOK)
	call(t, handler, http.MethodPost, "/api/admin/loans/"+loan["id"].(string)+"/approve", adminToken, nil, http.StatusConflict)

	call(t, handler, http.MethodPost, "/api/investments", userToken,
		map[string]any{"planId": "starter", "amount": "500"}, http.StatusCreated)

	run := call(t, handler, http.MethodPost, "/api/admin/payouts/run", adminToken, nil, http.StatusOK)
	if run["ran"] != true {
		t.Fatalf("payout sweep did not run: %v", run)
	}
}

func sign(t *testing.T, secret, userID, role string) string {
	t.Helper()
	token, err := identity.SignHS256([]byte(secret), identity.Claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func call(t *testing.T, h http.Handler, method, url, token string, body any, want int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, url, want, resp.Code, resp.Body.String())
	}
	out := map[string]any{}
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	return out
}
