package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/pkg/logger"
)

var testSecret = []byte("middleware-test-secret")

func newResolver(t *testing.T) identity.Resolver {
	t.Helper()
	r, err := identity.NewJWTResolver(testSecret, "", "admin", identity.NewAllowlist([]string{"root"}))
	if err != nil {
		t.Fatalf("NewJWTResolver() error = %v", err)
	}
	return r
}

func generateTestToken(t *testing.T, userID, role string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	token, err := identity.SignHS256(testSecret, identity.Claims{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type recordingEnsurer struct {
	ids []string
	err error
}

func (r *recordingEnsurer) EnsureProfile(_ context.Context, id identity.Identity) (account.Profile, error) {
	r.ids = append(r.ids, id.UserID)
	return account.Profile{ID: id.UserID}, r.err
}

func okHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	var seen string
	m := NewAuthMiddleware(newResolver(t), nil, logger.NewNop(), []string{"/health"})

	rec := httptest.NewRecorder()
	m.Handler(okHandler(&seen)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware(newResolver(t), nil, logger.NewNop(), nil)
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"garbage token":  "Bearer not-a-jwt",
		"expired token":  "Bearer " + generateTestToken(t, "u-1", "", true),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			var seen string
			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			m.Handler(okHandler(&seen)).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if seen != "" {
				t.Fatalf("next handler should not run")
			}
		})
	}
}

func TestAuthMiddleware_ValidTokenEnsuresProfile(t *testing.T) {
	var seen string
	ensurer := &recordingEnsurer{}
	m := NewAuthMiddleware(newResolver(t), ensurer, logger.NewNop(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, "u-1", "", false))
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&seen)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen != "u-1" {
		t.Fatalf("user id in context = %q", seen)
	}
	if len(ensurer.ids) != 1 || ensurer.ids[0] != "u-1" {
		t.Fatalf("EnsureProfile calls = %v", ensurer.ids)
	}
}

func TestAuthMiddleware_ProfileFailure(t *testing.T) {
	var seen string
	m := NewAuthMiddleware(newResolver(t), &recordingEnsurer{err: errors.New("db down")}, logger.NewNop(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, "u-1", "", false))
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&seen)).ServeHTTP(rec, req)
	if rec.Code == http.StatusOK || seen != "" {
		t.Fatalf("expected the request to be rejected, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthMiddleware(newResolver(t), nil, logger.NewNop(), nil)
	cases := []struct {
		user, role string
		want       int
	}{
		{"u-1", "", http.StatusForbidden},
		{"u-2", "admin", http.StatusOK},
		{"root", "", http.StatusOK},
	}
	for _, tc := range cases {
		var seen string
		req := httptest.NewRequest(http.MethodPost, "/api/admin/payouts/run", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestToken(t, tc.user, tc.role, false))
		rec := httptest.NewRecorder()
		m.Handler(RequireAdmin(okHandler(&seen))).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s/%s: status = %d, want %d", tc.user, tc.role, rec.Code, tc.want)
		}
	}

	rec := httptest.NewRecorder()
	var seen string
	RequireAdmin(okHandler(&seen)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}
}

func TestTracingMiddleware_PreservesTraceID(t *testing.T) {
	var got string
	h := NewTracingMiddleware(logger.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logger.GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "trace-123" || rec.Header().Get("X-Trace-ID") != "trace-123" {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", got, rec.Header().Get("X-Trace-ID"))
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected a generated trace id")
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := NewCORSMiddleware([]string{"https://app.example.com", ".vaultline.io"}).Handler(next)

	for origin, allowed := range map[string]bool{
		"https://app.example.com":    true,
		"https://admin.vaultline.io": true,
		"https://evil.com":           false,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin") == origin; got != allowed {
			t.Errorf("origin %s allowed = %v, want %v", origin, got, allowed)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/loans", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.NewNop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d", rec.Code)
	}

	rl.now = func() time.Time { return time.Now().Add(time.Hour) }
	if removed := rl.Cleanup(time.Minute); removed != 2 {
		t.Fatalf("Cleanup() removed %d, want 2", removed)
	}
}
