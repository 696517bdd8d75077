// Package httpapi exposes the ledger services over JSON/HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	app "github.com/vaultline/ledger/internal/app"
	"github.com/vaultline/ledger/internal/app/metrics"
	"github.com/vaultline/ledger/internal/config"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/internal/middleware"
	"github.com/vaultline/ledger/pkg/logger"
)

const (
	maxBodyBytes           = 1 << 20
	limiterCleanupInterval = 10 * time.Minute
)

// Options configures the HTTP surface.
type Options struct {
	Resolver       identity.Resolver
	AllowedOrigins []string
	RateLimit      config.RateLimitConfig
	Audit          config.AuditConfig
	// AuditDB, when set, persists admin audit entries to Postgres.
	AuditDB *sqlx.DB
	Logger  *logger.Logger
}

type handler struct {
	app      *app.Application
	validate *validator.Validate
	audit    *auditLog
	log      *logger.Logger
}

// NewHandler returns the routed API. The returned closer stops background
// housekeeping and releases the audit file sink.
func NewHandler(application *app.Application, opts Options) (http.Handler, io.Closer, error) {
	if opts.Resolver == nil {
		return nil, nil, errors.New("identity resolver is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("http")
	}

	var (
		sinks   multiSink
		closers closeAll
	)
	if opts.Audit.Path != "" {
		fs, err := newFileAuditSink(opts.Audit.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		sinks = append(sinks, fs)
		closers = append(closers, fs)
	}
	if opts.AuditDB != nil {
		sinks = append(sinks, newPostgresAuditSink(opts.AuditDB))
	}
	var sink auditSink
	if len(sinks) > 0 {
		sink = sinks
	}

	h := &handler{
		app:      application,
		validate: newValidator(),
		audit:    newAuditLog(opts.Audit.Capacity, sink, log.Named("audit")),
		log:      log,
	}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, svcerrors.NotFound("route", r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: "Method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewAuthMiddleware(opts.Resolver, application.Accounts, log.Named("auth"), nil).Handler)
	if opts.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst, log.Named("ratelimit"))
		stop := make(chan struct{})
		limiter.StartCleanup(limiterCleanupInterval, stop)
		closers = append(closers, closerFunc(func() error { close(stop); return nil }))
		api.Use(limiter.Handler)
	}

	api.HandleFunc("/profile", h.profile).Methods(http.MethodGet)
	api.HandleFunc("/investment-plans", h.listInvestmentPlans).Methods(http.MethodGet)
	api.HandleFunc("/investments", h.createInvestment).Methods(http.MethodPost)
	api.HandleFunc("/investments", h.listInvestments).Methods(http.MethodGet)
	api.HandleFunc("/loan-plans", h.listLoanPlans).Methods(http.MethodGet)
	api.HandleFunc("/loans", h.initiateLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans", h.listLoans).Methods(http.MethodGet)
	api.HandleFunc("/transactions/deposits", h.createDeposit).Methods(http.MethodPost)
	api.HandleFunc("/transactions/withdrawals", h.createWithdrawal).Methods(http.MethodPost)
	api.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin, h.audit.middleware)
	admin.HandleFunc("/payouts/run", h.runPayouts).Methods(http.MethodPost)
	admin.HandleFunc("/loans", h.adminListLoans).Methods(http.MethodGet)
	admin.HandleFunc("/loans/{id}/approve", h.approveLoan).Methods(http.MethodPost)
	admin.HandleFunc("/loans/{id}/reject", h.rejectLoan).Methods(http.MethodPost)
	admin.HandleFunc("/loans/{id}/repayments/{index:[0-9]+}", h.recordRepayment).Methods(http.MethodPost)
	admin.HandleFunc("/loans/{id}/default", h.markDefaulted).Methods(http.MethodPost)
	admin.HandleFunc("/transactions", h.adminListTransactions).Methods(http.MethodGet)
	admin.HandleFunc("/transactions/{id}/approve", h.approveTransaction).Methods(http.MethodPost)
	admin.HandleFunc("/transactions/{id}/reject", h.rejectTransaction).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	var root http.Handler = r
	root = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(root)
	root = middleware.NewTracingMiddleware(log.Named("access")).Handler(root)
	return root, closers, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.app.Accounts.GetProfile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

type adminNotesRequest struct {
	AdminNotes string `json:"adminNotes" validate:"max=2000"`
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// decode reads a JSON body into dst and runs struct validation. An empty body
// decodes as the zero value.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return svcerrors.Validation("Invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	entry := h.log.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path)
	if se := svcerrors.GetServiceError(err); se == nil || se.Code == svcerrors.CodeUnexpected || se.Code == svcerrors.CodeUpstream {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	httputil.WriteError(w, err)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return svcerrors.Validation("Invalid request: %v", err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return svcerrors.Validation("%s is required", fe.Field())
	case "max":
		return svcerrors.Validation("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return svcerrors.Validation("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return svcerrors.Validation("%s is invalid", fe.Field())
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, svcerrors.Validation("%s must be a non-negative integer", key)
	}
	return n, nil
}

func pageParams(r *http.Request) (page, limit int, err error) {
	if page, err = queryInt(r, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type closeAll []io.Closer

func (c closeAll) Close() error {
	var errs []error
	for _, closer := range c {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
