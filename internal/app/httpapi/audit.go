package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/pkg/logger"
)

// auditEntry records one administrative request.
type auditEntry struct {
	Time       time.Time `json:"time" db:"occurred_at"`
	UserID     string    `json:"userId" db:"user_id"`
	Role       string    `json:"role,omitempty" db:"role"`
	Method     string    `json:"method" db:"method"`
	Route      string    `json:"route" db:"route"`
	Target     string    `json:"target,omitempty" db:"target"`
	Status     int       `json:"status" db:"status"`
	RemoteAddr string    `json:"remoteAddr,omitempty" db:"remote_addr"`
	TraceID    string    `json:"traceId,omitempty" db:"trace_id"`
}

type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	max     int
	sink    auditSink
	log     *logger.Logger
}

type auditSink interface {
	Write(entry auditEntry) error
}

type multiSink []auditSink

func (m multiSink) Write(entry auditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newAuditLog(max int, sink auditSink, log *logger.Logger) *auditLog {
	if max <= 0 {
		max = 200
	}
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &auditLog{max: max, sink: sink, log: log}
}

// add stores entry in the ring, then writes it to the sink outside the lock.
func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()

	if l.sink == nil {
		return
	}
	if err := l.sink.Write(entry); err != nil {
		l.log.WithError(err).
			WithField("route", entry.Route).
			WithField("target", entry.Target).
			WithField("admin_id", entry.UserID).
			WithField("trace_id", entry.TraceID).
			Warn("audit sink write failed")
	}
}

// listLimit returns up to limit entries, newest first.
func (l *auditLog) listLimit(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]auditEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// middleware records every state-changing request that reaches the wrapped
// handler. Reads are not audited.
func (l *auditLog) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := auditEntry{
			Time:       time.Now().UTC(),
			Method:     r.Method,
			Route:      r.URL.Path,
			Target:     mux.Vars(r)["id"],
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			TraceID:    logger.GetTraceID(r.Context()),
		}
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				entry.Route = tpl
			}
		}
		if id, ok := identity.FromContext(r.Context()); ok {
			entry.UserID, entry.Role = id.UserID, id.Role
		}
		l.add(entry)
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry auditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// postgresAuditSink inserts audit entries into admin_audit_log.
type postgresAuditSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

func newPostgresAuditSink(db *sqlx.DB) *postgresAuditSink {
	return &postgresAuditSink{db: db, timeout: 5 * time.Second}
}

func (s *postgresAuditSink) Write(entry auditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO admin_audit_log (occurred_at, user_id, role, method, route, target, status, remote_addr, trace_id)
		VALUES (:occurred_at, :user_id, :role, :method, :route, :target, :status, :remote_addr, :trace_id)`, entry)
	return err
}
