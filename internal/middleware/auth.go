// Package middleware provides HTTP middleware for the ledger API.
package middleware

import (
	"context"
	"net/http"

	"github.com/vaultline/ledger/internal/app/domain/account"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/internal/httputil"
	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/pkg/logger"
)

// ProfileEnsurer creates the caller's profile on first contact.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, id identity.Identity) (account.Profile, error)
}

// AuthMiddleware resolves the bearer token into an identity.
type AuthMiddleware struct {
	resolver  identity.Resolver
	profiles  ProfileEnsurer
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the authentication middleware. profiles may be nil.
func NewAuthMiddleware(resolver identity.Resolver, profiles ProfileEnsurer, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{resolver: resolver, profiles: profiles, logger: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := identity.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		id, err := m.resolver.Resolve(r.Context(), token)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := identity.WithIdentity(r.Context(), id)
		ctx = logger.WithUserID(ctx, id.UserID)

		if m.profiles != nil {
			if _, err := m.profiles.EnsureProfile(ctx, id); err != nil {
				m.respondError(w, r.WithContext(ctx), err)
				return
			}
		}

		m.logger.FromContext(ctx).WithField("admin", id.Admin).Debug("authenticated")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusUnauthorized
	if se := svcerrors.GetServiceError(err); se != nil {
		status = se.HTTPStatus
	} else {
		err = svcerrors.InvalidToken(err)
	}
	m.logger.FromContext(r.Context()).WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		WithField("status", status).
		Warn("authentication failed")
	httputil.WriteError(w, err)
}

// RequireAdmin rejects callers whose identity is not an administrator.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			httputil.WriteError(w, svcerrors.NotAuthenticated(""))
			return
		}
		if !id.Admin {
			httputil.WriteError(w, svcerrors.Forbidden("Administrator access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID returns the authenticated user id, or "".
func GetUserID(ctx context.Context) string {
	if id, ok := identity.FromContext(ctx); ok {
		return id.UserID
	}
	return ""
}
