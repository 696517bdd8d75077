// Package identity resolves bearer tokens into the authenticated caller.
package identity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vaultline/ledger/internal/config"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/supabase/client"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID   string
	Email    string
	FullName string
	Role     string
	Admin    bool
}

// Resolver turns an access token into an Identity. Invalid tokens produce an
// INVALID_TOKEN service error.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, token string) (Identity, error)

func (f ResolverFunc) Resolve(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// New builds the resolver selected by cfg.Mode.
func New(cfg config.AuthConfig) (Resolver, error) {
	admins := NewAllowlist(cfg.AdminUserIDs)
	switch cfg.Mode {
	case "jwt", "":
		return NewJWTResolver([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AdminRole, admins)
	case "supabase":
		c, err := client.New(client.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseAnonKey})
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		return NewSupabaseResolver(c.Auth(), cfg.AdminRole, admins), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", svcerrors.NotAuthenticated("Missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", svcerrors.NotAuthenticated("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Allowlist is a set of user ids granted the admin role regardless of token claims.
type Allowlist map[string]struct{}

func NewAllowlist(ids []string) Allowlist {
	out := make(Allowlist)
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}

// AllowlistFromEnv reads ADMIN_USER_IDS.
func AllowlistFromEnv() Allowlist {
	return NewAllowlist(strings.Split(os.Getenv("ADMIN_USER_IDS"), ","))
}

func (a Allowlist) Contains(userID string) bool {
	_, ok := a[strings.TrimSpace(userID)]
	return ok
}
