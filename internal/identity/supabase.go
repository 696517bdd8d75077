package identity

import (
	"context"
	"errors"

	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/supabase/client"
)

// UserFetcher is the subset of the Supabase auth client used here.
type UserFetcher interface {
	GetUser(ctx context.Context, accessToken string) (*client.User, error)
}

// SupabaseResolver validates tokens against Supabase Auth.
type SupabaseResolver struct {
	auth      UserFetcher
	adminRole string
	admins    Allowlist
}

func NewSupabaseResolver(auth UserFetcher, adminRole string, admins Allowlist) *SupabaseResolver {
	return &SupabaseResolver{auth: auth, adminRole: adminRole, admins: admins}
}

func (r *SupabaseResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	user, err := r.auth.GetUser(ctx, token)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return Identity{}, svcerrors.InvalidToken(err)
		}
		return Identity{}, svcerrors.Upstream("supabase-auth", err)
	}
	id := Identity{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName(),
		Role:     user.Role,
		Admin:    user.HasRole(r.adminRole) || r.admins.Contains(user.ID),
	}
	if id.Admin && r.adminRole != "" {
		id.Role = r.adminRole
	}
	return id, nil
}
