package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	svcerrors "github.com/vaultline/ledger/internal/errors"
)

// Claims are the JWT claims accepted by JWTResolver. The user id is read from
// user_id, falling back to sub.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret    []byte
	issuer    string
	adminRole string
	admins    Allowlist
}

func NewJWTResolver(secret []byte, issuer, adminRole string, admins Allowlist) (*JWTResolver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTResolver{secret: secret, issuer: issuer, adminRole: adminRole, admins: admins}, nil
}

func (r *JWTResolver) Resolve(_ context.Context, tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, svcerrors.InvalidToken(err)
	}
	if !token.Valid {
		return Identity{}, svcerrors.InvalidToken(nil)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, svcerrors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}

	return Identity{
		UserID:   userID,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
		Admin:    (r.adminRole != "" && claims.Role == r.adminRole) || r.admins.Contains(userID),
	}, nil
}

// SignHS256 issues a token for claims. Used by tooling and tests.
func SignHS256(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
