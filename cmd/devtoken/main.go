// Command devtoken issues HS256 access tokens for local development against a
// ledgerd running with AUTH_MODE=jwt.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultline/ledger/internal/identity"
)

func main() {
	secret := flag.String("secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 signing secret (default $AUTH_JWT_SECRET)")
	issuer := flag.String("issuer", os.Getenv("AUTH_JWT_ISSUER"), "token issuer")
	user := flag.String("user", "", "user id (sub claim)")
	email := flag.String("email", "", "email claim")
	name := flag.String("name", "", "display name claim")
	role := flag.String("role", "", `role claim, e.g. "admin"`)
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" || *user == "" {
		flag.Usage()
		os.Exit(1)
	}

	now := time.Now()
	token, err := identity.SignHS256([]byte(*secret), identity.Claims{
		Email:    *email,
		FullName: *name,
		Role:     *role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   *user,
			Issuer:    *issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	})
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
