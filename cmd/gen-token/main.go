// Command gen-token prints an HS256 token accepted by the API in auth test
// mode.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	sub := flag.String("sub", "dev-user", "subject (user id)")
	role := flag.String("role", "Compliance Officer", "role claim value")
	claim := flag.String("claim", envOr("ROLE_CLAIM", "role"), "name of the role claim")
	aud := flag.String("aud", os.Getenv("AUTH0_AUDIENCE"), "audience, optional")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		log.Fatal("TEST_JWT_SECRET must be set")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  *sub,
		*claim: *role,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(*ttl).Unix(),
	}
	if *aud != "" {
		claims["aud"] = *aud
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(signed)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
