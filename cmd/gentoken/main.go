// Package main mints publisher tokens for the hotfix delivery server.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/narvanalabs/hotfix/internal/auth"
)

func main() {
	publisher := flag.String("publisher", "ci", "Publisher name recorded in the token")
	scopes := flag.String("scopes", auth.ScopePublish, "Comma-separated scopes (publish, read)")
	secret := flag.String("secret", "", "JWT secret (or set HOTFIX_JWT_SECRET env var)")
	expiry := flag.Duration("expiry", 30*24*time.Hour, "Token expiry duration")
	flag.Parse()

	jwtSecret := *secret
	if jwtSecret == "" {
		jwtSecret = os.Getenv("HOTFIX_JWT_SECRET")
	}
	if jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT secret required. Use -secret flag or set HOTFIX_JWT_SECRET env var")
		fmt.Fprintln(os.Stderr, "Example: go run ./cmd/gentoken -publisher ci -secret 'your-secret-at-least-32-chars-long'")
		os.Exit(1)
	}
	if len(jwtSecret) < 32 {
		fmt.Fprintln(os.Stderr, "Error: JWT secret must be at least 32 characters")
		os.Exit(1)
	}

	var granted []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			granted = append(granted, s)
		}
	}

	svc := auth.NewService(&auth.Config{
		JWTSecret:   []byte(jwtSecret),
		TokenExpiry: *expiry,
	}, nil)
	token, err := svc.GenerateToken(*publisher, granted...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
