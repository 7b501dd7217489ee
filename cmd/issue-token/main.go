// Command issue-token signs an access token for local testing and operators.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/config"
)

func main() {
	id := flag.String("id", "", "caller id")
	role := flag.String("role", string(auth.RoleSubmitter), "submitter, verifier or admin")
	org := flag.String("org", "", "organization name")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to security.token_ttl")
	flag.Parse()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	lifetime := cfg.Security.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	tokens := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.Issuer, lifetime)

	token, err := tokens.Issue(auth.Caller{ID: *id, Role: auth.Role(*role), Organization: *org})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(lifetime).UTC().Format(time.RFC3339))
}
