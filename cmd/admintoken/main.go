package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/court-reservation/internal/middleware"
	"github.com/iliyamo/court-reservation/internal/utils"
)

// admintoken mints a staff JWT for the /v1/admin routes, signed with
// JWT_SECRET.  Staff accounts live outside this service.
func main() {
	_ = godotenv.Load()
	id := flag.Uint64("id", 1, "staff user id")
	role := flag.String("role", middleware.RoleAdmin, "OWNER or ADMIN")
	complexID := flag.Uint64("complex", 0, "complex an OWNER manages (required for OWNER)")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *role == middleware.RoleOwner && *complexID == 0 {
		fmt.Fprintln(os.Stderr, "-complex is required for OWNER tokens")
		os.Exit(2)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}
	tok, err := utils.NewAccessToken(secret, *id, *role, *complexID, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
