package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
)

const usage = `Issue a development access token.

Usage:
    issue_token <user_id> [--nickname=<nickname>] [--expiry=<expiry>]

Options:
    -h --help                Show this screen.
    --nickname=<nickname>    Display name claim.
    --expiry=<expiry>        Token lifetime, e.g. 30m or 24h [default: 1h].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "0.0.1")
	if err != nil {
		log.Fatal(err)
	}

	userID, _ := opts.String("<user_id>")
	nickname, _ := opts.String("--nickname")
	if nickname == "" {
		nickname = userID
	}
	expiryStr, _ := opts.String("--expiry")
	expiry, err := time.ParseDuration(expiryStr)
	if err != nil {
		log.Fatalf("Invalid expiry %q: %v", expiryStr, err)
	}

	// JWT_SECRET 필수
	cfg := config.Load()
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, expiry, cfg.Auth.Issuer)

	token, err := jwtManager.GenerateAccessToken(userID, nickname)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
