package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
)

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "Issue an API token signed with JWT_SECRET",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Usage:    "User id placed in the token subject",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "admin",
			Usage: "Grant the operator scope",
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Usage: "Token lifetime (defaults to JWT_EXPIRATION)",
		},
	},
	Action: cmdToken,
}

func cmdToken(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	ttl := ctx.Duration("ttl")
	if ttl <= 0 {
		ttl = cfg.JWTExpiration
	}
	if ttl < time.Minute {
		return fmt.Errorf("token lifetime %s is under a minute", ttl)
	}
	var scopes []string
	if ctx.Bool("admin") {
		scopes = append(scopes, middleware.AdminScope)
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, ctx.String("user"), scopes, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
