// Command smsctl is the operator CLI: it reviews and replays stored
// carrier events, issues API tokens and tails a workspace's change feed.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/capitalize-ai/messaging-platform/internal/app"
	"github.com/capitalize-ai/messaging-platform/internal/config"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyLogger
	contextKeyApp
)

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.Context.Value(contextKeyConfig).(*config.Config)
}

func getLogger(ctx *cli.Context) *logger.Logger {
	return ctx.Context.Value(contextKeyLogger).(*logger.Logger)
}

func getApp(ctx *cli.Context) *app.App {
	return ctx.Context.Value(contextKeyApp).(*app.App)
}

func prepare(ctx *cli.Context) error {
	cfg := config.Load()
	level := cfg.LogLevel
	if ctx.Bool("verbose") {
		level = "debug"
	}
	log, err := logger.Build(logger.Config{Level: level, Format: cfg.LogFormat, Service: "smsctl"})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	ctx.Context = context.WithValue(newCtx, contextKeyLogger, log)
	return nil
}

// requiresStore opens the configured store and services.
func requiresStore(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	a, err := app.New(ctx.Context, cfg, getLogger(ctx))
	if err != nil {
		return err
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyApp, a)
	return nil
}

func closeStore(ctx *cli.Context) error {
	if a, ok := ctx.Context.Value(contextKeyApp).(*app.App); ok {
		a.Close()
	}
	return nil
}

func main() {
	cliApp := &cli.App{
		Name:  "smsctl",
		Usage: "Operate the messaging platform",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Before: prepare,
		Commands: []*cli.Command{
			eventsCommand,
			tokenCommand,
			watchCommand,
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
