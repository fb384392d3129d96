package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/capitalize-ai/messaging-platform/internal/reconcile"
)

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Mirror a workspace's conversation list from the live change feed",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "API base URL",
			Value:   "http://localhost:8080",
			EnvVars: []string{"SMSCTL_SERVER"},
		},
		&cli.StringFlag{
			Name:     "token",
			Usage:    "API bearer token",
			EnvVars:  []string{"SMSCTL_TOKEN"},
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "workspace",
			Usage:    "Workspace id",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "thread",
			Usage: "Also mirror the messages of this conversation id or group key",
		},
	},
	Action: cmdWatch,
}

func cmdWatch(ctx *cli.Context) error {
	log := getLogger(ctx)
	workspaceID := ctx.Int64("workspace")
	thread := ctx.String("thread")

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := reconcile.NewClient(ctx.String("server"), ctx.String("token"), log)
	// Subscribe before the initial fetch so no change falls between them.
	changes, err := client.Subscribe(runCtx, workspaceID)
	if err != nil {
		return err
	}

	state := reconcile.NewState(workspaceID, client)
	if err := state.Load(runCtx); err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	if thread != "" {
		if err := state.Open(runCtx, thread); err != nil {
			return fmt.Errorf("failed to load thread %s: %w", thread, err)
		}
	}
	render(state, thread)

	engine := reconcile.NewEngine(state, func(s *reconcile.State) { render(s, thread) }, log)
	if err := engine.Run(runCtx, changes); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if runCtx.Err() == nil {
		return fmt.Errorf("change feed closed by server")
	}
	return nil
}

func render(s *reconcile.State, thread string) {
	fmt.Print("\033[H\033[2J")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTACT\tUNREAD\tLAST MESSAGE\tAT")
	for _, c := range s.Conversations() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Contact, c.Unread, c.LastMessage, c.LastMessageTime.Local().Format(time.Kitchen))
	}
	tw.Flush()

	if thread == "" {
		return
	}
	msgs, ok := s.Messages(thread)
	if !ok {
		return
	}
	fmt.Printf("\n%s\n", thread)
	for _, m := range msgs {
		fmt.Printf("  [%s] %s %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Direction, m.Status, m.Body)
	}
}
