package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

var eventsCommand = &cli.Command{
	Name:  "events",
	Usage: "Review and replay stored carrier events",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List stored events",
			Before: requiresStore,
			After:  closeStore,
			Action: cmdEventsList,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "outcome",
					Usage: "Only events with this outcome (applied, ignored, unresolved, error)",
				},
				&cli.IntFlag{
					Name:  "limit",
					Value: 50,
				},
			},
		},
		{
			Name:      "replay",
			Usage:     "Re-dispatch stored events",
			ArgsUsage: "EVENT_ID...",
			Before:    requiresStore,
			After:     closeStore,
			Action:    cmdEventsReplay,
		},
	},
}

func cmdEventsList(ctx *cli.Context) error {
	events, err := getApp(ctx).Store.ListEvents(ctx.Context, store.EventFilter{
		Outcome: model.Outcome(ctx.String("outcome")),
		Limit:   ctx.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tOUTCOME\tATTEMPTS\tRECEIVED\tDETAIL")
	for _, ev := range events {
		outcome := string(ev.Outcome)
		if outcome == "" {
			outcome = "pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			ev.ID, ev.EventType, outcome, ev.Attempts, ev.ReceivedAt.Format(time.RFC3339), ev.Detail)
	}
	return tw.Flush()
}

func cmdEventsReplay(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify at least one event id")
	}
	ingestor := getApp(ctx).Ingestor
	var failed int
	for _, id := range ctx.Args().Slice() {
		res, err := ingestor.Replay(ctx.Context, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("%s: %s %s\n", id, res.Outcome, res.Detail)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events could not be replayed", failed, ctx.NArg())
	}
	return nil
}
