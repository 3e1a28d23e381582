package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/ingest"
	"github.com/graaaaa/valheim-watcher/internal/notify"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "rebuild the identity table from a saved log and print it",
		ArgsUsage: "<log file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the final state as JSON",
			},
			&cli.BoolFlag{
				Name:  "notifications",
				Usage: "print every notification as it would have been sent",
			},
		},
		Action: replayAction,
	}
}

// replaySummary counts what a replay saw.
type replaySummary struct {
	Lines         int
	Events        map[event.Kind]int
	ParseFailures int
}

func replayAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("replay needs a log file")
	}

	out := c.App.Writer
	state := derive.New()
	sum := replaySummary{Events: make(map[event.Kind]int)}
	printNotes := c.Bool("notifications")

	src := ingest.NewFileSource(path, nil,
		ingest.WithOnLine(func() { sum.Lines++ }),
		ingest.WithSourceLogger(slog.Default()),
	)
	ing := ingest.New(src, nil,
		ingest.WithOnEvent(func(_ context.Context, in ingest.Ingested) {
			sum.Events[in.Event.Event.Kind()]++
			for _, n := range state.Apply(in.Event.Event) {
				if printNotes {
					fmt.Fprintf(out, "%s  %s\n", n.Time.Format("2006-01-02 15:04:05"), notify.Message(n))
				}
			}
		}),
		ingest.WithOnParseFailure(func(*ingest.ParseError) { sum.ParseFailures++ }),
	)
	if err := ing.Run(c.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	snap := state.Snapshot()
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return printReplay(out, snap, sum)
}

func printReplay(out io.Writer, snap derive.Snapshot, sum replaySummary) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER ID\tCHARACTER")
	for _, id := range snap.Identities {
		fmt.Fprintf(tw, "%s\t%s\n", event.FormatPeerID(id.PeerID), id.Character)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d identified", len(snap.Identities))
	if len(snap.PendingPeers) > 0 {
		fmt.Fprintf(out, ", %d peers waiting for a character:", len(snap.PendingPeers))
		for _, p := range snap.PendingPeers {
			fmt.Fprintf(out, " %s", event.FormatPeerID(p))
		}
	}
	if len(snap.PendingCharacters) > 0 {
		fmt.Fprintf(out, ", %d characters waiting for a peer: %v", len(snap.PendingCharacters), snap.PendingCharacters)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%d lines, %d parse failures\n", sum.Lines, sum.ParseFailures)
	for _, k := range event.Kinds() {
		if n := sum.Events[k]; n > 0 {
			fmt.Fprintf(out, "  %-20s %d\n", k, n)
		}
	}
	return nil
}

