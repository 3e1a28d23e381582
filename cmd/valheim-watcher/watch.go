package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/graaaaa/valheim-watcher/internal/config"
	"github.com/graaaaa/valheim-watcher/internal/ingest"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "follow the log of a server started elsewhere",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log",
				Usage:   "server log file; overrides log_path in the config",
				EnvVars: []string{config.EnvLogPath},
			},
			&cli.BoolFlag{
				Name:  "from-start",
				Value: true,
				Usage: "read the existing file before following; already stored lines are not announced again",
			},
			&cli.BoolFlag{
				Name:  "poll",
				Usage: "poll for changes instead of using inotify",
			},
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWatcher(c, "watch")
	if err != nil {
		return err
	}
	defer w.close()

	path := c.String("log")
	if path == "" {
		path = w.cfg.LogPath
	}
	if path == "" {
		return errors.New("no log file: set log_path or pass --log")
	}

	if err := w.start(ctx, !c.Bool("no-api")); err != nil {
		return err
	}

	src := ingest.NewFileSource(path,
		[]ingest.FileOption{
			ingest.WithFollow(true),
			ingest.WithFromStart(c.Bool("from-start")),
			ingest.WithPolling(c.Bool("poll")),
		},
		w.sourceOptions()...,
	)

	ingestDone := make(chan error, 1)
	go func() { ingestDone <- w.ingester(src).Run(ctx) }()

	select {
	case err := <-ingestDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case err := <-w.apiErr:
		stop()
		<-ingestDone
		return fmt.Errorf("api: %w", err)
	}
}
