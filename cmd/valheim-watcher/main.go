// Package main provides the entry point for Valheim Watcher.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/graaaaa/valheim-watcher/internal/appinfo"
	"github.com/graaaaa/valheim-watcher/internal/config"
	"github.com/graaaaa/valheim-watcher/internal/version"
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println(version.String())
	}

	app := &cli.App{
		Name:    appinfo.DirName,
		Usage:   "Supervise a Valheim dedicated server and announce who is playing",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "config file (.json, .yaml or .yml); defaults to the data directory",
				EnvVars: []string{"VALHEIM_WATCHER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory for the database, secrets and server logs",
				EnvVars: []string{config.EnvDataDir},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"VALHEIM_WATCHER_LOG_LEVEL"},
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP API port; overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "no-api",
				Usage: "do not start the HTTP API",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			runCommand(),
			watchCommand(),
			replayCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup configures the default logger and exports --data-dir for the
// config package.
func setup(c *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.String("log-level")))); err != nil {
		return fmt.Errorf("invalid --log-level %q", c.String("log-level"))
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	if dir := c.String("data-dir"); dir != "" {
		if err := os.Setenv(config.EnvDataDir, dir); err != nil {
			return err
		}
	}
	return nil
}
