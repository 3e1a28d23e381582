package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/graaaaa/valheim-watcher/internal/config"
	"github.com/graaaaa/valheim-watcher/internal/ingest"
	"github.com/graaaaa/valheim-watcher/internal/notify"
	"github.com/graaaaa/valheim-watcher/internal/server"
)

// serverLogName is the live copy of server output; rotated files get a
// timestamp suffix.
const serverLogName = "valheim-server.log"

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the dedicated server and follow its output",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "script",
				Usage:   "server start script; overrides start_script in the config",
				EnvVars: []string{config.EnvStartScript},
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWatcher(c, "run")
	if err != nil {
		return err
	}
	defer w.close()

	script := c.String("script")
	if script == "" {
		script = w.cfg.StartScript
	}
	if script == "" {
		return errors.New("no start script: set start_script or pass --script")
	}

	serverLog, err := w.serverLog()
	if err != nil {
		return err
	}
	defer serverLog.Close()

	// Services outlive the signal so the final lines and the stopping
	// announcement still go out.
	svcCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.start(svcCtx, !c.Bool("no-api")); err != nil {
		return err
	}

	proc, err := server.Spawn(ctx, script, server.WithLogger(w.logger))
	if err != nil {
		return err
	}
	defer proc.Close()
	w.pid.Store(int64(proc.Pid()))
	defer w.pid.Store(0)

	w.announce(svcCtx, notify.MessageServerStarted)

	src := ingest.NewReaderSource(proc.Stdout(), w.sourceOptions(ingest.WithTee(serverLog))...)
	ingestDone := make(chan error, 1)
	go func() { ingestDone <- w.ingester(src).Run(svcCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		w.logger.Info("shutdown requested", "grace", w.cfg.ShutdownGrace())
		w.notifyStopping()
		w.announce(svcCtx, notify.MessageServerStopping)
		runErr = proc.Shutdown(w.cfg.ShutdownGrace())
		if err := w.drain(proc, ingestDone); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("ingestion ended with error", "error", err)
		}

	case err := <-ingestDone:
		// Stdout closed: the server is exiting on its own.
		if err != nil {
			w.logger.Warn("ingestion ended with error", "error", err)
		}
		runErr = proc.Wait()
		w.announce(svcCtx, notify.MessageServerStopping)

	case err := <-w.apiErr:
		w.logger.Error("API server failed", "error", err)
		w.announce(svcCtx, notify.MessageServerStopping)
		_ = proc.Shutdown(w.cfg.ShutdownGrace())
		_ = w.drain(proc, ingestDone)
		return fmt.Errorf("api: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("server exited: %w", runErr)
	}
	return nil
}

// drainTimeout bounds how long ingestion may keep reading after the server
// group is gone. A process that left the group can still hold stdout open.
const drainTimeout = 10 * time.Second

// drain waits for ingestion to reach EOF on the server's stdout. The last
// lines (world save, closing sockets) are written during shutdown.
func (w *watcher) drain(proc *server.Process, ingestDone <-chan error) error {
	select {
	case err := <-ingestDone:
		return err
	case <-time.After(drainTimeout):
		w.logger.Warn("server stdout still open after shutdown, closing", "timeout", drainTimeout)
		proc.Close()
		return <-ingestDone
	}
}

// serverLog opens the rotating copy of server output.
func (w *watcher) serverLog() (*lumberjack.Logger, error) {
	dir, err := config.ServerLogDir(w.cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create server log dir: %w", err)
	}
	w.logger.Info("copying server output", "dir", dir)
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, serverLogName),
		MaxSize:    w.cfg.ServerLogMaxSizeMB,
		MaxBackups: w.cfg.ServerLogMaxBackups,
		LocalTime:  true,
		Compress:   true,
	}, nil
}
