// Package server launches the Valheim dedicated server start script and
// exposes its standard output as the log stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// DefaultShell runs the start script.
const DefaultShell = "bash"

// Process is a running server.
type Process struct {
	cmd    *exec.Cmd
	stdout *os.File
	logger *slog.Logger

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// Option configures Spawn.
type Option func(*spawnConfig)

type spawnConfig struct {
	shell  string
	env    []string
	logger *slog.Logger
}

// WithShell overrides the interpreter used to run the script.
func WithShell(shell string) Option {
	return func(c *spawnConfig) { c.shell = shell }
}

// WithEnv appends environment variables for the server process.
func WithEnv(env ...string) Option {
	return func(c *spawnConfig) { c.env = append(c.env, env...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *spawnConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Spawn starts "<shell> <script>" with the script's directory as working
// directory. Stdout is piped for reading; stderr is discarded.
// The process is not tied to ctx; stop it with Interrupt or Shutdown.
//
// The read end of the pipe belongs to the Process, not to exec.Cmd, so
// Wait never closes it: output written while the server exits stays
// readable until EOF. Call Close once reading is done.
func Spawn(ctx context.Context, script string, opts ...Option) (*Process, error) {
	cfg := spawnConfig{shell: DefaultShell, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	abs, err := filepath.Abs(script)
	if err != nil {
		return nil, fmt.Errorf("resolve start script: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("start script: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.shell, abs)
	cmd.Dir = filepath.Dir(abs)
	cmd.Stderr = nil
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}
	setProcAttr(cmd)

	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = w
	err = cmd.Start()
	// The server and its children hold their own copies of the write end.
	w.Close()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("start server: %w", err)
	}

	cfg.logger.Info("server started", "script", abs, "pid", cmd.Process.Pid)

	return &Process{
		cmd:    cmd,
		stdout: stdout,
		logger: cfg.logger,
		done:   make(chan struct{}),
	}, nil
}

// Stdout returns the server's standard output. It reaches EOF once the
// server and every child that inherited it have exited.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Close closes the read end of stdout, unblocking a pending read.
func (p *Process) Close() error {
	return p.stdout.Close()
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Interrupt asks the server to shut down gracefully.
func (p *Process) Interrupt() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.logger.Info("interrupting server", "pid", p.Pid())
	if err := interrupt(p.cmd.Process); err != nil {
		return fmt.Errorf("interrupt server: %w", err)
	}
	return nil
}

// Kill terminates the server and every process in its group.
func (p *Process) Kill() error {
	if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill server: %w", err)
	}
	return nil
}

// Wait blocks until the process exits. Safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
		p.logger.Info("server exited", "pid", p.Pid(), "error", p.waitErr)
	})
	<-p.done
	return p.waitErr
}

// Shutdown interrupts the server and waits up to grace for it and the
// processes it started to exit, killing whatever is left afterwards.
func (p *Process) Shutdown(grace time.Duration) error {
	deadline := time.Now().Add(grace)

	if err := p.Interrupt(); err != nil {
		p.logger.Warn("interrupt failed, killing", "error", err)
		_ = p.Kill()
	}

	exited := make(chan error, 1)
	go func() { exited <- p.Wait() }()

	var err error
	select {
	case err = <-exited:
	case <-time.After(grace):
		p.logger.Warn("server did not exit in time, killing", "grace", grace)
		_ = p.Kill()
		err = <-exited
	}

	// Children of the script can outlive it.
	for groupAlive(p.cmd.Process) && time.Now().Before(deadline) {
		time.Sleep(groupPollInterval)
	}
	if groupAlive(p.cmd.Process) {
		p.logger.Warn("server children still running, killing", "pgid", p.Pid())
		_ = p.Kill()
	}
	return exitErr(err)
}

const groupPollInterval = 50 * time.Millisecond

// exitErr drops the error an interrupted process reports for its own signal.
func exitErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) && signaled(ee) {
		return nil
	}
	return err
}
