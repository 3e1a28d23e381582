package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/nxadm/tail"
)

// FileSource implements EventSource by following a server log file on disk.
type FileSource struct {
	path      string
	follow    bool
	fromStart bool
	poll      bool
	cfg       sourceConfig
}

// FileOption configures FileSource-specific behavior.
type FileOption func(*FileSource)

// WithFollow keeps reading as the file grows and reopens it after rotation.
// Without it the source stops at end of file.
func WithFollow(follow bool) FileOption {
	return func(s *FileSource) { s.follow = follow }
}

// WithFromStart reads the file from the beginning instead of from its end.
// Ignored when not following, which always reads from the start.
func WithFromStart(fromStart bool) FileOption {
	return func(s *FileSource) { s.fromStart = fromStart }
}

// WithPolling watches the file by polling instead of filesystem notifications.
func WithPolling(poll bool) FileOption {
	return func(s *FileSource) { s.poll = poll }
}

// NewFileSource creates a source for the log file at path.
func NewFileSource(path string, fileOpts []FileOption, opts ...SourceOption) *FileSource {
	s := &FileSource{
		path:      path,
		fromStart: true,
		cfg:       newSourceConfig(opts),
	}
	for _, opt := range fileOpts {
		opt(s)
	}
	return s
}

func (s *FileSource) tailConfig() tail.Config {
	cfg := tail.Config{
		Follow:    s.follow,
		ReOpen:    s.follow,
		MustExist: !s.follow,
		Poll:      s.poll,
		Logger:    tail.DiscardingLogger,
	}
	if s.follow && !s.fromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	return cfg
}

// Start opens the file and returns event/error channels.
// Both channels close at end of file (when not following), on a tail failure,
// or when ctx is cancelled.
func (s *FileSource) Start(ctx context.Context) (<-chan Event, <-chan error, error) {
	logger := s.cfg.logger
	cfg := s.tailConfig()

	t, err := tail.TailFile(s.path, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", s.path, err)
	}

	logger.Info("watching server log file",
		"path", s.path,
		"follow", cfg.Follow,
		"from_start", cfg.Location == nil,
	)

	em := newEmitter(&s.cfg)

	go func() {
		defer em.close()
		defer t.Cleanup()

		for {
			select {
			case <-ctx.Done():
				_ = t.Stop()
				return
			case line, ok := <-t.Lines:
				if !ok {
					if err := t.Wait(); err != nil {
						logger.Error("log file tail failed", "path", s.path, "error", err)
						em.fail(ctx, err)
						return
					}
					logger.Info("log file fully read", "path", s.path, "lines", em.lineNo)
					return
				}
				if line.Err != nil {
					logger.Warn("log file line error", "path", s.path, "error", line.Err)
					continue
				}
				if !em.line(ctx, line.Text) {
					_ = t.Stop()
					return
				}
			}
		}
	}()

	return em.events, em.errs, nil
}
