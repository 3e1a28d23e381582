package ingest

import (
	"bufio"
	"context"
	"io"
)

// maxLineSize bounds a single server log line.
const maxLineSize = 1 << 20

// ReaderSource implements EventSource over any line-oriented reader,
// typically the stdout pipe of the server process.
type ReaderSource struct {
	r   io.Reader
	cfg sourceConfig
}

// NewReaderSource creates a source reading lines from r.
func NewReaderSource(r io.Reader, opts ...SourceOption) *ReaderSource {
	return &ReaderSource{r: r, cfg: newSourceConfig(opts)}
}

// Start begins reading and returns event/error channels.
// Both channels close at end of input, on a read error, or when ctx is cancelled.
// A read blocked in the underlying reader only returns when the reader does,
// so callers should close the reader (or kill the process) on shutdown.
func (s *ReaderSource) Start(ctx context.Context) (<-chan Event, <-chan error, error) {
	em := newEmitter(&s.cfg)
	logger := s.cfg.logger

	go func() {
		defer em.close()

		sc := bufio.NewScanner(s.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			if !em.line(ctx, sc.Text()) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Error("log stream read failed", "lines", em.lineNo, "error", err)
			em.fail(ctx, err)
			return
		}
		logger.Info("log stream ended", "lines", em.lineNo)
	}()

	return em.events, em.errs, nil
}
