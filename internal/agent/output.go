package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"execplane/internal/store"
	"execplane/pkg/api"
)

const (
	outputBatchLines    = 100         // Max lines per chunk
	outputFlushInterval = time.Second // Flush at least every second
)

type outputLine struct {
	stream string
	text   string
}

// outputStream turns the runtime's stdout and stderr into ordered output
// chunks. Consecutive lines of one stream are batched into a chunk.
type outputStream struct {
	ctx         context.Context
	controller  Controller
	executionID string
	log         *slog.Logger

	mu      sync.Mutex
	closed  bool
	partial map[string][]byte

	lines  chan outputLine
	done   chan struct{}
	sealed bool
}

func newOutputStream(ctx context.Context, c Controller, executionID string, log *slog.Logger) *outputStream {
	s := &outputStream{
		ctx:         ctx,
		controller:  c,
		executionID: executionID,
		log:         log,
		partial:     make(map[string][]byte),
		lines:       make(chan outputLine, outputBatchLines),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Writer returns the io.Writer for one stream.
func (s *outputStream) Writer(stream string) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		s.write(stream, p)
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func (s *outputStream) write(stream string, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	buf := append(s.partial[stream], p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		s.lines <- outputLine{stream: stream, text: string(buf[:i])}
		buf = buf[i+1:]
	}
	s.partial[stream] = append([]byte(nil), buf...)
}

// Close flushes what is left and sends the final chunk unless the
// controller sealed the buffer.
func (s *outputStream) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, stream := range []string{store.StreamStdout, store.StreamStderr} {
			if rest := s.partial[stream]; len(rest) > 0 {
				s.lines <- outputLine{stream: stream, text: string(rest)}
			}
		}
		close(s.lines)
	}
	s.mu.Unlock()

	<-s.done
	if !s.sealed {
		s.send(api.OutputRequest{Stream: store.StreamStdout, IsFinal: true})
	}
}

func (s *outputStream) run() {
	defer close(s.done)

	ticker := time.NewTicker(outputFlushInterval)
	defer ticker.Stop()

	var (
		batch  []string
		stream string
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.send(api.OutputRequest{Stream: stream, Payload: strings.Join(batch, "\n") + "\n"})
		batch = batch[:0]
	}

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				flush()
				return
			}
			if line.stream != stream {
				flush()
				stream = line.stream
			}
			// Sanitize null bytes (Postgres rejects \x00)
			batch = append(batch, strings.ReplaceAll(line.text, "\x00", ""))
			if len(batch) >= outputBatchLines {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *outputStream) send(req api.OutputRequest) {
	if s.sealed {
		return
	}
	err := s.controller.Output(s.ctx, s.executionID, req)
	switch {
	case errors.Is(err, ErrSealed):
		s.log.Info("output sealed by controller, dropping the rest", "execution_id", s.executionID)
		s.sealed = true
	case err != nil:
		s.log.Warn("failed to ship output", "execution_id", s.executionID, "error", err)
	}
}
