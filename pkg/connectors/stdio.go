package connectors

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrabsha/tremor-runtime/internal/governance"
	"github.com/scrabsha/tremor-runtime/pkg/engine"
	"github.com/scrabsha/tremor-runtime/pkg/event"
)

// LineSource reads newline-delimited input and admits one event per
// line. Lines that parse as JSON become structured payloads; anything
// else is admitted as a raw string.
type LineSource struct {
	*ChanSource
	r             io.Reader
	log           zerolog.Logger
	transactional bool
	retryInterval time.Duration
}

// NewLineSource wraps the reader. When transactional is set, every
// admitted event participates in the ack/fail protocol.
func NewLineSource(tag string, r io.Reader, transactional bool, logger zerolog.Logger) *LineSource {
	return &LineSource{
		ChanSource:    NewChanSource(tag),
		r:             r,
		log:           logger,
		transactional: transactional,
		retryInterval: 10 * time.Millisecond,
	}
}

// Pump reads lines until EOF or context cancellation, admitting each
// into the pipeline at the named input port. While the pipeline's
// circuit is open the source holds the current line and retries rather
// than dropping it.
func (s *LineSource) Pump(ctx context.Context, pipe *engine.Pipeline, port string) error {
	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var data any
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			data = line
		}

		var ev *event.Event
		if s.transactional {
			ev = s.NewTransactionalEvent(data)
		} else {
			ev = s.NewEvent(data)
		}

		for {
			err := pipe.Admit(ctx, port, ev)
			if err == nil {
				break
			}
			if !errors.Is(err, governance.ErrCircuitOpen) {
				return fmt.Errorf("admitting line: %w", err)
			}
			s.log.Debug().Stringer("event", ev.ID).Msg("circuit open, holding line")
			select {
			case <-time.After(s.retryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}

// WriteSink writes each delivered payload as one JSON line. Batch
// containers are unwrapped so the output stream holds payloads, not
// engine envelopes.
type WriteSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriteSink creates a sink over the writer.
func NewWriteSink(w io.Writer) *WriteSink {
	return &WriteSink{w: w}
}

// Deliver serializes the event payload. A batch container produces a
// single JSON array of its members' payloads.
func (s *WriteSink) Deliver(_ context.Context, ev *event.Event) error {
	payload := ev.Data
	if ev.IsBatch {
		subs := ev.SubEvents()
		values := make([]any, len(subs))
		for i, sub := range subs {
			values[i] = sub.Data
		}
		payload = values
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding delivery %s: %w", ev.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing delivery %s: %w", ev.ID, err)
	}
	return nil
}
