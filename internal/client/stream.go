package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
)

// Decoder reads run events from a server-sent event stream.
//
// Each event is carried by one or more data: lines terminated by a blank
// line. event:, id:, retry: and comment lines are skipped. A bare JSON object
// on its own line is accepted as a complete event so that newline-delimited
// recordings decode too. Malformed payloads are logged and skipped.
type Decoder struct {
	r    *bufio.Reader
	log  *slog.Logger
	data []string
	done bool
}

// NewDecoder returns a Decoder reading from r. A nil log discards
// diagnostics.
func NewDecoder(r io.Reader, log *slog.Logger) *Decoder {
	if log == nil {
		log = logger.Discard()
	}
	return &Decoder{r: bufio.NewReader(r), log: log}
}

// Next returns the next event, or io.EOF when the stream is exhausted.
func (d *Decoder) Next() (events.Event, error) {
	for !d.done {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return events.Event{}, err
			}
			d.done = true
		}

		line = strings.TrimRight(line, "\r\n")
		if ev, ok := d.handleLine(line); ok {
			return ev, nil
		}
	}
	if ev, ok := d.dispatch(); ok {
		return ev, nil
	}
	return events.Event{}, io.EOF
}

func (d *Decoder) handleLine(line string) (events.Event, bool) {
	switch {
	case line == "":
		return d.dispatch()
	case strings.HasPrefix(line, ":"):
		return events.Event{}, false
	case strings.HasPrefix(line, "data:"):
		d.data = append(d.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		return events.Event{}, false
	case strings.HasPrefix(line, "{") && len(d.data) == 0:
		d.data = append(d.data, line)
		return d.dispatch()
	default:
		// event:, id:, retry: and unknown fields.
		return events.Event{}, false
	}
}

func (d *Decoder) dispatch() (events.Event, bool) {
	if len(d.data) == 0 {
		return events.Event{}, false
	}
	payload := strings.Join(d.data, "\n")
	d.data = d.data[:0]

	if strings.TrimSpace(payload) == "" || payload == "[DONE]" {
		return events.Event{}, false
	}
	ev, err := events.Parse([]byte(payload))
	if err != nil {
		d.log.Warn("skipping malformed stream event",
			logger.Scope("client.stream"),
			logger.Error(err),
			slog.Int("bytes", len(payload)),
		)
		return events.Event{}, false
	}
	if !ev.Type.Known() {
		d.log.Debug("unknown event type", logger.Scope("client.stream"), slog.String("event_type", string(ev.Type)))
	}
	return ev, true
}

// LooksLikeSSE reports whether data starts like a server-sent event stream.
func LooksLikeSSE(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	for _, prefix := range []string{"data:", "event:", "id:", "retry:", ":"} {
		if bytes.HasPrefix(trimmed, []byte(prefix)) {
			return true
		}
	}
	return false
}

// Stream is an active run stream. Events are delivered on the channel
// returned by Events, which is closed when the backend ends the stream, the
// context is cancelled or Close is called. Err is valid once the channel is
// closed.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	dec    *Decoder
	events chan events.Event
	done   chan struct{}
	once   sync.Once
	err    error
}

func newStream(ctx context.Context, body io.ReadCloser, log *slog.Logger) *Stream {
	s := &Stream{
		ctx:    ctx,
		body:   body,
		dec:    NewDecoder(body, log),
		events: make(chan events.Event),
		done:   make(chan struct{}),
	}
	go s.readEvents()
	return s
}

// Events returns the channel of decoded run events.
func (s *Stream) Events() <-chan events.Event {
	return s.events
}

// Err returns the error that ended the stream. It is nil for a normal end of
// stream and the context error after cancellation.
func (s *Stream) Err() error {
	return s.err
}

// Close stops reading and releases the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}

func (s *Stream) readEvents() {
	defer close(s.events)

	for {
		ev, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				s.err = ctxErr
				return
			}
			select {
			case <-s.done:
			default:
				s.err = err
			}
			return
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return
		}
	}
}
