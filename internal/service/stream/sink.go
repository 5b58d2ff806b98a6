// Package stream carries one turn's output from the orchestrator to the
// transport. A Sink has a single producer, delivers updates in order and is
// permanently closed once Done has been called.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/coinchat/backend/internal/model/ui"
)

// ErrStreamClosed is returned for writes after Done. It signals a bug in the
// producer, never bad user input.
var ErrStreamClosed = errors.New("stream sink already closed")

// State is the two-state lifecycle of a turn's output.
type State string

const (
	Pending State = "pending"
	Done    State = "done"
)

// Update is one value observed by the consumer. Pending updates carry the full
// text accumulated so far; the Done update carries the final fragment.
type Update struct {
	State    State        `json:"state"`
	Text     string       `json:"text,omitempty"`
	Fragment *ui.Fragment `json:"fragment,omitempty"`
}

const updateBuffer = 16

// Sink accumulates streamed text and publishes it on an ordered channel.
type Sink struct {
	mu     sync.Mutex
	text   strings.Builder
	out    chan Update
	closed bool
}

// NewSink returns the sink and the receive side of its update channel.
func NewSink() (*Sink, <-chan Update) {
	out := make(chan Update, updateBuffer)
	return &Sink{out: out}, out
}

// Push appends delta to the accumulated text and publishes the whole text as
// a Pending update, so every value is a prefix-extension of the previous one.
func (s *Sink) Push(ctx context.Context, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	s.text.WriteString(delta)
	return s.send(ctx, Update{State: Pending, Text: s.text.String()})
}

// Text returns everything pushed so far.
func (s *Sink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Done publishes the terminal update and closes the channel. The channel is
// closed even when ctx is cancelled before the update could be delivered.
func (s *Sink) Done(ctx context.Context, fragment ui.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	defer close(s.out)

	update := Update{State: Done, Text: s.text.String(), Fragment: &fragment}
	if fragment.Kind != ui.KindText {
		update.Text = ""
	}
	return s.send(ctx, update)
}

// Close closes the channel without a terminal update. It is a no-op after Done.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Closed reports whether Done or Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send drops the update once ctx is cancelled, even if the buffer has room.
func (s *Sink) send(ctx context.Context, update Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.out <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
