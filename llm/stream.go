package llm

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/BaSui01/claudegate/llm/providers/claude"
	"github.com/BaSui01/claudegate/types"
)

// Stream is a lazy, ordered sequence of events from one upstream response.
// Next returns io.EOF after the terminal event; any other error is a
// *types.SafeError and is returned again by every later call. Events already
// returned are never retracted. A Stream is not safe for concurrent use;
// cancel the request context to stop a blocked Next.
type Stream struct {
	call *call
	dec  *claude.Decoder

	mu     sync.Mutex
	err    error
	result *Result
}

// RequestID identifies the request in logs.
func (s *Stream) RequestID() string { return s.call.requestID }

// Model is the resolved upstream model.
func (s *Stream) Model() string { return s.call.model }

// Next returns the next event.
func (s *Stream) Next() (claude.Event, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return claude.Event{}, err
	}
	s.mu.Unlock()

	ev, err := s.dec.Next()
	if err == nil {
		if r := s.call.p.recorder; r != nil {
			r.RecordStreamEvent(string(ev.Type))
		}
		if s.call.p.otel != nil {
			s.call.p.otel.RecordStreamEvent(s.call.ctx, string(ev.Type))
		}
		return ev, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return claude.Event{}, s.err
	}
	if errors.Is(err, io.EOF) {
		if c, ok := s.dec.Result(); ok {
			s.result = s.call.succeed(c)
		}
		s.err = io.EOF
		return claude.Event{}, io.EOF
	}
	s.err = s.call.fail(err)
	return claude.Event{}, s.err
}

// Close releases the upstream body. Closing before the terminal event ends
// the stream as Cancelled.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil
	}
	err := s.dec.Close()
	s.err = s.call.fail(types.NewError(types.KindCancelled, "stream closed before completion").WithAttempts(s.call.attempts))
	return err
}

// Result returns the aggregate after the stream completed.
func (s *Stream) Result() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.result != nil
}

// Transcript returns the text delivered so far, also after an abort.
func (s *Stream) Transcript() string { return s.dec.Transcript() }

// Item is one element of Chan: an event, or the terminal error. A completed
// stream ends with the channel closing and no error item.
type Item struct {
	Event claude.Event
	Err   error
}

// Chan adapts the stream to a channel for HTTP hosts. The stream is closed
// when the channel closes. Cancelling ctx stops the producer.
func (s *Stream) Chan(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		defer s.Close()
		for {
			ev, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			item := Item{Event: ev, Err: err}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
