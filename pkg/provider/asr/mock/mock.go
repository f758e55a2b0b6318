// Package mock provides a test double for the asr.Provider interface.
//
// Use Provider in unit tests to feed scripted recognition events into the
// dialogue core without a live recognizer. Events are injected with
// [Session.Emit]; audio written by the code under test is recorded and can be
// inspected after the fact.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxline/frontdesk/pkg/provider/asr"
)

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartStream.
	StartErr error

	// StartCalls records the StreamConfig of every StartStream invocation.
	StartCalls []asr.StreamConfig

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

// StartStream records the call and returns a fresh [Session].
func (p *Provider) StartStream(_ context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.StartCalls = append(p.StartCalls, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Session is a mock implementation of asr.SessionHandle.
type Session struct {
	mu     sync.Mutex
	events chan asr.Event
	sent   [][]byte
	closed bool
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan asr.Event, 64)}
}

// Emit injects an event into the session's event stream. It is a no-op after
// Close.
func (s *Session) Emit(ev asr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SendAudio records the chunk. It never blocks.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("asr mock: session is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// Sent returns a copy of all audio chunks received so far.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Events returns the session's event stream.
func (s *Session) Events() <-chan asr.Event { return s.events }

// Dropped always reports zero; the mock never drops audio.
func (s *Session) Dropped() uint64 { return 0 }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the event stream. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
