// Package telephony handles the inbound-call HTTP webhook and the short-lived
// call metadata store that bridges the webhook and the media stream.
//
// The carrier hits the webhook first with the call's To/From/CallSid, then
// opens the media WebSocket. Some carriers omit custom parameters on the
// stream start frame, so the webhook parks the metadata in a CallStore keyed
// by CallSid for the media handler to claim.
package telephony

import (
	"sync"
	"time"
)

const (
	// callTTL is how long parked call metadata survives before the janitor
	// reaps it. The media socket normally arrives within a second or two.
	callTTL = 2 * time.Minute

	janitorInterval = 30 * time.Second
)

// CallInfo is the metadata captured from the inbound-call webhook.
type CallInfo struct {
	CallSID string
	To      string
	From    string
	OrgHint string
}

// CallStore parks CallInfo between the webhook and the media stream. Entries
// expire after a TTL and are deleted on first read.
type CallStore struct {
	mu      sync.Mutex
	entries map[string]storedCall
	now     func() time.Time

	once sync.Once
	done chan struct{}
}

type storedCall struct {
	info    CallInfo
	expires time.Time
}

// NewCallStore creates a CallStore and starts its expiry janitor.
func NewCallStore() *CallStore {
	s := &CallStore{
		entries: make(map[string]storedCall),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Put parks call metadata keyed by CallSid, replacing any previous entry.
func (s *CallStore) Put(info CallInfo) {
	if info.CallSID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[info.CallSID] = storedCall{info: info, expires: s.now().Add(callTTL)}
}

// Claim returns the metadata for a CallSid and removes it. Each entry can be
// claimed once.
func (s *CallStore) Claim(callSID string) (CallInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[callSID]
	if !ok || s.now().After(e.expires) {
		delete(s.entries, callSID)
		return CallInfo{}, false
	}
	delete(s.entries, callSID)
	return e.info, true
}

// Len reports the number of parked entries, expired or not.
func (s *CallStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the janitor.
func (s *CallStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *CallStore) janitor() {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.reap()
		case <-s.done:
			return
		}
	}
}

func (s *CallStore) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for sid, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, sid)
		}
	}
}
