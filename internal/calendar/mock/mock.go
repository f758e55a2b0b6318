// Package mock provides a test double for the calendar.Booker interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/frontdesk/internal/calendar"
)

// Booker is a mock implementation of calendar.Booker.
type Booker struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Book.
	Err error

	// Confirmation is returned on success. When nil a default receipt is
	// returned.
	Confirmation *calendar.Confirmation

	requests []calendar.Request
}

// Book records the request and returns the scripted result.
func (b *Booker) Book(_ context.Context, req calendar.Request) (*calendar.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	if b.Err != nil {
		return nil, b.Err
	}
	if b.Confirmation != nil {
		c := *b.Confirmation
		return &c, nil
	}
	return &calendar.Confirmation{BookingID: "mock-booking-1"}, nil
}

// Requests returns a copy of all recorded booking requests.
func (b *Booker) Requests() []calendar.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]calendar.Request, len(b.requests))
	copy(out, b.requests)
	return out
}
