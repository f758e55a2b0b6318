// Package calendar books appointments against the organization's scheduling
// backend.
//
// The dialogue core depends only on the narrow Booker interface; booking
// failure is an expected outcome that degrades the call to a scheduled
// callback rather than an error the caller hears about.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request carries the confirmed appointment details.
type Request struct {
	OrgID      string `json:"org_id"`
	ServiceID  string `json:"service_id"`
	Service    string `json:"service"`
	TimeWindow string `json:"time_window"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	SessionID  string `json:"session_id"`
}

// Confirmation is the scheduling backend's booking receipt.
type Confirmation struct {
	BookingID string `json:"booking_id"`
	// ScheduledFor is the backend's resolved appointment time, when it
	// returns one.
	ScheduledFor string `json:"scheduled_for,omitempty"`
}

// Booker books a confirmed appointment.
type Booker interface {
	Book(ctx context.Context, req Request) (*Confirmation, error)
}

// HTTPBooker posts bookings to a configured HTTP endpoint as JSON.
type HTTPBooker struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// Compile-time interface check.
var _ Booker = (*HTTPBooker)(nil)

// Option configures an HTTPBooker.
type Option func(*HTTPBooker)

// WithAuthToken sends token as a Bearer credential with every booking
// request.
func WithAuthToken(token string) Option {
	return func(b *HTTPBooker) { b.authToken = token }
}

// NewHTTPBooker creates an HTTPBooker for the given endpoint URL.
func NewHTTPBooker(endpoint string, timeout time.Duration, opts ...Option) (*HTTPBooker, error) {
	if endpoint == "" {
		return nil, errors.New("calendar: endpoint must not be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &HTTPBooker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Book implements Booker. Any non-2xx response is an error.
func (b *HTTPBooker) Book(ctx context.Context, req Request) (*Confirmation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calendar: post booking: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar: booking rejected with status %d", resp.StatusCode)
	}

	var conf Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, fmt.Errorf("calendar: decode confirmation: %w", err)
	}
	if conf.BookingID == "" {
		return nil, errors.New("calendar: confirmation missing booking_id")
	}
	return &conf, nil
}
