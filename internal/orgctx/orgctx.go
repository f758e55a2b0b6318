// Package orgctx resolves the organization context for an inbound call.
//
// Each organization maps one or more dialed phone numbers to its service
// catalog, business hours, voice, and dialogue policy. Resolution happens once
// per call, keyed by the dialed number in E.164 form; a read-through cache in
// front of the backing store keeps the hot path off the database.
package orgctx

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when no organization owns the number.
var ErrNotFound = errors.New("orgctx: no organization for number")

// Service is a single bookable offering in an organization's catalog.
type Service struct {
	// ID is the stable catalog identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the caller-facing service name ("haircut", "color treatment").
	Name string `json:"name" yaml:"name"`

	// DurationMin is the appointment length in minutes.
	DurationMin int `json:"duration_min" yaml:"duration_min"`

	// Active gates whether the service is currently bookable. Inactive
	// services never validate a caller's request.
	Active bool `json:"active" yaml:"active"`

	// Aliases are alternative phrasings accepted from callers.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// VoiceSettings selects and shapes the agent's synthesized voice.
type VoiceSettings struct {
	VoiceID string  `json:"voice_id" yaml:"voice_id"`
	Speed   float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	Pitch   float64 `json:"pitch,omitempty" yaml:"pitch,omitempty"`
}

// BusinessHours describes one weekday's opening window in the org timezone.
// Zero-value Open/Close means closed that day.
type BusinessHours struct {
	Weekday time.Weekday `json:"weekday" yaml:"weekday"`
	Open    string       `json:"open" yaml:"open"`   // "09:00"
	Close   string       `json:"close" yaml:"close"` // "17:30"
}

// Rules is the per-organization dialogue and scheduling policy.
type Rules struct {
	// DefaultSlotMinutes is the appointment length when the chosen service
	// declares none.
	DefaultSlotMinutes int `json:"default_slot_minutes" yaml:"default_slot_minutes"`

	// BufferMinutes is padding between consecutive appointments.
	BufferMinutes int `json:"buffer_minutes" yaml:"buffer_minutes"`

	// AllowDoubleBooking permits overlapping appointments.
	AllowDoubleBooking bool `json:"allow_double_booking" yaml:"allow_double_booking"`

	// MaxRetries bounds re-prompts in a single dialogue state before the
	// call escalates.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// ConfirmationThreshold is the extraction confidence below which the
	// agent re-asks instead of acting.
	ConfirmationThreshold float64 `json:"confirmation_threshold" yaml:"confirmation_threshold"`
}

// DefaultRules returns the policy applied when an organization defines none.
func DefaultRules() Rules {
	return Rules{DefaultSlotMinutes: 30, MaxRetries: 3, ConfirmationThreshold: 0.5}
}

// OrganizationContext is everything the dialogue core needs to represent one
// organization on a call.
type OrganizationContext struct {
	OrgID        string `json:"org_id" yaml:"org_id"`
	Name         string `json:"name" yaml:"name"`
	DialedNumber string `json:"dialed_number,omitempty" yaml:"dialed_number,omitempty"`

	// Greeting opens the call; Fallback is spoken on escalation and
	// unrecoverable turn errors. Scripts holds optional per-state overrides
	// keyed by dialogue state name.
	Greeting string            `json:"greeting" yaml:"greeting"`
	Fallback string            `json:"fallback" yaml:"fallback"`
	Scripts  map[string]string `json:"scripts,omitempty" yaml:"scripts,omitempty"`

	Voice    VoiceSettings   `json:"voice" yaml:"voice"`
	Timezone string          `json:"timezone" yaml:"timezone"`
	Services []Service       `json:"services" yaml:"services"`
	Hours    []BusinessHours `json:"hours,omitempty" yaml:"hours,omitempty"`
	Holidays []string        `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	Rules    Rules           `json:"rules" yaml:"rules"`

	// EscalationNumber, when set, is offered to the caller on Fallback.
	EscalationNumber string `json:"escalation_number,omitempty" yaml:"escalation_number,omitempty"`
}

// ActiveServiceNames returns the caller-facing names of all active services
// in catalog order.
func (o *OrganizationContext) ActiveServiceNames() []string {
	var names []string
	for _, s := range o.Services {
		if s.Active {
			names = append(names, s.Name)
		}
	}
	return names
}

// FindService matches a caller phrasing against the active catalog by name or
// alias, case-insensitively. Returns (zero, false) when nothing matches.
func (o *OrganizationContext) FindService(name string) (Service, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return Service{}, false
	}
	for _, s := range o.Services {
		if !s.Active {
			continue
		}
		if strings.ToLower(s.Name) == want {
			return s, true
		}
		for _, a := range s.Aliases {
			if strings.ToLower(a) == want {
				return s, true
			}
		}
	}
	return Service{}, false
}

// Provider resolves the organization context for a dialed number.
//
// Resolve never fails a call on a missing mapping: implementations fall back
// to a default context so the agent can still answer.
type Provider interface {
	Resolve(ctx context.Context, dialedNumber string) (*OrganizationContext, error)
}

// Store is the backing lookup behind the cache. Lookup receives the number
// already normalized to E.164 and returns ErrNotFound when unmapped.
type Store interface {
	Lookup(ctx context.Context, e164 string) (*OrganizationContext, error)
}

// NormalizeE164 canonicalizes a dialed number to E.164.
//
// Accepted inputs: already-normalized "+1XXXXXXXXXX", bare 10-digit national
// numbers, and 11-digit numbers with a leading 1. Punctuation and spaces are
// stripped. Normalization is idempotent; anything else is returned trimmed but
// otherwise untouched.
func NormalizeE164(number string) string {
	trimmed := strings.TrimSpace(number)
	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hasPlus:
		if d == "" {
			return trimmed
		}
		return "+" + d
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	default:
		return trimmed
	}
}
