package dialog

import "strings"

// Slots is the accumulating booking data for one call. Writes are monotonic:
// a filled slot is only replaced when the extractor marks the new value as an
// explicit override.
type Slots struct {
	Service    string
	TimeWindow string
	Contact    string
	Location   string
	Notes      string
}

// Entities is the slot-bearing part of one extraction. Empty fields mean "not
// mentioned this turn".
type Entities struct {
	Service    string `json:"service,omitempty"`
	TimeWindow string `json:"timeWindow,omitempty"`
	Contact    string `json:"contact,omitempty"`
	Location   string `json:"location,omitempty"`
	Notes      string `json:"notes,omitempty"`

	// Override marks this turn's values as deliberate replacements ("no,
	// make that Wednesday"), allowing them to overwrite filled slots.
	Override bool `json:"override,omitempty"`
}

// Merge folds extracted entities into the slots. Returns true when any slot
// changed.
func (s *Slots) Merge(e Entities) bool {
	changed := false
	merge := func(dst *string, val string) {
		val = strings.TrimSpace(val)
		if val == "" {
			return
		}
		if *dst != "" && !e.Override {
			return
		}
		if *dst != val {
			*dst = val
			changed = true
		}
	}
	merge(&s.Service, e.Service)
	merge(&s.TimeWindow, e.TimeWindow)
	merge(&s.Contact, e.Contact)
	merge(&s.Location, e.Location)
	merge(&s.Notes, e.Notes)
	return changed
}

// HasAll reports whether the three required slots are filled.
func (s *Slots) HasAll() bool {
	return s.Service != "" && s.TimeWindow != "" && s.Contact != ""
}

// Clear wipes all slots.
func (s *Slots) Clear() {
	*s = Slots{}
}

// Map returns the filled slots as a string map for records and logs.
func (s *Slots) Map() map[string]string {
	m := make(map[string]string)
	for k, v := range map[string]string{
		"service":    s.Service,
		"timeWindow": s.TimeWindow,
		"contact":    s.Contact,
		"location":   s.Location,
		"notes":      s.Notes,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}
