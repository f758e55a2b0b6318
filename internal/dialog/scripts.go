package dialog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxline/frontdesk/internal/orgctx"
)

// Default lines used when the organization configures none.
const (
	defaultGreeting = "Thanks for calling. How can I help you today?"
	defaultFallback = "I'm sorry, I'm having trouble helping over the phone. Someone from our team will follow up with you shortly."
	defaultFarewell = "Thanks for calling. Goodbye."
)

// suggestionFloor is the minimum similarity for a service to be offered as
// "did you mean".
const suggestionFloor = 0.6

// scripts renders the state-machine-owned lines for one organization,
// honoring per-state overrides from org.Scripts.
type scripts struct {
	org *orgctx.OrganizationContext
}

// override returns the org's per-state script when configured.
func (sc scripts) override(state State) (string, bool) {
	if sc.org.Scripts == nil {
		return "", false
	}
	line, ok := sc.org.Scripts[string(state)]
	return line, ok && line != ""
}

// Greeting is the call-opening line.
func (sc scripts) Greeting() string {
	if sc.org.Greeting != "" {
		return sc.org.Greeting
	}
	if sc.org.Name != "" {
		return fmt.Sprintf("Thanks for calling %s. How can I help you today?", sc.org.Name)
	}
	return defaultGreeting
}

// Readback renders the confirmation readback from the collected slots.
func (sc scripts) Readback(slots *Slots) string {
	if line, ok := sc.override(StateConfirm); ok {
		return line
	}
	return fmt.Sprintf("Let me confirm: a %s on %s for %s. Is that right?",
		strings.ToLower(slots.Service), slots.TimeWindow, slots.Contact)
}

// Success confirms the booked appointment.
func (sc scripts) Success(slots *Slots) string {
	if line, ok := sc.override(StateSuccess); ok {
		return line
	}
	return fmt.Sprintf("You're all set! Your %s is booked for %s. We'll see you then.",
		strings.ToLower(slots.Service), slots.TimeWindow)
}

// Callback tells the caller the booking will be finalized by a human.
func (sc scripts) Callback() string {
	if line, ok := sc.override(StateCallbackScheduled); ok {
		return line
	}
	return "I've noted all your details, but I couldn't finalize the booking just now. Someone from our team will call you back shortly to confirm."
}

// Fallback apologizes and escalates, offering the escalation number when one
// is configured.
func (sc scripts) Fallback() string {
	if line, ok := sc.override(StateFallback); ok {
		return line
	}
	line := sc.org.Fallback
	if line == "" {
		line = defaultFallback
	}
	if sc.org.EscalationNumber != "" {
		line += fmt.Sprintf(" You can also reach us directly at %s.", sc.org.EscalationNumber)
	}
	return line
}

// Farewell closes a timed-out call.
func (sc scripts) Farewell() string {
	return defaultFarewell
}

// SuggestServices offers the closest valid services after an invalid request.
func (sc scripts) SuggestServices(requested string) string {
	names := sc.org.ActiveServiceNames()
	if len(names) == 0 {
		return "I'm sorry, we don't offer that. Could you tell me what you'd like to book?"
	}
	ranked := closestServices(requested, names, 3)
	if len(ranked) == 1 {
		return fmt.Sprintf("I'm sorry, we don't offer that. Did you mean a %s?", strings.ToLower(ranked[0]))
	}
	return fmt.Sprintf("I'm sorry, we don't offer that. We do offer %s. Which would you like?",
		joinNaturally(ranked))
}

// closestServices ranks candidate names by similarity to the request and
// returns the top n above the floor; when nothing scores, the first n catalog
// entries are offered instead.
func closestServices(requested string, names []string, n int) []string {
	req := strings.ToLower(strings.TrimSpace(requested))

	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(names))
	for _, name := range names {
		score := matchr.JaroWinkler(req, strings.ToLower(name), false)
		ranked = append(ranked, scored{name: name, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	for _, r := range ranked {
		if r.score >= suggestionFloor && len(out) < n {
			out = append(out, r.name)
		}
	}
	if len(out) == 0 {
		for i := 0; i < len(names) && i < n; i++ {
			out = append(out, names[i])
		}
	}
	return out
}

// joinNaturally renders a list as spoken English: "a, b, or c".
func joinNaturally(items []string) string {
	lowered := make([]string, len(items))
	for i, it := range items {
		lowered[i] = strings.ToLower(it)
	}
	switch len(lowered) {
	case 0:
		return ""
	case 1:
		return lowered[0]
	case 2:
		return lowered[0] + " or " + lowered[1]
	default:
		return strings.Join(lowered[:len(lowered)-1], ", ") + ", or " + lowered[len(lowered)-1]
	}
}

// nudges are the silence prompts, grouped by how far the booking has
// progressed. The session rotates through each group to avoid robotic
// repetition.
var nudges = map[State][]string{
	StateIdle: {
		"Are you still there? I can help you book an appointment.",
		"Hello? Just let me know what you'd like to book.",
		"I'm still here whenever you're ready.",
	},
	StateCollectService: {
		"Are you still there? What service would you like to book?",
		"Whenever you're ready, just tell me which service you'd like.",
		"Take your time. Which service can I book for you?",
	},
	StateCollectTimeWindow: {
		"Are you still with me? What day and time work for you?",
		"Whenever you're ready, what time would suit you?",
		"Just let me know what day and time you'd prefer.",
	},
	StateCollectContact: {
		"Are you still there? I just need a name and phone number.",
		"Whenever you're ready, could I get your name and number?",
		"Just your name and a phone number and we're nearly done.",
	},
	StateConfirm: {
		"Are you still there? I just need a yes or no to confirm.",
		"Shall I go ahead and book that for you?",
		"Just say yes to confirm, or no to change something.",
	},
}

// prompts are the active collection questions per state, used to re-ask after
// a failed turn and to steer back after digressions.
var prompts = map[State]string{
	StateCollectService:    "What service would you like to book?",
	StateCollectTimeWindow: "What day and time work best for you?",
	StateCollectContact:    "Could I get your name and a phone number to reach you?",
	StateConfirm:           "Just say yes to confirm, or no to change something.",
}

// Prompt returns the collection question for a state.
func (sc scripts) Prompt(state State) string {
	if line, ok := sc.override(state + "_prompt"); ok {
		return line
	}
	if line, ok := prompts[state]; ok {
		return line
	}
	return "How can I help you with your booking?"
}

// Nudge returns the idx-th silence prompt for the current state, wrapping
// around the group.
func (sc scripts) Nudge(state State, idx int) string {
	group, ok := nudges[state]
	if !ok {
		group = nudges[StateIdle]
	}
	if line, has := sc.override(state + "_nudge"); has {
		return line
	}
	return group[idx%len(group)]
}
