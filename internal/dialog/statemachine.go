package dialog

import (
	"github.com/voxline/frontdesk/internal/orgctx"
)

// maxConsecutiveDigressions bounds off-task turns answered inline before the
// agent forces the conversation back to the active prompt.
const maxConsecutiveDigressions = 3

// ScriptKind names a state-machine-owned response script. When an outcome
// carries a script, it takes precedence over the extractor's generated
// response for that turn.
type ScriptKind int

const (
	ScriptNone ScriptKind = iota

	// ScriptReadback reads the collected slots back for confirmation.
	ScriptReadback

	// ScriptSuccess confirms the booked appointment.
	ScriptSuccess

	// ScriptCallback tells the caller someone will call back to finalize.
	ScriptCallback

	// ScriptFallback apologizes and escalates.
	ScriptFallback

	// ScriptSuggestService offers the closest valid services after an
	// invalid request.
	ScriptSuggestService
)

// Outcome describes the result of dispatching one ProcessIntent event.
type Outcome struct {
	From State
	To   State

	// Script, when not ScriptNone, overrides the extractor response.
	Script ScriptKind

	// Retried is set when the event failed its guard and the state re-asks.
	Retried bool

	// Digressed is set for inline-answered off-task turns. When
	// ForceReprompt is also set the digression bound was hit and the inline
	// answer is suppressed in favor of the active prompt.
	Digressed     bool
	ForceReprompt bool

	// BookNow instructs the orchestrator to attempt the booking and report
	// back via CompleteBooking.
	BookNow bool
}

// Machine is the deterministic booking state machine for one call. It owns
// the state, per-state retry and silence counters, and the digression bound;
// slot mutation stays with the session and happens before dispatch.
type Machine struct {
	org   *orgctx.OrganizationContext
	slots *Slots

	state          State
	retryByState   map[State]int
	silenceByState map[State]int
	digressions    int
}

// NewMachine creates a Machine in StateIdle over the session's slots.
func NewMachine(org *orgctx.OrganizationContext, slots *Slots) *Machine {
	return &Machine{
		org:            org,
		slots:          slots,
		state:          StateIdle,
		retryByState:   make(map[State]int),
		silenceByState: make(map[State]int),
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Retries returns the retry count recorded for a state.
func (m *Machine) Retries(s State) int { return m.retryByState[s] }

// maxRetries reads the per-org retry bound.
func (m *Machine) maxRetries() int {
	if m.org.Rules.MaxRetries > 0 {
		return m.org.Rules.MaxRetries
	}
	return orgctx.DefaultRules().MaxRetries
}

// confidenceOk applies the per-org confirmation threshold; a value exactly at
// the threshold passes.
func (m *Machine) confidenceOk(confidence float64) bool {
	threshold := m.org.Rules.ConfirmationThreshold
	if threshold == 0 {
		threshold = orgctx.DefaultRules().ConfirmationThreshold
	}
	return confidence >= threshold
}

// Dispatch advances the machine on one ProcessIntent event. Entities must
// already be merged into the slots by the caller.
func (m *Machine) Dispatch(ev ProcessIntent) Outcome {
	out := Outcome{From: m.state, To: m.state}
	if m.state.Terminal() || m.state == StateBook {
		return out
	}

	if ev.Intent == IntentDigression {
		return m.digress(out)
	}
	m.digressions = 0

	// Low-confidence extractions re-ask rather than transition.
	if !m.confidenceOk(ev.Confidence) {
		return m.retry(out)
	}

	switch m.state {
	case StateIdle, StateRespondAndIdle, StateCollectService:
		return m.dispatchService(ev, out)
	case StateCollectTimeWindow:
		if m.slots.TimeWindow != "" {
			return m.advanceTo(m.nextMissing(), out)
		}
		return m.retry(out)
	case StateCollectContact:
		if m.slots.Contact != "" {
			return m.advanceTo(StateConfirm, out)
		}
		return m.retry(out)
	case StateConfirm:
		return m.dispatchConfirm(ev, out)
	}
	return out
}

// dispatchService handles the service-collection states, including the
// initial Idle dispatch.
func (m *Machine) dispatchService(ev ProcessIntent, out Outcome) Outcome {
	if m.slots.Service != "" {
		if _, ok := m.org.FindService(m.slots.Service); ok {
			return m.advanceTo(m.nextMissing(), out)
		}
		// The caller asked for something we do not offer. Clear it so the
		// guess never leaks into a readback, and suggest alternatives.
		m.slots.Service = ""
		out.Script = ScriptSuggestService
		return m.retryInto(StateCollectService, out)
	}
	if ev.Intent == IntentBooking {
		// Intent to book with no service named yet; move off Idle and ask.
		out.To = StateCollectService
		m.state = StateCollectService
		return out
	}
	return m.retryInto(StateCollectService, out)
}

// dispatchConfirm handles the readback confirmation state.
func (m *Machine) dispatchConfirm(ev ProcessIntent, out Outcome) Outcome {
	switch ev.Intent {
	case IntentConfirmYes:
		m.state = StateBook
		out.To = StateBook
		out.BookNow = true
		return out
	case IntentConfirmNo:
		// The caller is changing something. Same-turn entities were already
		// merged with override; when nothing new was supplied, start the
		// collection over.
		if ev.Entities == (Entities{}) {
			m.slots.Clear()
		}
		next := m.nextMissing()
		if next == StateConfirm {
			// Everything still filled after the correction: read back again.
			out.To = StateConfirm
			out.Script = ScriptReadback
			return out
		}
		return m.advanceTo(next, out)
	default:
		return m.retry(out)
	}
}

// nextMissing returns the state for the next unfilled slot in canonical
// order, or Confirm when all are filled.
func (m *Machine) nextMissing() State {
	switch {
	case m.slots.Service == "":
		return StateCollectService
	case m.slots.TimeWindow == "":
		return StateCollectTimeWindow
	case m.slots.Contact == "":
		return StateCollectContact
	default:
		return StateConfirm
	}
}

// advanceTo moves to a new state, emitting the readback script on entry to
// Confirm.
func (m *Machine) advanceTo(next State, out Outcome) Outcome {
	m.state = next
	out.To = next
	if next == StateConfirm {
		out.Script = ScriptReadback
	}
	return out
}

// retry re-asks in the current state; retryInto re-asks in a specific state
// (used when Idle hands off to CollectService). Exceeding the retry bound
// escalates.
func (m *Machine) retry(out Outcome) Outcome {
	return m.retryInto(m.state, out)
}

func (m *Machine) retryInto(state State, out Outcome) Outcome {
	m.state = state
	m.retryByState[state]++
	if m.retryByState[state] >= m.maxRetries() {
		return m.escalate(out)
	}
	out.To = state
	out.Retried = true
	return out
}

// digress answers an off-task turn inline without touching retry counters.
// The bound forces the fourth consecutive digression back to the prompt.
func (m *Machine) digress(out Outcome) Outcome {
	m.digressions++
	out.Digressed = true
	if m.digressions > maxConsecutiveDigressions {
		out.ForceReprompt = true
	}
	if m.state == StateIdle {
		// Chit-chat before any booking intent; keep listening.
		m.state = StateRespondAndIdle
		out.To = StateRespondAndIdle
	}
	return out
}

// RecordSilence notes a silence timeout in the current state. The second
// timeout in the same state escalates; the returned outcome reports whether
// that happened.
func (m *Machine) RecordSilence() Outcome {
	out := Outcome{From: m.state, To: m.state}
	if m.state.Terminal() {
		return out
	}
	m.silenceByState[m.state]++
	if m.silenceByState[m.state] >= 2 {
		return m.escalate(out)
	}
	return out
}

// CompleteBooking resolves the Book action state: success lands on Success,
// integration failure degrades to a scheduled callback.
func (m *Machine) CompleteBooking(booked bool) Outcome {
	out := Outcome{From: m.state}
	if booked {
		m.state = StateSuccess
		out.Script = ScriptSuccess
	} else {
		m.state = StateCallbackScheduled
		out.Script = ScriptCallback
	}
	out.To = m.state
	return out
}

// escalate transitions to Fallback.
func (m *Machine) escalate(out Outcome) Outcome {
	m.state = StateFallback
	out.To = StateFallback
	out.Script = ScriptFallback
	return out
}
