package dialog

import (
	"testing"

	"github.com/voxline/frontdesk/internal/orgctx"
)

func salonOrg() *orgctx.OrganizationContext {
	return &orgctx.OrganizationContext{
		OrgID: "org-1",
		Name:  "Test Salon",
		Services: []orgctx.Service{
			{ID: "svc-1", Name: "Haircut", DurationMin: 30, Active: true},
			{ID: "svc-2", Name: "Consultation", DurationMin: 15, Active: true},
		},
		Rules: orgctx.DefaultRules(),
	}
}

func TestMachine_HappyPath(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	// "I'd like to book a haircut."
	slots.Merge(Entities{Service: "haircut"})
	out := m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.9})
	if out.To != StateCollectTimeWindow {
		t.Fatalf("after service: want CollectTimeWindow, got %s", out.To)
	}

	// "Tuesday at 3 PM."
	slots.Merge(Entities{TimeWindow: "Tuesday 3 PM"})
	out = m.Dispatch(ProcessIntent{Intent: IntentTimeProvided, Confidence: 0.9})
	if out.To != StateCollectContact {
		t.Fatalf("after time: want CollectContact, got %s", out.To)
	}

	// "Jane, 555-0100."
	slots.Merge(Entities{Contact: "Jane 555-0100"})
	out = m.Dispatch(ProcessIntent{Intent: IntentContactProvided, Confidence: 0.9})
	if out.To != StateConfirm {
		t.Fatalf("after contact: want Confirm, got %s", out.To)
	}
	if out.Script != ScriptReadback {
		t.Errorf("entering Confirm: want readback script, got %v", out.Script)
	}

	// "Yes."
	out = m.Dispatch(ProcessIntent{Intent: IntentConfirmYes, Confidence: 0.9})
	if out.To != StateBook || !out.BookNow {
		t.Fatalf("after yes: want Book with BookNow, got %+v", out)
	}

	out = m.CompleteBooking(true)
	if out.To != StateSuccess || out.Script != ScriptSuccess {
		t.Fatalf("after booking: want Success, got %+v", out)
	}
}

func TestMachine_MultiSlotUtteranceSkipsAhead(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	slots.Merge(Entities{Service: "haircut", TimeWindow: "tomorrow morning"})
	out := m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.9})
	if out.To != StateCollectContact {
		t.Errorf("service+time in one turn: want CollectContact, got %s", out.To)
	}
}

func TestMachine_InvalidServiceSuggestsAndRetries(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	slots.Merge(Entities{Service: "quantum healing"})
	out := m.Dispatch(ProcessIntent{Intent: IntentServiceProvided, Confidence: 0.9})

	if out.To != StateCollectService || !out.Retried {
		t.Errorf("invalid service: want retry in CollectService, got %+v", out)
	}
	if out.Script != ScriptSuggestService {
		t.Errorf("invalid service: want suggestion script, got %v", out.Script)
	}
	if slots.Service != "" {
		t.Errorf("invalid service must not stick: got %q", slots.Service)
	}
	if got := m.Retries(StateCollectService); got != 1 {
		t.Errorf("retry count: want 1, got %d", got)
	}
}

func TestMachine_RetriesExhaustedEscalates(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	var out Outcome
	for i := 0; i < 3; i++ {
		out = m.Dispatch(ProcessIntent{Intent: IntentUnclear, Confidence: 0.9})
	}
	if out.To != StateFallback || out.Script != ScriptFallback {
		t.Errorf("third unclear turn: want Fallback, got %+v", out)
	}
	if !m.State().Terminal() {
		t.Error("Fallback must be terminal")
	}
}

func TestMachine_LowConfidenceRetriesInsteadOfTransition(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	slots.Merge(Entities{Service: "haircut"})
	out := m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.3})
	if !out.Retried {
		t.Errorf("low confidence: want retry, got %+v", out)
	}

	// Exactly at the threshold passes.
	out = m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.5})
	if out.To != StateCollectTimeWindow {
		t.Errorf("threshold confidence: want transition, got %+v", out)
	}
}

func TestMachine_DigressionBounded(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	slots.Merge(Entities{Service: "haircut"})
	m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.9})

	for i := 0; i < 3; i++ {
		out := m.Dispatch(ProcessIntent{Intent: IntentDigression, Confidence: 0.9})
		if !out.Digressed || out.ForceReprompt {
			t.Fatalf("digression %d: want inline answer, got %+v", i+1, out)
		}
		if out.To != StateCollectTimeWindow {
			t.Fatalf("digression %d: state must hold, got %s", i+1, out.To)
		}
	}

	out := m.Dispatch(ProcessIntent{Intent: IntentDigression, Confidence: 0.9})
	if !out.ForceReprompt {
		t.Errorf("fourth digression: want forced reprompt, got %+v", out)
	}
	if got := m.Retries(StateCollectTimeWindow); got != 0 {
		t.Errorf("digressions must not touch retries: got %d", got)
	}

	// An on-task turn resets the consecutive count.
	slots.Merge(Entities{TimeWindow: "Friday"})
	m.Dispatch(ProcessIntent{Intent: IntentTimeProvided, Confidence: 0.9})
	out = m.Dispatch(ProcessIntent{Intent: IntentDigression, Confidence: 0.9})
	if out.ForceReprompt {
		t.Errorf("digression count must reset after on-task turn: got %+v", out)
	}
}

func TestMachine_ConfirmNo(t *testing.T) {
	t.Parallel()

	t.Run("with correction keeps other slots", func(t *testing.T) {
		t.Parallel()

		slots := &Slots{Service: "Haircut", TimeWindow: "Tuesday 3 PM", Contact: "Jane"}
		m := NewMachine(salonOrg(), slots)
		m.state = StateConfirm

		// "No, make that Wednesday" — entities merged with override first.
		ent := Entities{TimeWindow: "Wednesday 3 PM", Override: true}
		slots.Merge(ent)
		out := m.Dispatch(ProcessIntent{Intent: IntentConfirmNo, Confidence: 0.9, Entities: ent})

		if out.To != StateConfirm || out.Script != ScriptReadback {
			t.Errorf("corrected slots: want fresh readback, got %+v", out)
		}
		if slots.Service != "Haircut" || slots.TimeWindow != "Wednesday 3 PM" {
			t.Errorf("slots after correction: got %+v", slots)
		}
	})

	t.Run("without correction starts over", func(t *testing.T) {
		t.Parallel()

		slots := &Slots{Service: "Haircut", TimeWindow: "Tuesday 3 PM", Contact: "Jane"}
		m := NewMachine(salonOrg(), slots)
		m.state = StateConfirm

		out := m.Dispatch(ProcessIntent{Intent: IntentConfirmNo, Confidence: 0.9})
		if out.To != StateCollectService {
			t.Errorf("plain no: want CollectService, got %s", out.To)
		}
		if *slots != (Slots{}) {
			t.Errorf("plain no must wipe slots: got %+v", slots)
		}
	})
}

func TestMachine_BookingFailureSchedulesCallback(t *testing.T) {
	t.Parallel()

	slots := &Slots{Service: "Haircut", TimeWindow: "Tuesday", Contact: "Jane"}
	m := NewMachine(salonOrg(), slots)
	m.state = StateBook

	out := m.CompleteBooking(false)
	if out.To != StateCallbackScheduled || out.Script != ScriptCallback {
		t.Errorf("failed booking: want CallbackScheduled, got %+v", out)
	}
}

func TestMachine_SilenceEscalation(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	out := m.RecordSilence()
	if out.To == StateFallback {
		t.Fatal("first silence must not escalate")
	}
	out = m.RecordSilence()
	if out.To != StateFallback {
		t.Errorf("second silence in same state: want Fallback, got %s", out.To)
	}
}

func TestMachine_TerminalStatesIgnoreEvents(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)
	m.state = StateSuccess

	out := m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.9})
	if out.To != StateSuccess {
		t.Errorf("terminal state: want no transition, got %s", out.To)
	}
}

func TestMachine_IdleDigressionMovesToRespondAndIdle(t *testing.T) {
	t.Parallel()

	slots := &Slots{}
	m := NewMachine(salonOrg(), slots)

	out := m.Dispatch(ProcessIntent{Intent: IntentDigression, Confidence: 0.9})
	if out.To != StateRespondAndIdle || !out.Digressed {
		t.Errorf("idle digression: want RespondAndIdle, got %+v", out)
	}

	// Booking from RespondAndIdle proceeds normally.
	slots.Merge(Entities{Service: "haircut"})
	out = m.Dispatch(ProcessIntent{Intent: IntentBooking, Confidence: 0.9})
	if out.To != StateCollectTimeWindow {
		t.Errorf("booking from RespondAndIdle: want CollectTimeWindow, got %s", out.To)
	}
}
