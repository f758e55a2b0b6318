package dialog

// State is a booking state machine state. String-typed so per-state script
// overrides and records key on the state name directly.
type State string

const (
	StateIdle              State = "Idle"
	StateCollectService    State = "CollectService"
	StateCollectTimeWindow State = "CollectTimeWindow"
	StateCollectContact    State = "CollectContact"
	StateConfirm           State = "Confirm"
	StateBook              State = "Book"
	StateSuccess           State = "Success"
	StateCallbackScheduled State = "CallbackScheduled"
	StateFallback          State = "Fallback"
	StateRespondAndIdle    State = "RespondAndIdle"
)

// Terminal reports whether the state ends the call.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateCallbackScheduled, StateFallback:
		return true
	}
	return false
}

// Intent is the classified purpose of one caller utterance.
type Intent string

const (
	IntentBooking         Intent = "booking"
	IntentServiceProvided Intent = "service_provided"
	IntentTimeProvided    Intent = "time_provided"
	IntentContactProvided Intent = "contact_provided"
	IntentConfirmYes      Intent = "confirmation_yes"
	IntentConfirmNo       Intent = "confirmation_no"
	IntentDigression      Intent = "digression"
	IntentUnclear         Intent = "unclear"
)

// knownIntents is the closed set accepted from the extractor; anything else
// is coerced to IntentUnclear.
var knownIntents = map[Intent]bool{
	IntentBooking:         true,
	IntentServiceProvided: true,
	IntentTimeProvided:    true,
	IntentContactProvided: true,
	IntentConfirmYes:      true,
	IntentConfirmNo:       true,
	IntentDigression:      true,
	IntentUnclear:         true,
}

// ProcessIntent is the single event kind that drives state transitions.
type ProcessIntent struct {
	Intent       Intent
	Confidence   float64
	Entities     Entities
	OriginalText string
	Response     string
}
