package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxline/frontdesk/internal/calendar"
	"github.com/voxline/frontdesk/internal/events"
	"github.com/voxline/frontdesk/internal/observe"
	"github.com/voxline/frontdesk/internal/orgctx"
)

// retryLine is spoken when extraction itself fails and the turn cannot be
// classified. The machine state is left untouched so a provider hiccup never
// burns the caller's retries.
const retryLine = "I'm sorry, I didn't catch that. Could you say it again?"

// runTurn executes one full dialogue turn: extraction, slot merge, state
// dispatch, optional booking, response selection, and speech output. It runs
// on the session goroutine; recognition keeps flowing while the agent speaks,
// and barge-in interrupts Speak from the dispatcher.
func (s *Session) runTurn(ctx context.Context, text string, silenceTimer, convTimer, closeTimer *time.Timer) {
	s.flags.processingTurn = true
	defer func() { s.flags.processingTurn = false }()

	turnStart := time.Now()
	s.turnIndex++

	var lat events.StageLatency
	if !s.lastFinalAt.IsZero() {
		// Time the transcript sat in the buffer waiting out quiescence.
		lat.ASRMs = time.Since(s.lastFinalAt).Milliseconds()
	}

	extractStart := time.Now()
	ext, err := s.extractor.Extract(ctx, ExtractInput{
		Transcript: text,
		State:      s.machine.State(),
		Slots:      &s.slots,
		History:    s.history,
		Org:        s.org,
	})
	lat.ExtractionMs = time.Since(extractStart).Milliseconds()
	lat.LLMMs = lat.ExtractionMs
	s.addMetric(func(ctx context.Context, m *observe.Metrics) {
		m.LLMDuration.Record(ctx, float64(lat.ExtractionMs))
	})

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("extraction failed", "error", err, "turn", s.turnIndex)
		s.addMetric(func(ctx context.Context, m *observe.Metrics) {
			m.RecordProviderError(ctx, "llm", "extract")
		})
		s.speak(ctx, retryLine)
		s.finishTurn(text, retryLine, ext, lat, false, turnStart, silenceTimer, convTimer, closeTimer)
		return
	}

	// The service name the caller actually used, before the machine may clear
	// an invalid value from the slots.
	requestedService := ext.Entities.Service
	s.slots.Merge(ext.Entities)

	out := s.machine.Dispatch(ProcessIntent{
		Intent:       ext.Intent,
		Confidence:   ext.Confidence,
		Entities:     ext.Entities,
		OriginalText: text,
		Response:     ext.Response,
	})

	if out.BookNow {
		out = s.attemptBooking(ctx)
	}

	response := s.responseFor(out, ext, requestedService)

	ttsStart := time.Now()
	speakMetrics, speakErr := s.speaker.Speak(ctx, response)
	lat.TTSMs = time.Since(ttsStart).Milliseconds()
	bargedIn := errors.Is(speakErr, ErrInterrupted)
	if speakErr != nil && !bargedIn && ctx.Err() == nil {
		s.log.Warn("speech output failed", "error", speakErr, "turn", s.turnIndex)
		s.addMetric(func(ctx context.Context, m *observe.Metrics) {
			m.RecordProviderError(ctx, "tts", "speak")
		})
	}
	firstAudioMs := lat.ASRMs + lat.ExtractionMs + speakMetrics.GenerationMs
	s.addMetric(func(ctx context.Context, m *observe.Metrics) {
		m.TTSDuration.Record(ctx, float64(lat.TTSMs))
		m.FirstAudioLatency.Record(ctx, float64(firstAudioMs))
	})

	s.log.Info("turn",
		"turn", s.turnIndex,
		"intent", ext.Intent,
		"confidence", ext.Confidence,
		"from", out.From,
		"to", out.To,
		"barged_in", bargedIn,
	)
	s.finishTurn(text, response, ext, lat, bargedIn, turnStart, silenceTimer, convTimer, closeTimer)
}

// finishTurn records the turn, maintains history, and resets the lifecycle
// timers according to the resulting state.
func (s *Session) finishTurn(callerText, agentText string, ext Extraction, lat events.StageLatency, bargedIn bool, turnStart time.Time, silenceTimer, convTimer, closeTimer *time.Timer) {
	lat.TotalMs = time.Since(turnStart).Milliseconds()
	state := s.machine.State()

	s.appendHistory(callerText, agentText)
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Record(events.TurnRecord{
			SessionID:  s.cfg.ID,
			OrgID:      s.org.OrgID,
			Turn:       s.turnIndex,
			CallerText: callerText,
			AgentText:  agentText,
			Intent:     string(ext.Intent),
			Confidence: ext.Confidence,
			State:      string(state),
			Slots:      s.slots.Map(),
			Latency:    lat,
			BargedIn:   bargedIn,
			Timestamp:  time.Now(),
		})
	}
	s.addMetric(func(ctx context.Context, m *observe.Metrics) {
		m.Turns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("intent", string(ext.Intent)),
			attribute.String("state", string(state)),
		))
		m.TurnDuration.Record(ctx, float64(lat.TotalMs))
	})

	if state.Terminal() {
		stopTimer(silenceTimer)
		stopTimer(convTimer)
		rearm(closeTimer, s.timers.CloseGrace)
		switch state {
		case StateSuccess:
			s.terminalStatus = "booked"
		case StateCallbackScheduled:
			s.terminalStatus = "callback"
		case StateFallback:
			s.terminalStatus = "fallback"
		}
		return
	}
	rearm(silenceTimer, s.timers.Silence)
	rearm(convTimer, s.timers.Conversation)
}

// attemptBooking posts the booking and resolves the Book state. Integration
// failure degrades to a scheduled callback rather than losing the caller.
func (s *Session) attemptBooking(ctx context.Context) Outcome {
	req := calendar.Request{
		OrgID:      s.org.OrgID,
		Service:    s.slots.Service,
		TimeWindow: s.slots.TimeWindow,
		SessionID:  s.cfg.ID,
	}
	if svc, ok := s.org.FindService(s.slots.Service); ok {
		req.ServiceID = svc.ID
	}
	req.Name, req.Phone = splitContact(s.slots.Contact)

	bookCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conf, err := s.cfg.Booker.Book(bookCtx, req)
	if err != nil {
		s.log.Warn("booking failed", "error", err)
		s.addMetric(func(ctx context.Context, m *observe.Metrics) {
			m.RecordProviderError(ctx, "calendar", "book")
		})
		return s.machine.CompleteBooking(false)
	}
	s.log.Info("booking confirmed", "booking_id", conf.BookingID, "scheduled_for", conf.ScheduledFor)
	return s.machine.CompleteBooking(true)
}

// responseFor selects the line to speak for one dispatched turn. Scripts
// owned by the state machine always win over the extractor's response.
func (s *Session) responseFor(out Outcome, ext Extraction, requestedService string) string {
	switch out.Script {
	case ScriptReadback:
		return s.scripts.Readback(&s.slots)
	case ScriptSuccess:
		return s.scripts.Success(&s.slots)
	case ScriptCallback:
		return s.scripts.Callback()
	case ScriptFallback:
		return s.scripts.Fallback()
	case ScriptSuggestService:
		return s.scripts.SuggestServices(requestedService)
	}

	prompt := s.scripts.Prompt(out.To)
	switch {
	case out.ForceReprompt:
		// Digression bound hit: drop the inline answer, repeat the question.
		return prompt
	case out.Digressed:
		if out.To == StateRespondAndIdle || out.To == StateIdle {
			return ext.Response
		}
		if ext.Response == "" {
			return prompt
		}
		return ext.Response + " " + prompt
	case ext.Response != "":
		return ext.Response
	default:
		return prompt
	}
}

// splitContact separates a free-form contact slot into a name and an E.164
// phone number. The phone is the longest digit run; the remainder is the name.
func splitContact(contact string) (name, phone string) {
	var digits strings.Builder
	var rest strings.Builder
	inRun := false
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			inRun = true
			continue
		}
		// Separators are swallowed only inside a digit run; spaces between
		// name words stay in the name.
		if inRun && strings.ContainsRune("()-+. ", r) {
			continue
		}
		inRun = false
		rest.WriteRune(r)
	}
	if digits.Len() >= 7 {
		phone = orgctx.NormalizeE164(digits.String())
	} else {
		rest.Reset()
		rest.WriteString(contact)
	}
	name = strings.Join(strings.Fields(strings.Trim(rest.String(), " ,.-")), " ")
	return name, phone
}
