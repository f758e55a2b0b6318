// Package dialog implements the per-call dialogue core: turn buffering,
// intent extraction, the booking state machine, speech output with barge-in,
// and the session lifecycle with its timers.
//
// Each call runs one Session. All mutable session state is owned by the
// goroutine running [Session.Run], which selects over recognition events,
// control events from the media layer, and the session timers. Audio
// ingestion and barge-in interruption run off-loop so the caller is never
// blocked by an in-flight turn.
package dialog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxline/frontdesk/internal/calendar"
	"github.com/voxline/frontdesk/internal/events"
	"github.com/voxline/frontdesk/internal/observe"
	"github.com/voxline/frontdesk/internal/orgctx"
	"github.com/voxline/frontdesk/pkg/provider/asr"
	"github.com/voxline/frontdesk/pkg/provider/llm"
	"github.com/voxline/frontdesk/pkg/provider/tts"
	"github.com/voxline/frontdesk/pkg/types"
)

// historyLimit bounds the conversation history handed to the extractor.
const historyLimit = 12

// Timers holds the per-call timer durations. Zero values fall back to the
// defaults.
type Timers struct {
	// Quiescence is the post-final idle period before buffered text becomes
	// a turn.
	Quiescence time.Duration

	// Continuation is the window within which a new final transcript extends
	// the current buffer.
	Continuation time.Duration

	// Silence is the caller inactivity period before a nudge.
	Silence time.Duration

	// Conversation is the total inactivity period before the call closes.
	Conversation time.Duration

	// FallbackGreeting forces the greeting out even when the recognizer is
	// slow to become ready.
	FallbackGreeting time.Duration

	// CloseGrace is how long a terminal session lingers so trailing audio
	// drains.
	CloseGrace time.Duration
}

// DefaultTimers returns the standard timer set.
func DefaultTimers() Timers {
	return Timers{
		Quiescence:       DefaultQuiescence,
		Continuation:     DefaultContinuationWindow,
		Silence:          12 * time.Second,
		Conversation:     30 * time.Second,
		FallbackGreeting: 3 * time.Second,
		CloseGrace:       5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTimers.
func (t Timers) withDefaults() Timers {
	d := DefaultTimers()
	if t.Quiescence <= 0 {
		t.Quiescence = d.Quiescence
	}
	if t.Continuation <= 0 {
		t.Continuation = d.Continuation
	}
	if t.Silence <= 0 {
		t.Silence = d.Silence
	}
	if t.Conversation <= 0 {
		t.Conversation = d.Conversation
	}
	if t.FallbackGreeting <= 0 {
		t.FallbackGreeting = d.FallbackGreeting
	}
	if t.CloseGrace <= 0 {
		t.CloseGrace = d.CloseGrace
	}
	return t
}

// SessionConfig wires one call's collaborators.
type SessionConfig struct {
	ID           string
	CallSID      string
	CalledNumber string
	CallerNumber string

	Org      *orgctx.OrganizationContext
	ASR      asr.SessionHandle
	TTS      tts.Provider
	LLM      llm.Provider
	Booker   calendar.Booker
	Recorder *events.Recorder
	Writer   MediaWriter

	Metrics *observe.Metrics
	Log     *slog.Logger
	Timers  Timers
}

// sessionFlags is the consolidated lifecycle flag set, mutated only by the
// session goroutine.
type sessionFlags struct {
	sttReady       bool
	streamStarted  bool
	greetingSent   bool
	processingTurn bool
}

// ctrlEvent is a control notification from the media layer.
type ctrlEvent struct {
	start     bool
	streamSID string
}

// sessionEvent wraps a recognition event with dispatcher annotations.
type sessionEvent struct {
	asr     asr.Event
	bargeIn bool
}

// Session is the per-call dialogue state and its collaborators.
type Session struct {
	cfg     SessionConfig
	org     *orgctx.OrganizationContext
	timers  Timers
	log     *slog.Logger
	metrics *observe.Metrics

	slots     Slots
	machine   *Machine
	extractor *Extractor
	speaker   *Speaker
	turnBuf   *TurnBuffer
	scripts   scripts

	ctrl chan ctrlEvent

	streamSID   string
	flags       sessionFlags
	turnIndex   int
	history     []types.Message
	nudgeIdx    int
	lastFinalAt time.Time
	startedAt   time.Time

	terminalStatus string
	closeReason    string
	lastErr        error
}

// NewSession creates a Session. All collaborators except Recorder, Metrics,
// and Log are required.
func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.ID == "":
		return nil, errors.New("dialog: session ID must not be empty")
	case cfg.Org == nil:
		return nil, errors.New("dialog: org context must not be nil")
	case cfg.ASR == nil, cfg.TTS == nil, cfg.LLM == nil, cfg.Writer == nil:
		return nil, errors.New("dialog: ASR, TTS, LLM, and Writer are required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	cfg.Log = cfg.Log.With("session_id", cfg.ID, "org_id", cfg.Org.OrgID)

	timers := cfg.Timers.withDefaults()
	voice := types.VoiceProfile{
		ID:          cfg.Org.Voice.VoiceID,
		Provider:    "elevenlabs",
		SpeedFactor: cfg.Org.Voice.Speed,
		PitchShift:  cfg.Org.Voice.Pitch,
	}

	s := &Session{
		cfg:       cfg,
		org:       cfg.Org,
		timers:    timers,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		extractor: NewExtractor(cfg.LLM),
		speaker:   NewSpeaker(cfg.TTS, cfg.Writer, voice),
		turnBuf:   NewTurnBuffer(timers.Quiescence, timers.Continuation),
		scripts:   scripts{org: cfg.Org},
		ctrl:      make(chan ctrlEvent, 4),
		startedAt: time.Now(),
	}
	s.machine = NewMachine(cfg.Org, &s.slots)
	return s, nil
}

// State returns the machine state. Intended for tests and introspection.
func (s *Session) State() State { return s.machine.State() }

// NotifyStreamStart tells the session the media stream is live. Safe from any
// goroutine.
func (s *Session) NotifyStreamStart(streamSID string) {
	select {
	case s.ctrl <- ctrlEvent{start: true, streamSID: streamSID}:
	default:
	}
}

// NotifyStreamStop tells the session the caller hung up.
func (s *Session) NotifyStreamStop() {
	select {
	case s.ctrl <- ctrlEvent{}:
	default:
	}
}

// Run executes the session until the call ends. It owns every piece of
// mutable session state; the only concurrent entry points are the notify
// methods and the recognition dispatcher started here.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.teardown()

	s.recordCall(events.CallUpdate{
		OrgID:     s.org.OrgID,
		From:      s.cfg.CallerNumber,
		To:        s.cfg.CalledNumber,
		Status:    "active",
		StartedAt: s.startedAt,
	})

	asrEvents := make(chan sessionEvent, 64)
	go s.dispatchRecognition(ctx, asrEvents)

	turnTimer := newStoppedTimer()
	silenceTimer := newStoppedTimer()
	convTimer := newStoppedTimer()
	greetTimer := newStoppedTimer()
	closeTimer := newStoppedTimer()
	defer stopTimer(turnTimer)
	defer stopTimer(silenceTimer)
	defer stopTimer(convTimer)
	defer stopTimer(greetTimer)
	defer stopTimer(closeTimer)

	for {
		select {
		case ev, ok := <-asrEvents:
			if !ok {
				// Recognition stream ended without a session-side close.
				s.finish("failed", errors.New("dialog: recognition stream ended"))
				return s.lastErr
			}
			if fatal := s.handleRecognition(ctx, ev, turnTimer, silenceTimer, convTimer); fatal {
				return s.lastErr
			}

		case ev := <-s.ctrl:
			if !ev.start {
				s.finish("completed", nil)
				return nil
			}
			s.streamSID = ev.streamSID
			s.flags.streamStarted = true
			rearm(greetTimer, s.timers.FallbackGreeting)
			rearm(silenceTimer, s.timers.Silence)
			rearm(convTimer, s.timers.Conversation)
			s.maybeGreet(ctx, false)

		case <-turnTimer.C:
			if text, ok := s.turnBuf.Flush(); ok {
				s.runTurn(ctx, text, silenceTimer, convTimer, closeTimer)
			}

		case <-silenceTimer.C:
			if done := s.handleSilence(ctx, silenceTimer); done {
				return nil
			}

		case <-convTimer.C:
			s.speak(ctx, s.scripts.Farewell())
			s.finish("completed", nil)
			return nil

		case <-greetTimer.C:
			s.maybeGreet(ctx, true)

		case <-closeTimer.C:
			return nil

		case <-ctx.Done():
			s.finish("failed", ctx.Err())
			return ctx.Err()
		}
	}
}

// dispatchRecognition pumps recognizer events to the session loop. Barge-in
// is triggered here, synchronously, so an in-flight utterance is interrupted
// even while the loop is busy speaking it.
func (s *Session) dispatchRecognition(ctx context.Context, out chan<- sessionEvent) {
	defer close(out)
	for {
		select {
		case ev, ok := <-s.cfg.ASR.Events():
			if !ok {
				return
			}
			se := sessionEvent{asr: ev}
			if ev.Kind == asr.EventSpeechStarted && s.speaker.Speaking() {
				if s.speaker.BargeIn() {
					se.bargeIn = true
					s.addMetric(func(ctx context.Context, m *observe.Metrics) {
						m.BargeIns.Add(ctx, 1)
					})
				}
			}
			select {
			case out <- se:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleRecognition processes one recognizer event on the session loop.
// Returns true when the event is fatal for the session.
func (s *Session) handleRecognition(ctx context.Context, ev sessionEvent, turnTimer, silenceTimer, convTimer *time.Timer) bool {
	if ev.bargeIn {
		// The interrupted utterance is moot; so is any half-buffered text.
		s.turnBuf.Discard()
		stopTimer(turnTimer)
	}

	switch ev.asr.Kind {
	case asr.EventReady:
		s.flags.sttReady = true
		s.maybeGreet(ctx, false)

	case asr.EventInterim:
		rearm(silenceTimer, s.timers.Silence)
		rearm(convTimer, s.timers.Conversation)

	case asr.EventFinal:
		if d := s.turnBuf.Append(ev.asr.Transcript.Text); d > 0 {
			rearm(turnTimer, d)
			s.lastFinalAt = time.Now()
		}
		rearm(silenceTimer, s.timers.Silence)
		rearm(convTimer, s.timers.Conversation)

	case asr.EventSpeechStarted:
		rearm(convTimer, s.timers.Conversation)

	case asr.EventUtteranceEnd:
		// The quiescence timer owns turn boundaries; nothing extra to do.

	case asr.EventError:
		s.log.Error("recognizer failed", "error", ev.asr.Err)
		s.speak(ctx, s.scripts.Fallback())
		s.finish("failed", ev.asr.Err)
		return true
	}
	return false
}

// maybeGreet speaks the greeting once all gates are open. The forced variant
// (fallback greeting timer) waives the recognizer-ready gate.
func (s *Session) maybeGreet(ctx context.Context, force bool) {
	if s.flags.greetingSent {
		return
	}
	if !s.flags.streamStarted || s.streamSID == "" {
		return
	}
	if !s.flags.sttReady && !force {
		return
	}
	s.flags.greetingSent = true
	if force && !s.flags.sttReady {
		s.log.Warn("greeting forced before recognizer ready")
	}
	s.speak(ctx, s.scripts.Greeting())
}

// handleSilence speaks a nudge or escalates after repeated silence. Returns
// true when the session should end.
func (s *Session) handleSilence(ctx context.Context, silenceTimer *time.Timer) bool {
	out := s.machine.RecordSilence()
	if out.To == StateFallback {
		s.speak(ctx, s.scripts.Fallback())
		s.finish("fallback", nil)
		return true
	}
	s.speak(ctx, s.scripts.Nudge(s.machine.State(), s.nudgeIdx))
	s.nudgeIdx++
	rearm(silenceTimer, s.timers.Silence)
	return false
}

// speak voices one line, tolerating barge-in.
func (s *Session) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if _, err := s.speaker.Speak(ctx, text); err != nil && !errors.Is(err, ErrInterrupted) && ctx.Err() == nil {
		s.log.Warn("speech output failed", "error", err)
		s.addMetric(func(ctx context.Context, m *observe.Metrics) {
			m.RecordProviderError(ctx, "tts", "speak")
		})
	}
}

// finish records the call's terminal status once.
func (s *Session) finish(status string, err error) {
	if s.closeReason != "" {
		return
	}
	if status == "completed" && s.terminalStatus != "" {
		status = s.terminalStatus
	}
	s.closeReason = status
	s.lastErr = err

	upd := events.CallUpdate{
		Status:     status,
		FinalState: string(s.machine.State()),
		Slots:      s.slots.Map(),
		Turns:      s.turnIndex,
		EndedAt:    time.Now(),
	}
	if err != nil {
		upd.Error = err.Error()
	}
	s.recordCall(upd)
	s.addMetric(func(ctx context.Context, m *observe.Metrics) {
		m.CallsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	})
	s.log.Info("call finished",
		"status", status,
		"final_state", s.machine.State(),
		"turns", s.turnIndex,
		"duration", time.Since(s.startedAt).Round(time.Millisecond),
	)
}

// teardown releases per-call resources on every exit path.
func (s *Session) teardown() {
	if s.closeReason == "" {
		s.finish("completed", nil)
	}
	s.speaker.Interrupt()
	s.turnBuf.Discard()
	if err := s.cfg.ASR.Close(); err != nil {
		s.log.Warn("recognizer close failed", "error", err)
	}
	if dropped := s.cfg.ASR.Dropped(); dropped > 0 {
		s.log.Warn("audio frames dropped", "count", dropped)
		s.addMetric(func(ctx context.Context, m *observe.Metrics) {
			m.DroppedFrames.Add(ctx, int64(dropped))
		})
	}
}

// recordCall forwards a call update when a recorder is configured.
func (s *Session) recordCall(upd events.CallUpdate) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecordCall(s.cfg.ID, upd)
	}
}

// addMetric runs fn against the configured metrics instance, if any.
func (s *Session) addMetric(fn func(context.Context, *observe.Metrics)) {
	if s.metrics != nil {
		fn(context.Background(), s.metrics)
	}
}

// appendHistory keeps the bounded conversation history for the extractor.
func (s *Session) appendHistory(userText, agentText string) {
	s.history = append(s.history,
		types.Message{Role: "user", Content: userText},
		types.Message{Role: "assistant", Content: agentText},
	)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// newStoppedTimer returns a timer that will not fire until rearmed.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

// stopTimer stops a timer and drains a pending fire.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// rearm resets a timer to d, draining any pending fire first.
func rearm(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
