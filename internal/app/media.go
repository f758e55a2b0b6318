package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxline/frontdesk/internal/dialog"
	"github.com/voxline/frontdesk/internal/mediastream"
	"github.com/voxline/frontdesk/pkg/provider/asr"
)

// startDeadline bounds the wait for the carrier's start frame after the
// WebSocket is accepted.
const startDeadline = 10 * time.Second

// CallManager tracks live calls so shutdown can drain them.
type CallManager struct {
	log *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewCallManager returns an empty manager.
func NewCallManager(log *slog.Logger) *CallManager {
	if log == nil {
		log = slog.Default()
	}
	return &CallManager{log: log, active: make(map[string]context.CancelFunc)}
}

// add registers a live call. The returned release must be called when the
// call ends, on every exit path.
func (m *CallManager) add(sessionID string, cancel context.CancelFunc) (release func()) {
	m.mu.Lock()
	m.active[sessionID] = cancel
	m.mu.Unlock()
	m.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.active, sessionID)
			m.mu.Unlock()
			m.wg.Done()
		})
	}
}

// Len reports the number of live calls.
func (m *CallManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Drain waits for live calls to finish. When ctx expires first the remaining
// calls are cancelled and the deadline error returned.
func (m *CallManager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	n := len(m.active)
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()
	m.log.Warn("drain deadline hit, cancelling remaining calls", "count", n)
	return fmt.Errorf("app: drain: %d calls cancelled: %w", n, ctx.Err())
}

// handleMedia serves one media stream WebSocket for the lifetime of a call:
// it waits for the start frame, resolves the dialed organization, opens a
// recognition stream, and runs the dialogue session until the caller hangs
// up or the session reaches a terminal state.
func (a *App) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := mediastream.Accept(w, r, a.callStore)
	if err != nil {
		a.log.Warn("media stream accept failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := conn.ReadLoop(ctx)
	start, ok := awaitStart(ctx, frames)
	if !ok {
		a.log.Warn("media stream closed before start frame", "remote", r.RemoteAddr)
		return
	}

	sessionID := uuid.NewString()
	log := a.log.With("session_id", sessionID, "call_sid", start.CallSID)
	log.Info("call started", "stream_sid", start.StreamSID, "to", start.To, "from", start.From)

	release := a.calls.add(sessionID, cancel)
	defer release()
	a.metrics.ActiveCalls.Add(ctx, 1)
	defer a.metrics.ActiveCalls.Add(context.Background(), -1)

	if err := a.runCall(ctx, conn, frames, start, sessionID, log); err != nil &&
		!errors.Is(err, context.Canceled) {
		log.Warn("call ended with error", "error", err)
		return
	}
	log.Info("call ended")
}

// awaitStart drains frames until the start event arrives. Media frames before
// start carry no stream identity and are dropped.
func awaitStart(ctx context.Context, frames <-chan mediastream.Event) (mediastream.StartEvent, bool) {
	deadline := time.NewTimer(startDeadline)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-frames:
			if !ok {
				return mediastream.StartEvent{}, false
			}
			switch ev := ev.(type) {
			case mediastream.StartEvent:
				return ev, true
			case mediastream.StopEvent, mediastream.ErrorEvent:
				return mediastream.StartEvent{}, false
			}
		case <-deadline.C:
			return mediastream.StartEvent{}, false
		case <-ctx.Done():
			return mediastream.StartEvent{}, false
		}
	}
}

// runCall wires the recognition stream and the dialogue session for one
// accepted call and pumps media frames until either side ends it.
func (a *App) runCall(ctx context.Context, conn *mediastream.Conn, frames <-chan mediastream.Event, start mediastream.StartEvent, sessionID string, log *slog.Logger) error {
	org, err := a.orgs.Resolve(ctx, start.To)
	if err != nil {
		return fmt.Errorf("app: resolve organization: %w", err)
	}

	asrSession, err := a.providers.ASR.StartStream(ctx, asr.StreamConfig{
		SampleRate: 8000,
		Encoding:   "mulaw",
		Language:   "en-US",
	})
	if err != nil {
		return fmt.Errorf("app: start recognition: %w", err)
	}

	session, err := dialog.NewSession(dialog.SessionConfig{
		ID:           sessionID,
		CallSID:      start.CallSID,
		CalledNumber: start.To,
		CallerNumber: start.From,
		Org:          org,
		ASR:          asrSession,
		TTS:          a.providers.TTS,
		LLM:          a.providers.LLM,
		Booker:       a.booker,
		Recorder:     a.recorder,
		Writer:       conn,
		Metrics:      a.metrics,
		Log:          log,
		Timers:       a.timers,
	})
	if err != nil {
		asrSession.Close()
		return fmt.Errorf("app: create session: %w", err)
	}
	session.NotifyStreamStart(start.StreamSID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer conn.Close()
		return session.Run(ctx)
	})
	g.Go(func() error {
		pumpMedia(ctx, frames, asrSession, session)
		return nil
	})
	return g.Wait()
}

// pumpMedia forwards caller audio to the recognizer in arrival order and
// turns stream teardown into a session stop.
func pumpMedia(ctx context.Context, frames <-chan mediastream.Event, asrSession asr.SessionHandle, session *dialog.Session) {
	for {
		select {
		case ev, ok := <-frames:
			if !ok {
				session.NotifyStreamStop()
				return
			}
			switch ev := ev.(type) {
			case mediastream.MediaEvent:
				if err := asrSession.SendAudio(ev.Payload); err != nil {
					return
				}
			case mediastream.StopEvent:
				session.NotifyStreamStop()
				return
			case mediastream.ErrorEvent:
				session.NotifyStreamStop()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
