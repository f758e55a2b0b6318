package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxline/frontdesk/pkg/provider/tts"
	"github.com/voxline/frontdesk/pkg/types"
)

// bargeInDebounce suppresses duplicate barge-in firings from the recognizer.
const bargeInDebounce = 300 * time.Millisecond

// ErrInterrupted is returned by Speak when the utterance was cut short by a
// barge-in.
var ErrInterrupted = errors.New("dialog: speech interrupted")

// MediaWriter is where synthesized audio goes; the media stream connection
// implements it.
type MediaWriter interface {
	WriteMedia(ctx context.Context, ulaw []byte) error
}

// SpeakMetrics reports the timing of one spoken utterance.
type SpeakMetrics struct {
	// GenerationMs is time from request to first synthesized byte.
	GenerationMs int64

	// StreamingMs is time spent writing audio to the caller.
	StreamingMs int64

	// Bytes is the total μ-law payload written.
	Bytes int
}

// Speaker streams synthesized speech to the caller one utterance at a time
// and owns barge-in interruption. Speak runs on the session task; Interrupt
// may be called from any goroutine.
type Speaker struct {
	provider tts.Provider
	writer   MediaWriter
	voice    types.VoiceProfile

	mu          sync.Mutex
	cancel      context.CancelFunc
	speaking    bool
	lastBargeIn time.Time
	interrupted bool
}

// NewSpeaker creates a Speaker for one call.
func NewSpeaker(provider tts.Provider, writer MediaWriter, voice types.VoiceProfile) *Speaker {
	return &Speaker{provider: provider, writer: writer, voice: voice}
}

// Speaking reports whether an utterance is currently being streamed. The
// session's event dispatcher uses it to turn SpeechStarted into a barge-in.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Speak synthesizes text and streams it to the caller. Returns
// ErrInterrupted when a barge-in cut the utterance short; metrics are valid
// either way.
func (s *Speaker) Speak(ctx context.Context, text string) (SpeakMetrics, error) {
	var m SpeakMetrics
	if text == "" {
		return m, nil
	}

	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.speaking = true
	s.interrupted = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.speaking = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	start := time.Now()
	chunks, err := s.provider.Synthesize(speakCtx, text, s.voice)
	if err != nil {
		return m, fmt.Errorf("dialog: synthesize: %w", err)
	}

	var firstChunk time.Time
	for chunk := range chunks {
		if firstChunk.IsZero() {
			firstChunk = time.Now()
			m.GenerationMs = firstChunk.Sub(start).Milliseconds()
		}
		if err := s.writer.WriteMedia(speakCtx, chunk); err != nil {
			if s.wasInterrupted() || speakCtx.Err() != nil {
				break
			}
			return m, fmt.Errorf("dialog: write audio: %w", err)
		}
		m.Bytes += len(chunk)
	}
	if !firstChunk.IsZero() {
		m.StreamingMs = time.Since(firstChunk).Milliseconds()
	}

	if s.wasInterrupted() {
		return m, ErrInterrupted
	}
	return m, speakCtx.Err()
}

// BargeIn interrupts the in-flight utterance, debounced at 300 ms so the
// recognizer's double-firing yields a single interrupt. Reports whether an
// interrupt was actually issued.
func (s *Speaker) BargeIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastBargeIn) < bargeInDebounce {
		return false
	}
	s.lastBargeIn = now

	if !s.speaking || s.cancel == nil {
		return false
	}
	s.interrupted = true
	s.cancel()
	return true
}

// Interrupt cancels in-flight synthesis without the debounce. Used on
// session teardown.
func (s *Speaker) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.interrupted = true
		s.cancel()
	}
}

func (s *Speaker) wasInterrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}
