// Package asr defines the Provider interface for streaming speech recognition
// backends.
//
// An ASR provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface tuned for telephone audio. The central
// abstraction is SessionHandle: once opened, a session accepts raw μ-law audio
// frames and emits a single ordered stream of tagged Event values — connection
// readiness, interim and final transcripts, and voice-activity markers.
//
// Implementations must be safe for concurrent use. Audio input and the event
// channel are goroutine-safe by construction.
package asr

import (
	"context"

	"github.com/voxline/frontdesk/pkg/types"
)

// EventKind discriminates the variants carried by an [Event].
type EventKind int

const (
	// EventReady signals that the upstream connection is established and
	// queued audio has been flushed. Emitted exactly once per session.
	EventReady EventKind = iota

	// EventInterim carries a low-latency partial transcript. Interim results
	// never drive dialogue state transitions.
	EventInterim

	// EventFinal carries an authoritative transcript for a phrase.
	EventFinal

	// EventSpeechStarted signals that the provider's voice-activity detector
	// heard the caller begin speaking.
	EventSpeechStarted

	// EventUtteranceEnd signals that the provider considers the current
	// utterance complete (end-of-speech).
	EventUtteranceEnd

	// EventError carries a terminal session error. The event channel is
	// closed after an error is emitted.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventSpeechStarted:
		return "speech_started"
	case EventUtteranceEnd:
		return "utterance_end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single tagged value emitted by a recognition session.
// Transcript is populated for EventInterim and EventFinal; Err is populated
// for EventError. All other kinds carry no payload.
type Event struct {
	Kind       EventKind
	Transcript types.Transcript
	Err        error
}

// StreamConfig describes the audio format and recognition hints for a new
// recognition session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephone audio is 8000.
	SampleRate int

	// Encoding is the audio encoding ("mulaw" for telephony passthrough).
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string
}

// SessionHandle represents an open recognition session.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider. It is
	// fire-and-forget and never blocks: audio queued before the connection is
	// ready is buffered (bounded), and when the buffer is full the oldest
	// frame is dropped. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the session's ordered event stream. The channel is
	// closed when the session ends, after any terminal EventError.
	Events() <-chan Event

	// Dropped reports the number of audio frames discarded due to buffer
	// overflow since the session was opened.
	Dropped() uint64

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any streaming ASR backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per active call).
type Provider interface {
	// StartStream opens a new streaming recognition session. The returned
	// SessionHandle accepts audio immediately; frames sent before the
	// upstream connection is established are queued and flushed on
	// EventReady.
	//
	// Returns an error only if the session cannot be constructed (e.g., ctx
	// already cancelled). Connection failures are reported asynchronously via
	// EventError so that call setup never blocks on the recognizer.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
