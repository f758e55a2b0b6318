// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The entry point is Synthesize,
// which accepts one utterance and returns a channel of encoded audio chunks
// as they become available — enabling first-audio latency far below full
// synthesis time. For telephony the audio format is μ-law 8 kHz mono so that
// chunks can be written to the media stream without transcoding.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxline/frontdesk/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per active call).
type Provider interface {
	// Synthesize speaks text with the given voice and returns a channel that
	// emits μ-law 8 kHz audio chunks as they are synthesised.
	//
	// The returned channel is closed by the implementation when synthesis is
	// complete or when ctx is cancelled. Cancellation must propagate
	// promptly: after ctx is done, no further chunk may be emitted once the
	// implementation observes the cancellation (barge-in depends on this).
	// The caller must drain the channel to avoid blocking the provider's
	// internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the channel early; callers
	// should check ctx.Err() to distinguish cancellation from provider
	// failure.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)
}
