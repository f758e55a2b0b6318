// Package mock provides a test double for the tts.Provider interface.
//
// The mock plays back scripted audio chunks per call and records every
// Synthesize invocation so tests can assert on the spoken text and voice.
package mock

import (
	"context"
	"sync"

	"github.com/voxline/frontdesk/pkg/types"
)

// Call records a single Synthesize invocation.
type Call struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Chunks is the scripted audio played back on each call. When nil, a
	// single placeholder chunk is emitted.
	Chunks [][]byte

	// ChunkDelay, when non-zero, is the pause before each chunk. Use it to
	// test cancellation mid-stream.
	ChunkDelay func() <-chan struct{}

	calls []Call
}

// Synthesize records the call and streams the scripted chunks. The returned
// channel closes after the last chunk or when ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	err := p.Err
	chunks := p.Chunks
	delay := p.ChunkDelay
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = [][]byte{[]byte("audio")}
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			if delay != nil {
				select {
				case <-delay():
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
