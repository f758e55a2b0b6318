// Package mock provides a test double for the llm.Provider interface.
//
// Responses are scripted: each Complete call pops the next queued response,
// and the last one repeats once the queue is exhausted. Every request is
// recorded for assertions.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxline/frontdesk/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses is the scripted queue of completion contents, consumed in
	// order. The final entry repeats after the queue is drained.
	Responses []string

	// Errs maps a zero-based call index to an error returned instead of a
	// response. Use it to exercise retry paths.
	Errs map[int]error

	requests []llm.CompletionRequest
}

// Complete records the request and returns the next scripted response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := len(p.requests)
	p.requests = append(p.requests, req)

	if err, ok := p.Errs[idx]; ok {
		return nil, err
	}
	if len(p.Responses) == 0 {
		return nil, errors.New("llm mock: no scripted responses")
	}
	i := idx
	if i >= len(p.Responses) {
		i = len(p.Responses) - 1
	}
	return &llm.CompletionResponse{Content: p.Responses[i]}, nil
}

// StreamCompletion streams the next scripted response as a single chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: resp.Content}
	ch <- llm.Chunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// Requests returns a copy of all recorded requests.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
