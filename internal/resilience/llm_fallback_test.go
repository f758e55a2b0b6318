package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxline/frontdesk/pkg/provider/llm"
	llmmock "github.com/voxline/frontdesk/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{Responses: []string{"hello from primary"}}
	secondary := &llmmock.Provider{Responses: []string{"hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if n := len(primary.Requests()); n != 1 {
		t.Fatalf("primary called %d times, want 1", n)
	}
	if n := len(secondary.Requests()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{
		Responses: []string{"unused"},
		Errs:      map[int]error{0: errors.New("primary down")},
	}
	secondary := &llmmock.Provider{Responses: []string{"hello from secondary"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &llmmock.Provider{Errs: map[int]error{0: errors.New("primary down")}}
	secondary := &llmmock.Provider{Errs: map[int]error{0: errors.New("secondary down")}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_StreamCompletion_Failover(t *testing.T) {
	primary := &llmmock.Provider{
		Responses: []string{"unused"},
		Errs:      map[int]error{0: errors.New("stream failed")},
	}
	secondary := &llmmock.Provider{Responses: []string{"chunked reply"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var finished bool
	for c := range ch {
		text += c.Text
		if c.FinishReason == "stop" {
			finished = true
		}
	}
	if text != "chunked reply" {
		t.Fatalf("streamed text = %q, want 'chunked reply'", text)
	}
	if !finished {
		t.Fatal("stream never reported a stop finish reason")
	}
}

func TestLLMFallback_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	errs := make(map[int]error)
	for i := 0; i < 10; i++ {
		errs[i] = errors.New("primary down")
	}
	primary := &llmmock.Provider{Errs: errs}
	secondary := &llmmock.Provider{Responses: []string{"ok"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	for i := 0; i < 4; i++ {
		if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	// After two failures the primary's breaker is open; later calls must not
	// touch it again.
	if n := len(primary.Requests()); n != 2 {
		t.Fatalf("primary called %d times, want 2 (breaker open)", n)
	}
	if n := len(secondary.Requests()); n != 4 {
		t.Fatalf("secondary called %d times, want 4", n)
	}
}
