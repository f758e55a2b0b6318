package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"

	llmmock "github.com/voxline/frontdesk/pkg/provider/llm/mock"
)

func TestParseExtraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		wantIntent Intent
		wantConf   float64
		wantSvc    string
		wantResp   string
	}{
		{
			name:       "valid booking",
			content:    `{"intent":"booking","confidence":0.92,"entities":{"service":"haircut"},"response":"Great, what time works for you?"}`,
			wantIntent: IntentBooking,
			wantConf:   0.92,
			wantSvc:    "haircut",
			wantResp:   "Great, what time works for you?",
		},
		{
			name:       "code fenced",
			content:    "```json\n{\"intent\":\"confirmation_yes\",\"confidence\":0.8,\"response\":\"Booking now.\"}\n```",
			wantIntent: IntentConfirmYes,
			wantConf:   0.8,
			wantResp:   "Booking now.",
		},
		{
			name:       "malformed json coerced",
			content:    `{"intent": "booking", "confi`,
			wantIntent: IntentUnclear,
			wantConf:   0,
		},
		{
			name:       "unknown intent coerced",
			content:    `{"intent":"order_pizza","confidence":0.9,"response":"Sure."}`,
			wantIntent: IntentUnclear,
			wantConf:   0,
			wantResp:   "Sure.",
		},
		{
			name:       "confidence clamped",
			content:    `{"intent":"booking","confidence":1.7,"response":"Ok."}`,
			wantIntent: IntentBooking,
			wantConf:   1,
			wantResp:   "Ok.",
		},
		{
			name:       "plain text coerced",
			content:    `Sure, I can help with that.`,
			wantIntent: IntentUnclear,
			wantConf:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ex := parseExtraction(tt.content)
			if ex.Intent != tt.wantIntent {
				t.Errorf("intent: want %s, got %s", tt.wantIntent, ex.Intent)
			}
			if ex.Confidence != tt.wantConf {
				t.Errorf("confidence: want %v, got %v", tt.wantConf, ex.Confidence)
			}
			if ex.Entities.Service != tt.wantSvc {
				t.Errorf("service: want %q, got %q", tt.wantSvc, ex.Entities.Service)
			}
			if ex.Response != tt.wantResp {
				t.Errorf("response: want %q, got %q", tt.wantResp, ex.Response)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean passthrough", in: "What time works for you?", want: "What time works for you?"},
		{name: "markdown stripped", in: "**Great!** What `time` works?", want: "Great! What time works?"},
		{name: "whitespace collapsed", in: "What  time\n\nworks?", want: "What time works?"},
		{
			name: "leaked json unwrapped",
			in:   `{"intent":"booking","confidence":0.9,"response":"What time works for you?"}`,
			want: "What time works for you?",
		},
		{name: "unusable json dropped", in: `{"foo": 1}`, want: ""},
		{name: "fenced text unwrapped", in: "```\nHello there\n```", want: "Hello there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q): want %q, got %q", tt.in, tt.want, got)
			}
		})
	}
}

func TestExtractor_RetriesOnce(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		Responses: []string{`{"intent":"booking","confidence":0.9,"entities":{"service":"haircut"},"response":"What time?"}`},
		Errs:      map[int]error{0: errors.New("timeout")},
	}
	ex := NewExtractor(provider)

	got, err := ex.Extract(context.Background(), ExtractInput{
		Transcript: "I'd like a haircut",
		State:      StateIdle,
		Slots:      &Slots{},
		Org:        salonOrg(),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Intent != IntentBooking || got.Entities.Service != "haircut" {
		t.Errorf("extraction: got %+v", got)
	}
	if calls := len(provider.Requests()); calls != 2 {
		t.Errorf("provider calls: want 2, got %d", calls)
	}
}

func TestExtractor_FailureYieldsUnclear(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		Errs: map[int]error{0: errors.New("down"), 1: errors.New("down")},
	}
	ex := NewExtractor(provider)

	got, err := ex.Extract(context.Background(), ExtractInput{
		Transcript: "hello",
		State:      StateIdle,
		Slots:      &Slots{},
		Org:        salonOrg(),
	})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if got.Intent != IntentUnclear || got.Confidence != 0 {
		t.Errorf("degraded extraction: got %+v", got)
	}
}

func TestBuildSystemPrompt_CarriesOrgContext(t *testing.T) {
	t.Parallel()

	org := salonOrg()
	org.Timezone = "America/New_York"
	slots := &Slots{Service: "Haircut"}

	prompt := buildSystemPrompt(ExtractInput{
		Transcript: "x",
		State:      StateCollectTimeWindow,
		Slots:      slots,
		Org:        org,
	})

	for _, frag := range []string{
		"Test Salon",
		"Haircut, Consultation",
		"America/New_York",
		"CollectTimeWindow",
		"service=Haircut",
		`"intent"`,
	} {
		if !strings.Contains(prompt, frag) {
			t.Errorf("prompt missing %q", frag)
		}
	}
}
