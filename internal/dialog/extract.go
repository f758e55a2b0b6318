package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voxline/frontdesk/internal/orgctx"
	"github.com/voxline/frontdesk/internal/resilience"
	"github.com/voxline/frontdesk/pkg/provider/llm"
	"github.com/voxline/frontdesk/pkg/types"
)

const (
	// extractTemperature keeps structured output deterministic.
	extractTemperature = 0.2
	extractMaxTokens   = 300

	// llmRetryBackoff is the pause before the single LLM retry.
	llmRetryBackoff = 250 * time.Millisecond
)

// Extraction is the validated result of one LLM turn analysis.
type Extraction struct {
	Intent     Intent
	Confidence float64
	Entities   Entities
	Response   string
}

// rawExtraction mirrors the JSON the model is instructed to emit.
type rawExtraction struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
	Response   string   `json:"response"`
}

// ExtractInput carries the per-turn context handed to the model.
type ExtractInput struct {
	Transcript string
	State      State
	Slots      *Slots
	History    []types.Message
	Org        *orgctx.OrganizationContext
}

// Extractor classifies caller utterances and fills slots through an LLM in
// strict JSON mode. Transient failures are retried once; malformed output
// degrades to an unclear intent instead of failing the turn.
type Extractor struct {
	provider llm.Provider
}

// NewExtractor creates an Extractor over an LLM provider.
func NewExtractor(provider llm.Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract runs one turn analysis. The returned extraction is always usable:
// on provider failure the error is returned alongside an unclear extraction
// so the caller can still speak a retry line.
func (e *Extractor) Extract(ctx context.Context, in ExtractInput) (Extraction, error) {
	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(in),
		Messages:     buildMessages(in),
		Temperature:  extractTemperature,
		MaxTokens:    extractMaxTokens,
		JSONObject:   true,
	}

	resp, err := resilience.Retry(ctx, llmRetryBackoff,
		func(ctx context.Context) (*llm.CompletionResponse, error) {
			return e.provider.Complete(ctx, req)
		})
	if err != nil {
		return unclearExtraction(), fmt.Errorf("dialog: extract: %w", err)
	}

	return parseExtraction(resp.Content), nil
}

// unclearExtraction is the coerced result for anything unusable.
func unclearExtraction() Extraction {
	return Extraction{Intent: IntentUnclear, Confidence: 0}
}

// parseExtraction validates the model output against the contract. Malformed
// JSON or an unknown intent coerces to unclear with zero confidence; the
// response text survives when present so the caller still hears something
// sensible.
func parseExtraction(content string) Extraction {
	content = stripCodeFence(content)

	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return unclearExtraction()
	}

	ex := Extraction{
		Intent:     Intent(raw.Intent),
		Confidence: raw.Confidence,
		Entities:   raw.Entities,
		Response:   Sanitize(raw.Response),
	}
	if !knownIntents[ex.Intent] {
		ex.Intent = IntentUnclear
		ex.Confidence = 0
	}
	if ex.Confidence < 0 {
		ex.Confidence = 0
	}
	if ex.Confidence > 1 {
		ex.Confidence = 1
	}
	return ex
}

// stripCodeFence removes a markdown fence wrapper some models add despite
// JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Sanitize strips structural markers from text bound for the synthesizer:
// code fences, JSON braces leaking from the model, markdown emphasis, and
// collapsed whitespace.
func Sanitize(text string) string {
	text = stripCodeFence(text)

	// A response that is itself a JSON object leaked structure; pull the
	// response field out if possible, otherwise drop it.
	if strings.HasPrefix(text, "{") {
		var raw rawExtraction
		if err := json.Unmarshal([]byte(text), &raw); err == nil && raw.Response != "" {
			text = raw.Response
		} else {
			return ""
		}
	}

	replacer := strings.NewReplacer("**", "", "__", "", "##", "", "`", "")
	text = replacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// buildSystemPrompt renders the per-org instruction with the service catalog,
// business hours, and the JSON contract.
func buildSystemPrompt(in ExtractInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the phone receptionist for %s, booking appointments over voice.\n", orDefaultName(in.Org))
	b.WriteString("Keep responses to one or two short spoken sentences. Never use lists, markdown, or symbols.\n\n")

	if names := in.Org.ActiveServiceNames(); len(names) > 0 {
		fmt.Fprintf(&b, "Bookable services: %s.\n", strings.Join(names, ", "))
	} else {
		b.WriteString("No services are configured; collect the caller's request verbatim.\n")
	}
	if in.Org.Timezone != "" {
		fmt.Fprintf(&b, "Business timezone: %s.\n", in.Org.Timezone)
	}
	for _, h := range in.Org.Hours {
		fmt.Fprintf(&b, "Open %s %s-%s.\n", h.Weekday, h.Open, h.Close)
	}

	fmt.Fprintf(&b, "\nCurrent booking state: %s.\n", in.State)
	if m := in.Slots.Map(); len(m) > 0 {
		b.WriteString("Already collected: ")
		first := true
		for _, k := range []string{"service", "timeWindow", "contact", "location", "notes"} {
			if v, ok := m[k]; ok {
				if !first {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s=%s", k, v)
				first = false
			}
		}
		b.WriteString(".\n")
	}

	b.WriteString(`
Respond with a single JSON object and nothing else:
{"intent":"booking|service_provided|time_provided|contact_provided|confirmation_yes|confirmation_no|digression|unclear","confidence":0.0,"entities":{"service":"","timeWindow":"","contact":"","location":"","notes":"","override":false},"response":""}
Omit entity fields the caller did not mention. Set override to true only when the caller is correcting a value you already collected. The response field is the next thing you will say out loud.`)
	return b.String()
}

// buildMessages assembles recent history plus the current transcript.
func buildMessages(in ExtractInput) []types.Message {
	msgs := make([]types.Message, 0, len(in.History)+1)
	msgs = append(msgs, in.History...)
	msgs = append(msgs, types.Message{Role: "user", Content: in.Transcript})
	return msgs
}

func orDefaultName(org *orgctx.OrganizationContext) string {
	if org.Name != "" {
		return org.Name
	}
	return "the business"
}
