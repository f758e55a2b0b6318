// Package events records per-turn and per-call telemetry for offline
// analysis.
//
// Recording is strictly best-effort: the dialogue core hands records to a
// bounded in-memory queue and never blocks or fails a call on sink problems.
// A background worker drains the queue into the configured Sink; overflow
// drops the newest record and counts it.
package events

import (
	"context"
	"time"
)

// StageLatency holds the per-stage wall-clock latencies of one turn.
type StageLatency struct {
	ASRMs        int64 `json:"asr_ms"`
	ExtractionMs int64 `json:"extraction_ms"`
	LLMMs        int64 `json:"llm_ms"`
	TTSMs        int64 `json:"tts_ms"`
	TotalMs      int64 `json:"total_ms"`
}

// TurnRecord captures one completed dialogue turn.
type TurnRecord struct {
	SessionID  string            `json:"session_id"`
	OrgID      string            `json:"org_id"`
	Turn       int               `json:"turn"`
	CallerText string            `json:"caller_text"`
	AgentText  string            `json:"agent_text"`
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	State      string            `json:"state"`
	Slots      map[string]string `json:"slots,omitempty"`
	Latency    StageLatency      `json:"latency"`
	BargedIn   bool              `json:"barged_in"`
	Timestamp  time.Time         `json:"timestamp"`
}

// CallUpdate captures the lifecycle status of a call. Zero-value fields are
// left untouched by sinks that support partial updates.
type CallUpdate struct {
	OrgID      string            `json:"org_id,omitempty"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Status     string            `json:"status,omitempty"` // "active", "completed", "failed", "callback"
	FinalState string            `json:"final_state,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
	Turns      int               `json:"turns,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitzero"`
	EndedAt    time.Time         `json:"ended_at,omitzero"`
}

// Sink is the storage backend for call telemetry.
type Sink interface {
	// Append persists one turn record.
	Append(ctx context.Context, rec TurnRecord) error

	// UpdateCall persists a call lifecycle update keyed by session ID.
	UpdateCall(ctx context.Context, sessionID string, upd CallUpdate) error
}

// NoopSink discards everything. Used when no database is configured.
type NoopSink struct{}

// Compile-time interface check.
var _ Sink = NoopSink{}

func (NoopSink) Append(context.Context, TurnRecord) error             { return nil }
func (NoopSink) UpdateCall(context.Context, string, CallUpdate) error { return nil }
