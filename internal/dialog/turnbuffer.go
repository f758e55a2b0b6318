package dialog

import (
	"strings"
	"time"
)

const (
	// DefaultQuiescence is how long after the last final transcript the
	// buffered text becomes a turn.
	DefaultQuiescence = 1500 * time.Millisecond

	// DefaultContinuationWindow is how close together two final transcripts
	// must land to be treated as one utterance.
	DefaultContinuationWindow = 2 * time.Second
)

// TurnBuffer coalesces bursty final transcripts into single caller turns.
//
// The recognizer splits one human utterance into several final transcripts
// when the caller pauses briefly. The buffer appends finals that arrive
// within the continuation window and hands the combined text out once the
// quiescence deadline passes. The owning session loop drives the deadline
// with its own timer; the buffer itself holds no goroutines.
type TurnBuffer struct {
	quiescence   time.Duration
	continuation time.Duration
	now          func() time.Time

	buf       string
	lastFinal time.Time
}

// NewTurnBuffer creates a TurnBuffer. Non-positive durations fall back to the
// defaults.
func NewTurnBuffer(quiescence, continuation time.Duration) *TurnBuffer {
	if quiescence <= 0 {
		quiescence = DefaultQuiescence
	}
	if continuation <= 0 {
		continuation = DefaultContinuationWindow
	}
	return &TurnBuffer{
		quiescence:   quiescence,
		continuation: continuation,
		now:          time.Now,
	}
}

// Append folds a final transcript into the buffer and returns the quiescence
// duration the caller should (re)arm its flush timer with. Empty transcripts
// leave the buffer untouched and return 0.
func (b *TurnBuffer) Append(text string) time.Duration {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	now := b.now()
	if b.buf != "" && now.Sub(b.lastFinal) < b.continuation {
		b.buf += " " + text
	} else {
		b.buf = text
	}
	b.lastFinal = now
	return b.quiescence
}

// Flush returns the buffered turn and clears the buffer. Returns ("", false)
// when nothing is buffered.
func (b *TurnBuffer) Flush() (string, bool) {
	if b.buf == "" {
		return "", false
	}
	turn := b.buf
	b.buf = ""
	return turn, true
}

// Pending reports whether text is waiting to be flushed.
func (b *TurnBuffer) Pending() bool { return b.buf != "" }

// Discard drops any buffered text, e.g. on barge-in or session end.
func (b *TurnBuffer) Discard() { b.buf = "" }
