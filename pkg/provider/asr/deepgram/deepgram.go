// Package deepgram provides a Deepgram-backed ASR provider using the Deepgram
// streaming WebSocket API. It implements the asr.Provider interface with
// telephone-audio defaults: μ-law 8 kHz mono, interim results, and VAD events.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/voxline/frontdesk/pkg/provider/asr"
	"github.com/voxline/frontdesk/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2-phonecall"
	defaultLanguage  = "en-US"

	// audioQueueDepth bounds the pre-ready audio queue. At 160 bytes per
	// 20 ms telephone frame this holds roughly 200 ms of audio; overflow
	// drops the oldest frame.
	audioQueueDepth = 10

	// reconnectDelay is the pause before the single reconnection attempt
	// allowed when the socket drops before any audio has been delivered.
	reconnectDelay = time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2-phonecall").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithUtteranceEndDelay sets the silence window after which Deepgram emits an
// UtteranceEnd message. Default is 1 second.
func WithUtteranceEndDelay(d time.Duration) Option {
	return func(p *Provider) { p.utteranceEnd = d }
}

// Provider implements asr.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey       string
	model        string
	language     string
	utteranceEnd time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		language:     defaultLanguage,
		utteranceEnd: time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with Deepgram. The dial
// happens in the background: the returned handle queues audio until the
// socket is open, then emits asr.EventReady and flushes the queue.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	s := &session{
		apiKey: p.apiKey,
		wsURL:  wsURL,
		events: make(chan asr.Event, 64),
		audio:  make(chan []byte, audioQueueDepth),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run(ctx)

	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// config. Telephone defaults are applied for any zero-value fields.
func (p *Provider) buildURL(cfg asr.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 8000
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = "mulaw"
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("filler_words", "false")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("utterance_end_ms", strconv.Itoa(int(p.utteranceEnd.Milliseconds())))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// resultsMessage is the JSON envelope of a Deepgram Results message. VAD
// markers (SpeechStarted, UtteranceEnd) reuse the "channel" key with a
// different shape, so the message type is probed before decoding this.
type resultsMessage struct {
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Dur     float64 `json:"duration"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements
// asr.SessionHandle.
type session struct {
	apiKey string
	wsURL  string

	events chan asr.Event
	audio  chan []byte

	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64

	// delivered is set once any audio frame has been written to the socket.
	// A socket drop before then is retried once; after, it is terminal.
	delivered atomic.Bool

	connMu sync.Mutex
	conn   *websocket.Conn
}

// SendAudio queues an audio chunk for delivery to Deepgram. It never blocks:
// when the queue is full the oldest frame is evicted and counted as dropped.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	for {
		select {
		case s.audio <- chunk:
			return nil
		default:
		}
		select {
		case <-s.audio:
			s.dropped.Add(1)
		default:
		}
	}
}

// Events returns the session's ordered event stream.
func (s *session) Events() <-chan asr.Event { return s.events }

// Dropped reports the number of audio frames discarded due to overflow.
func (s *session) Dropped() uint64 { return s.dropped.Load() }

// Close terminates the session cleanly, asking Deepgram to flush any pending
// audio before the socket is torn down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn != nil {
			_ = conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		}
		s.wg.Wait()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	})
	return nil
}

// run dials Deepgram, emits Ready, and pumps audio and events until the
// session ends. A connection that drops before any audio was delivered is
// re-dialed once after a short delay.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	attempts := 0
	for {
		attempts++
		conn, _, err := websocket.Dial(ctx, s.wsURL, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": {"Token " + s.apiKey}},
		})
		if err != nil {
			if attempts == 1 && !s.delivered.Load() && s.sleepUnlessDone(reconnectDelay) {
				continue
			}
			s.emit(asr.Event{Kind: asr.EventError, Err: fmt.Errorf("deepgram: dial: %w", err)})
			return
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		s.emit(asr.Event{Kind: asr.EventReady})

		err = s.pump(ctx, conn)
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil && attempts == 1 && !s.delivered.Load() && s.sleepUnlessDone(reconnectDelay) {
			conn.Close(websocket.StatusAbnormalClosure, "reconnecting")
			continue
		}
		if err != nil {
			s.emit(asr.Event{Kind: asr.EventError, Err: err})
		}
		return
	}
}

// pump runs the write and read loops against an open connection and returns
// when either side fails or the session is closed. The write loop is stopped
// via connDone when the read side exits so neither goroutine outlives the
// connection.
func (s *session) pump(ctx context.Context, conn *websocket.Conn) error {
	connDone := make(chan struct{})
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.writeLoop(ctx, conn, connDone)
	}()

	readErr := s.readLoop(ctx, conn)
	close(connDone)
	werr := <-writeErr

	if readErr != nil {
		return readErr
	}
	return werr
}

// writeLoop forwards queued audio to Deepgram as binary messages.
func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn, connDone <-chan struct{}) error {
	for {
		select {
		case chunk := <-s.audio:
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("deepgram: write audio: %w", err)
			}
			s.delivered.Store(true)
		case <-s.done:
			// Drain whatever is queued so CloseStream flushes everything.
			for {
				select {
				case chunk := <-s.audio:
					_ = conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return nil
				}
			}
		case <-connDone:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them as typed
// events. Returns nil on a clean close.
func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("deepgram: read: %w", err)
			}
		}

		ev, ok := parseMessage(msg)
		if !ok {
			continue
		}
		s.emit(ev)
	}
}

// emit delivers an event unless the session has been closed.
func (s *session) emit(ev asr.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// sleepUnlessDone waits d and reports whether the session is still open.
func (s *session) sleepUnlessDone(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}

// parseMessage parses a raw Deepgram WebSocket message into a tagged event.
// Returns (zero, false) for messages that should be ignored, including empty
// transcripts.
func parseMessage(data []byte) (asr.Event, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return asr.Event{}, false
	}

	switch probe.Type {
	case "SpeechStarted":
		return asr.Event{Kind: asr.EventSpeechStarted}, true
	case "UtteranceEnd":
		return asr.Event{Kind: asr.EventUtteranceEnd}, true
	case "Results":
		var msg resultsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return asr.Event{}, false
		}
		if len(msg.Channel.Alternatives) == 0 {
			return asr.Event{}, false
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return asr.Event{}, false
		}
		kind := asr.EventInterim
		if msg.IsFinal {
			kind = asr.EventFinal
		}
		return asr.Event{
			Kind: kind,
			Transcript: types.Transcript{
				Text:       alt.Transcript,
				IsFinal:    msg.IsFinal,
				Confidence: alt.Confidence,
				Timestamp:  time.Duration(msg.Start * float64(time.Second)),
				Duration:   time.Duration(msg.Dur * float64(time.Second)),
			},
		}, true
	default:
		return asr.Event{}, false
	}
}
