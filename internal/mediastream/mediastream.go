// Package mediastream adapts the carrier's bidirectional media WebSocket to
// typed events and an outbound audio writer.
//
// The wire protocol is JSON frames: a "start" frame announcing the stream and
// call identity, "media" frames carrying base64 μ-law 8 kHz audio in 20 ms
// chunks, and a "stop" frame when the caller hangs up. Outbound audio uses
// the same media frame shape tagged with the stream SID.
package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxline/frontdesk/internal/telephony"
)

// StartEvent announces a new media stream. To and From are E.164 numbers;
// they may come from the frame's custom parameters or the parked call store.
type StartEvent struct {
	StreamSID string
	CallSID   string
	To        string
	From      string
}

// MediaEvent carries one decoded μ-law audio chunk from the caller.
type MediaEvent struct {
	Payload []byte
}

// StopEvent signals the carrier ended the stream.
type StopEvent struct{}

// ErrorEvent carries a terminal read or decode failure.
type ErrorEvent struct {
	Err error
}

// Event is one of StartEvent, MediaEvent, StopEvent, or ErrorEvent.
type Event any

// inboundFrame is the JSON envelope received from the carrier.
type inboundFrame struct {
	Event string `json:"event"`
	Start struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
	StreamSID string `json:"streamSid"`
}

// outboundFrame is the JSON envelope sent back to the carrier.
type outboundFrame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     outboundMedia `json:"media"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// Conn is one accepted media stream connection.
//
// ReadLoop must run on exactly one goroutine; WriteMedia is safe to call from
// any goroutine concurrently with reads.
type Conn struct {
	ws    *websocket.Conn
	store *telephony.CallStore

	writeMu   sync.Mutex
	streamSID string
	sidMu     sync.Mutex
}

// Accept upgrades an HTTP request to a media stream connection. store is
// consulted when the start frame omits the call's to/from numbers; it may be
// nil.
func Accept(w http.ResponseWriter, r *http.Request, store *telephony.CallStore) (*Conn, error) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("mediastream: accept: %w", err)
	}
	// A call carries ~50 inbound frames/s; the default read limit is fine,
	// but outbound TTS bursts need a generous write buffer upstream of us.
	return &Conn{ws: ws, store: store}, nil
}

// ReadLoop decodes inbound frames into events on the returned channel until
// the stream stops, errors, or ctx is cancelled. The channel is closed when
// the loop exits; a StopEvent or ErrorEvent is always the final event.
func (c *Conn) ReadLoop(ctx context.Context) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		for {
			_, data, err := c.ws.Read(ctx)
			if err != nil {
				select {
				case out <- ErrorEvent{Err: fmt.Errorf("mediastream: read: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			ev, ok := c.parseFrame(data)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if _, stopped := ev.(StopEvent); stopped {
				return
			}
		}
	}()
	return out
}

// parseFrame decodes one wire frame. Unknown events and malformed payloads
// are skipped.
func (c *Conn) parseFrame(data []byte) (Event, bool) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, false
	}

	switch frame.Event {
	case "start":
		ev := StartEvent{
			StreamSID: frame.Start.StreamSID,
			CallSID:   frame.Start.CallSID,
			To:        frame.Start.CustomParameters["to"],
			From:      frame.Start.CustomParameters["from"],
		}
		if (ev.To == "" || ev.From == "") && c.store != nil && ev.CallSID != "" {
			if info, ok := c.store.Claim(ev.CallSID); ok {
				if ev.To == "" {
					ev.To = info.To
				}
				if ev.From == "" {
					ev.From = info.From
				}
			}
		}
		c.sidMu.Lock()
		c.streamSID = ev.StreamSID
		c.sidMu.Unlock()
		return ev, true
	case "media":
		payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
		if err != nil || len(payload) == 0 {
			return nil, false
		}
		return MediaEvent{Payload: payload}, true
	case "stop":
		return StopEvent{}, true
	default:
		// "connected" and "mark" frames carry nothing we act on.
		return nil, false
	}
}

// StreamSID returns the stream identifier announced by the start frame, or
// empty before it arrives.
func (c *Conn) StreamSID() string {
	c.sidMu.Lock()
	defer c.sidMu.Unlock()
	return c.streamSID
}

// WriteMedia sends one μ-law audio chunk to the caller. Writes are
// serialized.
func (c *Conn) WriteMedia(ctx context.Context, ulaw []byte) error {
	c.sidMu.Lock()
	sid := c.streamSID
	c.sidMu.Unlock()
	if sid == "" {
		return fmt.Errorf("mediastream: write before start frame")
	}

	frame, err := json.Marshal(outboundFrame{
		Event:     "media",
		StreamSID: sid,
		Media:     outboundMedia{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
	if err != nil {
		return fmt.Errorf("mediastream: marshal media frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("mediastream: write media: %w", err)
	}
	return nil
}

// Close tears the connection down.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "call ended")
}
