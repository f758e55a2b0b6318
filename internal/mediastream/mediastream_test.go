package mediastream

import (
	"encoding/base64"
	"testing"

	"github.com/voxline/frontdesk/internal/telephony"
)

func TestParseFrame_Start(t *testing.T) {
	t.Parallel()

	c := &Conn{}
	raw := `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"to":"+15551234567","from":"+15559876543"}}}`

	ev, ok := c.parseFrame([]byte(raw))
	if !ok {
		t.Fatal("parseFrame: want ok")
	}
	start, isStart := ev.(StartEvent)
	if !isStart {
		t.Fatalf("event type: want StartEvent, got %T", ev)
	}
	if start.StreamSID != "MZ1" || start.CallSID != "CA1" {
		t.Errorf("identifiers: got %+v", start)
	}
	if start.To != "+15551234567" || start.From != "+15559876543" {
		t.Errorf("numbers: got %+v", start)
	}
	if c.StreamSID() != "MZ1" {
		t.Errorf("StreamSID: want MZ1, got %s", c.StreamSID())
	}
}

func TestParseFrame_StartFallsBackToCallStore(t *testing.T) {
	t.Parallel()

	store := telephony.NewCallStore()
	t.Cleanup(store.Close)
	store.Put(telephony.CallInfo{CallSID: "CA1", To: "+15551234567", From: "+15559876543"})

	c := &Conn{store: store}
	raw := `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`

	ev, ok := c.parseFrame([]byte(raw))
	if !ok {
		t.Fatal("parseFrame: want ok")
	}
	start := ev.(StartEvent)
	if start.To != "+15551234567" || start.From != "+15559876543" {
		t.Errorf("call store fallback: got %+v", start)
	}
}

func TestParseFrame_Media(t *testing.T) {
	t.Parallel()

	c := &Conn{}
	audio := []byte{0xff, 0x7f, 0x00, 0x80}
	raw := `{"event":"media","media":{"payload":"` + base64.StdEncoding.EncodeToString(audio) + `"}}`

	ev, ok := c.parseFrame([]byte(raw))
	if !ok {
		t.Fatal("parseFrame: want ok")
	}
	media, isMedia := ev.(MediaEvent)
	if !isMedia {
		t.Fatalf("event type: want MediaEvent, got %T", ev)
	}
	if string(media.Payload) != string(audio) {
		t.Errorf("payload: want %v, got %v", audio, media.Payload)
	}
}

func TestParseFrame_Skipped(t *testing.T) {
	t.Parallel()

	c := &Conn{}
	tests := []struct {
		name string
		raw  string
	}{
		{name: "connected", raw: `{"event":"connected","protocol":"Call"}`},
		{name: "mark", raw: `{"event":"mark","mark":{"name":"m1"}}`},
		{name: "bad base64", raw: `{"event":"media","media":{"payload":"!!!"}}`},
		{name: "empty payload", raw: `{"event":"media","media":{"payload":""}}`},
		{name: "malformed json", raw: `{"event":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, ok := c.parseFrame([]byte(tt.raw)); ok {
				t.Error("want skipped, got event")
			}
		})
	}
}

func TestParseFrame_Stop(t *testing.T) {
	t.Parallel()

	c := &Conn{}
	ev, ok := c.parseFrame([]byte(`{"event":"stop","streamSid":"MZ1"}`))
	if !ok {
		t.Fatal("parseFrame: want ok")
	}
	if _, isStop := ev.(StopEvent); !isStop {
		t.Errorf("event type: want StopEvent, got %T", ev)
	}
}
