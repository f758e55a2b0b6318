package telephony

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
)

// twimlResponse is the XML document returned to the carrier, instructing it
// to open a bidirectional media stream to our WebSocket endpoint.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// WebhookHandler answers the carrier's inbound-call webhook with TwiML that
// connects the call to the media stream endpoint.
type WebhookHandler struct {
	// StreamURL is the public wss:// URL of the media stream endpoint.
	StreamURL string

	// Store parks call metadata for the media handler. Optional.
	Store *CallStore

	Log *slog.Logger
}

// ServeHTTP implements http.Handler. The carrier POSTs form-encoded call
// details; the response is TwiML XML.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	info := CallInfo{
		CallSID: r.PostFormValue("CallSid"),
		To:      r.PostFormValue("To"),
		From:    r.PostFormValue("From"),
	}
	if h.Store != nil {
		h.Store.Put(info)
	}
	if h.Log != nil {
		h.Log.Info("inbound call", "call_sid", info.CallSID, "to", info.To, "from", info.From)
	}

	resp := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: h.StreamURL,
				Parameters: []twimlParameter{
					{Name: "to", Value: info.To},
					{Name: "from", Value: info.From},
				},
			},
		},
	}

	body, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, xml.Header)
	w.Write(body)
}
