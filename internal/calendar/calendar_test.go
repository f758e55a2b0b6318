package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPBooker_Book(t *testing.T) {
	t.Parallel()

	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Confirmation{BookingID: "bk-77", ScheduledFor: "2026-09-01T10:00:00Z"})
	}))
	t.Cleanup(srv.Close)

	b, err := NewHTTPBooker(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewHTTPBooker: %v", err)
	}

	conf, err := b.Book(context.Background(), Request{
		OrgID:      "org-1",
		Service:    "haircut",
		TimeWindow: "tomorrow afternoon",
		Name:       "Alex",
		Phone:      "+15551234567",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if conf.BookingID != "bk-77" {
		t.Errorf("booking ID: want bk-77, got %s", conf.BookingID)
	}
	if got.Service != "haircut" || got.Name != "Alex" {
		t.Errorf("request body: got %+v", got)
	}
}

func TestHTTPBooker_RejectsNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	b, err := NewHTTPBooker(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewHTTPBooker: %v", err)
	}
	if _, err := b.Book(context.Background(), Request{}); err == nil {
		t.Fatal("non-2xx response: want error, got nil")
	}
}

func TestHTTPBooker_RequiresBookingID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	b, err := NewHTTPBooker(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewHTTPBooker: %v", err)
	}
	if _, err := b.Book(context.Background(), Request{}); err == nil {
		t.Fatal("missing booking_id: want error, got nil")
	}
}

func TestNewHTTPBooker_RequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPBooker("", time.Second); err == nil {
		t.Fatal("empty endpoint: want error, got nil")
	}
}

func TestHTTPBooker_SendsAuthToken(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(Confirmation{BookingID: "bk-1"})
	}))
	defer srv.Close()

	b, err := NewHTTPBooker(srv.URL, time.Second, WithAuthToken("secret"))
	if err != nil {
		t.Fatalf("NewHTTPBooker: %v", err)
	}
	if _, err := b.Book(context.Background(), Request{OrgID: "org-1"}); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
}
