package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	return Notification{
		Instrument:    "XBT/USD",
		Direction:     DirectionUp,
		Price:         decimal.RequireFromString("50600"),
		PriorBaseline: decimal.RequireFromString("50000"),
		DeltaPct:      decimal.RequireFromString("1.2"),
		DeltaUSD:      decimal.RequireFromString("600"),
		At:            time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("telegram notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "XBT/USD up 1.20%") {
		t.Fatalf("unexpected message text: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("webhook notify should succeed: %v", err)
	}
	if got["message"] == "" {
		t.Fatal("message should be non-empty")
	}

	srvFail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srvFail.Close()

	notifier = NewWebhookNotifier(srvFail.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("5xx should be an error")
	}
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(ctx context.Context, note Notification) error {
	s.calls++
	return s.err
}

func TestMultiNotifierJoinsFailures(t *testing.T) {
	okChan := &stubNotifier{}
	badChan := &stubNotifier{err: errors.New("boom")}

	multi := NewMultiNotifier(okChan, badChan)
	err := multi.Notify(context.Background(), testNote())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if okChan.calls != 1 || badChan.calls != 1 {
		t.Fatalf("every channel should be attempted: %d/%d", okChan.calls, badChan.calls)
	}

	multi = NewMultiNotifier(okChan)
	if err := multi.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("all-success should be nil, got %v", err)
	}
}
