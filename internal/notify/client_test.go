package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

func TestPublish_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "ev-1" {
			t.Fatalf("Idempotency-Key = %q, want ev-1", got)
		}

		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.Type != "promotion_assigned" || n.AccountID != "ana@example.com" {
			t.Fatalf("unexpected notification: %+v", n)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Publish(ctx, model.Event{
		ID:        "ev-1",
		Entity:    "promotion",
		Action:    "assigned",
		EntityID:  "promo-1",
		AccountID: "ana@example.com",
	})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
}

func TestSend_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, WithRetry(0, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, Notification{ID: "ev-1", Type: "promotion_assigned"})

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rl.RetryAfter < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", rl.RetryAfter)
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, WithRetry(2, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Send(ctx, Notification{ID: "ev-1"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	client := NewClient("")
	if err := client.Send(context.Background(), Notification{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}

func TestNotifiable(t *testing.T) {
	tests := []struct {
		ev   model.Event
		want bool
	}{
		{model.Event{Entity: "promotion", Action: "assigned"}, true},
		{model.Event{Entity: "account", Action: "tier_changed"}, true},
		{model.Event{Entity: "account", Action: "updated"}, false},
		{model.Event{Entity: "transaction", Action: "created"}, false},
	}

	for _, tt := range tests {
		if got := Notifiable(tt.ev); got != tt.want {
			t.Fatalf("Notifiable(%s) = %v, want %v", tt.ev.Type(), got, tt.want)
		}
	}
}
