package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

func mockClient(hub *Hub, accountID string) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, sendBufferSize),
		accountID: accountID,
	}
}

func accountEvent(accountID string) model.Event {
	return model.Event{
		ID:        "ev-" + accountID,
		Entity:    "account",
		Action:    "updated",
		EntityID:  accountID,
		AccountID: accountID,
		Payload:   map[string]any{"tier": "Silver"},
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c1 := mockClient(hub, "")
	c2 := mockClient(hub, "")
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestPublish_FiltersByAccount(t *testing.T) {
	hub := NewHub(zap.NewNop())

	all := mockClient(hub, "")
	ana := mockClient(hub, "ana@example.com")
	bob := mockClient(hub, "bob@example.com")
	for _, c := range []*Client{all, ana, bob} {
		hub.Register(c)
	}

	if err := hub.Publish(context.Background(), accountEvent("ana@example.com")); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	for _, c := range []*Client{all, ana} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "account_updated" {
				t.Fatalf("type = %s, want account_updated", got.Type)
			}
			if got.AccountID != "ana@example.com" {
				t.Fatalf("accountId = %s", got.AccountID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	select {
	case <-bob.send:
		t.Fatal("bob received another account's event")
	default:
	}
}

func TestPublish_RejectsUntypedEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	if err := hub.Publish(context.Background(), model.Event{ID: "x"}); err == nil {
		t.Fatal("expected error for event without entity and action")
	}
}

func TestBroadcast_FullBufferDrops(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := mockClient(hub, "")
	hub.Register(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.Broadcast(NewMessage(accountEvent("ana@example.com")))
	}

	if got := len(c.send); got != sendBufferSize {
		t.Fatalf("buffered %d messages, want %d", got, sendBufferSize)
	}
	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(zap.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "")
			hub.Register(c)
			hub.Broadcast(NewMessage(accountEvent("ana@example.com")))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}
