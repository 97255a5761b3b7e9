package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubSubscribeAndPublishSingleClient(t *testing.T) {
	hub := NewHub()

	client := hub.Subscribe("access")
	defer hub.Unsubscribe("access", client)

	hub.Publish("access", "request", map[string]any{"path": "/ping", "status": 200})

	select {
	case msg := <-client.Send:
		if msg.Channel != "access" || msg.Type != "request" {
			t.Fatalf("unexpected message envelope: %+v", msg)
		}
		if msg.Time.IsZero() {
			t.Fatalf("expected message time to be set")
		}

		var data map[string]any
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}
		if data["path"] != "/ping" {
			t.Fatalf("expected path=/ping, got %v", data["path"])
		}
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	client := hub.Subscribe("room")
	hub.Unsubscribe("room", client)
	// a second unsubscribe must not close the channel twice
	hub.Unsubscribe("room", client)

	if hub.Subscribers("room") != 0 {
		t.Fatalf("expected no subscribers after unsubscribe")
	}

	// publishing to a channel with no clients must not panic or block
	hub.Publish("room", "event", map[string]string{"k": "v"})

	if _, ok := <-client.Send; ok {
		t.Fatalf("expected send channel to be closed")
	}
}

func TestHubDropsWhenClientIsSlow(t *testing.T) {
	hub := NewHub()
	client := hub.Subscribe("busy")
	defer hub.Unsubscribe("busy", client)

	for i := 0; i < cap(client.Send)+5; i++ {
		hub.Publish("busy", "tick", i)
	}

	if got := len(client.Send); got != cap(client.Send) {
		t.Fatalf("expected buffer to be full (%d), got %d", cap(client.Send), got)
	}
}
