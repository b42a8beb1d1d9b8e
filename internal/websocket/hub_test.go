package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, c *Client) model.Event {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return model.Event{}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishIsScopedToSession(t *testing.T) {
	h := newTestHub(t)

	a := &Client{SessionID: "alice", Send: make(chan []byte, 4)}
	b := &Client{SessionID: "bob", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(b)

	h.Publish("alice", model.Event{Type: model.EventStatusChange, OrchestratorID: "alice"})

	if ev := receive(t, a); ev.OrchestratorID != "alice" {
		t.Errorf("expected alice's event, got %+v", ev)
	}
	select {
	case <-b.Send:
		t.Error("bob received alice's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := newTestHub(t)

	c := &Client{SessionID: "s", Send: make(chan []byte, 1)}
	h.Register(c)
	eventually(t, "client registered", func() bool { return h.Connected("s") == 1 })

	h.Unregister(c)
	if _, ok := <-c.Send; ok {
		t.Error("expected send channel to be closed")
	}
	if h.Connected("s") != 0 {
		t.Error("expected no connected clients")
	}

	// A second unregister is harmless.
	h.Unregister(c)
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	h := newTestHub(t)

	c := &Client{SessionID: "s", Send: make(chan []byte, 1)}
	h.Register(c)

	h.Publish("s", model.Event{Type: model.EventStatusChange})
	h.Publish("s", model.Event{Type: model.EventStatusChange})

	eventually(t, "slow consumer dropped", func() bool { return h.Connected("s") == 0 })
}

func TestHub_PublishWithoutClients(t *testing.T) {
	h := newTestHub(t)
	h.Publish("nobody", model.Event{Type: model.EventQueueFinished})
}
