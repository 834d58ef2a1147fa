package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
	"cashout-mirror/src/state"
)

// -----------------------------------------------------------------------------

func testHub(t *testing.T) (*Hub, *state.StateCache, context.CancelFunc) {
	t.Helper()
	cfg := &models.MConfig{
		Cache: models.MCacheConfig{VelasLimit: 50, ClickLogLimit: 200, CampaignLimit: 50},
	}
	cache := state.NewStateCache(cfg)
	h := NewHub(cache, logger.NewLogger("INFO", "HubTest"))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, cache, cancel
}

// recvFrame reads one frame off a client queue, failing the test on timeout.
func recvFrame(t *testing.T, c *Client) models.MEvent {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var ev models.MEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("frame is not an event envelope: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return models.MEvent{}
}

// -----------------------------------------------------------------------------

// TestHubSeedsNewClient verifies registration delivers the connected ack
// and current snapshots before anything else.
func TestHubSeedsNewClient(t *testing.T) {
	h, cache, cancel := testHub(t)
	defer cancel()

	cache.SetVelas([]float64{2.1, 1.5})
	cache.SetOnline(7)

	c := newClient(h, nil)
	h.register <- c

	if ev := recvFrame(t, c); ev.Event != "connected" {
		t.Fatalf("first frame: got %q, want connected", ev.Event)
	}
	if ev := recvFrame(t, c); ev.Event != "vela" {
		t.Fatalf("second frame: got %q, want vela", ev.Event)
	}
	if ev := recvFrame(t, c); ev.Event != "online" {
		t.Fatalf("third frame: got %q, want online", ev.Event)
	}
}

// TestHubSeedSkipsEmptyVelas verifies no vela snapshot is sent while the
// cache is empty.
func TestHubSeedSkipsEmptyVelas(t *testing.T) {
	h, _, cancel := testHub(t)
	defer cancel()

	c := newClient(h, nil)
	h.register <- c

	if ev := recvFrame(t, c); ev.Event != "connected" {
		t.Fatalf("first frame: got %q", ev.Event)
	}
	if ev := recvFrame(t, c); ev.Event != "online" {
		t.Fatalf("second frame: got %q, want online (no vela seed)", ev.Event)
	}
}

// TestHubFanoutOrdering verifies every client observes broadcasts in
// publish order.
func TestHubFanoutOrdering(t *testing.T) {
	h, _, cancel := testHub(t)
	defer cancel()

	a := newClient(h, nil)
	b := newClient(h, nil)
	h.register <- a
	h.register <- b

	// Drain seeds (connected + online).
	for _, c := range []*Client{a, b} {
		recvFrame(t, c)
		recvFrame(t, c)
	}

	h.Publish("vela", map[string]interface{}{"n": 1})
	h.Publish("sinal", map[string]interface{}{"n": 2})
	h.Publish("resultado", map[string]interface{}{"n": 3})

	want := []string{"vela", "sinal", "resultado"}
	for _, c := range []*Client{a, b} {
		for i, w := range want {
			if ev := recvFrame(t, c); ev.Event != w {
				t.Fatalf("client frame %d: got %q, want %q", i, ev.Event, w)
			}
		}
	}
}

// TestHubPrunesSlowClient verifies a client with a full queue is dropped
// without disturbing the others.
func TestHubPrunesSlowClient(t *testing.T) {
	h, _, cancel := testHub(t)
	defer cancel()

	fast := newClient(h, nil)
	slow := &Client{ID: "slow", hub: h, send: make(chan []byte, 1)}
	h.register <- fast
	h.register <- slow

	// Drain the fast client's seeds; the slow one keeps its single buffer
	// slot occupied by the connected ack.
	recvFrame(t, fast)
	recvFrame(t, fast)

	h.Publish("vela", map[string]interface{}{"n": 1})
	h.Publish("vela", map[string]interface{}{"n": 2})

	// Fast client sees both frames.
	recvFrame(t, fast)
	recvFrame(t, fast)

	// The slow client's channel must have been closed by the prune.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.send:
			if !ok {
				if got := h.ClientCount(); got != 1 {
					t.Errorf("client count after prune: got %d, want 1", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("slow client never pruned")
		}
	}
}

// TestHubUnregisterIdempotent verifies unregistering a pruned client does
// not panic or double-close.
func TestHubUnregisterIdempotent(t *testing.T) {
	h, _, cancel := testHub(t)
	defer cancel()

	c := &Client{ID: "c", hub: h, send: make(chan []byte, 1)}
	h.register <- c

	h.Publish("vela", map[string]interface{}{"n": 1})
	h.Publish("vela", map[string]interface{}{"n": 2})

	// Wait for the prune, then unregister again.
	time.Sleep(50 * time.Millisecond)
	h.unregister <- c

	// A further register proves the hub loop is still alive.
	c2 := newClient(h, nil)
	h.register <- c2
	if ev := recvFrame(t, c2); ev.Event != "connected" {
		t.Fatalf("hub loop dead after double unregister: got %q", ev.Event)
	}
}
