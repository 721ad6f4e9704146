package websocket

import (
	"strings"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBroadcastDeliversToConnectedUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{UserID: "broker-1", UserRole: "broker", hub: hub, send: make(chan []byte, 4)}
	hub.register <- client
	waitFor(t, func() bool { return hub.IsUserConnected("broker-1") }, "client never registered")

	hub.BroadcastToUser("broker-1", map[string]string{"type": "exception_opened"})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), "exception_opened") {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestBroadcastDisconnectsClientWithFullBuffer(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Unbuffered send channel with no reader: the first broadcast hits the
	// buffer-full path and must unregister the client
	client := &Client{UserID: "broker-2", UserRole: "broker", hub: hub, send: make(chan []byte)}
	hub.register <- client
	waitFor(t, func() bool { return hub.IsUserConnected("broker-2") }, "client never registered")

	// Readers hammer the client map while the disconnect happens; under the
	// race detector this fails if the removal runs without the write lock
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hub.GetClientCount()
			hub.IsUserConnected("broker-2")
			hub.GetConnectedClientIDs()
		}
	}()

	hub.BroadcastToUser("broker-2", map[string]string{"type": "load_position"})
	<-done

	waitFor(t, func() bool { return !hub.IsUserConnected("broker-2") }, "full-buffer client was not disconnected")
	if hub.GetClientCount() != 0 {
		t.Fatalf("expected 0 clients after disconnect, got %d", hub.GetClientCount())
	}
}
