package dashboard

import "testing"

func TestBroadcastDropsFullClientWithoutBlocking(t *testing.T) {
	h := New(nil)
	c := &client{send: make(chan Event, 1), done: make(chan struct{})}
	h.clients[c] = struct{}{}

	c.send <- Event{Type: EventStatus}

	done := make(chan struct{})
	go func() {
		h.Broadcast(Event{Type: EventCallEnded})
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // Broadcast must return even though c's buffer was already full
}

func TestOnCommandInvoked(t *testing.T) {
	h := New(nil)
	var got Command
	h.OnCommand(func(cmd Command) { got = cmd })

	h.mu.RLock()
	handler := h.onCmd
	h.mu.RUnlock()
	handler(Command{Type: "hangup"})

	if got.Type != "hangup" {
		t.Fatalf("expected handler to receive hangup command, got %+v", got)
	}
}

func TestClientCount(t *testing.T) {
	h := New(nil)
	if h.ClientCount() != 0 {
		t.Fatalf("expected 0 clients initially")
	}
	c := &client{send: make(chan Event, 1), done: make(chan struct{})}
	h.clients[c] = struct{}{}
	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
}
