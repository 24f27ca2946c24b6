package hub

import "testing"

func TestBroadcastMatchesQueue(t *testing.T) {
	h := New()
	board := &Client{ID: "board", Send: make(chan []byte, 4)}
	ticket := &Client{ID: "ticket", Send: make(chan []byte, 4)}
	h.Register(board)
	h.Register(ticket)
	h.UpdateSubscription(ticket, Subscription{Queue: "Q007"})

	if got := h.Broadcast([]byte("a"), Subscription{Queue: "Q007"}); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	if got := h.Broadcast([]byte("b"), Subscription{Queue: "Q008"}); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if len(board.Send) != 2 || len(ticket.Send) != 1 {
		t.Fatalf("unexpected buffers: board=%d ticket=%d", len(board.Send), len(ticket.Send))
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("a"), Subscription{})
	if got := h.Broadcast([]byte("b"), Subscription{}); got != 0 {
		t.Fatalf("expected drop, got %d deliveries", got)
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New()
	client := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)
	h.Unregister(client)
	if h.Len() != 0 {
		t.Fatalf("expected no clients, got %d", h.Len())
	}
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		queue string
	}{
		{"subscribe", `{"action":"subscribe","queue":"q007"}`, true, "Q007"},
		{"board", `{"action":"subscribe"}`, true, ""},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, ""},
		{"unknown action", `{"action":"join","queue":"Q007"}`, false, ""},
		{"not json", `subscribe`, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tc.input))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if msg.Queue != tc.queue {
				t.Fatalf("expected queue %q, got %q", tc.queue, msg.Queue)
			}
		})
	}
}
