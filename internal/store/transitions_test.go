package store

import (
	"testing"

	"qrfood/order-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.OrderStatus
		valid  bool
	}{
		{"advance", models.StatusPending, true},
		{"advance", models.StatusConfirmed, true},
		{"advance", models.StatusPreparing, true},
		{"advance", models.StatusReady, true},
		{"advance", models.StatusCompleted, false},
		{"advance", models.StatusCancelled, false},
		{"cancel", models.StatusPending, true},
		{"cancel", models.StatusConfirmed, false},
		{"cancel", models.StatusReady, false},
		{"cancel", models.StatusCancelled, false},
		{"unknown", models.StatusPending, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNextStatusIsLinear(t *testing.T) {
	status := models.StatusPending
	for i := 0; i < 4; i++ {
		next, ok := NextStatus(status)
		if !ok {
			t.Fatalf("step %d: no next status from %s", i, status)
		}
		status = next
	}
	if status != models.StatusCompleted {
		t.Fatalf("expected completed after four steps, got %s", status)
	}
	if _, ok := NextStatus(status); ok {
		t.Fatalf("expected no next status after completed")
	}
	if _, ok := NextStatus(models.StatusCancelled); ok {
		t.Fatalf("expected no next status after cancelled")
	}
}

func TestParseStatus(t *testing.T) {
	for _, status := range models.Statuses {
		if got, ok := ParseStatus(string(status)); !ok || got != status {
			t.Fatalf("ParseStatus(%q)=%q,%v", status, got, ok)
		}
	}
	for _, raw := range []string{"", "PENDING", "done", "served"} {
		if _, ok := ParseStatus(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestQueueMembership(t *testing.T) {
	if !IsActive(models.StatusReady) || BlocksQueue(models.StatusReady) {
		t.Fatalf("ready orders stay on the board but do not block the queue")
	}
	if IsActive(models.StatusCompleted) || IsActive(models.StatusCancelled) {
		t.Fatalf("terminal orders are not active")
	}
	if !IsTerminal(models.StatusCancelled) || IsTerminal(models.StatusPending) {
		t.Fatalf("unexpected terminal classification")
	}
}
