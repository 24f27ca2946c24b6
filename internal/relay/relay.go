// Package relay drains the order event outbox into the realtime hub and the
// message broker.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"qrfood/order-service/internal/hub"
	"qrfood/order-service/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize = 100
	defaultLease     = 30 * time.Second
)

// Publisher receives every outbox event together with its queue label.
type Publisher interface {
	Publish(ctx context.Context, event store.OutboxEvent, queueLabel string) error
}

type Options struct {
	BatchSize int
	// Lease bounds how long a claimed batch stays hidden from other relays.
	Lease time.Duration
	Label func(n int) string
}

type Relay struct {
	events     store.EventStore
	publishers []Publisher
	batchSize  int
	lease      time.Duration
	label      func(n int) string
}

func New(events store.EventStore, options Options, publishers ...Publisher) *Relay {
	batch := options.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	lease := options.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	label := options.Label
	if label == nil {
		label = func(n int) string { return fmt.Sprintf("Q%03d", n) }
	}
	return &Relay{
		events:     events,
		publishers: publishers,
		batchSize:  batch,
		lease:      lease,
		label:      label,
	}
}

// RunOnce publishes one claimed batch and returns how many events were
// delivered. Delivery is at least once: events from the first rejected one
// onwards are released and claimed again on a later run.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.events.ClaimEvents(ctx, r.batchSize, r.lease)
	if err != nil {
		return 0, fmt.Errorf("claim outbox events: %w", err)
	}

	var published []int64
	var publishErr error
	for _, event := range events {
		label := r.labelFor(event)
		if publishErr = r.publish(ctx, event, label); publishErr != nil {
			break
		}
		published = append(published, event.Seq)
	}

	if len(published) > 0 {
		if err := r.events.MarkPublished(ctx, published); err != nil {
			return len(published), fmt.Errorf("mark published: %w", err)
		}
	}
	if rest := events[len(published):]; len(rest) > 0 {
		seqs := make([]int64, 0, len(rest))
		for _, event := range rest {
			seqs = append(seqs, event.Seq)
		}
		if err := r.events.ReleaseEvents(ctx, seqs); err != nil {
			logrus.WithError(err).WithField("count", len(seqs)).Warn("relay: release failed, waiting for lease expiry")
		}
	}
	return len(published), publishErr
}

// PurgePublished drops delivered events older than retention.
func (r *Relay) PurgePublished(ctx context.Context, retention time.Duration) (int, error) {
	return r.events.PurgePublished(ctx, time.Now().UTC().Add(-retention))
}

func (r *Relay) publish(ctx context.Context, event store.OutboxEvent, label string) error {
	for _, publisher := range r.publishers {
		if err := publisher.Publish(ctx, event, label); err != nil {
			return fmt.Errorf("publish event %d: %w", event.Seq, err)
		}
	}
	return nil
}

func (r *Relay) labelFor(event store.OutboxEvent) string {
	var payload store.EventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		logrus.WithError(err).WithField("seq", event.Seq).Warn("relay: undecodable event payload")
		return ""
	}
	if payload.QueueNumber == nil {
		return ""
	}
	return r.label(*payload.QueueNumber)
}

// Envelope is what realtime clients receive. Order ids stay server side.
type Envelope struct {
	Type      string    `json:"type"`
	Queue     string    `json:"queue"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

type HubPublisher struct {
	hub *hub.Hub
}

func NewHubPublisher(h *hub.Hub) *HubPublisher {
	return &HubPublisher{hub: h}
}

func (p *HubPublisher) Publish(ctx context.Context, event store.OutboxEvent, queueLabel string) error {
	var payload store.EventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		// A poison event would otherwise stall the outbox.
		logrus.WithError(err).WithField("seq", event.Seq).Warn("relay: skip hub delivery")
		return nil
	}
	body, err := json.Marshal(Envelope{
		Type:      event.Type,
		Queue:     queueLabel,
		Status:    string(payload.Status),
		UpdatedAt: payload.UpdatedAt,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}
	p.hub.Broadcast(body, hub.Subscription{Queue: queueLabel})
	return nil
}
