package store

import (
	"context"
	"encoding/json"
	"time"

	"qrfood/order-service/internal/models"
)

// CounterStore owns the shared queue counter. IncrementAndGet must be atomic
// with respect to concurrent callers.
type CounterStore interface {
	IncrementAndGet(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

type OrderStore interface {
	InsertOrder(ctx context.Context, order models.Order) (models.Order, error)
	FindByQueueNumber(ctx context.Context, queueNumber int) (models.Order, bool, error)
	FindByID(ctx context.Context, id string) (models.Order, bool, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, updatedAt time.Time) (models.Order, bool, error)
	ListActive(ctx context.Context, mode models.OperationMode) ([]models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	CountByStatus(ctx context.Context) (map[models.OrderStatus]int, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (models.Settings, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, role string, expiresAt time.Time) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// EventStore exposes the order event outbox to the relay. ClaimEvents hands
// out unpublished events for lease; an event that is neither marked published
// nor released before its lease runs out is claimed again.
type EventStore interface {
	ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, seqs []int64) error
	ReleaseEvents(ctx context.Context, seqs []int64) error
	PurgePublished(ctx context.Context, before time.Time) (int, error)
}

type OrderFilter struct {
	Status models.OrderStatus
	Limit  int
}

type Session struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
