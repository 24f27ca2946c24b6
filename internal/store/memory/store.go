// Package memory keeps orders, the queue counter, sessions and the event
// outbox in process. It backs local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qrfood/order-service/internal/models"
	"qrfood/order-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.RWMutex
	counter  int
	orders   []models.Order
	settings models.Settings
	sessions map[string]store.Session
	events   []outboxEntry
	lastSeq  int64
	now      func() time.Time
}

type outboxEntry struct {
	event        store.OutboxEvent
	claimedUntil time.Time
	publishedAt  time.Time
}

func NewStore(settings models.Settings) *Store {
	if settings.ID == "" {
		settings.ID = "settings-1"
	}
	if settings.OperationMode == "" {
		settings.OperationMode = models.ModeMarket
	}
	return &Store{
		counter:  settings.QueueCounter,
		settings: settings,
		sessions: make(map[string]store.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DefaultSettings mirrors the seed row of the settings table.
func DefaultSettings() models.Settings {
	return models.Settings{
		ID:                    "settings-1",
		RestaurantName:        "QR Food Ordering",
		OperationMode:         models.ModeMarket,
		Currency:              "THB",
		EnableQueueSystem:     true,
		EstimatedWaitPerQueue: 5,
	}
}

func (s *Store) IncrementAndGet(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = 0
	return nil
}

// RecordCounter raises the stored counter to value. It never lowers it.
func (s *Store) RecordCounter(ctx context.Context, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value > s.counter {
		s.counter = value
	}
	return nil
}

func (s *Store) InsertOrder(ctx context.Context, order models.Order) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := s.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.Items == nil {
		order.Items = []models.OrderItem{}
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		order.Items[i].OrderID = order.ID
	}

	stored := order.Clone()
	s.orders = append(s.orders, stored)
	if err := s.appendEvent(store.EventOrderCreated, stored); err != nil {
		s.orders = s.orders[:len(s.orders)-1]
		return models.Order{}, err
	}
	return stored.Clone(), nil
}

// FindByQueueNumber returns the newest market order holding n, so numbers
// reissued after a counter reset resolve to the current holder.
func (s *Store) FindByQueueNumber(ctx context.Context, queueNumber int) (models.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := -1
	for i, order := range s.orders {
		if order.Mode != models.ModeMarket || order.QueueNumber == nil || *order.QueueNumber != queueNumber {
			continue
		}
		if found == -1 || !order.CreatedAt.Before(s.orders[found].CreatedAt) {
			found = i
		}
	}
	if found == -1 {
		return models.Order{}, false, nil
	}
	return s.orders[found].Clone(), true, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (models.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.ID == id {
			return order.Clone(), true, nil
		}
	}
	return models.Order{}, false, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, updatedAt time.Time) (models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.orders {
		if s.orders[i].ID != id {
			continue
		}
		previous := s.orders[i]
		s.orders[i].Status = status
		s.orders[i].UpdatedAt = updatedAt
		if err := s.appendEvent(store.EventOrderStatusChanged, s.orders[i]); err != nil {
			s.orders[i] = previous
			return models.Order{}, false, err
		}
		return s.orders[i].Clone(), true, nil
	}
	return models.Order{}, false, nil
}

func (s *Store) ListActive(ctx context.Context, mode models.OperationMode) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []models.Order
	for _, order := range s.orders {
		if order.Mode != mode || order.QueueNumber == nil || !store.IsActive(order.Status) {
			continue
		}
		active = append(active, order.Clone())
	}
	sort.SliceStable(active, func(i, j int) bool {
		return *active[i].QueueNumber < *active[j].QueueNumber
	})
	return active, nil
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []models.Order
	for i := len(s.orders) - 1; i >= 0; i-- {
		order := s.orders[i]
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, order.Clone())
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.OrderStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.OrderStatus]int)
	for _, order := range s.orders {
		counts[order.Status]++
	}
	return counts, nil
}

func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.orders[:0]
	purged := 0
	for _, order := range s.orders {
		if store.IsTerminal(order.Status) && order.UpdatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, order)
	}
	s.orders = kept
	return purged, nil
}

func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := s.settings
	settings.QueueCounter = s.counter
	return settings, nil
}

func (s *Store) CreateSession(ctx context.Context, role string, expiresAt time.Time) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := store.Session{
		SessionID: uuid.NewString(),
		Role:      role,
		CreatedAt: s.now(),
		ExpiresAt: expiresAt,
	}
	s.sessions[session.SessionID] = session
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok || !session.ExpiresAt.After(s.now()) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	now := s.now()
	var events []store.OutboxEvent
	for i := range s.events {
		entry := &s.events[i]
		if !entry.publishedAt.IsZero() || entry.claimedUntil.After(now) {
			continue
		}
		entry.claimedUntil = now.Add(lease)
		events = append(events, entry.event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) MarkPublished(ctx context.Context, seqs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.eachEntry(seqs, func(entry *outboxEntry) {
		entry.publishedAt = now
		entry.claimedUntil = time.Time{}
	})
	return nil
}

func (s *Store) ReleaseEvents(ctx context.Context, seqs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eachEntry(seqs, func(entry *outboxEntry) {
		if entry.publishedAt.IsZero() {
			entry.claimedUntil = time.Time{}
		}
	})
	return nil
}

func (s *Store) PurgePublished(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	purged := 0
	for _, entry := range s.events {
		if !entry.publishedAt.IsZero() && entry.publishedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	s.events = kept
	return purged, nil
}

// eachEntry must be called with s.mu held.
func (s *Store) eachEntry(seqs []int64, fn func(entry *outboxEntry)) {
	wanted := make(map[int64]struct{}, len(seqs))
	for _, seq := range seqs {
		wanted[seq] = struct{}{}
	}
	for i := range s.events {
		if _, ok := wanted[s.events[i].event.Seq]; ok {
			fn(&s.events[i])
		}
	}
}

// appendEvent must be called with s.mu held.
func (s *Store) appendEvent(eventType string, order models.Order) error {
	payload, err := store.NewEventPayload(order)
	if err != nil {
		return err
	}
	s.lastSeq++
	s.events = append(s.events, outboxEntry{event: store.OutboxEvent{
		Seq:       s.lastSeq,
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: s.now(),
	}})
	return nil
}
