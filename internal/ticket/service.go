// Package ticket issues queue tickets for market orders, resolves public
// ticket identifiers and drives order status changes.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qrfood/order-service/internal/models"
	"qrfood/order-service/internal/queue"
	"qrfood/order-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrValidation    = errors.New("invalid order")
	ErrNotFound      = errors.New("ticket not found")
	ErrForbidden     = errors.New("ticket access denied")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrInvalidState  = errors.New("order state does not allow this action")
)

const (
	walkInCustomerName  = "Walk-in Customer"
	defaultWaitPerQueue = 5
	defaultListLimit    = 100
	maxListLimit        = 500
)

var tracer = otel.Tracer("qrfood/order-service/ticket")

type Options struct {
	BaseURL string
	Now     func() time.Time
}

type Service struct {
	orders    store.OrderStore
	settings  store.SettingsStore
	allocator *queue.Allocator
	codec     *queue.Codec
	baseURL   string
	now       func() time.Time
}

type ItemInput struct {
	MenuItemID   string
	MenuItemName string
	Quantity     int
	Price        float64
	Notes        string
}

type CheckoutInput struct {
	CustomerName  string
	CustomerPhone string
	Notes         string
	Items         []ItemInput
	TotalAmount   float64
}

type WalkInInput struct {
	CustomerName  string
	CustomerPhone string
}

// Issued is a freshly created order together with its public ticket.
type Issued struct {
	Order  models.Order
	Label  string
	Ticket string
	URL    queue.TicketURL
}

type Position struct {
	OrdersAhead          int `json:"orders_ahead"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

type QueueEntry struct {
	Label    string
	Order    models.Order
	Position Position
}

func NewService(orders store.OrderStore, settings store.SettingsStore, allocator *queue.Allocator, codec *queue.Codec, options Options) *Service {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:    orders,
		settings:  settings,
		allocator: allocator,
		codec:     codec,
		baseURL:   strings.TrimRight(options.BaseURL, "/"),
		now:       now,
	}
}

// CreateTicket places a customer checkout in the queue.
func (s *Service) CreateTicket(ctx context.Context, input CheckoutInput) (Issued, error) {
	ctx, span := tracer.Start(ctx, "ticket.CreateTicket")
	defer span.End()

	if err := validateCheckout(input); err != nil {
		return Issued{}, fail(span, err)
	}

	items := make([]models.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, models.OrderItem{
			MenuItemID:   item.MenuItemID,
			MenuItemName: item.MenuItemName,
			Quantity:     item.Quantity,
			Price:        item.Price,
			Notes:        item.Notes,
		})
	}

	issued, err := s.issue(ctx, models.Order{
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		Notes:         input.Notes,
		Items:         items,
		TotalAmount:   input.TotalAmount,
	})
	if err != nil {
		return Issued{}, fail(span, err)
	}
	span.SetAttributes(attribute.String("queue.label", issued.Label))
	return issued, nil
}

// AdmitWalkIn queues a customer without an order. The ticket is a pure
// placeholder with no items and a zero total.
func (s *Service) AdmitWalkIn(ctx context.Context, input WalkInInput) (Issued, error) {
	ctx, span := tracer.Start(ctx, "ticket.AdmitWalkIn")
	defer span.End()

	name := strings.TrimSpace(input.CustomerName)
	if name == "" {
		name = walkInCustomerName
	}
	issued, err := s.issue(ctx, models.Order{
		CustomerName:  name,
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		Items:         []models.OrderItem{},
	})
	if err != nil {
		return Issued{}, fail(span, err)
	}
	span.SetAttributes(attribute.String("queue.label", issued.Label))
	return issued, nil
}

func (s *Service) issue(ctx context.Context, draft models.Order) (Issued, error) {
	n, err := s.allocator.Next(ctx)
	if err != nil {
		return Issued{}, err
	}

	now := s.now()
	label := s.codec.Format(n)
	order := draft
	order.ID = uuid.NewString()
	order.OrderNumber = fmt.Sprintf("%s-%06d", label, now.UnixMilli()%1000000)
	order.Status = models.StatusPending
	order.Mode = models.ModeMarket
	order.QueueNumber = &n
	order.CreatedAt = now
	order.UpdatedAt = now

	minted := s.codec.MintURL(n, order.ID, s.baseURL)
	order.TrackingURL = minted.URL

	stored, err := s.orders.InsertOrder(ctx, order)
	if err != nil {
		return Issued{}, fmt.Errorf("insert order %s: %w", label, err)
	}
	return Issued{
		Order:  stored,
		Label:  label,
		Ticket: s.codec.Ticket(n, order.ID),
		URL:    minted,
	}, nil
}

// ResolveTicket returns the order behind a public ticket. Unparseable tickets
// never reach the store.
func (s *Service) ResolveTicket(ctx context.Context, ticket string) (models.Order, error) {
	ctx, span := tracer.Start(ctx, "ticket.ResolveTicket")
	defer span.End()

	order, err := s.resolve(ctx, ticket)
	if err != nil {
		return models.Order{}, fail(span, err)
	}
	return order, nil
}

func (s *Service) resolve(ctx context.Context, ticket string) (models.Order, error) {
	parsed, ok := queue.ParseTicket(ticket)
	if !ok {
		return models.Order{}, fmt.Errorf("%w: %w", ErrNotFound, queue.ErrInvalidFormat)
	}
	order, found, err := s.orders.FindByQueueNumber(ctx, parsed.QueueNumber)
	if err != nil {
		return models.Order{}, err
	}
	if !found {
		return models.Order{}, ErrNotFound
	}
	if err := s.codec.Validate(ticket, order.ID); err != nil {
		return models.Order{}, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (models.Order, error) {
	order, found, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if !found {
		return models.Order{}, store.ErrOrderNotFound
	}
	return order, nil
}

// SetStatusByTicket overwrites the status of the order behind a public ticket.
// Like SetStatus it does not consult the guided transition rules.
func (s *Service) SetStatusByTicket(ctx context.Context, ticket, status string) (models.Order, error) {
	ctx, span := tracer.Start(ctx, "ticket.SetStatusByTicket")
	defer span.End()

	next, ok := store.ParseStatus(status)
	if !ok {
		return models.Order{}, fail(span, ErrInvalidStatus)
	}
	order, err := s.resolve(ctx, ticket)
	if err != nil {
		return models.Order{}, fail(span, err)
	}
	updated, err := s.writeStatus(ctx, order.ID, next)
	if err != nil {
		return models.Order{}, fail(span, err)
	}
	return updated, nil
}

// SetStatus is the admin override: any of the six statuses may be written
// regardless of the current one.
func (s *Service) SetStatus(ctx context.Context, id, status string) (models.Order, error) {
	ctx, span := tracer.Start(ctx, "ticket.SetStatus")
	defer span.End()

	next, ok := store.ParseStatus(status)
	if !ok {
		return models.Order{}, fail(span, ErrInvalidStatus)
	}
	updated, err := s.writeStatus(ctx, id, next)
	if err != nil {
		return models.Order{}, fail(span, err)
	}
	return updated, nil
}

// Advance moves an order one stage forward along the guided lifecycle.
func (s *Service) Advance(ctx context.Context, id string) (models.Order, error) {
	return s.guided(ctx, store.ActionAdvance, id)
}

// Cancel cancels a pending order.
func (s *Service) Cancel(ctx context.Context, id string) (models.Order, error) {
	return s.guided(ctx, store.ActionCancel, id)
}

func (s *Service) guided(ctx context.Context, action, id string) (models.Order, error) {
	ctx, span := tracer.Start(ctx, "ticket."+action)
	defer span.End()

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, fail(span, err)
	}
	next, ok := store.TransitionTarget(action, order.Status)
	if !ok {
		return models.Order{}, fail(span, ErrInvalidState)
	}
	span.SetAttributes(
		attribute.String("order.status.from", string(order.Status)),
		attribute.String("order.status.to", string(next)),
	)
	updated, err := s.writeStatus(ctx, id, next)
	if err != nil {
		return models.Order{}, fail(span, err)
	}
	return updated, nil
}

func (s *Service) writeStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	updated, found, err := s.orders.UpdateStatus(ctx, id, status, s.now())
	if err != nil {
		return models.Order{}, err
	}
	if !found {
		return models.Order{}, store.ErrOrderNotFound
	}
	return updated, nil
}

// QueuePosition counts the active orders that still block order. Ready
// orders are awaiting pickup and never count.
func (s *Service) QueuePosition(ctx context.Context, order models.Order) (Position, error) {
	if order.QueueNumber == nil {
		return Position{}, nil
	}
	active, err := s.orders.ListActive(ctx, order.Mode)
	if err != nil {
		return Position{}, err
	}
	wait, err := s.waitPerQueue(ctx)
	if err != nil {
		return Position{}, err
	}
	return positionOf(order, active, wait), nil
}

// ActiveQueue lists the market orders still on the board, lowest number first.
func (s *Service) ActiveQueue(ctx context.Context) ([]QueueEntry, error) {
	active, err := s.orders.ListActive(ctx, models.ModeMarket)
	if err != nil {
		return nil, err
	}
	wait, err := s.waitPerQueue(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]QueueEntry, 0, len(active))
	for _, order := range active {
		entries = append(entries, QueueEntry{
			Label:    s.Label(order),
			Order:    order,
			Position: positionOf(order, active, wait),
		})
	}
	return entries, nil
}

// ListOrders returns at most limit orders newest first. status may be empty
// or "all"; the counts always cover every order.
func (s *Service) ListOrders(ctx context.Context, status string, limit int) ([]models.Order, map[string]int, error) {
	var filter models.OrderStatus
	if status != "" && status != "all" {
		parsed, ok := store.ParseStatus(status)
		if !ok {
			return nil, nil, ErrInvalidStatus
		}
		filter = parsed
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	orders, err := s.orders.ListOrders(ctx, store.OrderFilter{Status: filter, Limit: limit})
	if err != nil {
		return nil, nil, err
	}
	byStatus, err := s.orders.CountByStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	counts := map[string]int{"all": 0}
	for _, st := range models.Statuses {
		counts[string(st)] = byStatus[st]
		counts["all"] += byStatus[st]
	}
	return orders, counts, nil
}

func (s *Service) ResetCounter(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ticket.ResetCounter")
	defer span.End()

	if err := s.allocator.Reset(ctx); err != nil {
		return fail(span, err)
	}
	return nil
}

// PurgeExpired drops completed and cancelled orders untouched for longer
// than retention. Their tickets resolve to ErrNotFound afterwards.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.orders.PurgeTerminal(ctx, s.now().Add(-retention))
}

func (s *Service) Label(order models.Order) string {
	if order.QueueNumber == nil {
		return ""
	}
	return s.codec.Format(*order.QueueNumber)
}

func (s *Service) FirstLabel() string {
	return s.codec.Format(1)
}

func (s *Service) waitPerQueue(ctx context.Context) (int, error) {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSettingsMissing) {
			return defaultWaitPerQueue, nil
		}
		return 0, err
	}
	if settings.EstimatedWaitPerQueue < 0 {
		return 0, nil
	}
	return settings.EstimatedWaitPerQueue, nil
}

func positionOf(order models.Order, active []models.Order, waitPerQueue int) Position {
	if order.QueueNumber == nil {
		return Position{}
	}
	ahead := 0
	for _, other := range active {
		if other.ID == order.ID || other.QueueNumber == nil {
			continue
		}
		if *other.QueueNumber < *order.QueueNumber && store.BlocksQueue(other.Status) {
			ahead++
		}
	}
	return Position{OrdersAhead: ahead, EstimatedWaitMinutes: ahead * waitPerQueue}
}

func validateCheckout(input CheckoutInput) error {
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: order items are required", ErrValidation)
	}
	if input.TotalAmount <= 0 {
		return fmt.Errorf("%w: total amount must be greater than 0", ErrValidation)
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be greater than 0", ErrValidation)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: item price must not be negative", ErrValidation)
		}
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
