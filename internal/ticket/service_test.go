package ticket

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"qrfood/order-service/internal/models"
	"qrfood/order-service/internal/queue"
	"qrfood/order-service/internal/store"
	"qrfood/order-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ticketPathPattern = regexp.MustCompile(`^/queue/Q\d{3,}-[a-f0-9]{8}$`)

type brokenCounter struct{}

func (brokenCounter) IncrementAndGet(ctx context.Context) (int, error) {
	return 0, errors.New("counter offline")
}

func (brokenCounter) Reset(ctx context.Context) error { return errors.New("counter offline") }

func newTestService(t *testing.T, settings models.Settings) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore(settings)
	svc := NewService(st, st, queue.NewAllocator(st), queue.NewCodec("test-secret", ""), Options{
		BaseURL: "https://food.example.com/",
	})
	return svc, st
}

func checkout() CheckoutInput {
	return CheckoutInput{
		CustomerName: "Somchai",
		Items: []ItemInput{
			{MenuItemID: "m1", MenuItemName: "Pad Thai", Quantity: 2, Price: 50},
			{MenuItemID: "m2", MenuItemName: "Iced Tea", Quantity: 1, Price: 50},
		},
		TotalAmount: 150,
	}
}

func TestCreateTicketValidation(t *testing.T) {
	svc, st := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	cases := []struct {
		name  string
		input CheckoutInput
	}{
		{name: "no items", input: CheckoutInput{TotalAmount: 100}},
		{name: "zero amount", input: CheckoutInput{Items: checkout().Items}},
		{name: "negative amount", input: CheckoutInput{Items: checkout().Items, TotalAmount: -5}},
		{name: "zero quantity", input: CheckoutInput{Items: []ItemInput{{MenuItemName: "Rice", Price: 10}}, TotalAmount: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTicket(ctx, tc.input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	settings, err := st.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settings.QueueCounter, "validation failures must not allocate numbers")
}

func TestCreateTicketAllocationFailure(t *testing.T) {
	st := memory.NewStore(memory.DefaultSettings())
	svc := NewService(st, st, queue.NewAllocator(brokenCounter{}), queue.NewCodec("test-secret", ""), Options{})

	_, err := svc.CreateTicket(context.Background(), checkout())
	require.ErrorIs(t, err, queue.ErrAllocation)

	orders, err := st.ListOrders(context.Background(), store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateTicketAndGuidedLifecycle(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	issued, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	order := issued.Order
	require.NotNil(t, order.QueueNumber)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, models.ModeMarket, order.Mode)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 150.0, order.TotalAmount)
	assert.Equal(t, "Q001", issued.Label)
	assert.Regexp(t, ticketPathPattern, issued.URL.Path)
	assert.Equal(t, "https://food.example.com"+issued.URL.Path, order.TrackingURL)
	assert.Regexp(t, `^Q001-\d{6}$`, order.OrderNumber)

	ticket := strings.TrimPrefix(issued.URL.Path, "/queue/")
	assert.Equal(t, issued.Ticket, ticket)

	expected := []models.OrderStatus{
		models.StatusConfirmed,
		models.StatusPreparing,
		models.StatusReady,
		models.StatusCompleted,
	}
	for _, want := range expected {
		advanced, err := svc.Advance(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, want, advanced.Status)

		resolved, err := svc.ResolveTicket(ctx, ticket)
		require.NoError(t, err)
		assert.Equal(t, order.ID, resolved.ID)
		assert.Equal(t, want, resolved.Status)
	}

	_, err = svc.Advance(ctx, order.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	resolved, err := svc.ResolveTicket(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, resolved.Status)
}

func TestResolveTicketDuringConcurrentAdvance(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	issued, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 32; i++ {
			resolved, err := svc.ResolveTicket(ctx, issued.Ticket)
			if err != nil {
				errs <- err
				return
			}
			if resolved.ID != issued.Order.ID {
				errs <- errors.New("resolved a different order")
				return
			}
		}
	}()
	for i := 0; i < 4; i++ {
		_, err := svc.Advance(ctx, issued.Order.ID)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestResolveTicketErrors(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	first, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	second, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	cases := []struct {
		name   string
		ticket string
		want   error
	}{
		{name: "garbage", ticket: "garbage", want: ErrNotFound},
		{name: "no hash", ticket: "Q001", want: ErrNotFound},
		{name: "non hex hash", ticket: "Q001-XYZ", want: ErrNotFound},
		{name: "unknown number", ticket: "Q099-" + strings.Repeat("a", 8), want: ErrNotFound},
		{name: "hash from other order", ticket: "Q001-" + second.URL.Hash, want: ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ResolveTicket(ctx, tc.ticket)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = svc.ResolveTicket(ctx, "garbage")
	assert.ErrorIs(t, err, queue.ErrInvalidFormat)
	_, err = svc.ResolveTicket(ctx, "Q001-"+second.URL.Hash)
	assert.ErrorIs(t, err, queue.ErrInvalidHash)

	resolved, err := svc.ResolveTicket(ctx, first.Ticket)
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, resolved.ID)
}

func TestResolveTicketIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	issued, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	a, err := svc.ResolveTicket(ctx, issued.Ticket)
	require.NoError(t, err)
	b, err := svc.ResolveTicket(ctx, issued.Ticket)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSetStatusByTicket(t *testing.T) {
	svc, st := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	issued, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	_, err = svc.SetStatusByTicket(ctx, issued.Ticket, "shipped")
	require.ErrorIs(t, err, ErrInvalidStatus)

	events, err := st.ClaimEvents(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, events, 1, "invalid status must not write")

	updated, err := svc.SetStatusByTicket(ctx, issued.Ticket, "ready")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, updated.Status)

	_, err = svc.SetStatusByTicket(ctx, "Q001-00000000", "completed")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSetStatusOverridesGuidedRules(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	issued, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	id := issued.Order.ID

	completed, err := svc.SetStatus(ctx, id, "completed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)

	reopened, err := svc.SetStatus(ctx, id, "pending")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reopened.Status)

	_, err = svc.SetStatus(ctx, id, "PENDING")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.SetStatus(ctx, "missing", "ready")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	pending, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	confirmed, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	_, err = svc.Advance(ctx, confirmed.Order.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, pending.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, confirmed.Order.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Advance(ctx, pending.Order.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestQueuePosition(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	byNumber := map[int]Issued{}
	for i := 1; i <= 8; i++ {
		issued, err := svc.CreateTicket(ctx, checkout())
		require.NoError(t, err)
		byNumber[i] = issued
	}
	statuses := map[int]string{
		1: "completed",
		2: "cancelled",
		3: "preparing",
		4: "completed",
		5: "confirmed",
		6: "cancelled",
		7: "completed",
		8: "ready",
	}
	for n, status := range statuses {
		_, err := svc.SetStatus(ctx, byNumber[n].Order.ID, status)
		require.NoError(t, err)
	}

	eight, err := svc.GetOrder(ctx, byNumber[8].Order.ID)
	require.NoError(t, err)
	pos, err := svc.QueuePosition(ctx, eight)
	require.NoError(t, err)
	assert.Equal(t, Position{OrdersAhead: 2, EstimatedWaitMinutes: 10}, pos)

	five, err := svc.GetOrder(ctx, byNumber[5].Order.ID)
	require.NoError(t, err)
	pos, err = svc.QueuePosition(ctx, five)
	require.NoError(t, err)
	assert.Equal(t, Position{OrdersAhead: 1, EstimatedWaitMinutes: 5}, pos)

	entries, err := svc.ActiveQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"Q003", "Q005", "Q008"}, []string{entries[0].Label, entries[1].Label, entries[2].Label})
	assert.Equal(t, 0, entries[0].Position.OrdersAhead)
	assert.Equal(t, 2, entries[2].Position.OrdersAhead)
}

func TestQueuePositionUsesConfiguredWait(t *testing.T) {
	settings := memory.DefaultSettings()
	settings.EstimatedWaitPerQueue = 12
	svc, _ := newTestService(t, settings)
	ctx := context.Background()

	_, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	second, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	pos, err := svc.QueuePosition(ctx, second.Order)
	require.NoError(t, err)
	assert.Equal(t, Position{OrdersAhead: 1, EstimatedWaitMinutes: 12}, pos)
}

func TestAdmitWalkIn(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	issued, err := svc.AdmitWalkIn(ctx, WalkInInput{CustomerName: "  "})
	require.NoError(t, err)
	assert.Equal(t, "Walk-in Customer", issued.Order.CustomerName)
	assert.Empty(t, issued.Order.Items)
	assert.Zero(t, issued.Order.TotalAmount)
	assert.Equal(t, models.StatusPending, issued.Order.Status)

	named, err := svc.AdmitWalkIn(ctx, WalkInInput{CustomerName: "Nok", CustomerPhone: "0812345678"})
	require.NoError(t, err)
	assert.Equal(t, "Nok", named.Order.CustomerName)
	assert.Equal(t, "Q002", named.Label)

	resolved, err := svc.ResolveTicket(ctx, named.Ticket)
	require.NoError(t, err)
	assert.Equal(t, named.Order.ID, resolved.ID)
}

func TestResetCounterReissuesNumbers(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	old, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	require.NoError(t, svc.ResetCounter(ctx))

	fresh, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	assert.Equal(t, "Q001", fresh.Label)

	resolved, err := svc.ResolveTicket(ctx, fresh.Ticket)
	require.NoError(t, err)
	assert.Equal(t, fresh.Order.ID, resolved.ID)

	_, err = svc.ResolveTicket(ctx, old.Ticket)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListOrders(t *testing.T) {
	svc, _ := newTestService(t, memory.DefaultSettings())
	ctx := context.Background()

	a, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	_, err = svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, a.Order.ID)
	require.NoError(t, err)

	orders, counts, err := svc.ListOrders(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, 2, counts["all"])
	assert.Equal(t, 1, counts["pending"])
	assert.Equal(t, 1, counts["cancelled"])
	assert.Equal(t, 0, counts["ready"])

	cancelled, _, err := svc.ListOrders(ctx, "cancelled", 0)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.Order.ID, cancelled[0].ID)

	_, _, err = svc.ListOrders(ctx, "lost", 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

type recordingOrders struct {
	*memory.Store
	filters []store.OrderFilter
}

func (r *recordingOrders) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	r.filters = append(r.filters, filter)
	return r.Store.ListOrders(ctx, filter)
}

func TestListOrdersPushesFilterToStore(t *testing.T) {
	st := memory.NewStore(memory.DefaultSettings())
	orders := &recordingOrders{Store: st}
	svc := NewService(orders, st, queue.NewAllocator(st), queue.NewCodec("test-secret", ""), Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateTicket(ctx, checkout())
		require.NoError(t, err)
	}

	page, counts, err := svc.ListOrders(ctx, "pending", 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 3, counts["all"])
	assert.Equal(t, 3, counts["pending"])

	_, _, err = svc.ListOrders(ctx, "all", 10000)
	require.NoError(t, err)

	require.Len(t, orders.filters, 2)
	assert.Equal(t, store.OrderFilter{Status: models.StatusPending, Limit: 2}, orders.filters[0])
	assert.Equal(t, store.OrderFilter{Limit: maxListLimit}, orders.filters[1])
}

func TestPurgeExpired(t *testing.T) {
	st := memory.NewStore(memory.DefaultSettings())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(st, st, queue.NewAllocator(st), queue.NewCodec("test-secret", ""), Options{
		Now: func() time.Time { return now },
	})
	ctx := context.Background()

	done, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, done.Order.ID, "completed")
	require.NoError(t, err)
	waiting, err := svc.CreateTicket(ctx, checkout())
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	purged, err := svc.PurgeExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = svc.ResolveTicket(ctx, done.Ticket)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ResolveTicket(ctx, waiting.Ticket)
	assert.NoError(t, err)

	purged, err = svc.PurgeExpired(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
