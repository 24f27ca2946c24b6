package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qrfood/order-service/internal/models"
	"qrfood/order-service/internal/queue"
	"qrfood/order-service/internal/store"
	"qrfood/order-service/internal/ticket"

	"github.com/sirupsen/logrus"
)

// TicketService is the queue ticket surface the handler drives.
type TicketService interface {
	CreateTicket(ctx context.Context, input ticket.CheckoutInput) (ticket.Issued, error)
	AdmitWalkIn(ctx context.Context, input ticket.WalkInInput) (ticket.Issued, error)
	ResolveTicket(ctx context.Context, raw string) (models.Order, error)
	SetStatusByTicket(ctx context.Context, raw, status string) (models.Order, error)
	SetStatus(ctx context.Context, id, status string) (models.Order, error)
	Advance(ctx context.Context, id string) (models.Order, error)
	Cancel(ctx context.Context, id string) (models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	QueuePosition(ctx context.Context, order models.Order) (ticket.Position, error)
	ActiveQueue(ctx context.Context) ([]ticket.QueueEntry, error)
	ListOrders(ctx context.Context, status string, limit int) ([]models.Order, map[string]int, error)
	ResetCounter(ctx context.Context) error
	Label(order models.Order) string
	FirstLabel() string
}

type Handler struct {
	tickets TicketService
	auth    *Authenticator
}

type itemRequest struct {
	MenuItemID   string  `json:"menu_item_id"`
	MenuItemName string  `json:"menu_item_name" validate:"required"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	Notes        string  `json:"notes"`
}

type checkoutRequest struct {
	CustomerName  string        `json:"customer_name"`
	CustomerPhone string        `json:"customer_phone" validate:"omitempty,phone"`
	Notes         string        `json:"notes"`
	Items         []itemRequest `json:"items" validate:"dive"`
	TotalAmount   float64       `json:"total_amount"`
}

type walkInRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone" validate:"omitempty,phone"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type issuedResponse struct {
	Order        models.Order `json:"order"`
	QueueNumber  int          `json:"queue_number"`
	QueueLabel   string       `json:"queue_label"`
	Ticket       string       `json:"ticket"`
	TrackingPath string       `json:"tracking_path"`
	TrackingURL  string       `json:"tracking_url"`
}

type ticketResponse struct {
	Order      models.Order    `json:"order"`
	QueueLabel string          `json:"queue_label"`
	Position   ticket.Position `json:"position"`
}

type orderResponse struct {
	Order      models.Order       `json:"order"`
	QueueLabel string             `json:"queue_label,omitempty"`
	NextStatus models.OrderStatus `json:"next_status,omitempty"`
	CanCancel  bool               `json:"can_cancel"`
}

type adminQueueEntry struct {
	QueueLabel           string             `json:"queue_label"`
	Order                models.Order       `json:"order"`
	OrdersAhead          int                `json:"orders_ahead"`
	EstimatedWaitMinutes int                `json:"estimated_wait_minutes"`
	NextStatus           models.OrderStatus `json:"next_status,omitempty"`
	CanCancel            bool               `json:"can_cancel"`
}

type displayEntry struct {
	QueueLabel  string             `json:"queue_label"`
	Status      models.OrderStatus `json:"status"`
	OrdersAhead int                `json:"orders_ahead"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(tickets TicketService, auth *Authenticator) *Handler {
	return &Handler{tickets: tickets, auth: auth}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/orders/queue", h.handleCheckout)
	mux.HandleFunc("/api/queue/display", h.handleDisplay)
	mux.HandleFunc("/api/queue/reset-counter", h.handleResetCounter)
	mux.HandleFunc("/api/queue/", h.handleQueueTicket)
	mux.HandleFunc("/api/admin/walk-ins", h.handleWalkIn)
	mux.HandleFunc("/api/admin/queue", h.handleAdminQueue)
	mux.HandleFunc("/api/admin/orders", h.handleAdminOrders)
	mux.HandleFunc("/api/admin/orders/", h.handleAdminOrder)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/session", h.handleSession)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkoutRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.trim()
	if err := validate.Struct(req); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}
	input := ticket.CheckoutInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Notes:         req.Notes,
		TotalAmount:   req.TotalAmount,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ticket.ItemInput{
			MenuItemID:   item.MenuItemID,
			MenuItemName: item.MenuItemName,
			Quantity:     item.Quantity,
			Price:        item.Price,
			Notes:        item.Notes,
		})
	}

	issued, err := h.tickets.CreateTicket(r.Context(), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newIssuedResponse(issued))
}

func (h *Handler) handleWalkIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req walkInRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	if err := validate.Struct(req); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	issued, err := h.tickets.AdmitWalkIn(r.Context(), ticket.WalkInInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newIssuedResponse(issued))
}

func (h *Handler) handleQueueTicket(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		order, err := h.tickets.ResolveTicket(r.Context(), raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		position, err := h.tickets.QueuePosition(r.Context(), order)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticketResponse{
			Order:      order,
			QueueLabel: h.tickets.Label(order),
			Position:   position,
		})
	case http.MethodPatch:
		if !requireAdmin(w, r) {
			return
		}
		var req statusRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		order, err := h.tickets.SetStatusByTicket(r.Context(), raw, strings.TrimSpace(req.Status))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.newOrderResponse(order))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.tickets.ActiveQueue(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	queues := make([]displayEntry, 0, len(entries))
	for _, entry := range entries {
		queues = append(queues, displayEntry{
			QueueLabel:  entry.Label,
			Status:      entry.Order.Status,
			OrdersAhead: entry.Position.OrdersAhead,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queues":     queues,
		"updated_at": time.Now().UTC(),
	})
}

func (h *Handler) handleResetCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	if err := h.tickets.ResetCounter(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	logrus.WithField("request_id", requestIDFromRequest(r)).Info("queue counter reset")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue_counter": 0,
		"next_queue":    h.tickets.FirstLabel(),
	})
}

func (h *Handler) handleAdminQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.tickets.ActiveQueue(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	queues := make([]adminQueueEntry, 0, len(entries))
	for _, entry := range entries {
		next, _ := store.NextStatus(entry.Order.Status)
		queues = append(queues, adminQueueEntry{
			QueueLabel:           entry.Label,
			Order:                entry.Order,
			OrdersAhead:          entry.Position.OrdersAhead,
			EstimatedWaitMinutes: entry.Position.EstimatedWaitMinutes,
			NextStatus:           next,
			CanCancel:            store.CanCancel(entry.Order.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": queues})
}

func (h *Handler) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	orders, counts, err := h.tickets.ListOrders(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"counts": counts,
	})
}

func (h *Handler) handleAdminOrder(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/orders/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	orderID := parts[0]
	if orderID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		h.handleOrder(w, r, orderID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleOrderAction(w, r, orderID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	switch r.Method {
	case http.MethodGet:
		order, err := h.tickets.GetOrder(r.Context(), orderID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.newOrderResponse(order))
	case http.MethodPatch:
		var req statusRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		order, err := h.tickets.SetStatus(r.Context(), orderID, strings.TrimSpace(req.Status))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.newOrderResponse(order))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleOrderAction(w http.ResponseWriter, r *http.Request, orderID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var (
		order models.Order
		err   error
	)
	switch action {
	case store.ActionAdvance:
		order, err = h.tickets.Advance(r.Context(), orderID)
	case store.ActionCancel:
		order, err = h.tickets.Cancel(r.Context(), orderID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.newOrderResponse(order))
}

func (h *Handler) newOrderResponse(order models.Order) orderResponse {
	next, _ := store.NextStatus(order.Status)
	return orderResponse{
		Order:      order,
		QueueLabel: h.tickets.Label(order),
		NextStatus: next,
		CanCancel:  store.CanCancel(order.Status),
	}
}

func newIssuedResponse(issued ticket.Issued) issuedResponse {
	resp := issuedResponse{
		Order:        issued.Order,
		QueueLabel:   issued.Label,
		Ticket:       issued.Ticket,
		TrackingPath: issued.URL.Path,
		TrackingURL:  issued.URL.URL,
	}
	if issued.Order.QueueNumber != nil {
		resp.QueueNumber = *issued.Order.QueueNumber
	}
	return resp
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// mapError folds ticket lookups that failed on format or hash into the same
// not-found answer so a valid queue number cannot be told apart.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ticket.ErrValidation):
		return http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), ticket.ErrValidation.Error()+": ")
	case errors.Is(err, ticket.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status", "status must be one of pending, confirmed, preparing, ready, completed, cancelled"
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, ticket.ErrForbidden):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found", "order not found"
	case errors.Is(err, ticket.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "order state does not allow this action"
	case errors.Is(err, queue.ErrAllocation):
		return http.StatusServiceUnavailable, "queue_unavailable", "queue numbers are temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	requestID := requestIDFromRequest(r)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"path":       logPath(r),
		}).Error("request failed")
	}
	writeError(w, requestID, status, code, message)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
