package store

import (
	"encoding/json"
	"time"

	"qrfood/order-service/internal/models"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// EventPayload is the body of every order event. It carries no customer
// contact details because the events reach public display boards.
type EventPayload struct {
	OrderID     string               `json:"order_id"`
	OrderNumber string               `json:"order_number"`
	QueueNumber *int                 `json:"queue_number,omitempty"`
	Status      models.OrderStatus   `json:"status"`
	Mode        models.OperationMode `json:"mode"`
	TotalAmount float64              `json:"total_amount"`
	ItemCount   int                  `json:"item_count"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func NewEventPayload(order models.Order) ([]byte, error) {
	return json.Marshal(EventPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		QueueNumber: order.QueueNumber,
		Status:      order.Status,
		Mode:        order.Mode,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
		UpdatedAt:   order.UpdatedAt,
	})
}
