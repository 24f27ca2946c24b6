package models

import "time"

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusCompleted,
	StatusCancelled,
}

type OperationMode string

const (
	ModeRestaurant OperationMode = "restaurant"
	ModeMarket     OperationMode = "market"
)

type Order struct {
	ID            string        `json:"id"`
	OrderNumber   string        `json:"order_number"`
	TableID       string        `json:"table_id,omitempty"`
	TableNumber   string        `json:"table_number,omitempty"`
	CustomerName  string        `json:"customer_name,omitempty"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Status        OrderStatus   `json:"status"`
	Items         []OrderItem   `json:"items"`
	TotalAmount   float64       `json:"total_amount"`
	Notes         string        `json:"notes,omitempty"`
	Mode          OperationMode `json:"mode"`
	QueueNumber   *int          `json:"queue_number,omitempty"`
	TrackingURL   string        `json:"tracking_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type OrderItem struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"order_id"`
	MenuItemID   string  `json:"menu_item_id"`
	MenuItemName string  `json:"menu_item_name"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	Notes        string  `json:"notes,omitempty"`
}

// Clone returns a copy that shares no slices or pointers with o.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	if o.QueueNumber != nil {
		n := *o.QueueNumber
		out.QueueNumber = &n
	}
	return out
}
