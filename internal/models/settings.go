package models

import "time"

type Settings struct {
	ID                    string        `json:"id"`
	RestaurantName        string        `json:"restaurant_name"`
	OperationMode         OperationMode `json:"operation_mode"`
	Currency              string        `json:"currency"`
	EnableQueueSystem     bool          `json:"enable_queue_system"`
	EstimatedWaitPerQueue int           `json:"estimated_wait_per_queue"`
	QueueCounter          int           `json:"queue_counter"`
	UpdatedAt             time.Time     `json:"updated_at"`
}
