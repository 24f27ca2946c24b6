package store

import "qrfood/order-service/internal/models"

const (
	ActionAdvance = "advance"
	ActionCancel  = "cancel"
)

// transitionMap drives the guided admin actions only. Raw status writes go
// through OrderStore.UpdateStatus and are not checked against it.
var transitionMap = map[string]map[models.OrderStatus]models.OrderStatus{
	ActionAdvance: {
		models.StatusPending:   models.StatusConfirmed,
		models.StatusConfirmed: models.StatusPreparing,
		models.StatusPreparing: models.StatusReady,
		models.StatusReady:     models.StatusCompleted,
	},
	ActionCancel: {
		models.StatusPending: models.StatusCancelled,
	},
}

func ValidTransition(action string, from models.OrderStatus) bool {
	_, ok := TransitionTarget(action, from)
	return ok
}

func TransitionTarget(action string, from models.OrderStatus) (models.OrderStatus, bool) {
	targets, ok := transitionMap[action]
	if !ok {
		return "", false
	}
	to, ok := targets[from]
	return to, ok
}

// NextStatus returns the status the guided advance action moves from to.
// Terminal statuses have no next status.
func NextStatus(from models.OrderStatus) (models.OrderStatus, bool) {
	return TransitionTarget(ActionAdvance, from)
}

func CanCancel(from models.OrderStatus) bool {
	return ValidTransition(ActionCancel, from)
}

func ParseStatus(raw string) (models.OrderStatus, bool) {
	for _, status := range models.Statuses {
		if string(status) == raw {
			return status, true
		}
	}
	return "", false
}

func IsTerminal(status models.OrderStatus) bool {
	return status == models.StatusCompleted || status == models.StatusCancelled
}

// IsActive reports whether the order still shows on the queue board.
func IsActive(status models.OrderStatus) bool {
	switch status {
	case models.StatusPending, models.StatusConfirmed, models.StatusPreparing, models.StatusReady:
		return true
	default:
		return false
	}
}

// BlocksQueue reports whether an order counts against orders behind it.
// Ready orders are only waiting for pickup.
func BlocksQueue(status models.OrderStatus) bool {
	switch status {
	case models.StatusPending, models.StatusConfirmed, models.StatusPreparing:
		return true
	default:
		return false
	}
}
