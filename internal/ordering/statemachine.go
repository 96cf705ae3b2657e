package ordering

import (
	"fmt"
	"slices"
	"time"

	"github.com/safar/restaurant-orders/internal/models"
)

var orderStateTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPendingPayment: {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:           {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing:      {models.OrderStatusReady},
	models.OrderStatusReady:          {models.OrderStatusCompleted},
}

var knownStatuses = []models.OrderStatus{
	models.OrderStatusPendingPayment,
	models.OrderStatusPaid,
	models.OrderStatusPreparing,
	models.OrderStatusReady,
	models.OrderStatusCompleted,
	models.OrderStatusCancelled,
}

// ParseStatus validates a client supplied status.
func ParseStatus(raw string) (models.OrderStatus, error) {
	status := models.OrderStatus(raw)
	if !slices.Contains(knownStatuses, status) {
		return "", fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, raw)
	}
	return status, nil
}

func CanTransition(from, to models.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.OrderStatus) bool {
	return len(orderStateTransitions[status]) == 0
}

// Transition moves order to status and stamps the matching timestamps. The
// order is left untouched when the move is not allowed. Compensation for
// cancelled orders is the caller's job.
func Transition(order *models.Order, to models.OrderStatus, now time.Time) error {
	if !CanTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}

	order.Status = to
	order.UpdatedAt = now

	switch to {
	case models.OrderStatusPaid:
		order.PaidAt = &now
		order.PaymentStatus = models.PaymentStatusPaid
	case models.OrderStatusCompleted:
		order.CompletedAt = &now
	case models.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	return nil
}
