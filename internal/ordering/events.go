package ordering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/models"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventPaymentSucceeded   = "payment.succeeded"
	EventPaymentFailed      = "payment.failed"
	EventPaymentRefunded    = "payment.refunded"
)

// EventPublisher delivers workflow events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// MetricsRecorder counts workflow outcomes.
type MetricsRecorder interface {
	Observe(operation, outcome string)
}

// OrderEvent is emitted after an order mutation has been committed.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        int64     `json:"order_id"`
	OrderNo        string    `json:"order_no"`
	UserID         int64     `json:"user_id"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	FinalAmount    string    `json:"final_amount"`
	Amount         string    `json:"amount,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	ActorID        int64     `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func newOrderEvent(eventType string, order *models.Order, previous models.OrderStatus, now time.Time) OrderEvent {
	return OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNo:        order.OrderNo,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		FinalAmount:    order.FinalAmount.StringFixed(2),
		OccurredAt:     now,
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

type noopRecorder struct{}

func (noopRecorder) Observe(string, string) {}

// publish is best effort: the mutation is already committed, so failures
// are only logged.
func (s *Service) publish(ctx context.Context, event OrderEvent) {
	if err := s.events.Publish(ctx, event.Type, event); err != nil {
		s.logger.Warn("publish order event failed",
			zap.String("event", event.Type),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
