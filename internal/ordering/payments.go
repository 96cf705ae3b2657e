package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

const maxReasonRunes = 200

// PaymentNotification is an inbound confirmation from the payment gateway.
type PaymentNotification struct {
	OrderID                 int64
	Amount                  decimal.Decimal
	ThirdPartyTransactionID string
	Method                  models.PaymentMethod
	Raw                     json.RawMessage
}

// PaymentResult reports the state after a payment callback. Duplicate is set
// when the callback had already been applied and nothing changed.
type PaymentResult struct {
	Order     *models.Order   `json:"order"`
	Payment   *models.Payment `json:"payment,omitempty"`
	Duplicate bool            `json:"duplicate"`
}

type StartPaymentCommand struct {
	OrderID int64
	Actor   Actor
	Method  models.PaymentMethod
}

type RefundCommand struct {
	OrderID int64
	Actor   Actor
	// Amount defaults to the whole refundable amount when not set.
	Amount decimal.NullDecimal
	Reason string
}

// ParseMethod validates a client supplied payment method. Empty selects
// the default method.
func ParseMethod(raw string) (models.PaymentMethod, error) {
	switch method := models.PaymentMethod(strings.TrimSpace(raw)); method {
	case "":
		return models.PaymentMethodWechatPay, nil
	case models.PaymentMethodWechatPay, models.PaymentMethodAlipay, models.PaymentMethodCash:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, raw)
	}
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// StartPayment opens a pending payment for an unpaid order, reusing the
// open one if the customer retries.
func (s *Service) StartPayment(ctx context.Context, cmd StartPaymentCommand) (*models.Payment, error) {
	method, err := ParseMethod(string(cmd.Method))
	if err != nil {
		return nil, err
	}

	var payment *models.Payment
	err = s.store.InTx(ctx, func(repo Repository) error {
		order, err := repo.GetOrderForUpdate(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !cmd.Actor.CanAccess(order) {
			return ErrOrderNotFound
		}
		if order.Status != models.OrderStatusPendingPayment || order.PaymentStatus != models.PaymentStatusUnpaid {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, order.ID, order.Status)
		}

		payment, err = s.openPayment(ctx, repo, order, method)
		return err
	})
	err = translate(err)
	s.observe("start_payment", err)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// openPayment returns the order's pending payment, creating one if needed.
func (s *Service) openPayment(ctx context.Context, repo Repository, order *models.Order, method models.PaymentMethod) (*models.Payment, error) {
	payment, err := repo.LatestPaymentForUpdate(ctx, order.ID, models.PaymentRecordPending)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, database.ErrPaymentNotFound) {
		return nil, fmt.Errorf("load pending payment: %w", err)
	}

	now := s.now()
	payment = &models.Payment{
		OrderID:      order.ID,
		PaymentNo:    formatPaymentNo(now, s.newSuffix(8)),
		Method:       method,
		Amount:       order.FinalAmount,
		Status:       models.PaymentRecordPending,
		RefundAmount: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.InsertPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return payment, nil
}

// settlePayment records a successful payment for the locked order and moves
// the order to paid. The caller persists the order.
func (s *Service) settlePayment(ctx context.Context, repo Repository, order *models.Order, method models.PaymentMethod, transactionID string, raw json.RawMessage) (*models.Payment, error) {
	payment, err := s.openPayment(ctx, repo, order, method)
	if err != nil {
		return nil, err
	}

	now := s.now()
	payment.Method = method
	payment.Status = models.PaymentRecordSuccess
	payment.ThirdPartyTransactionID = strings.TrimSpace(transactionID)
	payment.NotifyData = raw
	payment.PaidAt = &now
	payment.UpdatedAt = now
	if err := repo.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	if err := Transition(order, models.OrderStatusPaid, now); err != nil {
		return nil, err
	}
	return payment, nil
}

// checkCents rejects amounts with more than two decimal places.
func checkCents(amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", ErrInvalidInput, amount.String())
	}
	return nil
}

// OnPaymentSuccess marks the order paid. A repeated notification for an
// order that is already paid is acknowledged without changes.
func (s *Service) OnPaymentSuccess(ctx context.Context, n PaymentNotification) (*PaymentResult, error) {
	method, err := ParseMethod(string(n.Method))
	if err != nil {
		return nil, err
	}
	if n.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative payment amount", ErrInvalidInput)
	}
	if err := checkCents(n.Amount); err != nil {
		return nil, err
	}

	var result *PaymentResult
	err = s.store.InTx(ctx, func(repo Repository) error {
		order, err := repo.GetOrderForUpdate(ctx, n.OrderID)
		if err != nil {
			return err
		}

		if order.PaidAt != nil {
			result = &PaymentResult{Order: order, Duplicate: true}
			payment, err := repo.LatestPaymentForUpdate(ctx, order.ID,
				models.PaymentRecordSuccess, models.PaymentRecordRefunded)
			switch {
			case err == nil:
				result.Payment = payment
			case !errors.Is(err, database.ErrPaymentNotFound):
				return fmt.Errorf("load recorded payment: %w", err)
			}
			return nil
		}

		if !CanTransition(order.Status, models.OrderStatusPaid) {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, order.ID, order.Status)
		}
		if !n.Amount.IsZero() && !n.Amount.Equal(order.FinalAmount) {
			return fmt.Errorf("%w: got %s, order %d expects %s",
				ErrPaymentAmountMismatch, n.Amount.StringFixed(2), order.ID, order.FinalAmount.StringFixed(2))
		}

		payment, err := s.settlePayment(ctx, repo, order, method, n.ThirdPartyTransactionID, n.Raw)
		if err != nil {
			return err
		}
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		result = &PaymentResult{Order: order, Payment: payment}
		return nil
	})
	err = translate(err)
	s.observe("payment_success", err)
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		s.logger.Info("duplicate payment notification ignored",
			zap.Int64("order_id", result.Order.ID),
			zap.String("transaction_id", n.ThirdPartyTransactionID),
		)
		return result, nil
	}

	s.logger.Info("order paid",
		zap.Int64("order_id", result.Order.ID),
		zap.String("payment_no", result.Payment.PaymentNo),
		zap.String("transaction_id", result.Payment.ThirdPartyTransactionID),
	)
	event := newOrderEvent(EventPaymentSucceeded, result.Order, models.OrderStatusPendingPayment, result.Order.UpdatedAt)
	event.Amount = result.Payment.Amount.StringFixed(2)
	s.publish(ctx, event)
	return result, nil
}

// OnPaymentFailure records a failed attempt. The order keeps its status so
// the customer can retry.
func (s *Service) OnPaymentFailure(ctx context.Context, orderID int64, reason string) (*PaymentResult, error) {
	reason = truncateRunes(reason, maxReasonRunes)

	var result *PaymentResult
	err := s.store.InTx(ctx, func(repo Repository) error {
		order, err := repo.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		now := s.now()
		payment, err := repo.LatestPaymentForUpdate(ctx, order.ID, models.PaymentRecordPending)
		switch {
		case err == nil:
			payment.Status = models.PaymentRecordFailed
			payment.FailureReason = reason
			payment.UpdatedAt = now
			if err := repo.UpdatePayment(ctx, payment); err != nil {
				return fmt.Errorf("record payment failure: %w", err)
			}
		case errors.Is(err, database.ErrPaymentNotFound):
			payment = &models.Payment{
				OrderID:       order.ID,
				PaymentNo:     formatPaymentNo(now, s.newSuffix(8)),
				Method:        models.PaymentMethodWechatPay,
				Amount:        order.FinalAmount,
				Status:        models.PaymentRecordFailed,
				RefundAmount:  decimal.Zero,
				FailureReason: reason,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := repo.InsertPayment(ctx, payment); err != nil {
				return fmt.Errorf("insert failed payment: %w", err)
			}
		default:
			return fmt.Errorf("load pending payment: %w", err)
		}

		result = &PaymentResult{Order: order, Payment: payment}
		return nil
	})
	err = translate(err)
	s.observe("payment_failure", err)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("payment failed",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason),
	)
	event := newOrderEvent(EventPaymentFailed, result.Order, "", result.Payment.UpdatedAt)
	event.Reason = reason
	s.publish(ctx, event)
	return result, nil
}

// Refund returns money from the order's successful payment. A refund of the
// whole remaining amount marks the order refunded, anything less partially
// refunded.
func (s *Service) Refund(ctx context.Context, cmd RefundCommand) (*PaymentResult, error) {
	if !cmd.Actor.IsAdmin {
		err := fmt.Errorf("%w: only staff may issue refunds", ErrPermissionDenied)
		s.observe("refund", err)
		return nil, err
	}
	if cmd.Amount.Valid {
		err := checkCents(cmd.Amount.Decimal)
		if err == nil && !cmd.Amount.Decimal.IsPositive() {
			err = fmt.Errorf("%w: refund amount must be positive", ErrInvalidInput)
		}
		if err != nil {
			s.observe("refund", err)
			return nil, err
		}
	}
	reason := truncateRunes(cmd.Reason, maxReasonRunes)

	var result *PaymentResult
	var refunded decimal.Decimal
	err := s.store.InTx(ctx, func(repo Repository) error {
		order, err := repo.GetOrderForUpdate(ctx, cmd.OrderID)
		if err != nil {
			return err
		}

		payment, err := repo.LatestPaymentForUpdate(ctx, order.ID, models.PaymentRecordSuccess)
		if err != nil {
			if errors.Is(err, database.ErrPaymentNotFound) {
				return fmt.Errorf("%w: order %d", ErrPaymentNotCompleted, order.ID)
			}
			return fmt.Errorf("load payment: %w", err)
		}

		remaining := payment.Refundable()
		refunded = remaining
		if cmd.Amount.Valid {
			refunded = cmd.Amount.Decimal
		}
		if refunded.GreaterThan(remaining) {
			return fmt.Errorf("%w: requested %s, refundable %s",
				ErrRefundExceedsPaid, refunded.StringFixed(2), remaining.StringFixed(2))
		}

		now := s.now()
		payment.RefundAmount = payment.RefundAmount.Add(refunded)
		payment.UpdatedAt = now
		if reason != "" {
			payment.RefundReason = reason
		}
		if payment.Refundable().IsZero() {
			payment.Status = models.PaymentRecordRefunded
			order.PaymentStatus = models.PaymentStatusRefunded
		} else {
			order.PaymentStatus = models.PaymentStatusPartialRefunded
		}
		if err := repo.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("record refund: %w", err)
		}

		order.UpdatedAt = now
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		result = &PaymentResult{Order: order, Payment: payment}
		return nil
	})
	err = translate(err)
	s.observe("refund", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment refunded",
		zap.Int64("order_id", result.Order.ID),
		zap.String("amount", refunded.StringFixed(2)),
		zap.String("payment_status", string(result.Order.PaymentStatus)),
	)
	event := newOrderEvent(EventPaymentRefunded, result.Order, "", result.Payment.UpdatedAt)
	event.Amount = refunded.StringFixed(2)
	event.Reason = reason
	event.ActorID = cmd.Actor.UserID
	s.publish(ctx, event)
	return result, nil
}
