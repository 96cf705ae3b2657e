package ordering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

const paymentTimeoutReason = "payment timeout"

type CancelOrderCommand struct {
	OrderID int64
	Actor   Actor
	Reason  string
}

// CancelOrder cancels a pending or paid order and returns its stock and
// coupon. Cancelling an already cancelled order returns it unchanged.
func (s *Service) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*models.Order, error) {
	var order *models.Order
	var previous models.OrderStatus
	err := s.store.InTx(ctx, func(repo Repository) error {
		var err error
		order, err = repo.GetOrderForUpdate(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !cmd.Actor.CanAccess(order) {
			return fmt.Errorf("%w: order %d belongs to another customer", ErrPermissionDenied, order.ID)
		}
		previous = order.Status
		if order.Status == models.OrderStatusCancelled {
			return nil
		}
		return s.cancelLocked(ctx, repo, order, cmd.Reason)
	})
	err = translate(err)
	s.observe("cancel_order", err)
	if err != nil {
		if errors.Is(err, database.ErrCouponUsageDrift) {
			s.logger.Error("coupon usage counter out of step with redemptions",
				zap.Int64("order_id", cmd.OrderID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if previous == models.OrderStatusCancelled {
		return order, nil
	}

	s.logger.Info("order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(previous)),
		zap.Int64("actor_id", cmd.Actor.UserID),
	)
	event := newOrderEvent(EventOrderCancelled, order, previous, order.UpdatedAt)
	event.Reason = strings.TrimSpace(cmd.Reason)
	event.ActorID = cmd.Actor.UserID
	s.publish(ctx, event)
	return order, nil
}

// cancelLocked applies the cancellation to an order whose row lock is held
// by the current transaction: coupon first, then stock in dish id order.
func (s *Service) cancelLocked(ctx context.Context, repo Repository, order *models.Order, reason string) error {
	if err := Transition(order, models.OrderStatusCancelled, s.now()); err != nil {
		return err
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		order.CustomerNotes = appendNote(order.CustomerNotes, "Cancellation reason: "+reason)
	}
	if err := repo.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if order.CouponID != nil {
		if err := restoreCoupon(ctx, repo, order); err != nil {
			return err
		}
	}

	if err := restoreStock(ctx, repo, order.Items); err != nil {
		return err
	}
	return nil
}

// restoreCoupon releases the redemption used by the order and gives the
// use back to the coupon. Both counters move together or not at all.
func restoreCoupon(ctx context.Context, repo Repository, order *models.Order) error {
	if _, err := repo.GetCouponForUpdate(ctx, *order.CouponID); err != nil {
		if errors.Is(err, database.ErrCouponNotFound) {
			return nil
		}
		return fmt.Errorf("lock coupon %d: %w", *order.CouponID, err)
	}

	redemption, err := repo.GetRedemptionByOrderForUpdate(ctx, order.ID)
	if err != nil {
		if errors.Is(err, database.ErrRedemptionNotFound) {
			return nil
		}
		return fmt.Errorf("lock redemption for order %d: %w", order.ID, err)
	}

	if err := repo.RestoreRedemption(ctx, redemption.ID, order.ID); err != nil {
		return fmt.Errorf("restore redemption %d: %w", redemption.ID, err)
	}
	if err := repo.DecrementCouponUsage(ctx, redemption.CouponID); err != nil {
		return fmt.Errorf("restore coupon %d: %w", redemption.CouponID, err)
	}
	return nil
}

func restoreStock(ctx context.Context, repo Repository, items []models.OrderItem) error {
	byDish := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, seen := byDish[item.DishID]; !seen {
			ids = append(ids, item.DishID)
		}
		byDish[item.DishID] += item.Quantity
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := repo.AdjustStock(ctx, id, byDish[id]); err != nil {
			return fmt.Errorf("restore dish %d: %w", id, err)
		}
	}
	return nil
}

// ExpireUnpaidOrders cancels up to limit orders that have waited for payment
// longer than olderThan. Each order is handled in its own transaction. An
// order whose cancellation fails is logged and skipped for the rest of the
// batch, and the failures are returned joined once the batch is done.
func (s *Service) ExpireUnpaidOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-olderThan)
	expired := 0
	skip := []int64{}
	var failures []error

	for expired < limit {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		var order *models.Order
		var claimed int64
		err := s.store.InTx(ctx, func(repo Repository) error {
			var err error
			claimed = 0
			order, err = repo.NextUnpaidOrderBefore(ctx, cutoff, skip)
			if err != nil {
				return err
			}
			claimed = order.ID
			return s.cancelLocked(ctx, repo, order, paymentTimeoutReason)
		})
		if errors.Is(err, database.ErrOrderNotFound) && claimed == 0 {
			break
		}
		err = translate(err)
		s.observe("expire_order", err)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return expired, cerr
			}
			if claimed == 0 {
				failures = append(failures, fmt.Errorf("claim unpaid order: %w", err))
				break
			}
			s.logger.Error("expire unpaid order failed",
				zap.Int64("order_id", claimed),
				zap.Error(err),
			)
			failures = append(failures, fmt.Errorf("expire unpaid order %d: %w", claimed, err))
			skip = append(skip, claimed)
			continue
		}

		expired++
		s.logger.Info("unpaid order expired",
			zap.Int64("order_id", order.ID),
			zap.String("order_no", order.OrderNo),
		)
		event := newOrderEvent(EventOrderCancelled, order, models.OrderStatusPendingPayment, order.UpdatedAt)
		event.Reason = paymentTimeoutReason
		s.publish(ctx, event)
	}

	return expired, errors.Join(failures...)
}
