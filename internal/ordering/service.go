package ordering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

const (
	defaultOrderNoAttempts = 5
	maxNotesRunes          = 1000
)

// ServiceDeps wires a Service. Only Store is required.
type ServiceDeps struct {
	Store           Transactor
	Events          EventPublisher
	Metrics         MetricsRecorder
	Logger          *zap.Logger
	Clock           func() time.Time
	NewSuffix       func(n int) string
	OrderNoAttempts int
}

// Service runs the order placement, status and payment workflows. Every
// mutation happens inside a single store transaction.
type Service struct {
	store           Transactor
	events          EventPublisher
	metrics         MetricsRecorder
	logger          *zap.Logger
	now             func() time.Time
	newSuffix       func(n int) string
	orderNoAttempts int
}

func NewService(deps ServiceDeps) *Service {
	s := &Service{
		store:           deps.Store,
		events:          deps.Events,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		now:             deps.Clock,
		newSuffix:       deps.NewSuffix,
		orderNoAttempts: deps.OrderNoAttempts,
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newSuffix == nil {
		s.newSuffix = randomHex
	}
	if s.orderNoAttempts <= 0 {
		s.orderNoAttempts = defaultOrderNoAttempts
	}
	return s
}

func (s *Service) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = CodeOf(err)
	}
	s.metrics.Observe(operation, outcome)
}

type CreateOrderCommand struct {
	UserID      int64
	Items       []CartItem
	TableNumber string
	Notes       string
	CouponCode  string
}

// CreateOrder validates the cart, prices it, reserves stock, redeems the
// coupon and records the order in one transaction.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*models.Order, error) {
	order, err := s.createOrder(ctx, cmd)
	s.observe("create_order", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_no", order.OrderNo),
		zap.Int64("user_id", order.UserID),
		zap.String("final_amount", order.FinalAmount.StringFixed(2)),
	)
	s.publish(ctx, newOrderEvent(EventOrderCreated, order, "", order.CreatedAt))
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, cmd CreateOrderCommand) (*models.Order, error) {
	if cmd.UserID <= 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if err := CheckCart(cmd.Items); err != nil {
		return nil, err
	}
	if len([]rune(cmd.Notes)) > maxNotesRunes {
		return nil, fmt.Errorf("%w: notes too long", ErrInvalidInput)
	}
	couponCode := strings.TrimSpace(cmd.CouponCode)

	var order *models.Order
	err := s.store.InTx(ctx, func(repo Repository) error {
		now := s.now()

		lines, err := ValidateCart(ctx, repo, cmd.Items)
		if err != nil {
			return err
		}
		total := SumLines(lines)

		var coupon *models.Coupon
		var redemption *models.UserCoupon
		if couponCode != "" {
			coupon, redemption, err = s.claimCoupon(ctx, repo, cmd.UserID, couponCode, total, now)
			if err != nil {
				return err
			}
		}
		quote := Price(total, coupon)

		orderNo, err := s.nextOrderNo(ctx, repo, now)
		if err != nil {
			return err
		}

		order = &models.Order{
			OrderNo:        orderNo,
			UserID:         cmd.UserID,
			TotalAmount:    quote.Total,
			DiscountAmount: quote.Discount,
			FinalAmount:    quote.Final,
			Status:         models.OrderStatusPendingPayment,
			PaymentStatus:  models.PaymentStatusUnpaid,
			TableNumber:    strings.TrimSpace(cmd.TableNumber),
			CustomerNotes:  strings.TrimSpace(cmd.Notes),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if coupon != nil {
			order.CouponID = &coupon.ID
		}
		if err := repo.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		order.Items = make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			item := line.Snapshot()
			item.OrderID = order.ID
			item.CreatedAt = now
			if err := repo.InsertOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			order.Items = append(order.Items, item)
		}

		if err := reserveStock(ctx, repo, lines); err != nil {
			return err
		}

		if redemption != nil {
			if err := repo.MarkRedemptionUsed(ctx, redemption.ID, order.ID, now); err != nil {
				return fmt.Errorf("mark coupon %s used: %w", coupon.Code, err)
			}
			if err := repo.IncrementCouponUsage(ctx, coupon.ID); err != nil {
				return fmt.Errorf("redeem coupon %s: %w", coupon.Code, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	return order, nil
}

// claimCoupon locks the coupon and the caller's redemption and checks that
// the coupon can be applied to an order of the given total.
func (s *Service) claimCoupon(ctx context.Context, repo Repository, userID int64, code string, total decimal.Decimal, now time.Time) (*models.Coupon, *models.UserCoupon, error) {
	coupon, err := repo.GetCouponByCodeForUpdate(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrCouponNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return nil, nil, fmt.Errorf("load coupon %s: %w", code, err)
	}
	if err := CheckCoupon(*coupon, total, now); err != nil {
		return nil, nil, err
	}

	used, err := repo.CountUsedRedemptions(ctx, userID, coupon.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count coupon redemptions: %w", err)
	}
	if used >= coupon.PerUserLimit {
		return nil, nil, fmt.Errorf("%w: %s", ErrCouponLimitReached, code)
	}

	redemption, err := repo.GetRedemptionForUpdate(ctx, userID, coupon.ID)
	if err != nil {
		if errors.Is(err, database.ErrRedemptionNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrCouponNotOwned, code)
		}
		return nil, nil, fmt.Errorf("load coupon redemption: %w", err)
	}
	if redemption.Status != models.RedemptionStatusUnused {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrCouponNotOwned, code, redemption.Status)
	}

	return coupon, redemption, nil
}

// reserveStock decrements finite stock for every dish in the order, one
// guarded update per dish in ascending id order.
func reserveStock(ctx context.Context, repo Repository, lines []LineItem) error {
	for _, r := range stockDeltas(lines, -1) {
		if err := repo.AdjustStock(ctx, r.dishID, r.delta); err != nil {
			return fmt.Errorf("reserve dish %d: %w", r.dishID, err)
		}
	}
	return nil
}

type stockDelta struct {
	dishID int64
	delta  int
}

func stockDeltas(lines []LineItem, sign int) []stockDelta {
	byDish := make(map[int64]int, len(lines))
	for _, line := range lines {
		if !line.Dish.HasFiniteStock() {
			continue
		}
		byDish[line.Dish.ID] += line.Quantity
	}

	deltas := make([]stockDelta, 0, len(byDish))
	for id, qty := range byDish {
		deltas = append(deltas, stockDelta{dishID: id, delta: sign * qty})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].dishID < deltas[j].dishID })
	return deltas
}

// GetOrder returns the order with its items. Orders of other customers are
// reported as missing unless the actor is an admin.
func (s *Service) GetOrder(ctx context.Context, orderID int64, actor Actor) (*models.Order, error) {
	var order *models.Order
	err := s.store.ReadOnly(ctx, func(repo Repository) error {
		var err error
		order, err = repo.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	if !actor.CanAccess(order) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders pages through the actor's orders, newest first, optionally
// restricted to one status. Admins see every order.
func (s *Service) ListOrders(ctx context.Context, actor Actor, query ListOrdersQuery) (*OrderPage, error) {
	filter, err := filterFor(actor, query)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	err = s.store.ReadOnly(ctx, func(repo Repository) error {
		var err error
		orders, err = repo.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	page := &OrderPage{Items: orders}
	if size := filter.Limit - 1; len(orders) > size {
		page.Items = orders[:size]
		page.HasMore = true
		last := page.Items[len(page.Items)-1]
		page.NextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Items == nil {
		page.Items = []models.Order{}
	}
	return page, nil
}

type UpdateStatusCommand struct {
	OrderID int64
	Actor   Actor
	Status  models.OrderStatus
	Notes   string
}

// UpdateOrderStatus advances an order through the kitchen workflow. Moving
// to cancelled runs the full cancellation with compensation; moving an
// unpaid order to paid records a cash payment.
func (s *Service) UpdateOrderStatus(ctx context.Context, cmd UpdateStatusCommand) (*models.Order, error) {
	if cmd.Status == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, CancelOrderCommand{
			OrderID: cmd.OrderID,
			Actor:   cmd.Actor,
			Reason:  cmd.Notes,
		})
	}

	order, previous, err := s.updateStatus(ctx, cmd)
	s.observe("update_status", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(order.Status)),
		zap.Int64("actor_id", cmd.Actor.UserID),
	)
	event := newOrderEvent(EventOrderStatusChanged, order, previous, order.UpdatedAt)
	event.ActorID = cmd.Actor.UserID
	s.publish(ctx, event)
	return order, nil
}

func (s *Service) updateStatus(ctx context.Context, cmd UpdateStatusCommand) (*models.Order, models.OrderStatus, error) {
	if _, err := ParseStatus(string(cmd.Status)); err != nil {
		return nil, "", err
	}
	if !cmd.Actor.IsAdmin {
		return nil, "", fmt.Errorf("%w: only staff may change order status", ErrPermissionDenied)
	}

	var order *models.Order
	var previous models.OrderStatus
	err := s.store.InTx(ctx, func(repo Repository) error {
		var err error
		order, err = repo.GetOrderForUpdate(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		previous = order.Status

		if cmd.Status == models.OrderStatusPaid {
			// Staff confirming payment at the counter settles it as cash.
			if !CanTransition(order.Status, models.OrderStatusPaid) || order.PaidAt != nil {
				return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, order.ID, order.Status)
			}
			if _, err := s.settlePayment(ctx, repo, order, models.PaymentMethodCash, "", nil); err != nil {
				return err
			}
		} else if err := Transition(order, cmd.Status, s.now()); err != nil {
			return err
		}
		if notes := strings.TrimSpace(cmd.Notes); notes != "" {
			order.AdminNotes = appendNote(order.AdminNotes, notes)
		}
		return repo.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, "", translate(err)
	}
	return order, previous, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
