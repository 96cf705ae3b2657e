package ordering

import (
	"context"
	"time"

	"github.com/safar/restaurant-orders/internal/models"
)

// DishReader is the read side of the catalog gateway.
type DishReader interface {
	// GetDish returns database.ErrDishNotFound when the dish does not exist.
	GetDish(ctx context.Context, id int64) (*models.Dish, error)
}

// Repository is the transaction-scoped view of the catalog, coupon ledger,
// orders and payments. Methods named ForUpdate take row locks held until the
// surrounding transaction ends; guarded mutations report a lost race through
// the database sentinel errors instead of writing.
type Repository interface {
	DishReader
	// AdjustStock adds delta to a finite stock. A decrement that would drive
	// stock below zero fails with database.ErrInsufficientStock. Dishes with
	// unlimited stock are left untouched.
	AdjustStock(ctx context.Context, dishID int64, delta int) error

	OrderNoExists(ctx context.Context, orderNo string) (bool, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	// GetOrder and GetOrderForUpdate return the order with its items, or
	// database.ErrOrderNotFound.
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	// UpdateOrder persists the mutable order fields, guarded on Version.
	UpdateOrder(ctx context.Context, order *models.Order) error
	// NextUnpaidOrderBefore locks the oldest pending_payment order created
	// before cutoff whose id is not in skip, skipping rows locked by other
	// transactions. It returns database.ErrOrderNotFound when none is left.
	NextUnpaidOrderBefore(ctx context.Context, cutoff time.Time, skip []int64) (*models.Order, error)
	// ListOrders returns up to filter.Limit orders strictly older than
	// filter.Before (all orders when nil) matching the user and status
	// filters, newest first, without items.
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)

	// GetCouponByCode reads an active coupon without locking it.
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error)
	GetCouponForUpdate(ctx context.Context, id int64) (*models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) error
	DecrementCouponUsage(ctx context.Context, couponID int64) error

	GetRedemption(ctx context.Context, userID, couponID int64) (*models.UserCoupon, error)
	GetRedemptionForUpdate(ctx context.Context, userID, couponID int64) (*models.UserCoupon, error)
	GetRedemptionByOrderForUpdate(ctx context.Context, orderID int64) (*models.UserCoupon, error)
	CountUsedRedemptions(ctx context.Context, userID, couponID int64) (int, error)
	MarkRedemptionUsed(ctx context.Context, redemptionID, orderID int64, usedAt time.Time) error
	RestoreRedemption(ctx context.Context, redemptionID, orderID int64) error
	// ListHeldCoupons returns the user's unused redemptions of active
	// coupons, most recently received first.
	ListHeldCoupons(ctx context.Context, userID int64) ([]HeldCoupon, error)

	InsertPayment(ctx context.Context, payment *models.Payment) error
	// LatestPaymentForUpdate returns the newest payment of the order whose
	// status is one of statuses (any status when none are given).
	LatestPaymentForUpdate(ctx context.Context, orderID int64, statuses ...models.PaymentRecordStatus) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
}

// Transactor scopes a Repository to a single transaction. InTx commits when
// fn returns nil and rolls back otherwise; it may run fn more than once when
// the store reports a retryable conflict.
type Transactor interface {
	InTx(ctx context.Context, fn func(repo Repository) error) error
	ReadOnly(ctx context.Context, fn func(repo Repository) error) error
}
