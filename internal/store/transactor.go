package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/ordering"
)

// Transactor runs ordering workflows against PostgreSQL. Each InTx call is
// one transaction, retried on lock timeouts, deadlocks and serialization
// failures.
type Transactor struct {
	db   *sql.DB
	opts database.TxOptions
}

var _ ordering.Transactor = (*Transactor)(nil)

func NewTransactor(db *sql.DB, opts database.TxOptions) *Transactor {
	return &Transactor{db: db, opts: opts}
}

func (t *Transactor) InTx(ctx context.Context, fn func(repo ordering.Repository) error) error {
	return database.WithRetry(ctx, t.db, t.opts, func(tx *sql.Tx) error {
		return fn(&repository{q: tx})
	})
}

func (t *Transactor) ReadOnly(ctx context.Context, fn func(repo ordering.Repository) error) error {
	opts := t.opts
	opts.ReadOnly = true
	return database.WithTransaction(ctx, t.db, opts, func(tx *sql.Tx) error {
		return fn(&repository{q: tx})
	})
}

// repository binds the package level queries to one transaction.
type repository struct {
	q database.Querier
}

func (r *repository) GetDish(ctx context.Context, id int64) (*models.Dish, error) {
	return GetDish(ctx, r.q, id)
}

func (r *repository) AdjustStock(ctx context.Context, dishID int64, delta int) error {
	return AdjustStock(ctx, r.q, dishID, delta)
}

func (r *repository) OrderNoExists(ctx context.Context, orderNo string) (bool, error) {
	return OrderNoExists(ctx, r.q, orderNo)
}

func (r *repository) InsertOrder(ctx context.Context, order *models.Order) error {
	return InsertOrder(ctx, r.q, order)
}

func (r *repository) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	return InsertOrderItem(ctx, r.q, item)
}

func (r *repository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, r.q, id)
}

func (r *repository) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrderForUpdate(ctx, r.q, id)
}

func (r *repository) UpdateOrder(ctx context.Context, order *models.Order) error {
	return UpdateOrder(ctx, r.q, order)
}

func (r *repository) NextUnpaidOrderBefore(ctx context.Context, cutoff time.Time, skip []int64) (*models.Order, error) {
	return NextUnpaidOrderBefore(ctx, r.q, cutoff, skip)
}

func (r *repository) ListOrders(ctx context.Context, filter ordering.OrderFilter) ([]models.Order, error) {
	return ListOrders(ctx, r.q, filter)
}

func (r *repository) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return GetCouponByCode(ctx, r.q, code)
}

func (r *repository) GetCouponByCodeForUpdate(ctx context.Context, code string) (*models.Coupon, error) {
	return GetCouponByCodeForUpdate(ctx, r.q, code)
}

func (r *repository) GetCouponForUpdate(ctx context.Context, id int64) (*models.Coupon, error) {
	return GetCouponForUpdate(ctx, r.q, id)
}

func (r *repository) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	return IncrementCouponUsage(ctx, r.q, couponID)
}

func (r *repository) DecrementCouponUsage(ctx context.Context, couponID int64) error {
	return DecrementCouponUsage(ctx, r.q, couponID)
}

func (r *repository) GetRedemption(ctx context.Context, userID, couponID int64) (*models.UserCoupon, error) {
	return GetRedemption(ctx, r.q, userID, couponID)
}

func (r *repository) GetRedemptionForUpdate(ctx context.Context, userID, couponID int64) (*models.UserCoupon, error) {
	return GetRedemptionForUpdate(ctx, r.q, userID, couponID)
}

func (r *repository) GetRedemptionByOrderForUpdate(ctx context.Context, orderID int64) (*models.UserCoupon, error) {
	return GetRedemptionByOrderForUpdate(ctx, r.q, orderID)
}

func (r *repository) CountUsedRedemptions(ctx context.Context, userID, couponID int64) (int, error) {
	return CountUsedRedemptions(ctx, r.q, userID, couponID)
}

func (r *repository) MarkRedemptionUsed(ctx context.Context, redemptionID, orderID int64, usedAt time.Time) error {
	return MarkRedemptionUsed(ctx, r.q, redemptionID, orderID, usedAt)
}

func (r *repository) RestoreRedemption(ctx context.Context, redemptionID, orderID int64) error {
	return RestoreRedemption(ctx, r.q, redemptionID, orderID)
}

func (r *repository) ListHeldCoupons(ctx context.Context, userID int64) ([]ordering.HeldCoupon, error) {
	return ListHeldCoupons(ctx, r.q, userID)
}

func (r *repository) InsertPayment(ctx context.Context, payment *models.Payment) error {
	return InsertPayment(ctx, r.q, payment)
}

func (r *repository) LatestPaymentForUpdate(ctx context.Context, orderID int64, statuses ...models.PaymentRecordStatus) (*models.Payment, error) {
	return LatestPaymentForUpdate(ctx, r.q, orderID, statuses...)
}

func (r *repository) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	return UpdatePayment(ctx, r.q, payment)
}
