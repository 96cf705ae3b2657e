package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/ordering"
)

const couponColumns = `id, name, code, type, discount_value, min_order_amount, max_discount_amount,
		total_quantity, used_quantity, per_user_limit, start_time, end_time, is_active, created_at, updated_at`

func scanCoupon(row rowScanner, c *models.Coupon) error {
	return row.Scan(
		&c.ID,
		&c.Name,
		&c.Code,
		&c.Type,
		&c.DiscountValue,
		&c.MinOrderAmount,
		&c.MaxDiscountAmount,
		&c.TotalQuantity,
		&c.UsedQuantity,
		&c.PerUserLimit,
		&c.StartTime,
		&c.EndTime,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

func CreateCoupon(ctx context.Context, q database.Querier, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (name, code, type, discount_value, min_order_amount, max_discount_amount,
		                     total_quantity, used_quantity, per_user_limit, start_time, end_time, is_active,
		                     created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := q.QueryRowContext(ctx, query,
		c.Name,
		c.Code,
		c.Type,
		c.DiscountValue,
		c.MinOrderAmount,
		c.MaxDiscountAmount,
		c.TotalQuantity,
		c.UsedQuantity,
		c.PerUserLimit,
		c.StartTime,
		c.EndTime,
		c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create coupon: %w", err)
	}

	return nil
}

// GetCouponByCode reads an active coupon by its code.
func GetCouponByCode(ctx context.Context, q database.Querier, code string) (*models.Coupon, error) {
	c := &models.Coupon{}

	query := `SELECT ` + couponColumns + `
		FROM coupons
		WHERE code = $1 AND is_active`

	if err := scanCoupon(q.QueryRowContext(ctx, query, code), c); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return c, nil
}

// GetCouponByCodeForUpdate locks an active coupon by its code.
func GetCouponByCodeForUpdate(ctx context.Context, q database.Querier, code string) (*models.Coupon, error) {
	c := &models.Coupon{}

	query := `SELECT ` + couponColumns + `
		FROM coupons
		WHERE code = $1 AND is_active
		FOR UPDATE`

	if err := scanCoupon(q.QueryRowContext(ctx, query, code), c); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}

	return c, nil
}

func GetCouponForUpdate(ctx context.Context, q database.Querier, id int64) (*models.Coupon, error) {
	c := &models.Coupon{}

	query := `SELECT ` + couponColumns + `
		FROM coupons
		WHERE id = $1
		FOR UPDATE`

	if err := scanCoupon(q.QueryRowContext(ctx, query, id), c); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}

	return c, nil
}

func IncrementCouponUsage(ctx context.Context, q database.Querier, couponID int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE coupons
		 SET used_quantity = used_quantity + 1, updated_at = NOW()
		 WHERE id = $1 AND used_quantity < total_quantity`,
		couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCouponExhausted
	}

	return nil
}

func DecrementCouponUsage(ctx context.Context, q database.Querier, couponID int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE coupons
		 SET used_quantity = used_quantity - 1, updated_at = NOW()
		 WHERE id = $1 AND used_quantity > 0`,
		couponID)
	if err != nil {
		return fmt.Errorf("decrement coupon usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCouponUsageDrift
	}

	return nil
}

const redemptionColumns = `id, user_id, coupon_id, order_id, status, received_time, used_time`

func scanRedemption(row rowScanner, r *models.UserCoupon) error {
	return row.Scan(
		&r.ID,
		&r.UserID,
		&r.CouponID,
		&r.OrderID,
		&r.Status,
		&r.ReceivedTime,
		&r.UsedTime,
	)
}

// GrantCoupon gives the user an unused claim on the coupon.
func GrantCoupon(ctx context.Context, q database.Querier, userID, couponID int64) (*models.UserCoupon, error) {
	r := &models.UserCoupon{}

	query := `
		INSERT INTO user_coupons (user_id, coupon_id, status, received_time)
		VALUES ($1, $2, $3, NOW())
		RETURNING ` + redemptionColumns

	err := scanRedemption(q.QueryRowContext(ctx, query, userID, couponID, models.RedemptionStatusUnused), r)
	if err != nil {
		return nil, fmt.Errorf("grant coupon: %w", err)
	}

	return r, nil
}

func GetRedemption(ctx context.Context, q database.Querier, userID, couponID int64) (*models.UserCoupon, error) {
	r := &models.UserCoupon{}

	query := `SELECT ` + redemptionColumns + `
		FROM user_coupons
		WHERE user_id = $1 AND coupon_id = $2`

	if err := scanRedemption(q.QueryRowContext(ctx, query, userID, couponID), r); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}

	return r, nil
}

func GetRedemptionForUpdate(ctx context.Context, q database.Querier, userID, couponID int64) (*models.UserCoupon, error) {
	r := &models.UserCoupon{}

	query := `SELECT ` + redemptionColumns + `
		FROM user_coupons
		WHERE user_id = $1 AND coupon_id = $2
		FOR UPDATE`

	if err := scanRedemption(q.QueryRowContext(ctx, query, userID, couponID), r); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("lock redemption: %w", err)
	}

	return r, nil
}

func GetRedemptionByOrderForUpdate(ctx context.Context, q database.Querier, orderID int64) (*models.UserCoupon, error) {
	r := &models.UserCoupon{}

	query := `SELECT ` + redemptionColumns + `
		FROM user_coupons
		WHERE order_id = $1 AND status = $2
		ORDER BY id
		LIMIT 1
		FOR UPDATE`

	if err := scanRedemption(q.QueryRowContext(ctx, query, orderID, models.RedemptionStatusUsed), r); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("lock order redemption: %w", err)
	}

	return r, nil
}

func CountUsedRedemptions(ctx context.Context, q database.Querier, userID, couponID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_coupons WHERE user_id = $1 AND coupon_id = $2 AND status = $3`,
		userID, couponID, models.RedemptionStatusUsed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

// MarkRedemptionUsed flips an unused redemption to used. It fails with
// database.ErrRedemptionStale if the redemption is no longer unused.
func MarkRedemptionUsed(ctx context.Context, q database.Querier, redemptionID, orderID int64, usedAt time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE user_coupons
		 SET status = $1, order_id = $2, used_time = $3
		 WHERE id = $4 AND status = $5`,
		models.RedemptionStatusUsed, orderID, usedAt, redemptionID, models.RedemptionStatusUnused)
	if err != nil {
		return fmt.Errorf("mark redemption used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrRedemptionStale
	}

	return nil
}

// RestoreRedemption returns a redemption used by orderID to unused.
func RestoreRedemption(ctx context.Context, q database.Querier, redemptionID, orderID int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE user_coupons
		 SET status = $1, order_id = NULL, used_time = NULL
		 WHERE id = $2 AND order_id = $3 AND status = $4`,
		models.RedemptionStatusUnused, redemptionID, orderID, models.RedemptionStatusUsed)
	if err != nil {
		return fmt.Errorf("restore redemption: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrRedemptionStale
	}

	return nil
}

// ListHeldCoupons returns the user's unused redemptions of active coupons,
// newest first.
func ListHeldCoupons(ctx context.Context, q database.Querier, userID int64) ([]ordering.HeldCoupon, error) {
	query := `SELECT uc.id, uc.user_id, uc.coupon_id, uc.order_id, uc.status, uc.received_time, uc.used_time,
		       c.id, c.name, c.code, c.type, c.discount_value, c.min_order_amount, c.max_discount_amount,
		       c.total_quantity, c.used_quantity, c.per_user_limit, c.start_time, c.end_time, c.is_active,
		       c.created_at, c.updated_at
		FROM user_coupons uc
		JOIN coupons c ON c.id = uc.coupon_id
		WHERE uc.user_id = $1 AND uc.status = $2 AND c.is_active
		ORDER BY uc.received_time DESC, uc.id DESC`

	rows, err := q.QueryContext(ctx, query, userID, models.RedemptionStatusUnused)
	if err != nil {
		return nil, fmt.Errorf("list held coupons: %w", err)
	}
	defer rows.Close()

	var held []ordering.HeldCoupon
	for rows.Next() {
		var h ordering.HeldCoupon
		r, c := &h.Redemption, &h.Coupon
		err := rows.Scan(
			&r.ID, &r.UserID, &r.CouponID, &r.OrderID, &r.Status, &r.ReceivedTime, &r.UsedTime,
			&c.ID, &c.Name, &c.Code, &c.Type, &c.DiscountValue, &c.MinOrderAmount, &c.MaxDiscountAmount,
			&c.TotalQuantity, &c.UsedQuantity, &c.PerUserLimit, &c.StartTime, &c.EndTime, &c.IsActive,
			&c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan held coupon: %w", err)
		}
		held = append(held, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return held, nil
}
