package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/ordering"
)

const orderColumns = `id, order_no, user_id, total_amount, discount_amount, final_amount, status,
		payment_status, coupon_id, table_number, customer_notes, admin_notes, created_at, paid_at,
		completed_at, cancelled_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.OrderNo,
		&order.UserID,
		&order.TotalAmount,
		&order.DiscountAmount,
		&order.FinalAmount,
		&order.Status,
		&order.PaymentStatus,
		&order.CouponID,
		&order.TableNumber,
		&order.CustomerNotes,
		&order.AdminNotes,
		&order.CreatedAt,
		&order.PaidAt,
		&order.CompletedAt,
		&order.CancelledAt,
		&order.UpdatedAt,
		&order.Version,
	)
}

func InsertOrder(ctx context.Context, q database.Querier, order *models.Order) error {
	query := `
		INSERT INTO orders (order_no, user_id, total_amount, discount_amount, final_amount, status,
		                    payment_status, coupon_id, table_number, customer_notes, admin_notes,
		                    created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, 1)
		RETURNING id, version`

	err := q.QueryRowContext(ctx, query,
		order.OrderNo,
		order.UserID,
		order.TotalAmount,
		order.DiscountAmount,
		order.FinalAmount,
		order.Status,
		order.PaymentStatus,
		order.CouponID,
		order.TableNumber,
		order.CustomerNotes,
		order.AdminNotes,
		order.CreatedAt,
	).Scan(&order.ID, &order.Version)
	if err != nil {
		if database.IsUniqueViolation(err, "uk_orders_order_no") {
			// Another transaction took the number after our existence check;
			// a retry draws a new one.
			return fmt.Errorf("%w: order number %s taken", database.ErrOptimisticLockFailed, order.OrderNo)
		}
		return fmt.Errorf("create order: %w", err)
	}

	order.UpdatedAt = order.CreatedAt
	return nil
}

func InsertOrderItem(ctx context.Context, q database.Querier, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, dish_id, dish_name, dish_price, dish_image_url, quantity,
		                         subtotal, special_requests, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := q.QueryRowContext(ctx, query,
		item.OrderID,
		item.DishID,
		item.DishName,
		item.DishPrice,
		item.DishImageURL,
		item.Quantity,
		item.Subtotal,
		item.SpecialRequests,
		item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("create order item: %w", err)
	}

	return nil
}

func OrderNoExists(ctx context.Context, q database.Querier, orderNo string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_no = $1)",
		orderNo).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, id, "")
}

// GetOrderForUpdate locks the order row until the transaction ends.
func GetOrderForUpdate(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, id, "FOR UPDATE")
}

func getOrder(ctx context.Context, q database.Querier, id int64, lock string) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 ` + lock

	if err := scanOrder(q.QueryRowContext(ctx, query, id), order); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := listOrderItems(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func listOrderItems(ctx context.Context, q database.Querier, orderID int64) ([]models.OrderItem, error) {
	query := `
		SELECT id, order_id, dish_id, dish_name, dish_price, dish_image_url, quantity, subtotal,
		       special_requests, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.DishID,
			&item.DishName,
			&item.DishPrice,
			&item.DishImageURL,
			&item.Quantity,
			&item.Subtotal,
			&item.SpecialRequests,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpdateOrder writes the mutable order fields if nobody changed the row
// since it was read, and bumps Version on success.
func UpdateOrder(ctx context.Context, q database.Querier, order *models.Order) error {
	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     payment_status = $2,
		     customer_notes = $3,
		     admin_notes = $4,
		     paid_at = $5,
		     completed_at = $6,
		     cancelled_at = $7,
		     updated_at = $8,
		     version = version + 1
		 WHERE id = $9 AND version = $10`,
		order.Status,
		order.PaymentStatus,
		order.CustomerNotes,
		order.AdminNotes,
		order.PaidAt,
		order.CompletedAt,
		order.CancelledAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	order.Version++
	return nil
}

// NextUnpaidOrderBefore claims the oldest unpaid order created before
// cutoff, ignoring the ids in skip. Rows locked by a concurrent sweeper or
// cancellation are skipped.
func NextUnpaidOrderBefore(ctx context.Context, q database.Querier, cutoff time.Time, skip []int64) (*models.Order, error) {
	order := &models.Order{}
	if skip == nil {
		skip = []int64{}
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		  AND created_at < $2
		  AND id <> ALL($3)
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	err := scanOrder(q.QueryRowContext(ctx, query, models.OrderStatusPendingPayment, cutoff, pq.Array(skip)), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get next unpaid order: %w", err)
	}

	items, err := listOrderItems(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// ListOrders reads one keyset page, newest first. A nil cursor reads from
// the newest order.
func ListOrders(ctx context.Context, q database.Querier, filter ordering.OrderFilter) ([]models.Order, error) {
	var status sql.NullString
	if filter.Status != nil {
		status = sql.NullString{String: string(*filter.Status), Valid: true}
	}
	var beforeAt sql.NullTime
	var beforeID sql.NullInt64
	if filter.Before != nil {
		beforeAt = sql.NullTime{Time: filter.Before.CreatedAt, Valid: true}
		beforeID = sql.NullInt64{Int64: filter.Before.ID, Valid: true}
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::BIGINT IS NULL OR user_id = $1)
		  AND ($2::VARCHAR IS NULL OR status = $2)
		  AND ($3::TIMESTAMPTZ IS NULL OR (created_at, id) < ($3, $4::BIGINT))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	rows, err := q.QueryContext(ctx, query, filter.UserID, status, beforeAt, beforeID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}
