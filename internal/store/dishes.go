package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

func CreateDish(ctx context.Context, q database.Querier, name, imageURL string, price decimal.Decimal, stock int) (*models.Dish, error) {
	dish := &models.Dish{}

	query := `
		INSERT INTO dishes (name, image_url, price, stock_quantity, is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW(), 1)
		RETURNING id, name, image_url, price, stock_quantity, is_active, created_at, updated_at, version`

	err := q.QueryRowContext(ctx, query, name, imageURL, price, stock).Scan(
		&dish.ID,
		&dish.Name,
		&dish.ImageURL,
		&dish.Price,
		&dish.StockQuantity,
		&dish.IsActive,
		&dish.CreatedAt,
		&dish.UpdatedAt,
		&dish.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create dish: %w", err)
	}

	return dish, nil
}

func GetDish(ctx context.Context, q database.Querier, id int64) (*models.Dish, error) {
	dish := &models.Dish{}

	query := `
		SELECT id, name, image_url, price, stock_quantity, is_active, created_at, updated_at, version
		FROM dishes
		WHERE id = $1`

	err := q.QueryRowContext(ctx, query, id).Scan(
		&dish.ID,
		&dish.Name,
		&dish.ImageURL,
		&dish.Price,
		&dish.StockQuantity,
		&dish.IsActive,
		&dish.CreatedAt,
		&dish.UpdatedAt,
		&dish.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrDishNotFound
		}
		return nil, fmt.Errorf("get dish: %w", err)
	}

	return dish, nil
}

func SetDishActive(ctx context.Context, q database.Querier, id int64, active bool) error {
	result, err := q.ExecContext(ctx,
		`UPDATE dishes
		 SET is_active = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("set dish active: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrDishNotFound
	}

	return nil
}

// AdjustStock adds delta to a finite stock in a single guarded update, so
// concurrent reservations can never drive it below zero. Unlimited stock
// (-1) is never touched.
func AdjustStock(ctx context.Context, q database.Querier, dishID int64, delta int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE dishes
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity <> -1
		   AND stock_quantity + $1 >= 0`,
		delta, dishID)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return nil
	}

	var stock int
	err = q.QueryRowContext(ctx, `SELECT stock_quantity FROM dishes WHERE id = $1`, dishID).Scan(&stock)
	if err != nil {
		if err == sql.ErrNoRows {
			return database.ErrDishNotFound
		}
		return fmt.Errorf("check stock: %w", err)
	}

	if stock == models.UnlimitedStock {
		return nil
	}

	return database.ErrInsufficientStock
}
