package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

const (
	maxCartItems           = 100
	maxSpecialRequestRunes = 500
)

// CartItem is one client-submitted cart entry.
type CartItem struct {
	DishID          int64  `json:"dish_id"`
	Quantity        int    `json:"quantity"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

// LineItem is a cart entry verified against the catalog and priced.
type LineItem struct {
	Dish            models.Dish
	Quantity        int
	UnitPrice       decimal.Decimal
	Subtotal        decimal.Decimal
	SpecialRequests string
}

// CheckCart rejects structurally malformed carts before any storage access.
func CheckCart(items []CartItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: cart must contain at least one item", ErrInvalidInput)
	}
	if len(items) > maxCartItems {
		return fmt.Errorf("%w: cart exceeds %d items", ErrInvalidInput, maxCartItems)
	}
	for i, item := range items {
		if item.DishID <= 0 {
			return fmt.Errorf("%w: item %d: dish_id must be positive", ErrInvalidInput, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d: quantity must be at least 1", ErrInvalidInput, i)
		}
		if utf8.RuneCountInString(item.SpecialRequests) > maxSpecialRequestRunes {
			return fmt.Errorf("%w: item %d: special_requests too long", ErrInvalidInput, i)
		}
	}
	return nil
}

// ValidateCart resolves every cart entry against the catalog and prices it.
// It only reads; the stock check here is advisory and is repeated by the
// reservation step.
func ValidateCart(ctx context.Context, dishes DishReader, items []CartItem) ([]LineItem, error) {
	if err := CheckCart(items); err != nil {
		return nil, err
	}

	lines := make([]LineItem, 0, len(items))
	for _, item := range items {
		dish, err := dishes.GetDish(ctx, item.DishID)
		if err != nil {
			if errors.Is(err, database.ErrDishNotFound) {
				return nil, fmt.Errorf("%w: dish %d", ErrDishUnavailable, item.DishID)
			}
			return nil, fmt.Errorf("load dish %d: %w", item.DishID, err)
		}
		if !dish.IsActive {
			return nil, fmt.Errorf("%w: dish %d", ErrDishUnavailable, item.DishID)
		}
		if !dish.InStock(item.Quantity) {
			return nil, fmt.Errorf("%w: dish %d has %d left, %d requested",
				ErrInsufficientStock, dish.ID, dish.StockQuantity, item.Quantity)
		}

		lines = append(lines, LineItem{
			Dish:            *dish,
			Quantity:        item.Quantity,
			UnitPrice:       dish.Price,
			Subtotal:        dish.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
			SpecialRequests: strings.TrimSpace(item.SpecialRequests),
		})
	}

	return lines, nil
}

// Snapshot builds the immutable order item recorded for the line.
func (l LineItem) Snapshot() models.OrderItem {
	return models.OrderItem{
		DishID:          l.Dish.ID,
		DishName:        l.Dish.Name,
		DishPrice:       l.UnitPrice,
		DishImageURL:    l.Dish.ImageURL,
		Quantity:        l.Quantity,
		Subtotal:        l.Subtotal,
		SpecialRequests: l.SpecialRequests,
	}
}
