package ordering

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/safar/restaurant-orders/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OrderCursor is the keyset position after the last order of a page.
type OrderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

// OrderFilter selects one page of orders, newest first.
type OrderFilter struct {
	// UserID restricts the page to one customer; nil lists every order.
	UserID *int64
	Status *models.OrderStatus
	// Before is nil on the first page.
	Before *OrderCursor
	Limit  int
}

// ListOrdersQuery is the caller's view of a page request. An empty Status
// lists orders in every status.
type ListOrdersQuery struct {
	Status string
	Cursor string
	Limit  int
}

type OrderPage struct {
	Items      []models.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

func EncodeCursor(cursor OrderCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty cursor
// returns nil and starts from the newest order.
func DecodeCursor(encoded string) (*OrderCursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	cursor := &OrderCursor{}
	if err := json.Unmarshal(data, cursor); err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
	}
	return cursor, nil
}

// filterFor turns a page request into a repository filter, one row larger
// than the page to detect a following page.
func filterFor(actor Actor, query ListOrdersQuery) (OrderFilter, error) {
	before, err := DecodeCursor(strings.TrimSpace(query.Cursor))
	if err != nil {
		return OrderFilter{}, err
	}
	filter := OrderFilter{Before: before, Limit: clampPageSize(query.Limit) + 1}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			return OrderFilter{}, err
		}
		filter.Status = &status
	}
	if !actor.IsAdmin {
		filter.UserID = &actor.UserID
	}
	return filter, nil
}

func clampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
