package ordering

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Quote is the priced outcome of a cart with an optional coupon.
type Quote struct {
	Total    decimal.Decimal
	Discount decimal.Decimal
	Final    decimal.Decimal
}

// SumLines returns the undiscounted total of the line items.
func SumLines(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// CheckCoupon verifies the coupon's validity window, stock and minimum spend
// for an order of the given total.
func CheckCoupon(c models.Coupon, total decimal.Decimal, now time.Time) error {
	if !c.IsValidAt(now) {
		return fmt.Errorf("%w: %s", ErrCouponInvalid, c.Code)
	}
	if total.LessThan(c.MinOrderAmount) {
		return fmt.Errorf("%w: %s requires %s, order total %s",
			ErrMinAmountNotMet, c.Code, c.MinOrderAmount.StringFixed(2), total.StringFixed(2))
	}
	return nil
}

// Discount computes the coupon discount for total. The result never exceeds
// total, so the final amount stays non-negative.
func Discount(c models.Coupon, total decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal

	switch c.Type {
	case models.CouponTypeFixedAmount:
		discount = decimal.Min(c.DiscountValue, total)
	case models.CouponTypePercentage:
		discount = total.Mul(c.DiscountValue).Div(hundred).Round(2)
		if c.MaxDiscountAmount.Valid {
			discount = decimal.Min(discount, c.MaxDiscountAmount.Decimal)
		}
	case models.CouponTypeFreeShipping:
		discount = c.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, total)
}

// Price produces the quote for total with an optional coupon.
func Price(total decimal.Decimal, coupon *models.Coupon) Quote {
	q := Quote{Total: total, Discount: decimal.Zero}
	if coupon != nil {
		q.Discount = Discount(*coupon, total)
	}
	q.Final = total.Sub(q.Discount)
	if q.Final.IsNegative() {
		q.Final = decimal.Zero
	}
	return q
}
