package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

// HeldCoupon is an unused redemption joined with its coupon.
type HeldCoupon struct {
	Redemption models.UserCoupon
	Coupon     models.Coupon
}

// CouponPreview prices an order total with a coupon without claiming it.
type CouponPreview struct {
	Coupon         models.Coupon   `json:"coupon"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// AvailableCoupon is a coupon the user holds and could redeem now. CanUse
// is false while the order total is below the coupon minimum.
type AvailableCoupon struct {
	RedemptionID   int64           `json:"redemption_id"`
	Coupon         models.Coupon   `json:"coupon"`
	CanUse         bool            `json:"can_use"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

func checkTotal(total decimal.Decimal) error {
	if total.IsNegative() {
		return fmt.Errorf("%w: total amount must not be negative", ErrInvalidInput)
	}
	return checkCents(total)
}

// PreviewCoupon runs the checks CreateOrder applies to a coupon against an
// order total and reports the resulting discount. Nothing is reserved.
func (s *Service) PreviewCoupon(ctx context.Context, actor Actor, code string, total decimal.Decimal) (*CouponPreview, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", ErrInvalidInput)
	}
	if err := checkTotal(total); err != nil {
		return nil, err
	}

	var preview *CouponPreview
	err := s.store.ReadOnly(ctx, func(repo Repository) error {
		coupon, err := repo.GetCouponByCode(ctx, code)
		if err != nil {
			if errors.Is(err, database.ErrCouponNotFound) {
				return fmt.Errorf("%w: %s", ErrCouponNotFound, code)
			}
			return fmt.Errorf("load coupon %s: %w", code, err)
		}
		if err := CheckCoupon(*coupon, total, s.now()); err != nil {
			return err
		}

		used, err := repo.CountUsedRedemptions(ctx, actor.UserID, coupon.ID)
		if err != nil {
			return fmt.Errorf("count coupon redemptions: %w", err)
		}
		if used >= coupon.PerUserLimit {
			return fmt.Errorf("%w: %s", ErrCouponLimitReached, code)
		}
		redemption, err := repo.GetRedemption(ctx, actor.UserID, coupon.ID)
		if err != nil {
			if errors.Is(err, database.ErrRedemptionNotFound) {
				return fmt.Errorf("%w: %s", ErrCouponNotOwned, code)
			}
			return fmt.Errorf("load coupon redemption: %w", err)
		}
		if redemption.Status != models.RedemptionStatusUnused {
			return fmt.Errorf("%w: %s is %s", ErrCouponNotOwned, code, redemption.Status)
		}

		quote := Price(total, coupon)
		preview = &CouponPreview{
			Coupon:         *coupon,
			TotalAmount:    quote.Total,
			DiscountAmount: quote.Discount,
			FinalAmount:    quote.Final,
		}
		return nil
	})
	err = translate(err)
	s.observe("preview_coupon", err)
	if err != nil {
		return nil, err
	}
	return preview, nil
}

// AvailableCoupons lists the unused coupons the actor holds that are valid
// right now, priced against total.
func (s *Service) AvailableCoupons(ctx context.Context, actor Actor, total decimal.Decimal) ([]AvailableCoupon, error) {
	if err := checkTotal(total); err != nil {
		return nil, err
	}

	var held []HeldCoupon
	err := s.store.ReadOnly(ctx, func(repo Repository) error {
		var err error
		held, err = repo.ListHeldCoupons(ctx, actor.UserID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	now := s.now()
	out := make([]AvailableCoupon, 0, len(held))
	for _, h := range held {
		if !h.Coupon.IsValidAt(now) {
			continue
		}
		available := AvailableCoupon{
			RedemptionID:   h.Redemption.ID,
			Coupon:         h.Coupon,
			CanUse:         !total.LessThan(h.Coupon.MinOrderAmount),
			DiscountAmount: decimal.Zero,
		}
		if available.CanUse {
			available.DiscountAmount = Discount(h.Coupon, total)
		}
		out = append(out, available)
	}
	return out, nil
}
