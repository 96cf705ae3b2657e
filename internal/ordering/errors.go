package ordering

import (
	"context"
	"errors"
	"fmt"

	"github.com/safar/restaurant-orders/internal/database"
)

// Kind groups workflow errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBusinessRule
	KindConcurrency
	KindPermission
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindConcurrency:
		return "concurrency"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a tagged workflow failure. Compare with errors.Is against the
// exported values; extra context is attached by wrapping.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return "order: " + e.Message
}

var (
	ErrInvalidInput          = &Error{Kind: KindValidation, Code: "invalid_input", Message: "invalid input"}
	ErrPaymentAmountMismatch = &Error{Kind: KindValidation, Code: "payment_amount_mismatch", Message: "paid amount does not match order amount"}

	ErrDishUnavailable     = &Error{Kind: KindBusinessRule, Code: "dish_unavailable", Message: "dish does not exist or is inactive"}
	ErrInsufficientStock   = &Error{Kind: KindBusinessRule, Code: "insufficient_stock", Message: "insufficient stock"}
	ErrCouponNotFound      = &Error{Kind: KindBusinessRule, Code: "coupon_not_found", Message: "coupon not found"}
	ErrCouponInvalid       = &Error{Kind: KindBusinessRule, Code: "coupon_invalid", Message: "coupon expired or unavailable"}
	ErrMinAmountNotMet     = &Error{Kind: KindBusinessRule, Code: "min_amount_not_met", Message: "order total below coupon minimum"}
	ErrCouponNotOwned      = &Error{Kind: KindBusinessRule, Code: "coupon_not_owned", Message: "coupon not held or already used"}
	ErrCouponLimitReached  = &Error{Kind: KindBusinessRule, Code: "coupon_limit_reached", Message: "per-user coupon limit reached"}
	ErrInvalidTransition   = &Error{Kind: KindBusinessRule, Code: "invalid_transition", Message: "invalid status transition"}
	ErrRefundExceedsPaid   = &Error{Kind: KindBusinessRule, Code: "refund_exceeds_paid", Message: "refund exceeds refundable amount"}
	ErrPaymentNotCompleted = &Error{Kind: KindBusinessRule, Code: "payment_not_completed", Message: "order has no successful payment"}

	ErrConcurrencyConflict = &Error{Kind: KindConcurrency, Code: "concurrency_conflict", Message: "concurrent update conflict"}
	ErrPermissionDenied    = &Error{Kind: KindPermission, Code: "permission_denied", Message: "permission denied"}
	ErrOrderNotFound       = &Error{Kind: KindNotFound, Code: "order_not_found", Message: "order not found"}
)

// KindOf returns the Kind of err, KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrency
}

// translate maps storage failures that escaped a transaction onto the
// workflow taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, database.ErrRetriesExhausted),
		errors.Is(err, database.ErrOptimisticLockFailed),
		errors.Is(err, database.ErrRedemptionStale),
		database.IsRetryable(err):
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	case errors.Is(err, database.ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, database.ErrInsufficientStock):
		return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
	case errors.Is(err, database.ErrCouponExhausted):
		return fmt.Errorf("%w: %w", ErrCouponInvalid, err)
	}

	return err
}
