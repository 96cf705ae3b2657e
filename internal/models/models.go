package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// UnlimitedStock marks a dish whose stock is never decremented.
const UnlimitedStock = -1

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Dish struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	ImageURL      string          `json:"image_url,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// HasFiniteStock reports whether stock adjustments apply to the dish.
func (d Dish) HasFiniteStock() bool {
	return d.StockQuantity != UnlimitedStock
}

// InStock reports whether quantity units can be served from current stock.
func (d Dish) InStock(quantity int) bool {
	return !d.HasFiniteStock() || d.StockQuantity >= quantity
}

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid          PaymentStatus = "unpaid"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusRefunded        PaymentStatus = "refunded"
	PaymentStatusPartialRefunded PaymentStatus = "partial_refunded"
)

type Order struct {
	ID             int64           `json:"id"`
	OrderNo        string          `json:"order_no"`
	UserID         int64           `json:"user_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	CouponID       *int64          `json:"coupon_id,omitempty"`
	TableNumber    string          `json:"table_number,omitempty"`
	CustomerNotes  string          `json:"customer_notes,omitempty"`
	AdminNotes     string          `json:"admin_notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
	Items          []OrderItem     `json:"items,omitempty"`
}

// OwnedBy reports whether userID placed the order.
func (o Order) OwnedBy(userID int64) bool {
	return o.UserID == userID
}

type OrderItem struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	DishID          int64           `json:"dish_id"`
	DishName        string          `json:"dish_name"`
	DishPrice       decimal.Decimal `json:"dish_price"`
	DishImageURL    string          `json:"dish_image_url,omitempty"`
	Quantity        int             `json:"quantity"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	SpecialRequests string          `json:"special_requests,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CouponType string

const (
	CouponTypeFixedAmount  CouponType = "fixed_amount"
	CouponTypePercentage   CouponType = "percentage"
	CouponTypeFreeShipping CouponType = "free_shipping"
)

type Coupon struct {
	ID                int64               `json:"id"`
	Name              string              `json:"name"`
	Code              string              `json:"code"`
	Type              CouponType          `json:"type"`
	DiscountValue     decimal.Decimal     `json:"discount_value"`
	MinOrderAmount    decimal.Decimal     `json:"min_order_amount"`
	MaxDiscountAmount decimal.NullDecimal `json:"max_discount_amount"`
	TotalQuantity     int                 `json:"total_quantity"`
	UsedQuantity      int                 `json:"used_quantity"`
	PerUserLimit      int                 `json:"per_user_limit"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           time.Time           `json:"end_time"`
	IsActive          bool                `json:"is_active"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// IsValidAt reports whether the coupon can be redeemed at now.
func (c Coupon) IsValidAt(now time.Time) bool {
	return c.IsActive &&
		!now.Before(c.StartTime) &&
		!now.After(c.EndTime) &&
		c.UsedQuantity < c.TotalQuantity
}

type RedemptionStatus string

const (
	RedemptionStatusUnused  RedemptionStatus = "unused"
	RedemptionStatusUsed    RedemptionStatus = "used"
	RedemptionStatusExpired RedemptionStatus = "expired"
)

// UserCoupon is a user's claim on a coupon.
type UserCoupon struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user_id"`
	CouponID     int64            `json:"coupon_id"`
	OrderID      *int64           `json:"order_id,omitempty"`
	Status       RedemptionStatus `json:"status"`
	ReceivedTime time.Time        `json:"received_time"`
	UsedTime     *time.Time       `json:"used_time,omitempty"`
}

type PaymentMethod string

const (
	PaymentMethodWechatPay PaymentMethod = "wechat_pay"
	PaymentMethodAlipay    PaymentMethod = "alipay"
	PaymentMethodCash      PaymentMethod = "cash"
)

type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "pending"
	PaymentRecordSuccess   PaymentRecordStatus = "success"
	PaymentRecordFailed    PaymentRecordStatus = "failed"
	PaymentRecordCancelled PaymentRecordStatus = "cancelled"
	PaymentRecordRefunded  PaymentRecordStatus = "refunded"
)

type Payment struct {
	ID                      int64               `json:"id"`
	OrderID                 int64               `json:"order_id"`
	PaymentNo               string              `json:"payment_no"`
	Method                  PaymentMethod       `json:"method"`
	Amount                  decimal.Decimal     `json:"amount"`
	Status                  PaymentRecordStatus `json:"status"`
	ThirdPartyTransactionID string              `json:"third_party_transaction_id,omitempty"`
	NotifyData              json.RawMessage     `json:"notify_data,omitempty"`
	RefundAmount            decimal.Decimal     `json:"refund_amount"`
	RefundReason            string              `json:"refund_reason,omitempty"`
	FailureReason           string              `json:"failure_reason,omitempty"`
	PaidAt                  *time.Time          `json:"paid_at,omitempty"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// Refundable returns the amount that can still be refunded.
func (p Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundAmount)
}
