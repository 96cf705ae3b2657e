package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/ordering"
)

// Service is the order workflow used by the HTTP layer.
type Service interface {
	CreateOrder(ctx context.Context, cmd ordering.CreateOrderCommand) (*models.Order, error)
	CancelOrder(ctx context.Context, cmd ordering.CancelOrderCommand) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, cmd ordering.UpdateStatusCommand) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64, actor ordering.Actor) (*models.Order, error)
	ListOrders(ctx context.Context, actor ordering.Actor, query ordering.ListOrdersQuery) (*ordering.OrderPage, error)
	StartPayment(ctx context.Context, cmd ordering.StartPaymentCommand) (*models.Payment, error)
	OnPaymentSuccess(ctx context.Context, n ordering.PaymentNotification) (*ordering.PaymentResult, error)
	OnPaymentFailure(ctx context.Context, orderID int64, reason string) (*ordering.PaymentResult, error)
	Refund(ctx context.Context, cmd ordering.RefundCommand) (*ordering.PaymentResult, error)
	PreviewCoupon(ctx context.Context, actor ordering.Actor, code string, total decimal.Decimal) (*ordering.CouponPreview, error)
	AvailableCoupons(ctx context.Context, actor ordering.Actor, total decimal.Decimal) ([]ordering.AvailableCoupon, error)
}

type createOrderRequest struct {
	Items       []ordering.CartItem `json:"items"`
	TableNumber string              `json:"table_number"`
	Notes       string              `json:"notes"`
	CouponCode  string              `json:"coupon_code"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// OrderHandlers serves the /orders endpoints for authenticated users.
type OrderHandlers struct {
	orders Service
}

func NewOrderHandlers(orders Service) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints. The caller installs RequireActor.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/payments", h.startPayment)
	r.Post("/{orderID}/refunds", h.refund)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req createOrderRequest
	if _, err := readBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), ordering.CreateOrderCommand{
		UserID:      actor.UserID,
		Items:       req.Items,
		TableNumber: req.TableNumber,
		Notes:       req.Notes,
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	query := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondServiceError(w, r, fmt.Errorf("%w: limit must be an integer", ordering.ErrInvalidInput))
			return
		}
		limit = parsed
	}

	page, err := h.orders.ListOrders(r.Context(), actor, ordering.ListOrdersQuery{
		Status: strings.TrimSpace(query.Get("status")),
		Cursor: strings.TrimSpace(query.Get("cursor")),
		Limit:  limit,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	orderID, err := orderIDParam(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID, actor)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	orderID, err := orderIDParam(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req cancelOrderRequest
	if _, err := readBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), ordering.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  req.Reason,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	orderID, err := orderIDParam(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req updateStatusRequest
	if _, err := readBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), ordering.UpdateStatusCommand{
		OrderID: orderID,
		Actor:   actor,
		Status:  models.OrderStatus(strings.TrimSpace(req.Status)),
		Notes:   req.Notes,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}
