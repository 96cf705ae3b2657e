package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/ordering"
)

const (
	notificationSuccess = "success"
	notificationFailed  = "failed"
)

type startPaymentRequest struct {
	Method string `json:"method"`
}

type refundRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
	Reason string              `json:"reason"`
}

type paymentNotificationRequest struct {
	OrderID                 int64           `json:"order_id"`
	Status                  string          `json:"status"`
	Amount                  decimal.Decimal `json:"amount"`
	ThirdPartyTransactionID string          `json:"third_party_transaction_id"`
	Method                  string          `json:"method"`
	Reason                  string          `json:"reason"`
}

func (h *OrderHandlers) startPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	orderID, err := orderIDParam(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req startPaymentRequest
	if _, err := readBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	payment, err := h.orders.StartPayment(r.Context(), ordering.StartPaymentCommand{
		OrderID: orderID,
		Actor:   actor,
		Method:  models.PaymentMethod(req.Method),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, payment)
}

func (h *OrderHandlers) refund(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	orderID, err := orderIDParam(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req refundRequest
	if _, err := readBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.orders.Refund(r.Context(), ordering.RefundCommand{
		OrderID: orderID,
		Actor:   actor,
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// PaymentHandlers receives gateway callbacks. Gateway authentication is
// handled in front of this service.
type PaymentHandlers struct {
	orders Service
}

func NewPaymentHandlers(orders Service) *PaymentHandlers {
	return &PaymentHandlers{orders: orders}
}

func (h *PaymentHandlers) Routes(r chi.Router) {
	r.Post("/notifications", h.notify)
}

func (h *PaymentHandlers) notify(w http.ResponseWriter, r *http.Request) {
	var req paymentNotificationRequest
	raw, err := readBody(r, &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if req.OrderID <= 0 {
		respondServiceError(w, r, fmt.Errorf("%w: order_id is required", ordering.ErrInvalidInput))
		return
	}

	var result *ordering.PaymentResult
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case notificationSuccess:
		method, perr := ordering.ParseMethod(req.Method)
		if perr != nil {
			respondServiceError(w, r, perr)
			return
		}
		result, err = h.orders.OnPaymentSuccess(r.Context(), ordering.PaymentNotification{
			OrderID:                 req.OrderID,
			Amount:                  req.Amount,
			ThirdPartyTransactionID: req.ThirdPartyTransactionID,
			Method:                  method,
			Raw:                     json.RawMessage(raw),
		})
	case notificationFailed:
		result, err = h.orders.OnPaymentFailure(r.Context(), req.OrderID, req.Reason)
	default:
		err = fmt.Errorf("%w: status must be %q or %q", ordering.ErrInvalidInput, notificationSuccess, notificationFailed)
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
