package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/safar/restaurant-orders/internal/ordering"
)

type validateCouponRequest struct {
	CouponCode  string          `json:"coupon_code"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// CouponHandlers serves the coupon lookups customers make before ordering.
type CouponHandlers struct {
	coupons Service
}

func NewCouponHandlers(coupons Service) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the /coupons endpoints. The caller installs RequireActor.
func (h *CouponHandlers) Routes(r chi.Router) {
	r.Get("/available", h.available)
	r.Post("/validate", h.validate)
}

func (h *CouponHandlers) available(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	total := decimal.Zero
	if raw := strings.TrimSpace(r.URL.Query().Get("total_amount")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			respondServiceError(w, r, fmt.Errorf("%w: total_amount must be a decimal", ordering.ErrInvalidInput))
			return
		}
		total = parsed
	}

	coupons, err := h.coupons.AvailableCoupons(r.Context(), actor, total)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func (h *CouponHandlers) validate(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req validateCouponRequest
	if _, err := readBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	preview, err := h.coupons.PreviewCoupon(r.Context(), actor, req.CouponCode, req.TotalAmount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, preview)
}
