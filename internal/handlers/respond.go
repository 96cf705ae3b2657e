package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/observability"
	"github.com/safar/restaurant-orders/internal/ordering"
)

const maxBodyBytes = 64 * 1024

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusFor maps a workflow error kind onto an HTTP status.
func statusFor(kind ordering.Kind) int {
	switch kind {
	case ordering.KindValidation:
		return http.StatusBadRequest
	case ordering.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case ordering.KindConcurrency:
		return http.StatusConflict
	case ordering.KindPermission:
		return http.StatusForbidden
	case ordering.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var tagged *ordering.Error
	if !errors.As(err, &tagged) {
		observability.FromContext(r.Context()).Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if ordering.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	respondError(w, statusFor(tagged.Kind), tagged.Code, strings.TrimPrefix(err.Error(), "order: "))
}

// readBody reads a bounded JSON body. An empty body decodes to the zero value.
func readBody(r *http.Request, dst interface{}) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body", ordering.ErrInvalidInput)
	}
	if len(raw) > maxBodyBytes {
		return nil, fmt.Errorf("%w: request body too large", ordering.ErrInvalidInput)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON body", ordering.ErrInvalidInput)
	}
	return raw, nil
}

func orderIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: order id must be a positive integer", ordering.ErrInvalidInput)
	}
	return id, nil
}
