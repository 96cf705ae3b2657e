package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/observability"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 128
)

// ScopeFunc returns the caller identity a key is scoped to.
type ScopeFunc func(r *http.Request) string

// Middleware replays the first completed response for a repeated
// Idempotency-Key on POST and PATCH requests. Server errors release the key.
func Middleware(store Store, ttl time.Duration, scope ScopeFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderKey))
			if raw == "" || (r.Method != http.MethodPost && r.Method != http.MethodPatch) {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "invalid_input", "Idempotency-Key is too long")
				return
			}

			logger := observability.FromContext(r.Context())
			key := r.Method + " " + r.URL.Path + "|" + raw
			if scope != nil {
				key = scope(r) + "|" + key
			}

			rec, err := store.Begin(r.Context(), key, ttl)
			switch {
			case errors.Is(err, ErrInProgress):
				writeError(w, http.StatusConflict, "request_in_progress", "a request with this Idempotency-Key is still being processed")
				return
			case err != nil:
				logger.Warn("idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			case rec != nil:
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)

			defer func() {
				if p := recover(); p != nil {
					_ = store.Abandon(r.Context(), key)
					panic(p)
				}
			}()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Abandon(r.Context(), key); err != nil {
					logger.Warn("release idempotency key failed", zap.Error(err))
				}
				return
			}
			err = store.Complete(r.Context(), key, Record{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        body.Bytes(),
			}, ttl)
			if err != nil {
				logger.Warn("store idempotent response failed", zap.Error(err))
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
