package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
	"github.com/safar/restaurant-orders/internal/observability"
	"github.com/safar/restaurant-orders/internal/ordering"
)

const HeaderUserID = "X-User-ID"

type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type actorKey struct{}

func withActor(ctx context.Context, actor ordering.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (ordering.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(ordering.Actor)
	return actor, ok
}

// RequireActor resolves the X-User-ID header against the users table and
// stores the acting user in the request context.
func RequireActor(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if raw == "" {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "X-User-ID header is required")
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "X-User-ID must be a positive integer")
				return
			}

			user, err := users.GetUser(r.Context(), id)
			if errors.Is(err, database.ErrUserNotFound) {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "unknown user")
				return
			}
			if err != nil {
				observability.FromContext(r.Context()).Error("resolve user", zap.Int64("user_id", id), zap.Error(err))
				respondError(w, http.StatusInternalServerError, "internal", "internal server error")
				return
			}

			actor := ordering.Actor{UserID: user.ID, IsAdmin: user.IsAdmin}
			logger := observability.FromContext(r.Context()).With(zap.Int64("user_id", user.ID))
			ctx := observability.WithLogger(withActor(r.Context(), actor), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// actorScope keys idempotency records by the resolved user.
func actorScope(r *http.Request) string {
	if actor, ok := ActorFromContext(r.Context()); ok {
		return strconv.FormatInt(actor.UserID, 10)
	}
	return ""
}
