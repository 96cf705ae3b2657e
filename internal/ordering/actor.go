package ordering

import "github.com/safar/restaurant-orders/internal/models"

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// SystemActor is used by background jobs such as the payment timeout sweeper.
var SystemActor = Actor{IsAdmin: true}

// CanAccess reports whether the actor may read or cancel the order.
func (a Actor) CanAccess(order *models.Order) bool {
	return a.IsAdmin || order.OwnedBy(a.UserID)
}
