package ordering

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

// memState is the committed data of memStore.
type memState struct {
	dishes      map[int64]models.Dish
	orders      map[int64]models.Order
	items       map[int64][]models.OrderItem
	coupons     map[int64]models.Coupon
	redemptions map[int64]models.UserCoupon
	payments    map[int64]models.Payment
	nextID      int64
}

func newMemState() *memState {
	return &memState{
		dishes:      map[int64]models.Dish{},
		orders:      map[int64]models.Order{},
		items:       map[int64][]models.OrderItem{},
		coupons:     map[int64]models.Coupon{},
		redemptions: map[int64]models.UserCoupon{},
		payments:    map[int64]models.Payment{},
		nextID:      1000,
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextID = s.nextID
	for k, v := range s.dishes {
		c.dishes[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore is a Transactor over memState. Transactions run one at a time on
// a private copy that replaces the committed state only on success.
type memStore struct {
	mu    sync.Mutex
	state *memState

	txCount int
	// failNext, when set, makes the named repository method fail once.
	failNext map[string]error
}

func newMemStore() *memStore {
	return &memStore{state: newMemState(), failNext: map[string]error{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(repo Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.txCount++
	work := m.state.clone()
	if err := fn(&memTx{store: m, st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) ReadOnly(ctx context.Context, fn func(repo Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{store: m, st: m.state.clone()})
}

func (m *memStore) addDish(name, price string, stock int) models.Dish {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := models.Dish{
		ID:            m.state.id(),
		Name:          name,
		Price:         mustDecimal(price),
		StockQuantity: stock,
		IsActive:      true,
		Version:       1,
	}
	m.state.dishes[d.ID] = d
	return d
}

func (m *memStore) addCoupon(c models.Coupon) models.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.state.id()
	m.state.coupons[c.ID] = c
	return c
}

func (m *memStore) grantCoupon(userID, couponID int64) models.UserCoupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := models.UserCoupon{
		ID:       m.state.id(),
		UserID:   userID,
		CouponID: couponID,
		Status:   models.RedemptionStatusUnused,
	}
	m.state.redemptions[r.ID] = r
	return r
}

func (m *memStore) setRedemptionStatus(id int64, status models.RedemptionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.state.redemptions[id]
	r.Status = status
	m.state.redemptions[id] = r
}

func (m *memStore) dish(id int64) models.Dish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.dishes[id]
}

func (m *memStore) coupon(id int64) models.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.coupons[id]
}

func (m *memStore) redemption(id int64) models.UserCoupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.redemptions[id]
}

func (m *memStore) order(id int64) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.orders[id]
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *memStore) paymentsOf(orderID int64) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.state.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// setOrderCreatedAt moves an order's creation time.
func (m *memStore) setOrderCreatedAt(id int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.state.orders[id]
	o.CreatedAt = at
	m.state.orders[id] = o
}

type memTx struct {
	store *memStore
	st    *memState
}

func (tx *memTx) injected(method string) error {
	if err, ok := tx.store.failNext[method]; ok {
		delete(tx.store.failNext, method)
		return err
	}
	return nil
}

func (tx *memTx) GetDish(_ context.Context, id int64) (*models.Dish, error) {
	d, ok := tx.st.dishes[id]
	if !ok {
		return nil, database.ErrDishNotFound
	}
	return &d, nil
}

func (tx *memTx) AdjustStock(_ context.Context, dishID int64, delta int) error {
	if err := tx.injected("AdjustStock"); err != nil {
		return err
	}
	d, ok := tx.st.dishes[dishID]
	if !ok {
		return database.ErrDishNotFound
	}
	if !d.HasFiniteStock() {
		return nil
	}
	if d.StockQuantity+delta < 0 {
		return database.ErrInsufficientStock
	}
	d.StockQuantity += delta
	d.Version++
	tx.st.dishes[dishID] = d
	return nil
}

func (tx *memTx) OrderNoExists(_ context.Context, orderNo string) (bool, error) {
	for _, o := range tx.st.orders {
		if o.OrderNo == orderNo {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) InsertOrder(_ context.Context, order *models.Order) error {
	if err := tx.injected("InsertOrder"); err != nil {
		return err
	}
	order.ID = tx.st.id()
	order.Version = 1
	stored := *order
	stored.Items = nil
	tx.st.orders[order.ID] = stored
	return nil
}

func (tx *memTx) InsertOrderItem(_ context.Context, item *models.OrderItem) error {
	item.ID = tx.st.id()
	tx.st.items[item.OrderID] = append(tx.st.items[item.OrderID], *item)
	return nil
}

func (tx *memTx) loadOrder(id int64) (*models.Order, error) {
	o, ok := tx.st.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	o.Items = append([]models.OrderItem(nil), tx.st.items[id]...)
	return &o, nil
}

func (tx *memTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	return tx.loadOrder(id)
}

func (tx *memTx) GetOrderForUpdate(_ context.Context, id int64) (*models.Order, error) {
	return tx.loadOrder(id)
}

func (tx *memTx) UpdateOrder(_ context.Context, order *models.Order) error {
	if err := tx.injected("UpdateOrder"); err != nil {
		return err
	}
	stored, ok := tx.st.orders[order.ID]
	if !ok {
		return database.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return database.ErrOptimisticLockFailed
	}
	order.Version++
	next := *order
	next.Items = nil
	tx.st.orders[order.ID] = next
	return nil
}

func (tx *memTx) NextUnpaidOrderBefore(_ context.Context, cutoff time.Time, skip []int64) (*models.Order, error) {
	var oldest *models.Order
	for _, o := range tx.st.orders {
		if o.Status != models.OrderStatusPendingPayment || !o.CreatedAt.Before(cutoff) || slices.Contains(skip, o.ID) {
			continue
		}
		if oldest == nil || o.CreatedAt.Before(oldest.CreatedAt) {
			o := o
			oldest = &o
		}
	}
	if oldest == nil {
		return nil, database.ErrOrderNotFound
	}
	return tx.loadOrder(oldest.ID)
}

func (tx *memTx) ListOrders(_ context.Context, filter OrderFilter) ([]models.Order, error) {
	var out []models.Order
	for _, o := range tx.st.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if b := filter.Before; b != nil &&
			(o.CreatedAt.After(b.CreatedAt) || (o.CreatedAt.Equal(b.CreatedAt) && o.ID >= b.ID)) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (tx *memTx) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return tx.GetCouponByCodeForUpdate(ctx, code)
}

func (tx *memTx) GetCouponByCodeForUpdate(_ context.Context, code string) (*models.Coupon, error) {
	for _, c := range tx.st.coupons {
		if c.Code == code && c.IsActive {
			return &c, nil
		}
	}
	return nil, database.ErrCouponNotFound
}

func (tx *memTx) GetCouponForUpdate(_ context.Context, id int64) (*models.Coupon, error) {
	c, ok := tx.st.coupons[id]
	if !ok {
		return nil, database.ErrCouponNotFound
	}
	return &c, nil
}

func (tx *memTx) IncrementCouponUsage(_ context.Context, couponID int64) error {
	c := tx.st.coupons[couponID]
	if c.UsedQuantity >= c.TotalQuantity {
		return database.ErrCouponExhausted
	}
	c.UsedQuantity++
	tx.st.coupons[couponID] = c
	return nil
}

func (tx *memTx) DecrementCouponUsage(_ context.Context, couponID int64) error {
	c := tx.st.coupons[couponID]
	if c.UsedQuantity <= 0 {
		return database.ErrCouponUsageDrift
	}
	c.UsedQuantity--
	tx.st.coupons[couponID] = c
	return nil
}

func (tx *memTx) GetRedemption(ctx context.Context, userID, couponID int64) (*models.UserCoupon, error) {
	return tx.GetRedemptionForUpdate(ctx, userID, couponID)
}

func (tx *memTx) GetRedemptionForUpdate(_ context.Context, userID, couponID int64) (*models.UserCoupon, error) {
	for _, r := range tx.st.redemptions {
		if r.UserID == userID && r.CouponID == couponID {
			return &r, nil
		}
	}
	return nil, database.ErrRedemptionNotFound
}

func (tx *memTx) GetRedemptionByOrderForUpdate(_ context.Context, orderID int64) (*models.UserCoupon, error) {
	for _, r := range tx.st.redemptions {
		if r.Status == models.RedemptionStatusUsed && r.OrderID != nil && *r.OrderID == orderID {
			return &r, nil
		}
	}
	return nil, database.ErrRedemptionNotFound
}

func (tx *memTx) CountUsedRedemptions(_ context.Context, userID, couponID int64) (int, error) {
	n := 0
	for _, r := range tx.st.redemptions {
		if r.UserID == userID && r.CouponID == couponID && r.Status == models.RedemptionStatusUsed {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) MarkRedemptionUsed(_ context.Context, redemptionID, orderID int64, usedAt time.Time) error {
	r, ok := tx.st.redemptions[redemptionID]
	if !ok || r.Status != models.RedemptionStatusUnused {
		return database.ErrRedemptionStale
	}
	r.Status = models.RedemptionStatusUsed
	r.OrderID = &orderID
	r.UsedTime = &usedAt
	tx.st.redemptions[redemptionID] = r
	return nil
}

func (tx *memTx) RestoreRedemption(_ context.Context, redemptionID, orderID int64) error {
	r, ok := tx.st.redemptions[redemptionID]
	if !ok || r.Status != models.RedemptionStatusUsed || r.OrderID == nil || *r.OrderID != orderID {
		return database.ErrRedemptionStale
	}
	r.Status = models.RedemptionStatusUnused
	r.OrderID = nil
	r.UsedTime = nil
	tx.st.redemptions[redemptionID] = r
	return nil
}

func (tx *memTx) ListHeldCoupons(_ context.Context, userID int64) ([]HeldCoupon, error) {
	var held []HeldCoupon
	for _, r := range tx.st.redemptions {
		c, ok := tx.st.coupons[r.CouponID]
		if r.UserID != userID || r.Status != models.RedemptionStatusUnused || !ok || !c.IsActive {
			continue
		}
		held = append(held, HeldCoupon{Redemption: r, Coupon: c})
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Redemption.ID > held[j].Redemption.ID })
	return held, nil
}

func (tx *memTx) InsertPayment(_ context.Context, payment *models.Payment) error {
	payment.ID = tx.st.id()
	tx.st.payments[payment.ID] = *payment
	return nil
}

func (tx *memTx) LatestPaymentForUpdate(_ context.Context, orderID int64, statuses ...models.PaymentRecordStatus) (*models.Payment, error) {
	var latest *models.Payment
	for _, p := range tx.st.payments {
		if p.OrderID != orderID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, p.Status) {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			p := p
			latest = &p
		}
	}
	if latest == nil {
		return nil, database.ErrPaymentNotFound
	}
	return latest, nil
}

func containsStatus(statuses []models.PaymentRecordStatus, s models.PaymentRecordStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (tx *memTx) UpdatePayment(_ context.Context, payment *models.Payment) error {
	if _, ok := tx.st.payments[payment.ID]; !ok {
		return database.ErrPaymentNotFound
	}
	tx.st.payments[payment.ID] = *payment
	return nil
}

var errInjected = errors.New("injected failure")

var _ Transactor = (*memStore)(nil)
