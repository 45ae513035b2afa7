package checkout

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-flashsale-orders/internal/coupons"
	"github.com/ariefcatur/go-flashsale-orders/internal/inventory"
	"github.com/ariefcatur/go-flashsale-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"sort"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seedMap seeds ledger keys from fixed durable quantities.
type seedMap map[string]int

func (m seedMap) LedgerSeed(_ context.Context, productID string) (int, error) {
	n, ok := m[productID]
	if !ok {
		return 0, inventory.ErrProductNotFound
	}
	return n, nil
}

type memOrders struct {
	mu        sync.Mutex
	products  map[string]orders.Product
	orders    map[string]orders.OrderDetail
	intents   []inventory.Intent
	failNext  error
	createCnt int
}

func newMemOrders() *memOrders {
	return &memOrders{products: map[string]orders.Product{}, orders: map[string]orders.OrderDetail{}}
}

func (m *memOrders) addProduct(id, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = orders.Product{ID: id, SKU: "SKU-" + id, Name: "Product " + id, Price: decimal.RequireFromString(price), IsActive: true}
}

func (m *memOrders) setPrice(id, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Price = decimal.RequireFromString(price)
	m.products[id] = p
}

func (m *memOrders) GetProducts(_ context.Context, ids []string) (map[string]orders.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]orders.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memOrders) CreatePending(_ context.Context, o orders.Order, items []orders.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if o.ExternalID != "" {
		for _, d := range m.orders {
			if d.ExternalID == o.ExternalID {
				return orders.ErrAlreadyExists
			}
		}
	}
	m.createCnt++
	cp := append([]orders.OrderItem(nil), items...)
	m.orders[o.ID] = orders.OrderDetail{Order: o, Items: cp}
	for _, it := range items {
		m.intents = append(m.intents, inventory.Intent{ProductID: it.ProductID, Delta: -it.Quantity, Source: inventory.SourceOrder, Ref: o.ID})
	}
	return nil
}

func (m *memOrders) GetOrder(_ context.Context, id string) (orders.OrderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.orders[id]
	if !ok {
		return orders.OrderDetail{}, orders.ErrOrderNotFound
	}
	d.Items = append([]orders.OrderItem(nil), d.Items...)
	return d, nil
}

func (m *memOrders) GetOrderStatus(ctx context.Context, id string) (orders.Status, error) {
	d, err := m.GetOrder(ctx, id)
	return d.Status, err
}

func (m *memOrders) FindByExternalID(_ context.Context, key string) (orders.OrderDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.orders {
		if d.ExternalID == key {
			return d, nil
		}
	}
	return orders.OrderDetail{}, orders.ErrOrderNotFound
}

func (m *memOrders) Transition(_ context.Context, id string, to orders.Status, paymentRef string) (orders.OrderDetail, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.orders[id]
	if !ok {
		return orders.OrderDetail{}, false, orders.ErrOrderNotFound
	}
	if d.Status != orders.StatusPending {
		return d, false, nil
	}
	d.Status = to
	if paymentRef != "" {
		d.PaymentRef = paymentRef
	}
	m.orders[id] = d
	if orders.ReleasesStock(to) {
		for _, it := range d.Items {
			m.intents = append(m.intents, inventory.Intent{ProductID: it.ProductID, Delta: it.Quantity, Source: string(to), Ref: id})
		}
	}
	return d, true, nil
}

func (m *memOrders) ListOrders(_ context.Context, userID string, p orders.Page) (orders.OrderList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = p.Normalize()
	var all []orders.Order
	for _, d := range m.orders {
		if (userID == "" || d.UserID == userID) && (p.Status == "" || d.Status == p.Status) {
			all = append(all, d.Order)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out := orders.OrderList{Orders: []orders.Order{}, Page: p.Page, PageSize: p.PageSize, Total: len(all)}
	for i := p.Offset(); i < len(all) && i < p.Offset()+p.PageSize; i++ {
		out.Orders = append(out.Orders, all[i])
	}
	return out, nil
}

func (m *memOrders) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, d := range m.orders {
		if d.Status == orders.StatusPending && !d.LockExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memOrders) netIntent(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range m.intents {
		if in.ProductID == productID {
			n += in.Delta
		}
	}
	return n
}

// fakeCoupons accepts codes listed in snaps, once per user.
type fakeCoupons struct {
	mu       sync.Mutex
	snaps    map[string]coupons.Snapshot
	redeemed map[string]bool
	revoked  []string
}

func newFakeCoupons(snaps ...coupons.Snapshot) *fakeCoupons {
	f := &fakeCoupons{snaps: map[string]coupons.Snapshot{}, redeemed: map[string]bool{}}
	for _, s := range snaps {
		f.snaps[s.Code] = s
	}
	return f
}

func (f *fakeCoupons) Redeem(_ context.Context, userID, code string, _ decimal.Decimal, _ string) (coupons.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[code]
	if !ok {
		return coupons.Snapshot{}, coupons.ErrCouponNotFound
	}
	if f.redeemed[userID+"/"+code] {
		return coupons.Snapshot{}, coupons.ErrAlreadyRedeemed
	}
	f.redeemed[userID+"/"+code] = true
	return s, nil
}

func (f *fakeCoupons) Validate(_ context.Context, userID, code string, _ decimal.Decimal) (coupons.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[code]
	if !ok {
		return coupons.Snapshot{}, coupons.ErrCouponNotFound
	}
	if f.redeemed[userID+"/"+code] {
		return coupons.Snapshot{}, coupons.ErrAlreadyRedeemed
	}
	return s, nil
}

func (f *fakeCoupons) Revoke(ctx context.Context, userID, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.redeemed, userID+"/"+code)
	f.revoked = append(f.revoked, userID+"/"+code)
	return nil
}

type recordPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordPublisher) Publish(topic string, _, _ []byte, _ ...kafkago.Header) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

type harness struct {
	svc     *Service
	store   *memOrders
	coupons *fakeCoupons
	ledger  *inventory.Ledger
	events  *recordPublisher
	clock   *clock
	mr      *miniredis.Miniredis
}

// newHarness wires a Service over miniredis with the given durable stock.
func newHarness(t *testing.T, stock map[string]int) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemOrders()
	for id := range stock {
		store.addProduct(id, "10.00")
	}
	h := &harness{
		store: store,
		coupons: newFakeCoupons(
			coupons.Snapshot{Code: "TEN", DiscountType: coupons.Percentage, DiscountValue: decimal.NewFromInt(10)},
			coupons.Snapshot{Code: "HUGE", DiscountType: coupons.FixedAmount, DiscountValue: decimal.NewFromInt(500)},
		),
		ledger: inventory.NewLedger(rdb, seedMap(stock)),
		events: &recordPublisher{},
		clock:  &clock{now: t0},
		mr:     mr,
	}
	h.svc = &Service{
		Ledger:     h.ledger,
		Coupons:    h.coupons,
		Orders:     store,
		Redis:      rdb,
		Events:     h.events,
		Name:       "order-api-test",
		LockWindow: 15 * time.Minute,
		Now:        h.clock.Now,
	}
	return h
}

func (h *harness) available(t *testing.T, productID string) int {
	t.Helper()
	n, err := h.ledger.Peek(context.Background(), productID)
	if err != nil {
		t.Fatalf("peek %s: %v", productID, err)
	}
	return n
}

// cancelOnCreate cancels the request context while the order insert is in
// flight, like a client hanging up mid-checkout.
type cancelOnCreate struct {
	*memOrders
	cancel context.CancelFunc
}

func (c *cancelOnCreate) CreatePending(ctx context.Context, _ orders.Order, _ []orders.OrderItem) error {
	c.cancel()
	return ctx.Err()
}

// cancelAfterTransition cancels once the status change has committed.
type cancelAfterTransition struct {
	*memOrders
	cancel context.CancelFunc
}

func (c *cancelAfterTransition) Transition(ctx context.Context, id string, to orders.Status, paymentRef string) (orders.OrderDetail, bool, error) {
	d, changed, err := c.memOrders.Transition(ctx, id, to, paymentRef)
	c.cancel()
	return d, changed, err
}

// cancelAfterReserve cancels after the first reserve lands, so the next one
// sees a dead context.
type cancelAfterReserve struct {
	inventory.StockLedger
	cancel context.CancelFunc
}

func (c *cancelAfterReserve) Reserve(ctx context.Context, productID string, qty int) (int, error) {
	left, err := c.StockLedger.Reserve(ctx, productID, qty)
	c.cancel()
	return left, err
}
