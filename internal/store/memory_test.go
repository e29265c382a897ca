package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/payment"
)

type memoryRepo struct {
	mu       sync.Mutex
	clock    time.Time
	products map[string]*dbmysql.Product
	orders   map[string]*dbmysql.Order
	pods     map[string]*dbmysql.PODOrder
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		clock:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		products: map[string]*dbmysql.Product{},
		orders:   map[string]*dbmysql.Order{},
		pods:     map[string]*dbmysql.PODOrder{},
	}
}

// tick hands out strictly increasing timestamps so list order is stable.
func (m *memoryRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func cloneOrder(o *dbmysql.Order) *dbmysql.Order {
	cp := *o
	cp.Items = append([]dbmysql.OrderItem(nil), o.Items...)
	return &cp
}

func (m *memoryRepo) CreateProduct(_ context.Context, p *dbmysql.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = m.tick()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memoryRepo) GetProduct(_ context.Context, id string) (*dbmysql.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, common.NotFound("product")
	}
	cp := *p
	return &cp, nil
}

func (m *memoryRepo) SaveProduct(_ context.Context, p *dbmysql.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memoryRepo) ListProducts(_ context.Context, f ProductFilter, cursor common.Cursor, limit int) ([]*dbmysql.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.Product
	for _, p := range m.products {
		if !p.Active || (f.Category != "" && p.Category != f.Category) || (f.CreatorID != "" && p.CreatorID != f.CreatorID) {
			continue
		}
		if !cursor.IsZero() && !p.CreatedAt.Before(cursor.CreatedAt) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit+1 {
		out = out[:limit+1]
	}
	return out, nil
}

func (m *memoryRepo) ProductsByIDs(_ context.Context, ids []string) ([]*dbmysql.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateOrder(_ context.Context, o *dbmysql.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.CreatedAt = m.tick()
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *memoryRepo) GetOrder(_ context.Context, id string) (*dbmysql.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, common.NotFound("order")
	}
	return cloneOrder(o), nil
}

func (m *memoryRepo) byIntent(intentID string) *dbmysql.Order {
	for _, o := range m.orders {
		if o.PaymentIntentID == intentID {
			return o
		}
	}
	return nil
}

func (m *memoryRepo) MarkPaid(_ context.Context, intentID string) (*dbmysql.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.byIntent(intentID)
	if o == nil {
		return nil, false, common.NotFound("order")
	}
	if o.Status != dbmysql.OrderStatusPending {
		return cloneOrder(o), false, nil
	}
	o.Status = dbmysql.OrderStatusPaid
	for _, it := range o.Items {
		if p, ok := m.products[it.ProductID]; ok && p.Stock >= 0 {
			p.Stock = max(p.Stock-int64(it.Quantity), 0)
		}
	}
	return cloneOrder(o), true, nil
}

func (m *memoryRepo) TransitionOrder(_ context.Context, id string, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if o.Status == st {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) FailOrder(_ context.Context, intentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.byIntent(intentID)
	if o == nil || o.Status != dbmysql.OrderStatusPending {
		return false, nil
	}
	o.Status = dbmysql.OrderStatusFailed
	return true, nil
}

func (m *memoryRepo) listOrders(keep func(*dbmysql.Order) bool, cursor common.Cursor, limit int) []*dbmysql.Order {
	var out []*dbmysql.Order
	for _, o := range m.orders {
		if !keep(o) {
			continue
		}
		if !cursor.IsZero() && !o.CreatedAt.Before(cursor.CreatedAt) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit+1 {
		out = out[:limit+1]
	}
	return out
}

func (m *memoryRepo) ListBuyerOrders(_ context.Context, buyerID string, cursor common.Cursor, limit int) ([]*dbmysql.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listOrders(func(o *dbmysql.Order) bool { return o.BuyerID == buyerID }, cursor, limit), nil
}

func (m *memoryRepo) ListCreatorSales(_ context.Context, creatorID string, cursor common.Cursor, limit int) ([]*dbmysql.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	collected := map[string]bool{}
	for _, st := range collectedStatuses {
		collected[st] = true
	}
	out := m.listOrders(func(o *dbmysql.Order) bool {
		if !collected[o.Status] {
			return false
		}
		for _, it := range o.Items {
			if it.CreatorID == creatorID {
				return true
			}
		}
		return false
	}, cursor, limit)
	for _, o := range out {
		var mine []dbmysql.OrderItem
		for _, it := range o.Items {
			if it.CreatorID == creatorID {
				mine = append(mine, it)
			}
		}
		o.Items = mine
	}
	return out, nil
}

func (m *memoryRepo) CreatePODOrder(_ context.Context, p *dbmysql.PODOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.clock
	cp := *p
	m.pods[p.ID] = &cp
	return nil
}

func (m *memoryRepo) SavePODOrder(_ context.Context, p *dbmysql.PODOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pods[p.ID] = &cp
	return nil
}

func (m *memoryRepo) FailedPODOrders(_ context.Context, maxAttempts, limit int) ([]*dbmysql.PODOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.PODOrder
	for _, p := range m.pods {
		if p.Status == dbmysql.PODStatusFailed && p.Attempts < maxAttempts {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) podsFor(orderID string) []*dbmysql.PODOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.PODOrder
	for _, p := range m.pods {
		if p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

type fakeCharger struct {
	mu      sync.Mutex
	charged map[string]int64 // order id -> amount
	err     error
}

func (f *fakeCharger) ChargeOrder(_ context.Context, _ string, orderID string, amount int64) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.charged == nil {
		f.charged = map[string]int64{}
	}
	f.charged[orderID] = amount
	return &payment.Intent{ID: "pi_" + orderID, ClientSecret: "secret_" + orderID}, nil
}

func (f *fakeCharger) Currency() string { return "usd" }

// fakeFulfiller answers per service: a nil entry submits, ErrNotConfigured
// goes manual, anything else fails.
type fakeFulfiller struct {
	mu      sync.Mutex
	results map[string]error
	calls   map[string]int
}

func (f *fakeFulfiller) Submit(_ context.Context, service string, order *dbmysql.Order, _ []dbmysql.OrderItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[service]++
	if err := f.results[service]; err != nil {
		return "", err
	}
	return service + "-" + order.ID, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []common.NotificationEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev common.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.UserID)
	}
	sort.Strings(out)
	return out
}
