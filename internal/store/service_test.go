package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type storeFixture struct {
	svc       *StoreService
	repo      *memoryRepo
	charger   *fakeCharger
	fulfiller *fakeFulfiller
	notifier  *recordingNotifier
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	f := &storeFixture{
		repo:      newMemoryRepo(),
		charger:   &fakeCharger{},
		fulfiller: &fakeFulfiller{results: map[string]error{}},
		notifier:  &recordingNotifier{},
	}
	f.svc = NewStoreService(f.repo, f.charger, f.fulfiller, f.notifier, nil)
	return f
}

func (f *storeFixture) product(t *testing.T, creatorID, name string, price, stock int64, pod string) *dbmysql.Product {
	t.Helper()
	in := ProductInput{Name: name, Price: price, Stock: &stock, PODService: pod, Category: "Apparel"}
	if pod != "" && pod != "none" {
		in.PODProductID = "variant-" + name
	}
	p, err := f.svc.CreateProduct(context.Background(), creatorID, in)
	require.NoError(t, err)
	return p
}

func address(country string) dbmysql.Address {
	return dbmysql.Address{Name: "Bob", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: country}
}

func adminCtx() context.Context {
	return common.WithClaims(context.Background(), &common.Claims{UserID: "root", IsAdmin: true})
}

func TestTaxFor(t *testing.T) {
	tests := []struct {
		country  string
		subtotal int64
		want     int64
	}{
		{"US", 5500, 440},
		{"us", 5500, 440},
		{"CA", 1000, 130},
		{"AU", 1000, 100},
		{"GB", 5500, 1100},
		{"FR", 5500, 275},
		{"US", 1006, 80}, // 80.48 rounds down
		{"FR", 1010, 51}, // 50.5 rounds up
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TaxFor(tt.country, tt.subtotal), "%s %d", tt.country, tt.subtotal)
	}
}

func TestCreateProduct(t *testing.T) {
	neg := int64(-2)
	tests := []struct {
		name    string
		in      ProductInput
		wantErr error
		check   func(t *testing.T, p *dbmysql.Product)
	}{
		{name: "missing name", in: ProductInput{Price: 100}, wantErr: common.ErrInvalidInput},
		{name: "zero price", in: ProductInput{Name: "Tee", Price: 0}, wantErr: common.ErrInvalidInput},
		{name: "unknown pod service", in: ProductInput{Name: "Tee", Price: 100, PODService: "teespring"}, wantErr: common.ErrInvalidInput},
		{name: "pod without variant", in: ProductInput{Name: "Tee", Price: 100, PODService: "printful"}, wantErr: common.ErrInvalidInput},
		{name: "bad stock", in: ProductInput{Name: "Tee", Price: 100, Stock: &neg}, wantErr: common.ErrInvalidInput},
		{
			name: "defaults",
			in:   ProductInput{Name: " Tee ", Price: 2500, Category: " Apparel "},
			check: func(t *testing.T, p *dbmysql.Product) {
				assert.Equal(t, "Tee", p.Name)
				assert.Equal(t, "apparel", p.Category)
				assert.Equal(t, "none", p.PODService)
				assert.Equal(t, int64(-1), p.Stock)
				assert.True(t, p.Active)
			},
		},
		{
			name: "pod product",
			in:   ProductInput{Name: "Hoodie", Price: 4500, PODService: "Printify", PODProductID: "v-9"},
			check: func(t *testing.T, p *dbmysql.Product) {
				assert.Equal(t, "printify", p.PODService)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t)
			p, err := f.svc.CreateProduct(context.Background(), "alice", tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestUpdateAndDeactivateProduct(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	p := f.product(t, "alice", "Tee", 2000, -1, "none")

	price := int64(2200)
	_, err := f.svc.UpdateProduct(ctx, "bob", p.ID, ProductUpdate{Price: &price})
	assert.ErrorIs(t, err, common.ErrForbidden)

	updated, err := f.svc.UpdateProduct(ctx, "alice", p.ID, ProductUpdate{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, price, updated.Price)

	require.NoError(t, f.svc.DeactivateProduct(ctx, "alice", p.ID))
	_, err = f.svc.GetProduct(ctx, "bob", p.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	own, err := f.svc.GetProduct(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.False(t, own.Active)
	_, err = f.svc.GetProduct(adminCtx(), "root", p.ID)
	require.NoError(t, err)

	page, err := f.svc.ListProducts(ctx, ProductQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListProducts_Pages(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		f.product(t, "alice", name, 1000, -1, "none")
	}
	other := int64(-1)
	_, err := f.svc.CreateProduct(ctx, "carol", ProductInput{Name: "mug", Price: 900, Stock: &other, Category: "home"})
	require.NoError(t, err)

	page, err := f.svc.ListProducts(ctx, ProductQuery{Category: "Apparel", PageRequest: common.PageRequest{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "c", page.Items[0].Name)

	next, err := f.svc.ListProducts(ctx, ProductQuery{Category: "apparel", PageRequest: common.PageRequest{Limit: 2, Cursor: page.NextCursor}})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, "a", next.Items[0].Name)
	assert.False(t, next.HasMore)

	mine, err := f.svc.ListProducts(ctx, ProductQuery{CreatorID: "carol"})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, "mug", mine.Items[0].Name)
}

func TestCheckout(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *storeFixture) CheckoutRequest
		wantErr error
		check   func(t *testing.T, f *storeFixture, res *CheckoutResult)
	}{
		{
			name: "empty cart",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				return CheckoutRequest{ShippingAddress: address("US")}
			},
			wantErr: common.ErrInvalidInput,
		},
		{
			name: "missing address",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				p := f.product(t, "alice", "Tee", 2000, -1, "none")
				return CheckoutRequest{Items: []CartItem{{ProductID: p.ID, Quantity: 1}}}
			},
			wantErr: common.ErrInvalidInput,
		},
		{
			name: "zero quantity",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				p := f.product(t, "alice", "Tee", 2000, -1, "none")
				return CheckoutRequest{Items: []CartItem{{ProductID: p.ID}}, ShippingAddress: address("US")}
			},
			wantErr: common.ErrInvalidInput,
		},
		{
			name: "unknown product",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				return CheckoutRequest{Items: []CartItem{{ProductID: "nope", Quantity: 1}}, ShippingAddress: address("US")}
			},
			wantErr: common.ErrInvalidInput,
		},
		{
			name: "inactive product",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				p := f.product(t, "alice", "Tee", 2000, -1, "none")
				require.NoError(t, f.svc.DeactivateProduct(context.Background(), "alice", p.ID))
				return CheckoutRequest{Items: []CartItem{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: address("US")}
			},
			wantErr: common.ErrInvalidInput,
		},
		{
			name: "out of stock after merging lines",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				p := f.product(t, "alice", "Poster", 1000, 2, "none")
				return CheckoutRequest{
					Items:           []CartItem{{ProductID: p.ID, Quantity: 2}, {ProductID: p.ID, Quantity: 1}},
					ShippingAddress: address("US"),
				}
			},
			wantErr: common.ErrConflict,
		},
		{
			name: "provider rejects",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				p := f.product(t, "alice", "Tee", 2000, -1, "none")
				f.charger.err = common.NewError(common.ErrUnavailable, "payment provider unavailable")
				return CheckoutRequest{Items: []CartItem{{ProductID: p.ID, Quantity: 1}}, ShippingAddress: address("US")}
			},
			wantErr: common.ErrUnavailable,
		},
		{
			name: "priced order",
			setup: func(t *testing.T, f *storeFixture) CheckoutRequest {
				tee := f.product(t, "alice", "Tee", 2000, 5, "printful")
				mug := f.product(t, "carol", "Mug", 1500, -1, "none")
				return CheckoutRequest{
					Items:           []CartItem{{ProductID: tee.ID, Quantity: 2}, {ProductID: mug.ID, Quantity: 1}},
					ShippingAddress: address("us"),
				}
			},
			check: func(t *testing.T, f *storeFixture, res *CheckoutResult) {
				o := res.Order
				assert.Equal(t, int64(5500), o.Subtotal)
				assert.Equal(t, int64(440), o.Tax)
				assert.Equal(t, int64(599), o.Shipping)
				assert.Equal(t, int64(6539), o.Total)
				assert.Equal(t, int64(825), o.PlatformFee)
				assert.Equal(t, int64(4675), o.CreatorRevenue)
				assert.Equal(t, "US", o.ShippingAddress.Country)
				assert.Equal(t, dbmysql.OrderStatusPending, o.Status)
				assert.Equal(t, "pi_"+o.ID, o.PaymentIntentID)
				assert.Equal(t, "secret_"+o.ID, res.ClientSecret)
				assert.Equal(t, int64(6539), f.charger.charged[o.ID])
				assert.Len(t, o.Items, 2)

				stored, err := f.repo.GetOrder(context.Background(), o.ID)
				require.NoError(t, err)
				assert.Equal(t, o.Total, stored.Total)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t)
			req := tt.setup(t, f)
			res, err := f.svc.Checkout(context.Background(), "bob", req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, f, res)
		})
	}
}

func (f *storeFixture) checkout(t *testing.T, buyerID string, items ...CartItem) *dbmysql.Order {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), buyerID, CheckoutRequest{Items: items, ShippingAddress: address("US")})
	require.NoError(t, err)
	return res.Order
}

func TestMarkOrderPaid(t *testing.T) {
	tests := []struct {
		name       string
		results    map[string]error
		wantStatus string
		wantPODs   map[string]string // service -> status
	}{
		{
			name:       "all submitted",
			results:    map[string]error{},
			wantStatus: dbmysql.OrderStatusFulfilling,
			wantPODs:   map[string]string{"printful": dbmysql.PODStatusSubmitted, "printify": dbmysql.PODStatusSubmitted},
		},
		{
			name:       "provider without key",
			results:    map[string]error{"printify": ErrNotConfigured},
			wantStatus: dbmysql.OrderStatusManualProcessing,
			wantPODs:   map[string]string{"printful": dbmysql.PODStatusSubmitted, "printify": dbmysql.PODStatusManualProcessing},
		},
		{
			name:       "provider down",
			results:    map[string]error{"printful": errors.New("printful returned 502")},
			wantStatus: dbmysql.OrderStatusPaid,
			wantPODs:   map[string]string{"printful": dbmysql.PODStatusFailed, "printify": dbmysql.PODStatusSubmitted},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t)
			ctx := context.Background()
			tee := f.product(t, "alice", "Tee", 2000, 5, "printful")
			hoodie := f.product(t, "carol", "Hoodie", 4000, -1, "printify")
			sticker := f.product(t, "alice", "Sticker", 300, -1, "none")
			order := f.checkout(t, "bob",
				CartItem{ProductID: tee.ID, Quantity: 2},
				CartItem{ProductID: hoodie.ID, Quantity: 1},
				CartItem{ProductID: sticker.ID, Quantity: 3},
			)
			f.fulfiller.results = tt.results

			require.NoError(t, f.svc.MarkOrderPaid(ctx, order.PaymentIntentID))
			// A redelivered webhook changes nothing.
			require.NoError(t, f.svc.MarkOrderPaid(ctx, order.PaymentIntentID))

			stored, err := f.repo.GetOrder(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)

			got := map[string]string{}
			for _, pod := range f.repo.podsFor(order.ID) {
				got[pod.Service] = pod.Status
				assert.Equal(t, 1, pod.Attempts)
			}
			assert.Equal(t, tt.wantPODs, got)
			assert.Equal(t, 1, f.fulfiller.calls["printful"])

			p, err := f.repo.GetProduct(ctx, tee.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(3), p.Stock)
			assert.Equal(t, []string{"alice", "bob", "carol"}, f.notifier.users())
		})
	}
}

func TestMarkOrderFailed(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	tee := f.product(t, "alice", "Tee", 2000, 5, "none")
	order := f.checkout(t, "bob", CartItem{ProductID: tee.ID, Quantity: 1})

	require.NoError(t, f.svc.MarkOrderFailed(ctx, order.PaymentIntentID))
	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, dbmysql.OrderStatusFailed, stored.Status)

	// A failed order is never marked paid later.
	require.NoError(t, f.svc.MarkOrderPaid(ctx, order.PaymentIntentID))
	stored, err = f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, dbmysql.OrderStatusFailed, stored.Status)
	assert.Empty(t, f.notifier.events)
}

func TestRetryPODOrders(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	tee := f.product(t, "alice", "Tee", 2000, -1, "printful")
	order := f.checkout(t, "bob", CartItem{ProductID: tee.ID, Quantity: 1})
	f.fulfiller.results = map[string]error{"printful": errors.New("timeout")}
	require.NoError(t, f.svc.MarkOrderPaid(ctx, order.PaymentIntentID))

	// Not due yet.
	f.svc.now = func() time.Time { return f.repo.clock.Add(time.Minute) }
	n, err := f.svc.RetryPODOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.svc.now = func() time.Time { return f.repo.clock.Add(RetryDelay(1)) }
	n, err = f.svc.RetryPODOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pods := f.repo.podsFor(order.ID)
	require.Len(t, pods, 1)
	assert.Equal(t, dbmysql.PODStatusFailed, pods[0].Status)
	assert.Equal(t, 2, pods[0].Attempts)

	f.fulfiller.results = map[string]error{}
	f.svc.now = func() time.Time { return f.repo.clock.Add(time.Hour) }
	n, err = f.svc.RetryPODOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pods = f.repo.podsFor(order.ID)
	assert.Equal(t, dbmysql.PODStatusSubmitted, pods[0].Status)
	assert.Equal(t, "printful-"+order.ID, pods[0].ExternalID)

	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, dbmysql.OrderStatusFulfilling, stored.Status)
}

func TestRetryPODOrders_GivesUp(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	tee := f.product(t, "alice", "Tee", 2000, -1, "printful")
	order := f.checkout(t, "bob", CartItem{ProductID: tee.ID, Quantity: 1})
	f.fulfiller.results = map[string]error{"printful": errors.New("timeout")}
	require.NoError(t, f.svc.MarkOrderPaid(ctx, order.PaymentIntentID))

	f.svc.now = func() time.Time { return f.repo.clock.Add(24 * time.Hour) }
	for i := 0; i < 10; i++ {
		_, err := f.svc.RetryPODOrders(ctx)
		require.NoError(t, err)
	}

	pods := f.repo.podsFor(order.ID)
	require.Len(t, pods, 1)
	assert.Equal(t, dbmysql.PODStatusManualProcessing, pods[0].Status)
	assert.Equal(t, MaxPODAttempts, pods[0].Attempts)
	assert.Equal(t, "timeout", pods[0].Error)
	assert.Equal(t, MaxPODAttempts, f.fulfiller.calls["printful"])

	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, dbmysql.OrderStatusManualProcessing, stored.Status)
}

func TestRetryPODOrders_SkipsExhausted(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.CreatePODOrder(ctx, &dbmysql.PODOrder{
		ID: "pod-1", OrderID: "o1", Service: "printful", Status: dbmysql.PODStatusFailed, Attempts: MaxPODAttempts,
	}))
	n, err := f.svc.RetryPODOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.fulfiller.calls["printful"])
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(0))
	assert.Equal(t, 5*time.Minute, RetryDelay(1))
	assert.Equal(t, 10*time.Minute, RetryDelay(2))
	assert.Equal(t, 80*time.Minute, RetryDelay(5))
}

func TestOrdersAndSales(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	tee := f.product(t, "alice", "Tee", 2000, -1, "none")
	mug := f.product(t, "carol", "Mug", 1500, -1, "none")

	paid := f.checkout(t, "bob", CartItem{ProductID: tee.ID, Quantity: 1}, CartItem{ProductID: mug.ID, Quantity: 1})
	require.NoError(t, f.svc.MarkOrderPaid(ctx, paid.PaymentIntentID))
	pending := f.checkout(t, "bob", CartItem{ProductID: tee.ID, Quantity: 2})

	orders, err := f.svc.ListOrders(ctx, "bob", common.PageRequest{})
	require.NoError(t, err)
	require.Len(t, orders.Items, 2)
	assert.Equal(t, pending.ID, orders.Items[0].ID)

	sales, err := f.svc.ListCreatorSales(ctx, "carol", common.PageRequest{})
	require.NoError(t, err)
	require.Len(t, sales.Items, 1)
	assert.Equal(t, paid.ID, sales.Items[0].ID)
	require.Len(t, sales.Items[0].Items, 1)
	assert.Equal(t, "Mug", sales.Items[0].Items[0].Name)

	_, err = f.svc.GetOrder(ctx, "carol", paid.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.svc.GetOrder(adminCtx(), "root", paid.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, "bob", paid.ID)
	assert.ErrorIs(t, err, common.ErrConflict)
	canceled, err := f.svc.CancelOrder(ctx, "bob", pending.ID)
	require.NoError(t, err)
	assert.Equal(t, dbmysql.OrderStatusCanceled, canceled.Status)
	_, err = f.svc.CancelOrder(ctx, "carol", pending.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
