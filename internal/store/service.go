package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/metrics"
	"amplifi/internal/payment"
)

const (
	ShippingFlat    = 599 // cents
	PlatformFeePct  = 15
	MaxPODAttempts  = 5
	DefaultPageSize = 20

	maxPageSize     = 50
	maxNameLength   = 150
	maxDescLength   = 2000
	maxCartItems    = 20
	maxItemQuantity = 99
	podRetryBatch   = 50
	podRetryBase    = 5 * time.Minute
)

// taxRates are basis points by ISO country code.
var taxRates = map[string]int64{
	"US": 800,
	"CA": 1300,
	"AU": 1000,
	"GB": 2000,
}

const defaultTaxRate = 500

func TaxFor(country string, subtotal int64) int64 {
	rate, ok := taxRates[strings.ToUpper(country)]
	if !ok {
		rate = defaultTaxRate
	}
	return (subtotal*rate + 5000) / 10000
}

type OrderCharger interface {
	ChargeOrder(ctx context.Context, buyerID, orderID string, amount int64) (*payment.Intent, error)
	Currency() string
}

type ProductInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        int64  `json:"price"`
	ImageURL     string `json:"imageUrl" validate:"omitempty,url"`
	Category     string `json:"category" validate:"max=50"`
	PODService   string `json:"podService"`
	PODProductID string `json:"podProductId"`
	Stock        *int64 `json:"stock"`
}

type ProductUpdate struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Price        *int64  `json:"price"`
	ImageURL     *string `json:"imageUrl"`
	Category     *string `json:"category"`
	PODProductID *string `json:"podProductId"`
	Stock        *int64  `json:"stock"`
	Active       *bool   `json:"active"`
}

type ProductQuery struct {
	Category  string `schema:"category"`
	CreatorID string `schema:"creator"`
	common.PageRequest
}

type CartItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	Items           []CartItem      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress dbmysql.Address `json:"shippingAddress"`
}

type CheckoutResult struct {
	Order        *dbmysql.Order `json:"order"`
	ClientSecret string         `json:"clientSecret"`
}

type StoreService struct {
	repo      Repository
	charger   OrderCharger
	fulfiller Fulfiller
	notifier  common.Notifier
	events    common.EventPublisher
	now       func() time.Time
}

func NewStoreService(repo Repository, charger OrderCharger, fulfiller Fulfiller, notifier common.Notifier, events common.EventPublisher) *StoreService {
	if notifier == nil {
		notifier = common.NopNotifier{}
	}
	return &StoreService{
		repo:      repo,
		charger:   charger,
		fulfiller: fulfiller,
		notifier:  notifier,
		events:    events,
		now:       time.Now,
	}
}

// --------- PRODUCTS ---------

func (s *StoreService) CreateProduct(ctx context.Context, creatorID string, in ProductInput) (*dbmysql.Product, error) {
	if err := common.ValidateText("name", in.Name, 1, maxNameLength); err != nil {
		return nil, err
	}
	if err := common.ValidateText("description", in.Description, 0, maxDescLength); err != nil {
		return nil, err
	}
	if in.Price <= 0 {
		return nil, common.Invalid("price must be positive")
	}
	service := strings.ToLower(strings.TrimSpace(in.PODService))
	if service == "" {
		service = "none"
	}
	if !PODServices[service] {
		return nil, common.Invalid("unknown print-on-demand service %q", in.PODService)
	}
	if service != "none" && in.PODProductID == "" {
		return nil, common.Invalid("podProductId is required for %s products", service)
	}
	stock := int64(-1)
	if in.Stock != nil {
		stock = *in.Stock
	}
	if stock < -1 {
		return nil, common.Invalid("stock must be -1 (unlimited) or more")
	}

	p := &dbmysql.Product{
		ID:           common.NewID(),
		CreatorID:    creatorID,
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		Price:        in.Price,
		ImageURL:     in.ImageURL,
		Category:     strings.ToLower(strings.TrimSpace(in.Category)),
		PODService:   service,
		PODProductID: in.PODProductID,
		Stock:        stock,
		Active:       true,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	s.publish(ctx, "product.created", map[string]any{"productId": p.ID, "creatorId": creatorID})
	return p, nil
}

// GetProduct hides deactivated products from everyone but their creator.
func (s *StoreService) GetProduct(ctx context.Context, viewerID, id string) (*dbmysql.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active && p.CreatorID != viewerID && !common.IsAdmin(ctx) {
		return nil, common.NotFound("product")
	}
	return p, nil
}

func (s *StoreService) UpdateProduct(ctx context.Context, userID, id string, upd ProductUpdate) (*dbmysql.Product, error) {
	p, err := s.ownProduct(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if err := common.ValidateText("name", *upd.Name, 1, maxNameLength); err != nil {
			return nil, err
		}
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		if err := common.ValidateText("description", *upd.Description, 0, maxDescLength); err != nil {
			return nil, err
		}
		p.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Price != nil {
		if *upd.Price <= 0 {
			return nil, common.Invalid("price must be positive")
		}
		p.Price = *upd.Price
	}
	if upd.ImageURL != nil {
		p.ImageURL = *upd.ImageURL
	}
	if upd.Category != nil {
		p.Category = strings.ToLower(strings.TrimSpace(*upd.Category))
	}
	if upd.PODProductID != nil {
		p.PODProductID = *upd.PODProductID
	}
	if upd.Stock != nil {
		if *upd.Stock < -1 {
			return nil, common.Invalid("stock must be -1 (unlimited) or more")
		}
		p.Stock = *upd.Stock
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	if err := s.repo.SaveProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *StoreService) DeactivateProduct(ctx context.Context, userID, id string) error {
	p, err := s.ownProduct(ctx, userID, id)
	if err != nil {
		return err
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	return s.repo.SaveProduct(ctx, p)
}

func (s *StoreService) ownProduct(ctx context.Context, userID, id string) (*dbmysql.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != userID && !common.IsAdmin(ctx) {
		return nil, common.Forbidden("only the creator can change this product")
	}
	return p, nil
}

func (s *StoreService) ListProducts(ctx context.Context, q ProductQuery) (common.Page[*dbmysql.Product], error) {
	cursor, limit, err := pageParams(q.PageRequest)
	if err != nil {
		return common.Page[*dbmysql.Product]{}, err
	}
	f := ProductFilter{Category: strings.ToLower(strings.TrimSpace(q.Category)), CreatorID: q.CreatorID}
	rows, err := s.repo.ListProducts(ctx, f, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Product]{}, err
	}
	return common.NewPage(rows, limit, func(p *dbmysql.Product) common.Cursor {
		return common.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	}), nil
}

// --------- CHECKOUT ---------

// Checkout prices the cart, opens a payment intent and records a pending
// order. The order is settled by the payment webhook.
func (s *StoreService) Checkout(ctx context.Context, buyerID string, req CheckoutRequest) (*CheckoutResult, error) {
	if err := common.ValidateStruct(&req); err != nil {
		return nil, err
	}
	cart, err := mergeCart(req.Items)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cart))
	for id := range cart {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	products, err := s.repo.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*dbmysql.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	orderID := common.NewID()
	var items []dbmysql.OrderItem
	var subtotal int64
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || !p.Active {
			return nil, common.Invalid("product %s is not available", id)
		}
		qty := cart[id]
		if p.Stock >= 0 && p.Stock < int64(qty) {
			return nil, common.NewError(common.ErrConflict, "only %d of %q left in stock", p.Stock, p.Name)
		}
		subtotal += p.Price * int64(qty)
		items = append(items, dbmysql.OrderItem{
			OrderID:      orderID,
			ProductID:    p.ID,
			CreatorID:    p.CreatorID,
			Name:         p.Name,
			UnitPrice:    p.Price,
			Quantity:     qty,
			PODService:   p.PODService,
			PODProductID: p.PODProductID,
		})
	}

	addr := req.ShippingAddress
	addr.Country = strings.ToUpper(addr.Country)
	tax := TaxFor(addr.Country, subtotal)
	total := subtotal + tax + ShippingFlat
	fee := (subtotal*PlatformFeePct + 50) / 100

	intent, err := s.charger.ChargeOrder(ctx, buyerID, orderID, total)
	if err != nil {
		return nil, err
	}
	order := &dbmysql.Order{
		ID:              orderID,
		BuyerID:         buyerID,
		Subtotal:        subtotal,
		Tax:             tax,
		Shipping:        ShippingFlat,
		Total:           total,
		PlatformFee:     fee,
		CreatorRevenue:  subtotal - fee,
		Currency:        s.charger.Currency(),
		Status:          dbmysql.OrderStatusPending,
		ShippingAddress: addr,
		PaymentIntentID: intent.ID,
		Items:           items,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	metrics.OrdersPlaced.Inc()
	common.Log.WithFields(logrus.Fields{"order_id": orderID, "total": total, "items": len(items)}).Info("order created")
	s.publish(ctx, "order.created", map[string]any{"orderId": orderID, "buyerId": buyerID, "total": total})
	return &CheckoutResult{Order: order, ClientSecret: intent.ClientSecret}, nil
}

func mergeCart(items []CartItem) (map[string]int, error) {
	cart := map[string]int{}
	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > maxItemQuantity {
			return nil, common.Invalid("quantity must be between 1 and %d", maxItemQuantity)
		}
		cart[it.ProductID] += it.Quantity
		if cart[it.ProductID] > maxItemQuantity {
			return nil, common.Invalid("quantity must be between 1 and %d", maxItemQuantity)
		}
	}
	if len(cart) > maxCartItems {
		return nil, common.Invalid("a cart holds at most %d products", maxCartItems)
	}
	return cart, nil
}

// --------- SETTLEMENT ---------

func (s *StoreService) MarkOrderPaid(ctx context.Context, paymentIntentID string) error {
	order, changed, err := s.repo.MarkPaid(ctx, paymentIntentID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	log := common.Log.WithField("order_id", order.ID)
	log.Info("order paid")
	s.publish(ctx, "order.paid", map[string]any{"orderId": order.ID, "buyerId": order.BuyerID, "total": order.Total})
	s.notifyPaid(ctx, order)

	status := s.fulfil(ctx, order)
	if status != dbmysql.OrderStatusPaid {
		if _, err := s.repo.TransitionOrder(ctx, order.ID, []string{dbmysql.OrderStatusPaid}, status); err != nil {
			log.WithError(err).Warn("update order fulfilment status")
		}
	}
	return nil
}

func (s *StoreService) MarkOrderFailed(ctx context.Context, paymentIntentID string) error {
	changed, err := s.repo.FailOrder(ctx, paymentIntentID)
	if err != nil {
		return err
	}
	if changed {
		common.Log.WithField("payment_intent_id", paymentIntentID).Info("order payment failed")
	}
	return nil
}

func (s *StoreService) notifyPaid(ctx context.Context, order *dbmysql.Order) {
	events := []common.NotificationEvent{{
		Type:     common.OrderType,
		UserID:   order.BuyerID,
		Header:   "Order confirmed",
		Content:  fmt.Sprintf("Your order of $%s is confirmed.", dollars(order.Total)),
		Priority: 3,
		Metadata: common.NotificationMetadata{"orderId": order.ID},
	}}
	sales := map[string]int64{}
	for _, it := range order.Items {
		sales[it.CreatorID] += it.UnitPrice * int64(it.Quantity)
	}
	for creatorID, amount := range sales {
		if creatorID == order.BuyerID {
			continue
		}
		events = append(events, common.NotificationEvent{
			Type:          common.OrderType,
			UserID:        creatorID,
			TriggerUserID: &order.BuyerID,
			Header:        "New sale!",
			Content:       fmt.Sprintf("You sold $%s of merch.", dollars(amount)),
			Priority:      3,
			Metadata:      common.NotificationMetadata{"orderId": order.ID},
		})
	}
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			common.Log.WithError(err).WithField("user_id", ev.UserID).Warn("notify order")
		}
	}
}

// fulfil submits POD items grouped by provider and returns the order status
// that follows from the submissions.
func (s *StoreService) fulfil(ctx context.Context, order *dbmysql.Order) string {
	groups := map[string][]dbmysql.OrderItem{}
	for _, it := range order.Items {
		if it.PODService == "" || it.PODService == "none" {
			continue
		}
		groups[it.PODService] = append(groups[it.PODService], it)
	}
	if len(groups) == 0 {
		return dbmysql.OrderStatusPaid
	}
	services := make([]string, 0, len(groups))
	for svc := range groups {
		services = append(services, svc)
	}
	sort.Strings(services)

	submitted, manual := 0, 0
	for _, svc := range services {
		pod := &dbmysql.PODOrder{ID: common.NewID(), OrderID: order.ID, Service: svc}
		s.submit(ctx, pod, order, groups[svc])
		if err := s.repo.CreatePODOrder(ctx, pod); err != nil {
			common.Log.WithError(err).WithField("order_id", order.ID).Error("record pod order")
		}
		switch pod.Status {
		case dbmysql.PODStatusSubmitted:
			submitted++
		case dbmysql.PODStatusManualProcessing:
			manual++
		}
	}
	switch {
	case manual > 0:
		return dbmysql.OrderStatusManualProcessing
	case submitted == len(services):
		return dbmysql.OrderStatusFulfilling
	default:
		return dbmysql.OrderStatusPaid
	}
}

func (s *StoreService) submit(ctx context.Context, pod *dbmysql.PODOrder, order *dbmysql.Order, items []dbmysql.OrderItem) {
	pod.Attempts++
	externalID, err := s.fulfiller.Submit(ctx, pod.Service, order, items)
	switch {
	case errors.Is(err, ErrNotConfigured):
		pod.Status = dbmysql.PODStatusManualProcessing
		pod.Error = ""
	case err != nil:
		pod.Status = dbmysql.PODStatusFailed
		pod.Error = err.Error()
		common.Log.WithError(err).WithFields(logrus.Fields{"order_id": order.ID, "service": pod.Service}).Warn("pod submission failed")
	default:
		pod.Status = dbmysql.PODStatusSubmitted
		pod.ExternalID = externalID
		pod.Error = ""
	}
	metrics.PODSubmissions.WithLabelValues(pod.Service, pod.Status).Inc()
}

// RetryPODOrders resubmits failed POD orders whose backoff has elapsed. The
// last allowed failure moves the POD order and its order to manual processing.
func (s *StoreService) RetryPODOrders(ctx context.Context) (int, error) {
	pending, err := s.repo.FailedPODOrders(ctx, MaxPODAttempts, podRetryBatch)
	if err != nil {
		return 0, err
	}
	now := s.now()
	retried := 0
	for _, pod := range pending {
		if now.Before(pod.UpdatedAt.Add(RetryDelay(pod.Attempts))) {
			continue
		}
		order, err := s.repo.GetOrder(ctx, pod.OrderID)
		if err != nil {
			common.Log.WithError(err).WithField("order_id", pod.OrderID).Warn("load order for pod retry")
			continue
		}
		var items []dbmysql.OrderItem
		for _, it := range order.Items {
			if it.PODService == pod.Service {
				items = append(items, it)
			}
		}
		s.submit(ctx, pod, order, items)
		if pod.Status == dbmysql.PODStatusFailed && pod.Attempts >= MaxPODAttempts {
			pod.Status = dbmysql.PODStatusManualProcessing
			common.Log.WithFields(logrus.Fields{"order_id": order.ID, "service": pod.Service, "attempts": pod.Attempts}).
				Warn("pod retries exhausted, handing order to manual processing")
		}
		if err := s.repo.SavePODOrder(ctx, pod); err != nil {
			return retried, err
		}
		retried++

		var from []string
		var to string
		switch pod.Status {
		case dbmysql.PODStatusSubmitted:
			from, to = []string{dbmysql.OrderStatusPaid}, dbmysql.OrderStatusFulfilling
		case dbmysql.PODStatusManualProcessing:
			from, to = []string{dbmysql.OrderStatusPaid, dbmysql.OrderStatusFulfilling}, dbmysql.OrderStatusManualProcessing
		default:
			continue
		}
		if _, err := s.repo.TransitionOrder(ctx, order.ID, from, to); err != nil {
			common.Log.WithError(err).WithField("order_id", order.ID).Warn("update order fulfilment status")
		}
	}
	return retried, nil
}

// RetryDelay doubles from five minutes with each failed attempt.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	return podRetryBase << (attempts - 1)
}

// --------- ORDERS ---------

func (s *StoreService) ListOrders(ctx context.Context, buyerID string, req common.PageRequest) (common.Page[*dbmysql.Order], error) {
	cursor, limit, err := pageParams(req)
	if err != nil {
		return common.Page[*dbmysql.Order]{}, err
	}
	rows, err := s.repo.ListBuyerOrders(ctx, buyerID, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Order]{}, err
	}
	return common.NewPage(rows, limit, orderCursor), nil
}

func (s *StoreService) ListCreatorSales(ctx context.Context, creatorID string, req common.PageRequest) (common.Page[*dbmysql.Order], error) {
	cursor, limit, err := pageParams(req)
	if err != nil {
		return common.Page[*dbmysql.Order]{}, err
	}
	rows, err := s.repo.ListCreatorSales(ctx, creatorID, cursor, limit)
	if err != nil {
		return common.Page[*dbmysql.Order]{}, err
	}
	return common.NewPage(rows, limit, orderCursor), nil
}

func (s *StoreService) GetOrder(ctx context.Context, userID, id string) (*dbmysql.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID && !common.IsAdmin(ctx) {
		return nil, common.NotFound("order")
	}
	return order, nil
}

func (s *StoreService) CancelOrder(ctx context.Context, userID, id string) (*dbmysql.Order, error) {
	order, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.TransitionOrder(ctx, id, []string{dbmysql.OrderStatusPending}, dbmysql.OrderStatusCanceled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewError(common.ErrConflict, "only pending orders can be canceled")
	}
	order.Status = dbmysql.OrderStatusCanceled
	s.publish(ctx, "order.canceled", map[string]any{"orderId": id})
	return order, nil
}

func orderCursor(o *dbmysql.Order) common.Cursor {
	return common.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
}

func pageParams(req common.PageRequest) (common.Cursor, int, error) {
	cursor, err := common.DecodeCursor(req.Cursor)
	if err != nil {
		return common.Cursor{}, 0, err
	}
	limit := req.LimitOr(DefaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return cursor, limit, nil
}

func (s *StoreService) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		common.Log.WithError(err).WithField("subject", subject).Warn("publish event")
	}
}
