package payment

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Intent), args.Error(1)
}

func (m *MockGateway) CreateExpressAccount(ctx context.Context, email, country string) (string, error) {
	args := m.Called(ctx, email, country)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CreateAccountLink(ctx context.Context, accountID, linkType string) (*AccountLink, error) {
	args := m.Called(ctx, accountID, linkType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AccountLink), args.Error(1)
}

func (m *MockGateway) GetAccount(ctx context.Context, accountID string) (*AccountState, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AccountState), args.Error(1)
}

func (m *MockGateway) Transfer(ctx context.Context, accountID string, amount int64, currency string) (string, error) {
	args := m.Called(ctx, accountID, amount, currency)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CreatePayout(ctx context.Context, accountID string, amount int64, currency string) (*PayoutResult, error) {
	args := m.Called(ctx, accountID, amount, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutResult), args.Error(1)
}

func (m *MockGateway) Balance(ctx context.Context, accountID string) (*Balance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Balance), args.Error(1)
}

func (m *MockGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Event), args.Error(1)
}

type memoryRepo struct {
	mu      sync.Mutex
	tips    map[string]*dbmysql.Tip // by intent id
	payouts []*dbmysql.Payout
	events   map[string]string
	sales    map[string]int64
	messages map[string]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tips:   map[string]*dbmysql.Tip{},
		events: map[string]string{},
		sales:    map[string]int64{},
		messages: map[string]int64{},
	}
}

func (m *memoryRepo) CreateTip(_ context.Context, tip *dbmysql.Tip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tip
	m.tips[tip.PaymentIntentID] = &cp
	return nil
}

func (m *memoryRepo) TipByIntent(_ context.Context, intentID string) (*dbmysql.Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tips[intentID]
	if !ok {
		return nil, common.NotFound("tip")
	}
	cp := *t
	return &cp, nil
}

func (m *memoryRepo) SettleTip(_ context.Context, intentID, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tips[intentID]
	if !ok || t.Status != dbmysql.TipStatusPending {
		return false, nil
	}
	t.Status = status
	return true, nil
}

func (m *memoryRepo) CreatePayout(_ context.Context, p *dbmysql.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payouts = append(m.payouts, &cp)
	return nil
}

func (m *memoryRepo) SetPayoutStatus(_ context.Context, stripePayoutID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.StripePayoutID == stripePayoutID {
			p.Status = status
			return nil
		}
	}
	return common.NotFound("payout")
}

func (m *memoryRepo) ListPayouts(_ context.Context, userID string, limit int) ([]*dbmysql.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dbmysql.Payout
	for i := len(m.payouts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.payouts[i].UserID == userID {
			cp := *m.payouts[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryRepo) EventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *memoryRepo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[eventID] = eventType
	return nil
}

func (m *memoryRepo) TipsReceived(_ context.Context, userID string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n, total int64
	for _, t := range m.tips {
		if t.ToUserID == userID && t.Status == dbmysql.TipStatusSucceeded {
			n++
			total += t.Amount
		}
	}
	return n, total, nil
}

func (m *memoryRepo) SalesTotal(_ context.Context, creatorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sales[creatorID], nil
}

func (m *memoryRepo) PayoutTotal(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paidLocked(userID), nil
}

func (m *memoryRepo) paidLocked(userID string) int64 {
	var total int64
	for _, p := range m.payouts {
		if p.UserID == userID && p.Status != dbmysql.PayoutStatusFailed && p.Status != dbmysql.PayoutStatusCanceled {
			total += p.Amount
		}
	}
	return total
}

func (m *memoryRepo) MessagesReceived(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[userID], nil
}

func (m *memoryRepo) ReservePayout(_ context.Context, p *dbmysql.Payout, available func(Totals) int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := Totals{Sales: m.sales[p.UserID], Messages: m.messages[p.UserID], Paid: m.paidLocked(p.UserID)}
	for _, tip := range m.tips {
		if tip.ToUserID == p.UserID && tip.Status == dbmysql.TipStatusSucceeded {
			t.Tips += tip.Amount
		}
	}
	if p.Amount > available(t) {
		return common.Invalid("payout exceeds available earnings")
	}
	cp := *p
	m.payouts = append(m.payouts, &cp)
	return nil
}

func (m *memoryRepo) UpdatePayout(_ context.Context, p *dbmysql.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payouts {
		if existing.ID == p.ID {
			existing.StripeTransferID = p.StripeTransferID
			existing.StripePayoutID = p.StripePayoutID
			existing.Status = p.Status
			return nil
		}
	}
	return common.NotFound("payout")
}

type memoryAccounts struct {
	mu    sync.Mutex
	users map[string]*dbmysql.User
}

func newMemoryAccounts(users ...*dbmysql.User) *memoryAccounts {
	m := &memoryAccounts{users: map[string]*dbmysql.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryAccounts) GetUserByID(_ context.Context, id string) (*dbmysql.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, common.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

func (m *memoryAccounts) UpdateUser(_ context.Context, u *dbmysql.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type settlements struct {
	mu       sync.Mutex
	paid     []string
	failed   []string
	messages map[string]bool
	tips     []string // stream ids
	targets  map[string]error
}

func (s *settlements) CheckTipTarget(_ context.Context, streamID, toUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.targets[streamID]; ok {
		return err
	}
	if toUserID != "alice" {
		return common.Invalid("tips on a stream go to its creator")
	}
	return nil
}

func (s *settlements) MarkOrderPaid(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid = append(s.paid, intentID)
	return nil
}

func (s *settlements) MarkOrderFailed(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, intentID)
	return nil
}

func (s *settlements) ConfirmPaidMessage(_ context.Context, intentID string, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = map[string]bool{}
	}
	s.messages[intentID] = succeeded
	return nil
}

func (s *settlements) RecordTip(_ context.Context, streamID, _ string, _ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tips = append(s.tips, streamID)
	return nil
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

type recordingEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingEvents) Publish(_ context.Context, subject string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}
