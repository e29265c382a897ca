package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/metrics"
)

const (
	MinTipAmount    = 50   // cents
	MinPayoutAmount = 2500 // cents
	PayoutArrival   = 7 * 24 * time.Hour
	// CreatorShare is the creator's cut of store sales, in percent.
	CreatorShare = 85

	defaultCurrency = "usd"
	defaultCountry  = "US"
	maxTipMessage   = 255
	payoutListLimit = 20
)

var currencyRe = regexp.MustCompile(`^[a-z]{3}$`)

// accountLinkTypes maps the link kinds the client asks for to provider link types.
var accountLinkTypes = map[string]string{
	"onboarding":      "account_onboarding",
	"payouts":         "account_update",
	"bank_account":    "account_update",
	"instant_payouts": "account_update",
}

type Accounts interface {
	GetUserByID(ctx context.Context, userID string) (*dbmysql.User, error)
	UpdateUser(ctx context.Context, user *dbmysql.User) error
}

// OrderSettler is the store side of an order payment.
type OrderSettler interface {
	MarkOrderPaid(ctx context.Context, paymentIntentID string) error
	MarkOrderFailed(ctx context.Context, paymentIntentID string) error
}

// StreamTips is the live side of a stream tip. CheckTipTarget rejects tips
// for streams that are not live, have tips off, or belong to someone else.
type StreamTips interface {
	CheckTipTarget(ctx context.Context, streamID, toUserID string) error
	RecordTip(ctx context.Context, streamID, fromUserID string, amount int64, note string) error
}

type MessageSettler interface {
	ConfirmPaidMessage(ctx context.Context, paymentIntentID string, succeeded bool) error
}

type TipRequest struct {
	ToUserID string  `json:"toUserId" validate:"required"`
	Amount   int64   `json:"amount"`
	Currency string  `json:"currency"`
	PostID   *string `json:"postId"`
	StreamID *string `json:"streamId"`
	Message  string  `json:"message"`
}

type TipIntent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	TipID           string `json:"tipId"`
}

type AccountStatus struct {
	AccountID        string `json:"accountId,omitempty"`
	Status           string `json:"status"` // active, pending, not_connected
	ChargesEnabled   bool   `json:"chargesEnabled"`
	PayoutsEnabled   bool   `json:"payoutsEnabled"`
	DetailsSubmitted bool   `json:"detailsSubmitted"`
}

type Earnings struct {
	TipsCount     int64             `json:"tipsCount"`
	TipsTotal     int64             `json:"tipsTotal"`
	SalesTotal    int64             `json:"salesTotal"`
	SalesRevenue  int64             `json:"salesRevenue"`
	MessagesTotal int64             `json:"messagesTotal"`
	PayoutsTotal  int64             `json:"payoutsTotal"`
	Unpaid        int64             `json:"unpaid"`
	Payouts       []*dbmysql.Payout `json:"payouts"`
}

type PaymentService struct {
	repo     Repository
	accounts Accounts
	gateway  Gateway
	orders   OrderSettler
	streams  StreamTips
	messages MessageSettler
	notifier common.Notifier
	events   common.EventPublisher
	currency string
	now      func() time.Time
}

func NewPaymentService(
	repo Repository,
	accounts Accounts,
	gateway Gateway,
	orders OrderSettler,
	streams StreamTips,
	messages MessageSettler,
	notifier common.Notifier,
	events common.EventPublisher,
	currency string,
) *PaymentService {
	if notifier == nil {
		notifier = common.NopNotifier{}
	}
	if currency == "" {
		currency = defaultCurrency
	}
	return &PaymentService{
		repo:     repo,
		accounts: accounts,
		gateway:  gateway,
		orders:   orders,
		streams:  streams,
		messages: messages,
		notifier: notifier,
		events:   events,
		currency: strings.ToLower(currency),
		now:      time.Now,
	}
}

// --------- TIPS ---------

// CreatePaymentIntent starts a tip; the Tip row stays pending until the webhook.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, fromUserID string, req TipRequest) (*TipIntent, error) {
	if req.Amount < MinTipAmount {
		return nil, common.Invalid("amount must be at least %d cents", MinTipAmount)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	if !currencyRe.MatchString(currency) {
		return nil, common.Invalid("currency must be a 3-letter ISO code")
	}
	if fromUserID == req.ToUserID {
		return nil, common.Invalid("cannot tip yourself")
	}
	if err := common.ValidateText("message", req.Message, 0, maxTipMessage); err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetUserByID(ctx, req.ToUserID); err != nil {
		return nil, err
	}
	if req.StreamID != nil {
		if s.streams == nil {
			return nil, common.Invalid("stream tips are not available")
		}
		if err := s.streams.CheckTipTarget(ctx, *req.StreamID, req.ToUserID); err != nil {
			return nil, err
		}
	}

	meta := map[string]string{
		"type":       KindTip,
		"platform":   platformName,
		"fromUserId": fromUserID,
		"toUserId":   req.ToUserID,
		"timestamp":  s.now().UTC().Format(time.RFC3339),
	}
	if req.PostID != nil {
		meta["postId"] = *req.PostID
	}
	if req.StreamID != nil {
		meta["streamId"] = *req.StreamID
	}
	intent, err := s.gateway.CreatePaymentIntent(ctx, IntentRequest{
		Amount:      req.Amount,
		Currency:    currency,
		Description: "Amplifi tip",
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}

	tip := &dbmysql.Tip{
		ID:              common.NewID(),
		FromUserID:      fromUserID,
		ToUserID:        req.ToUserID,
		PostID:          req.PostID,
		StreamID:        req.StreamID,
		Amount:          req.Amount,
		Currency:        currency,
		Message:         strings.TrimSpace(req.Message),
		PaymentIntentID: intent.ID,
		Status:          dbmysql.TipStatusPending,
	}
	if err := s.repo.CreateTip(ctx, tip); err != nil {
		return nil, err
	}
	common.Log.WithFields(logrus.Fields{"intent_id": intent.ID, "amount": req.Amount, "to_user_id": req.ToUserID}).Info("payment intent created")
	return &TipIntent{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, TipID: tip.ID}, nil
}

// --------- CONNECT ---------

// CreateConnectAccount returns the user's existing account id if they already have one.
func (s *PaymentService) CreateConnectAccount(ctx context.Context, userID, email, country string) (string, error) {
	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeAccountID != "" {
		return user.StripeAccountID, nil
	}
	if country == "" {
		country = defaultCountry
	}
	if email == "" {
		email = user.Email
	}
	accountID, err := s.gateway.CreateExpressAccount(ctx, email, strings.ToUpper(country))
	if err != nil {
		return "", err
	}
	user.StripeAccountID = accountID
	if err := s.accounts.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("save stripe account: %w", err)
	}
	common.Log.WithFields(logrus.Fields{"user_id": userID, "account_id": accountID}).Info("connect account created")
	return accountID, nil
}

func (s *PaymentService) CreateAccountLink(ctx context.Context, userID, linkType string) (*AccountLink, error) {
	if linkType == "" {
		linkType = "onboarding"
	}
	providerType, ok := accountLinkTypes[linkType]
	if !ok {
		return nil, common.Invalid("unknown account link type %q", linkType)
	}
	accountID, err := s.accountID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.gateway.CreateAccountLink(ctx, accountID, providerType)
}

func (s *PaymentService) AccountStatus(ctx context.Context, userID string) (*AccountStatus, error) {
	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.StripeAccountID == "" {
		return &AccountStatus{Status: "not_connected"}, nil
	}
	state, err := s.gateway.GetAccount(ctx, user.StripeAccountID)
	if err != nil {
		return nil, err
	}
	out := &AccountStatus{
		AccountID:        user.StripeAccountID,
		Status:           "pending",
		ChargesEnabled:   state.ChargesEnabled,
		PayoutsEnabled:   state.PayoutsEnabled,
		DetailsSubmitted: state.DetailsSubmitted,
	}
	if state.ChargesEnabled && state.PayoutsEnabled && state.DetailsSubmitted {
		out.Status = "active"
	}
	return out, nil
}

func (s *PaymentService) accountID(ctx context.Context, userID string) (string, error) {
	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeAccountID == "" {
		return "", common.Invalid("connect a Stripe account first")
	}
	return user.StripeAccountID, nil
}

// --------- PAYOUTS ---------

// CreatePayout moves earnings to the creator's connected account and pays
// them out to their bank.
func (s *PaymentService) CreatePayout(ctx context.Context, userID string, amount int64) (*dbmysql.Payout, error) {
	if amount < MinPayoutAmount {
		return nil, common.Invalid("minimum payout amount is $%.2f", float64(MinPayoutAmount)/100)
	}
	accountID, err := s.accountID(ctx, userID)
	if err != nil {
		return nil, err
	}
	state, err := s.gateway.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !state.DetailsSubmitted || !state.PayoutsEnabled {
		return nil, common.Invalid("finish payout onboarding before requesting a payout")
	}

	payout := &dbmysql.Payout{
		ID:               common.NewID(),
		UserID:           userID,
		Amount:           amount,
		Currency:         s.currency,
		Status:           dbmysql.PayoutStatusPending,
		EstimatedArrival: s.now().Add(PayoutArrival),
	}
	// The pending row holds the amount against the balance until the
	// provider calls resolve.
	if err := s.repo.ReservePayout(ctx, payout, unpaid); err != nil {
		return nil, err
	}

	transferID, err := s.gateway.Transfer(ctx, accountID, amount, s.currency)
	if err != nil {
		metrics.Payments.WithLabelValues("payout", "failed").Inc()
		payout.Status = dbmysql.PayoutStatusFailed
		s.savePayout(ctx, payout)
		return nil, err
	}
	payout.StripeTransferID = transferID
	po, err := s.gateway.CreatePayout(ctx, accountID, amount, s.currency)
	if err != nil {
		// the transfer already landed on the connected account, so the
		// reservation stays
		metrics.Payments.WithLabelValues("payout", "failed").Inc()
		common.Log.WithError(err).WithField("transfer_id", transferID).Error("payout failed after transfer")
		s.savePayout(ctx, payout)
		return nil, err
	}

	payout.StripePayoutID = po.ID
	if po.Status != "" {
		payout.Status = po.Status
	}
	if err := s.repo.UpdatePayout(ctx, payout); err != nil {
		return nil, err
	}
	metrics.Payments.WithLabelValues("payout", "created").Inc()
	s.publish(ctx, "payout.created", map[string]any{"payoutId": payout.ID, "userId": userID, "amount": amount})
	return payout, nil
}

func (s *PaymentService) savePayout(ctx context.Context, payout *dbmysql.Payout) {
	if err := s.repo.UpdatePayout(ctx, payout); err != nil {
		common.Log.WithError(err).WithField("payout_id", payout.ID).Error("save payout state")
	}
}

// unpaid is what a creator may still withdraw.
func unpaid(t Totals) int64 {
	return max(t.Tips+t.Sales*CreatorShare/100+t.Messages-t.Paid, 0)
}

func (s *PaymentService) Balance(ctx context.Context, userID string) (*Balance, error) {
	accountID, err := s.accountID(ctx, userID)
	if err != nil {
		return nil, err
	}
	bal, err := s.gateway.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if bal.Currency == "" {
		bal.Currency = s.currency
	}
	return bal, nil
}

func (s *PaymentService) ListPayouts(ctx context.Context, userID string, limit int) ([]*dbmysql.Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = payoutListLimit
	}
	out, err := s.repo.ListPayouts(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*dbmysql.Payout{}
	}
	return out, nil
}

func (s *PaymentService) EarningsSummary(ctx context.Context, userID string) (*Earnings, error) {
	count, tips, err := s.repo.TipsReceived(ctx, userID)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.SalesTotal(ctx, userID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.MessagesReceived(ctx, userID)
	if err != nil {
		return nil, err
	}
	paid, err := s.repo.PayoutTotal(ctx, userID)
	if err != nil {
		return nil, err
	}
	payouts, err := s.repo.ListPayouts(ctx, userID, payoutListLimit)
	if err != nil {
		return nil, err
	}
	if payouts == nil {
		payouts = []*dbmysql.Payout{}
	}
	return &Earnings{
		TipsCount:     count,
		TipsTotal:     tips,
		SalesTotal:    sales,
		SalesRevenue:  sales * CreatorShare / 100,
		MessagesTotal: messages,
		PayoutsTotal:  paid,
		Unpaid:        unpaid(Totals{Tips: tips, Sales: sales, Messages: messages, Paid: paid}),
		Payouts:       payouts,
	}, nil
}

// --------- WEBHOOKS ---------

// HandleWebhook verifies and applies one provider event. Redelivered events
// are acknowledged without being applied twice.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	done, err := s.repo.EventProcessed(ctx, ev.ID)
	if err != nil {
		return err
	}
	if done {
		common.Log.WithField("event_id", ev.ID).Debug("webhook event already processed")
		return nil
	}
	if err := s.apply(ctx, ev); err != nil {
		return err
	}
	return s.repo.MarkEventProcessed(ctx, ev.ID, ev.Type)
}

func (s *PaymentService) apply(ctx context.Context, ev *Event) error {
	log := common.Log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})
	switch ev.Type {
	case "payment_intent.succeeded":
		return s.intentSucceeded(ctx, ev.Intent)
	case "payment_intent.payment_failed":
		return s.intentFailed(ctx, ev.Intent)
	case "payout.paid", "payout.failed", "payout.canceled", "payout.updated":
		if ev.Payout == nil {
			return common.Invalid("payout event without payout")
		}
		err := s.repo.SetPayoutStatus(ctx, ev.Payout.ID, ev.Payout.Status)
		if errors.Is(err, common.ErrNotFound) {
			log.Warn("payout event for unknown payout")
			return nil
		}
		return err
	case "customer.subscription.created", "customer.subscription.deleted":
		log.WithField("subscription_id", ev.ObjectID).Info("subscription event")
		s.publish(ctx, strings.TrimPrefix(ev.Type, "customer."), map[string]any{"subscriptionId": ev.ObjectID})
		return nil
	default:
		log.Debug("unhandled webhook event")
		return nil
	}
}

func (s *PaymentService) intentSucceeded(ctx context.Context, pi *IntentObject) error {
	if pi == nil {
		return common.Invalid("payment intent event without intent")
	}
	kind := pi.Metadata["type"]
	switch kind {
	case KindOrder:
		if s.orders == nil {
			return nil
		}
		err := s.orders.MarkOrderPaid(ctx, pi.ID)
		metrics.Payments.WithLabelValues(KindOrder, "succeeded").Inc()
		return err
	case KindMessage:
		if s.messages == nil {
			return nil
		}
		metrics.Payments.WithLabelValues(KindMessage, "succeeded").Inc()
		return s.messages.ConfirmPaidMessage(ctx, pi.ID, true)
	default:
		return s.tipSucceeded(ctx, pi)
	}
}

func (s *PaymentService) tipSucceeded(ctx context.Context, pi *IntentObject) error {
	changed, err := s.repo.SettleTip(ctx, pi.ID, dbmysql.TipStatusSucceeded)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	tip, err := s.repo.TipByIntent(ctx, pi.ID)
	if err != nil {
		return err
	}
	metrics.Payments.WithLabelValues(KindTip, "succeeded").Inc()
	metrics.TipVolumeCents.Add(float64(tip.Amount))

	if tip.StreamID != nil && s.streams != nil {
		if err := s.streams.RecordTip(ctx, *tip.StreamID, tip.FromUserID, tip.Amount, tip.Message); err != nil {
			common.Log.WithError(err).WithField("stream_id", *tip.StreamID).Warn("credit stream tip")
		}
	}
	s.publish(ctx, "tip.succeeded", map[string]any{
		"tipId":      tip.ID,
		"fromUserId": tip.FromUserID,
		"toUserId":   tip.ToUserID,
		"amount":     tip.Amount,
		"currency":   tip.Currency,
		"streamId":   tip.StreamID,
		"postId":     tip.PostID,
	})

	sender := "someone"
	if u, err := s.accounts.GetUserByID(ctx, tip.FromUserID); err == nil {
		sender = u.Username
	}
	content := fmt.Sprintf("$%.2f from %s", float64(tip.Amount)/100, sender)
	if tip.Message != "" {
		content += ": " + tip.Message
	}
	meta := common.NotificationMetadata{"tipId": tip.ID, "amount": tip.Amount}
	if tip.StreamID != nil {
		meta["streamId"] = *tip.StreamID
	}
	if err := s.notifier.Notify(ctx, common.NotificationEvent{
		Type:          common.TipType,
		UserID:        tip.ToUserID,
		TriggerUserID: &tip.FromUserID,
		Header:        "You received a tip!",
		Content:       content,
		Priority:      4,
		Metadata:      meta,
	}); err != nil {
		common.Log.WithError(err).Warn("notify tip recipient")
	}
	common.Log.WithFields(logrus.Fields{"tip_id": tip.ID, "amount": tip.Amount}).Info("tip succeeded")
	return nil
}

func (s *PaymentService) intentFailed(ctx context.Context, pi *IntentObject) error {
	if pi == nil {
		return common.Invalid("payment intent event without intent")
	}
	kind := pi.Metadata["type"]
	if kind == "" {
		kind = KindTip
	}
	metrics.Payments.WithLabelValues(kind, "failed").Inc()
	switch kind {
	case KindOrder:
		if s.orders == nil {
			return nil
		}
		return s.orders.MarkOrderFailed(ctx, pi.ID)
	case KindMessage:
		if s.messages == nil {
			return nil
		}
		return s.messages.ConfirmPaidMessage(ctx, pi.ID, false)
	default:
		_, err := s.repo.SettleTip(ctx, pi.ID, dbmysql.TipStatusFailed)
		return err
	}
}

func (s *PaymentService) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		common.Log.WithError(err).WithField("subject", subject).Warn("publish event")
	}
}
