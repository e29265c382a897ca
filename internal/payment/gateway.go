package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"amplifi/internal/common"
)

// Metadata values written on every payment intent so the webhook can route it.
const (
	KindTip     = "tip"
	KindOrder   = "order"
	KindMessage = "message"

	platformName = "amplifi"
)

type IntentRequest struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

type Intent struct {
	ID           string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
}

type AccountLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AccountState struct {
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

type PayoutResult struct {
	ID          string
	Status      string
	ArrivalDate time.Time
}

type Balance struct {
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
	Currency  string `json:"currency"`
}

// Event is the part of a provider webhook the service acts on.
type Event struct {
	ID     string
	Type   string
	Intent *IntentObject
	Payout *PayoutObject
	// ObjectID is set for event types without a typed object (subscriptions).
	ObjectID string
}

type IntentObject struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type PayoutObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Gateway is the payment provider as the service sees it.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CreateExpressAccount(ctx context.Context, email, country string) (string, error)
	CreateAccountLink(ctx context.Context, accountID, linkType string) (*AccountLink, error)
	GetAccount(ctx context.Context, accountID string) (*AccountState, error)
	Transfer(ctx context.Context, accountID string, amount int64, currency string) (string, error)
	CreatePayout(ctx context.Context, accountID string, amount int64, currency string) (*PayoutResult, error)
	Balance(ctx context.Context, accountID string) (*Balance, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	refreshURL    string
	returnURL     string
}

func NewStripeGateway(secretKey, webhookSecret, refreshURL, returnURL string) *StripeGateway {
	return &StripeGateway{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		refreshURL:    refreshURL,
		returnURL:     returnURL,
	}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError(err, "create payment intent")
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) CreateExpressAccount(ctx context.Context, email, country string) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(country),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", stripeError(err, "create connect account")
	}
	return acct.ID, nil
}

// CreateAccountLink takes a provider link type (account_onboarding or account_update).
func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID, linkType string) (*AccountLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(g.refreshURL),
		ReturnURL:  stripe.String(g.returnURL),
		Type:       stripe.String(linkType),
	}
	if linkType == "account_update" {
		params.Collect = stripe.String("eventually_due")
	}
	params.Context = ctx
	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return nil, stripeError(err, "create account link")
	}
	return &AccountLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC()}, nil
}

func (g *StripeGateway) GetAccount(ctx context.Context, accountID string) (*AccountState, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, stripeError(err, "get account")
	}
	return &AccountState{
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, accountID string, amount int64, currency string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Destination: stripe.String(accountID),
	}
	params.Context = ctx
	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", stripeError(err, "transfer to connected account")
	}
	return tr.ID, nil
}

// CreatePayout pays out from the connected account's own balance.
func (g *StripeGateway) CreatePayout(ctx context.Context, accountID string, amount int64, currency string) (*PayoutResult, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.SetStripeAccount(accountID)
	params.Context = ctx
	po, err := g.api.Payouts.New(params)
	if err != nil {
		return nil, stripeError(err, "create payout")
	}
	return &PayoutResult{ID: po.ID, Status: string(po.Status), ArrivalDate: time.Unix(po.ArrivalDate, 0).UTC()}, nil
}

func (g *StripeGateway) Balance(ctx context.Context, accountID string) (*Balance, error) {
	params := &stripe.BalanceParams{}
	params.SetStripeAccount(accountID)
	params.Context = ctx
	bal, err := g.api.Balance.Get(params)
	if err != nil {
		return nil, stripeError(err, "get balance")
	}
	out := &Balance{}
	for _, a := range bal.Available {
		out.Available += a.Amount
		out.Currency = string(a.Currency)
	}
	for _, a := range bal.Pending {
		out.Pending += a.Amount
	}
	return out, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	return parseWebhook(payload, signature, g.webhookSecret)
}

func parseWebhook(payload []byte, signature, secret string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, common.WrapError(common.ErrInvalidInput, err, "webhook signature verification failed")
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	switch {
	case out.Type == "payment_intent.succeeded" || out.Type == "payment_intent.payment_failed":
		var pi IntentObject
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, common.WrapError(common.ErrInvalidInput, err, "malformed payment intent")
		}
		out.Intent = &pi
	case strings.HasPrefix(out.Type, "payout."):
		var po PayoutObject
		if err := json.Unmarshal(ev.Data.Raw, &po); err != nil {
			return nil, common.WrapError(common.ErrInvalidInput, err, "malformed payout")
		}
		out.Payout = &po
	default:
		var obj struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(ev.Data.Raw, &obj)
		out.ObjectID = obj.ID
	}
	return out, nil
}

// stripeError keeps card declines distinguishable from provider outages.
func stripeError(err error, op string) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard:
			return common.WrapError(common.ErrPaymentFailed, err, "%s: %s", op, se.Msg)
		case stripe.ErrorTypeInvalidRequest:
			return common.WrapError(common.ErrInvalidInput, err, "%s: %s", op, se.Msg)
		}
	}
	return common.WrapError(common.ErrUnavailable, fmt.Errorf("%s: %w", op, err), "payment provider unavailable")
}
