package payment

import (
	"context"

	chatservice "amplifi/internal/chat/service"
)

// Charges issues the payment intents that other modules settle through the
// webhook: paid messages and store orders.
type Charges struct {
	gateway  Gateway
	currency string
}

func NewCharges(gateway Gateway, currency string) *Charges {
	if currency == "" {
		currency = defaultCurrency
	}
	return &Charges{gateway: gateway, currency: currency}
}

func (c *Charges) Currency() string { return c.currency }

func (c *Charges) ChargeMessage(ctx context.Context, senderID, recipientID, conversationID string, amount int64) (*chatservice.Charge, error) {
	intent, err := c.gateway.CreatePaymentIntent(ctx, IntentRequest{
		Amount:      amount,
		Currency:    c.currency,
		Description: "Paid message",
		Metadata: map[string]string{
			"type":           KindMessage,
			"platform":       platformName,
			"fromUserId":     senderID,
			"toUserId":       recipientID,
			"conversationId": conversationID,
		},
	})
	if err != nil {
		return nil, err
	}
	return &chatservice.Charge{IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (c *Charges) ChargeOrder(ctx context.Context, buyerID, orderID string, amount int64) (*Intent, error) {
	return c.gateway.CreatePaymentIntent(ctx, IntentRequest{
		Amount:      amount,
		Currency:    c.currency,
		Description: "Amplifi store order " + orderID,
		Metadata: map[string]string{
			"type":     KindOrder,
			"platform": platformName,
			"buyerId":  buyerID,
			"orderId":  orderID,
		},
	})
}
