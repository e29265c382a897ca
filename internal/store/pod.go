package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmysql"
)

// PODServices are the print-on-demand providers a product can be fulfilled by.
var PODServices = map[string]bool{
	"printful":  true,
	"printify":  true,
	"spring":    true,
	"redbubble": true,
	"none":      true,
}

// ErrNotConfigured means the provider has no API key and the order is
// fulfilled by hand.
var ErrNotConfigured = errors.New("pod provider not configured")

type Fulfiller interface {
	Submit(ctx context.Context, service string, order *dbmysql.Order, items []dbmysql.OrderItem) (externalID string, err error)
}

type podItem struct {
	VariantID   string `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	RetailPrice string `json:"retail_price"`
}

type podRecipient struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state_code,omitempty"`
	Country  string `json:"country_code"`
	Zip      string `json:"zip"`
	Email    string `json:"email,omitempty"`
}

type podCosts struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

type podRequest struct {
	ExternalID  string       `json:"external_id"`
	Recipient   podRecipient `json:"recipient"`
	Items       []podItem    `json:"items"`
	RetailCosts podCosts     `json:"retail_costs"`
}

// PODClient posts orders to provider REST APIs.
type PODClient struct {
	providers  map[string]config.PODProvider
	httpClient *http.Client
	maxRetries uint64
}

type PODOption func(*PODClient)

func WithHTTPClient(c *http.Client) PODOption {
	return func(p *PODClient) { p.httpClient = c }
}

// WithRetries bounds the in-call retries for transient provider errors.
func WithRetries(n uint64) PODOption {
	return func(p *PODClient) { p.maxRetries = n }
}

func NewPODClient(cfg config.StoreConfig, opts ...PODOption) *PODClient {
	c := &PODClient{
		providers:  cfg.PODProviders,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PODClient) Submit(ctx context.Context, service string, order *dbmysql.Order, items []dbmysql.OrderItem) (string, error) {
	provider, ok := c.providers[service]
	if !ok || provider.APIKey == "" || provider.APIURL == "" {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(buildPODRequest(order, items))
	if err != nil {
		return "", fmt.Errorf("encode pod order: %w", err)
	}
	url := strings.TrimRight(provider.APIURL, "/") + "/orders"

	var externalID string
	send := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode >= 300 {
			err := fmt.Errorf("%s returned %d: %s", service, resp.StatusCode, strings.TrimSpace(string(raw)))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		externalID = parseExternalID(raw)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	notify := func(err error, wait time.Duration) {
		common.Log.WithError(err).WithField("service", service).Warnf("pod submit failed, retrying in %s", wait)
	}
	err = backoff.RetryNotify(send, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx), notify)
	if err != nil {
		return "", err
	}
	return externalID, nil
}

func buildPODRequest(order *dbmysql.Order, items []dbmysql.OrderItem) podRequest {
	a := order.ShippingAddress
	req := podRequest{
		ExternalID: order.ID,
		Recipient: podRecipient{
			Name:     a.Name,
			Address1: a.Line1,
			Address2: a.Line2,
			City:     a.City,
			State:    a.State,
			Country:  a.Country,
			Zip:      a.PostalCode,
			Email:    a.Email,
		},
		RetailCosts: podCosts{
			Subtotal: dollars(order.Subtotal),
			Tax:      dollars(order.Tax),
			Shipping: dollars(order.Shipping),
			Total:    dollars(order.Total),
		},
	}
	for _, it := range items {
		req.Items = append(req.Items, podItem{
			VariantID:   it.PODProductID,
			Quantity:    it.Quantity,
			RetailPrice: dollars(it.UnitPrice),
		})
	}
	return req
}

// parseExternalID accepts both {"id":...} and {"result":{"id":...}} bodies.
func parseExternalID(raw []byte) string {
	var body struct {
		ID     any `json:"id"`
		Result struct {
			ID any `json:"id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, v := range []any{body.Result.ID, body.ID} {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return fmt.Sprintf("%.0f", id)
		}
	}
	return ""
}

func dollars(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
