// Package stripex adapts Stripe to the order lifecycle's payment-provider
// interfaces.
package stripex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ariefcatur/go-stripe-orders/internal/orders"
)

// Client creates payment intents through an injected Stripe API handle.
type Client struct {
	api *client.API
}

var _ orders.PaymentProvider = (*Client)(nil)

func New(secretKey string) *Client {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Client{api: sc}
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req orders.PaymentIntentRequest) (orders.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return orders.PaymentIntent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return orders.PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// WebhookVerifier checks the Stripe-Signature header against the endpoint
// secret and extracts the payment intent id the event concerns.
type WebhookVerifier struct {
	Secret string
}

var _ orders.EventVerifier = WebhookVerifier{}

func (v WebhookVerifier) VerifyAndParseEvent(payload []byte, signature string) (orders.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return orders.PaymentEvent{}, err
	}

	ev := orders.PaymentEvent{ID: event.ID, Type: orders.EventType(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	switch ev.Type {
	case orders.EventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return orders.PaymentEvent{}, fmt.Errorf("decode payment intent: %w", err)
		}
		ev.PaymentReference = pi.ID
	case orders.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return orders.PaymentEvent{}, fmt.Errorf("decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			ev.PaymentReference = ch.PaymentIntent.ID
		}
	}
	return ev, nil
}
