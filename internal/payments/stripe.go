// Package payments implements the billing provider with the Stripe SDK.
// Nothing outside this package touches Stripe types.
package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/services/billing"
	"github.com/reviewgame/server/internal/config"
)

// Client talks to Stripe. It implements billing.Provider.
type Client struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	returnURL     string
}

var _ billing.Provider = (*Client)(nil)

// New builds a Stripe client from billing configuration.
func New(cfg config.BillingConfig) *Client {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &Client{
		api:           api,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.CheckoutSuccessURL,
		cancelURL:     cfg.CheckoutCancelURL,
		returnURL:     cfg.PortalReturnURL,
	}
}

// EnsureCustomer returns the profile's Stripe customer id, creating the
// customer on first use.
func (c *Client) EnsureCustomer(ctx context.Context, p profile.Profile) (string, error) {
	if p.StripeCustomerID != "" {
		return p.StripeCustomerID, nil
	}
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(p.Email),
		Name:   stripe.String(p.DisplayName),
	}
	params.AddMetadata("profile_id", p.ID)
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

// CheckoutURL opens a subscription checkout session and returns its
// hosted URL. The profile id rides along as the client reference so the
// completion webhook can find its way back.
func (c *Client) CheckoutURL(ctx context.Context, customerID, priceID, profileID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(profileID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// PortalURL opens a billing portal session for an existing customer.
func (c *Client) PortalURL(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.returnURL),
	}
	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// ParseWebhook verifies the signature and flattens the event into the
// provider-neutral shape.
func (c *Client) ParseWebhook(payload []byte, signature string) (billing.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return billing.WebhookEvent{}, fmt.Errorf("verify webhook: %w", err)
	}

	out := billing.WebhookEvent{Type: string(event.Type)}
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return billing.WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		out.ProfileID = sess.ClientReferenceID
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return billing.WebhookEvent{}, fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			out.PriceID = sub.Items.Data[0].Price.ID
		}
	}
	return out, nil
}
