// Package billing connects profiles to the payment provider: checkout and
// portal sessions on the way out, webhook-driven tier changes on the way
// back in.
package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/metrics"
	"github.com/reviewgame/server/internal/app/storage"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/pkg/logger"
)

// Provider abstracts the payment backend so tests can run against a fake.
type Provider interface {
	EnsureCustomer(ctx context.Context, p profile.Profile) (string, error)
	CheckoutURL(ctx context.Context, customerID, priceID, profileID string) (string, error)
	PortalURL(ctx context.Context, customerID string) (string, error)
	// ParseWebhook verifies the payload signature and normalises the event.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// WebhookEvent is the provider-neutral projection of a billing event.
type WebhookEvent struct {
	Type           string
	CustomerID     string
	ProfileID      string
	SubscriptionID string
	PriceID        string
	Status         string
}

// Service drives subscription state.
type Service struct {
	profiles    storage.ProfileStore
	provider    Provider
	plusPriceID string
	log         *logger.Logger
}

// New constructs a billing service. A nil provider leaves billing
// endpoints answering that billing is not configured.
func New(profiles storage.ProfileStore, provider Provider, plusPriceID string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	return &Service{
		profiles:    profiles,
		provider:    provider,
		plusPriceID: plusPriceID,
		log:         log,
	}
}

// SubscriptionView is the profile's billing state for the dashboard.
type SubscriptionView struct {
	Tier         profile.Tier               `json:"tier"`
	Status       profile.SubscriptionStatus `json:"status"`
	GameLimit    int                        `json:"game_limit"`
	GamesCreated int                        `json:"games_created"`
	HasCustomer  bool                       `json:"has_billing_account"`
}

// Subscription reports the user's current plan and usage.
func (s *Service) Subscription(ctx context.Context, userID string) (SubscriptionView, error) {
	p, err := s.getProfile(ctx, userID)
	if err != nil {
		return SubscriptionView{}, err
	}
	return SubscriptionView{
		Tier:         p.Tier,
		Status:       p.SubscriptionStatus,
		GameLimit:    p.GameLimit,
		GamesCreated: p.GamesCreated,
		HasCustomer:  p.StripeCustomerID != "",
	}, nil
}

// Checkout returns a hosted checkout URL for the plus plan, creating the
// billing customer on first use.
func (s *Service) Checkout(ctx context.Context, userID string) (string, error) {
	if s.provider == nil {
		return "", svcerrors.Internal("billing is not configured", nil)
	}
	p, err := s.getProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.Tier == profile.TierPlus && p.SubscriptionStatus == profile.SubscriptionActive {
		return "", svcerrors.Conflict("subscription is already active")
	}

	customerID := p.StripeCustomerID
	if customerID == "" {
		customerID, err = s.provider.EnsureCustomer(ctx, p)
		if err != nil {
			return "", svcerrors.Internal("create billing customer", err)
		}
		p.StripeCustomerID = customerID
		if p, err = s.profiles.UpdateProfile(ctx, p); err != nil {
			return "", svcerrors.Internal("save billing customer", err)
		}
	}

	url, err := s.provider.CheckoutURL(ctx, customerID, s.plusPriceID, p.ID)
	if err != nil {
		return "", svcerrors.Internal("create checkout session", err)
	}
	return url, nil
}

// Portal returns a hosted billing-portal URL for an existing customer.
func (s *Service) Portal(ctx context.Context, userID string) (string, error) {
	if s.provider == nil {
		return "", svcerrors.Internal("billing is not configured", nil)
	}
	p, err := s.getProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.StripeCustomerID == "" {
		return "", svcerrors.Conflict("no billing account yet")
	}
	url, err := s.provider.PortalURL(ctx, p.StripeCustomerID)
	if err != nil {
		return "", svcerrors.Internal("create portal session", err)
	}
	return url, nil
}

// HandleWebhook applies a provider event to the profile it concerns.
// Unknown event types and unmatched customers are acknowledged and
// dropped; the provider retries anything answered with an error.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return svcerrors.Internal("billing is not configured", nil)
	}
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return svcerrors.InvalidInput("webhook signature verification failed")
	}
	metrics.RecordWebhookEvent(ev.Type)

	switch ev.Type {
	case "checkout.session.completed":
		return s.attachCustomer(ctx, ev)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.applySubscription(ctx, ev)
	case "customer.subscription.deleted":
		return s.clearSubscription(ctx, ev)
	default:
		s.log.WithField("type", ev.Type).Debug("ignoring webhook event")
		return nil
	}
}

// attachCustomer links the provider's customer id to the profile that
// started the checkout.
func (s *Service) attachCustomer(ctx context.Context, ev WebhookEvent) error {
	if ev.ProfileID == "" || ev.CustomerID == "" {
		s.log.WithField("type", ev.Type).Warn("checkout event without references")
		return nil
	}
	p, err := s.profiles.GetProfile(ctx, ev.ProfileID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("profile_id", ev.ProfileID).Warn("checkout for unknown profile")
		return nil
	}
	if err != nil {
		return svcerrors.Internal("load profile", err)
	}
	if p.StripeCustomerID == ev.CustomerID {
		return nil
	}

	p.StripeCustomerID = ev.CustomerID
	if _, err := s.profiles.UpdateProfile(ctx, p); err != nil {
		return svcerrors.Internal("attach billing customer", err)
	}
	s.log.WithField("profile_id", p.ID).Info("billing customer attached")
	return nil
}

// applySubscription maps the subscription's price and status onto the
// profile's tier.
func (s *Service) applySubscription(ctx context.Context, ev WebhookEvent) error {
	p, err := s.profileForCustomer(ctx, ev)
	if err != nil || p == nil {
		return err
	}
	if ev.PriceID != "" && ev.PriceID != s.plusPriceID {
		s.log.WithField("price_id", ev.PriceID).Warn("subscription for unknown price")
		return nil
	}

	switch strings.ToLower(ev.Status) {
	case "active", "trialing":
		p.Tier = profile.TierPlus
		p.SubscriptionStatus = profile.SubscriptionActive
		p.GameLimit = profile.TierPlus.DefaultGameLimit()
	case "past_due":
		// Grace period: keep the paid tier while the provider retries.
		p.Tier = profile.TierPlus
		p.SubscriptionStatus = profile.SubscriptionPastDue
	case "canceled", "unpaid", "incomplete_expired":
		p.Tier = profile.TierFree
		p.SubscriptionStatus = profile.SubscriptionCanceled
		p.GameLimit = profile.TierFree.DefaultGameLimit()
	default:
		s.log.WithField("status", ev.Status).Debug("ignoring subscription status")
		return nil
	}

	if _, err := s.profiles.UpdateProfile(ctx, *p); err != nil {
		return svcerrors.Internal("update subscription state", err)
	}
	s.log.WithField("profile_id", p.ID).
		WithField("tier", p.Tier).
		WithField("status", p.SubscriptionStatus).
		Info("subscription updated")
	return nil
}

// clearSubscription returns the profile to the free tier.
func (s *Service) clearSubscription(ctx context.Context, ev WebhookEvent) error {
	p, err := s.profileForCustomer(ctx, ev)
	if err != nil || p == nil {
		return err
	}

	p.Tier = profile.TierFree
	p.SubscriptionStatus = profile.SubscriptionCanceled
	p.GameLimit = profile.TierFree.DefaultGameLimit()
	if _, err := s.profiles.UpdateProfile(ctx, *p); err != nil {
		return svcerrors.Internal("update subscription state", err)
	}
	s.log.WithField("profile_id", p.ID).Info("subscription canceled")
	return nil
}

func (s *Service) profileForCustomer(ctx context.Context, ev WebhookEvent) (*profile.Profile, error) {
	if ev.CustomerID == "" {
		s.log.WithField("type", ev.Type).Warn("subscription event without customer")
		return nil, nil
	}
	p, err := s.profiles.GetProfileByCustomer(ctx, ev.CustomerID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.WithField("customer_id", ev.CustomerID).Warn("subscription for unknown customer")
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Internal("load profile by customer", err)
	}
	return &p, nil
}

func (s *Service) getProfile(ctx context.Context, userID string) (profile.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.NotFound("profile not found")
	}
	if err != nil {
		return profile.Profile{}, svcerrors.Internal("load profile", err)
	}
	return p, nil
}
