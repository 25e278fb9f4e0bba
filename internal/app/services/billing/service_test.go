package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/storage/memory"
	svcerrors "github.com/reviewgame/server/internal/errors"
)

const plusPrice = "price_plus_monthly"

// fakeProvider implements Provider in memory. Webhook payloads are the
// event to return, keyed by signature.
type fakeProvider struct {
	customers int
	events    map[string]WebhookEvent
}

func (f *fakeProvider) EnsureCustomer(ctx context.Context, p profile.Profile) (string, error) {
	f.customers++
	return "cus_test", nil
}

func (f *fakeProvider) CheckoutURL(ctx context.Context, customerID, priceID, profileID string) (string, error) {
	return "https://pay.example.test/checkout/" + customerID, nil
}

func (f *fakeProvider) PortalURL(ctx context.Context, customerID string) (string, error) {
	return "https://pay.example.test/portal/" + customerID, nil
}

func (f *fakeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	ev, ok := f.events[signature]
	if !ok {
		return WebhookEvent{}, errors.New("bad signature")
	}
	return ev, nil
}

func newFixture(t *testing.T) (*Service, *fakeProvider, *memory.Store, profile.Profile) {
	t.Helper()
	store := memory.New()
	p, err := store.CreateProfile(context.Background(), profile.Profile{
		ID:                 "teacher-1",
		Email:              "teacher@school.test",
		Role:               profile.RoleTeacher,
		Tier:               profile.TierFree,
		SubscriptionStatus: profile.SubscriptionNone,
		GameLimit:          profile.TierFree.DefaultGameLimit(),
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	provider := &fakeProvider{events: map[string]WebhookEvent{}}
	return New(store, provider, plusPrice, nil), provider, store, p
}

func requireCode(t *testing.T, err error, code svcerrors.ErrorCode) {
	t.Helper()
	se := svcerrors.GetServiceError(err)
	if se == nil {
		t.Fatalf("expected service error %s, got %v", code, err)
	}
	if se.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, se.Code, se.Message)
	}
}

func TestCheckoutCreatesCustomerOnce(t *testing.T) {
	svc, provider, store, p := newFixture(t)
	ctx := context.Background()

	url, err := svc.Checkout(ctx, p.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if url == "" {
		t.Fatal("empty checkout url")
	}
	if provider.customers != 1 {
		t.Fatalf("expected 1 customer creation, got %d", provider.customers)
	}

	saved, err := store.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if saved.StripeCustomerID != "cus_test" {
		t.Fatalf("customer id not persisted: %q", saved.StripeCustomerID)
	}

	if _, err := svc.Checkout(ctx, p.ID); err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if provider.customers != 1 {
		t.Fatalf("customer created again: %d", provider.customers)
	}

	_, err = svc.Checkout(ctx, "no-such-user")
	requireCode(t, err, svcerrors.CodeNotFound)
}

func TestCheckoutRejectsActiveSubscription(t *testing.T) {
	svc, _, store, p := newFixture(t)
	ctx := context.Background()

	p.Tier = profile.TierPlus
	p.SubscriptionStatus = profile.SubscriptionActive
	if _, err := store.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	_, err := svc.Checkout(ctx, p.ID)
	requireCode(t, err, svcerrors.CodeConflict)
}

func TestPortalRequiresCustomer(t *testing.T) {
	svc, _, store, p := newFixture(t)
	ctx := context.Background()

	_, err := svc.Portal(ctx, p.ID)
	requireCode(t, err, svcerrors.CodeConflict)

	p.StripeCustomerID = "cus_test"
	if _, err := store.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	url, err := svc.Portal(ctx, p.ID)
	if err != nil {
		t.Fatalf("portal: %v", err)
	}
	if url != "https://pay.example.test/portal/cus_test" {
		t.Fatalf("unexpected portal url %q", url)
	}
}

func TestWebhookSubscriptionLifecycle(t *testing.T) {
	svc, provider, store, p := newFixture(t)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, p.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	provider.events["sig-active"] = WebhookEvent{
		Type:       "customer.subscription.created",
		CustomerID: "cus_test",
		PriceID:    plusPrice,
		Status:     "active",
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-active"); err != nil {
		t.Fatalf("webhook active: %v", err)
	}
	got, _ := store.GetProfile(ctx, p.ID)
	if got.Tier != profile.TierPlus || got.SubscriptionStatus != profile.SubscriptionActive {
		t.Fatalf("expected active plus, got %s/%s", got.Tier, got.SubscriptionStatus)
	}
	if got.GameLimit != profile.TierPlus.DefaultGameLimit() {
		t.Fatalf("limit not raised: %d", got.GameLimit)
	}

	provider.events["sig-pastdue"] = WebhookEvent{
		Type:       "customer.subscription.updated",
		CustomerID: "cus_test",
		Status:     "past_due",
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-pastdue"); err != nil {
		t.Fatalf("webhook past_due: %v", err)
	}
	got, _ = store.GetProfile(ctx, p.ID)
	if got.Tier != profile.TierPlus || got.SubscriptionStatus != profile.SubscriptionPastDue {
		t.Fatalf("expected past_due grace, got %s/%s", got.Tier, got.SubscriptionStatus)
	}

	provider.events["sig-deleted"] = WebhookEvent{
		Type:       "customer.subscription.deleted",
		CustomerID: "cus_test",
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-deleted"); err != nil {
		t.Fatalf("webhook deleted: %v", err)
	}
	got, _ = store.GetProfile(ctx, p.ID)
	if got.Tier != profile.TierFree || got.SubscriptionStatus != profile.SubscriptionCanceled {
		t.Fatalf("expected canceled free, got %s/%s", got.Tier, got.SubscriptionStatus)
	}
	if got.GameLimit != profile.TierFree.DefaultGameLimit() {
		t.Fatalf("limit not reset: %d", got.GameLimit)
	}
}

func TestWebhookTolerance(t *testing.T) {
	svc, provider, store, p := newFixture(t)
	ctx := context.Background()

	err := svc.HandleWebhook(ctx, []byte("{}"), "sig-unknown")
	requireCode(t, err, svcerrors.CodeInvalidInput)

	// Events for customers or prices we do not know are acknowledged so the
	// provider stops retrying.
	provider.events["sig-stranger"] = WebhookEvent{
		Type:       "customer.subscription.created",
		CustomerID: "cus_stranger",
		Status:     "active",
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-stranger"); err != nil {
		t.Fatalf("unknown customer: %v", err)
	}

	provider.events["sig-otherprice"] = WebhookEvent{
		Type:       "customer.subscription.created",
		CustomerID: "cus_test",
		PriceID:    "price_other",
		Status:     "active",
	}
	p.StripeCustomerID = "cus_test"
	if _, err := store.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-otherprice"); err != nil {
		t.Fatalf("unknown price: %v", err)
	}
	got, _ := store.GetProfile(ctx, p.ID)
	if got.Tier != profile.TierFree {
		t.Fatalf("unknown price changed tier to %s", got.Tier)
	}

	provider.events["sig-noise"] = WebhookEvent{Type: "invoice.created"}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-noise"); err != nil {
		t.Fatalf("ignored event type: %v", err)
	}
}

func TestCheckoutAttachEvent(t *testing.T) {
	svc, provider, store, p := newFixture(t)
	ctx := context.Background()

	provider.events["sig-checkout"] = WebhookEvent{
		Type:       "checkout.session.completed",
		CustomerID: "cus_attached",
		ProfileID:  p.ID,
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig-checkout"); err != nil {
		t.Fatalf("checkout event: %v", err)
	}
	got, _ := store.GetProfile(ctx, p.ID)
	if got.StripeCustomerID != "cus_attached" {
		t.Fatalf("customer not attached: %q", got.StripeCustomerID)
	}
}

func TestUnconfiguredProvider(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, "", nil)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "anyone"); err == nil {
		t.Fatal("checkout succeeded without a provider")
	}
	if _, err := svc.Portal(ctx, "anyone"); err == nil {
		t.Fatal("portal succeeded without a provider")
	}
	if err := svc.HandleWebhook(ctx, nil, ""); err == nil {
		t.Fatal("webhook accepted without a provider")
	}
}
