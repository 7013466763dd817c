package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/entitlements"
)

func testProviders(stripe, paddle *fakeProvider) Providers {
	return Providers{
		ProviderStripe: stripe,
		ProviderPaddle: paddle,
	}
}

func TestCreateCheckoutRoutesAndTags(t *testing.T) {
	repo := newFakeRepo(activeSubscriber(1))
	stripe := &fakeProvider{name: "stripe", customerID: "cus_new", checkoutURL: "https://checkout.stripe.com/c/sess_1"}
	paddle := &fakeProvider{name: "paddle", customerID: "ctm_new", checkoutURL: "https://buy.paddle.com/txn_1"}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, paddle), []string{"app.finpilot.io"})

	res, err := orch.CreateCheckout(context.Background(), CheckoutRequest{
		SubscriberID: 1,
		PlanSlug:     "plus_monthly",
		CountryCode:  "US",
		OrgID:        "org_1",
		SuccessURL:   "https://app.finpilot.io/billing/done",
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if res.Provider != "stripe" {
		t.Errorf("provider = %q, want stripe for US", res.Provider)
	}
	if res.CheckoutURL != "https://checkout.stripe.com/c/sess_1" {
		t.Errorf("checkout url altered: %q", res.CheckoutURL)
	}
	if paddle.checkoutCalls != 0 {
		t.Errorf("paddle called for a stripe-routed checkout")
	}

	// Metadata must carry the subscriber back through the webhook.
	if stripe.lastCheckout.SubscriberID != 1 || stripe.lastCheckout.OrgID != "org_1" {
		t.Errorf("checkout params missing metadata: %+v", stripe.lastCheckout)
	}
	if stripe.lastCheckout.CustomerID != "cus_123" {
		t.Errorf("customer id = %q, want stored cus_123", stripe.lastCheckout.CustomerID)
	}

	if len(repo.audits) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(repo.audits))
	}
	if repo.audits[0].RequestID == "" {
		t.Error("audit row missing request id")
	}
}

func TestCreateCheckoutRejectsUnknownPlan(t *testing.T) {
	repo := newFakeRepo(activeSubscriber(1))
	stripe := &fakeProvider{name: "stripe"}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, &fakeProvider{name: "paddle"}), nil)

	for _, slug := range []string{"prem_monthly", "plus-monthly", ""} {
		_, err := orch.CreateCheckout(context.Background(), CheckoutRequest{
			SubscriberID: 1,
			PlanSlug:     slug,
			CountryCode:  "US",
			SuccessURL:   "https://app.finpilot.io/done",
		})
		if !errors.Is(err, ErrUnknownPlan) {
			t.Errorf("slug %q: err = %v, want ErrUnknownPlan", slug, err)
		}
	}
	if stripe.customerCalls != 0 || stripe.checkoutCalls != 0 {
		t.Errorf("provider called for unknown plan slug")
	}
	if len(repo.audits) != 0 {
		t.Errorf("audit written for unknown plan slug")
	}
}

func TestCreateCheckoutRejectsEqualOrLowerTier(t *testing.T) {
	sub := activeSubscriber(1)
	sub.Plan = string(entitlements.PlanPlus)
	repo := newFakeRepo(sub)
	stripe := &fakeProvider{name: "stripe"}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, &fakeProvider{name: "paddle"}), nil)

	for _, slug := range []string{"plus_monthly", "plus_yearly", "free"} {
		_, err := orch.CreateCheckout(context.Background(), CheckoutRequest{
			SubscriberID: 1,
			PlanSlug:     slug,
			CountryCode:  "US",
			SuccessURL:   "https://app.finpilot.io/done",
		})
		if !errors.Is(err, ErrAlreadySubscribed) {
			t.Errorf("slug %q: err = %v, want ErrAlreadySubscribed", slug, err)
		}
	}
	if stripe.checkoutCalls != 0 {
		t.Errorf("provider called despite tier rejection")
	}

	// Upgrading past the current tier is still allowed.
	stripe.checkoutURL = "https://checkout.stripe.com/c/sess_up"
	stripe.customerID = "cus_up"
	if _, err := orch.CreateCheckout(context.Background(), CheckoutRequest{
		SubscriberID: 1,
		PlanSlug:     "max_monthly",
		CountryCode:  "US",
		SuccessURL:   "https://app.finpilot.io/done",
	}); err != nil {
		t.Fatalf("upgrade to max: %v", err)
	}
}

func TestCreateCheckoutProviderFailure(t *testing.T) {
	repo := newFakeRepo(activeSubscriber(1))
	stripe := &fakeProvider{name: "stripe", checkoutErr: errors.New("api down")}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, &fakeProvider{name: "paddle"}), nil)

	_, err := orch.CreateCheckout(context.Background(), CheckoutRequest{
		SubscriberID: 1,
		PlanSlug:     "plus_monthly",
		CountryCode:  "US",
		SuccessURL:   "https://app.finpilot.io/done",
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestValidateReturnURL(t *testing.T) {
	orch := NewCheckoutOrchestrator(newFakeRepo(), nil, []string{"app.finpilot.io", "ESG.finpilot.io"})

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"allowed host", "https://app.finpilot.io/billing/success", true},
		{"allowed host case-insensitive", "https://APP.finpilot.IO/x", true},
		{"second allowed host", "https://esg.finpilot.io/", true},
		{"unlisted host", "https://evil.example.com/phish", false},
		{"subdomain of allowed host", "https://app.finpilot.io.evil.com/", false},
		{"http in production", "http://app.finpilot.io/", false},
		{"no host", "https://", false},
		{"relative path", "/billing/success", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := orch.ValidateReturnURL(tc.url)
			if tc.ok && err != nil {
				t.Errorf("ValidateReturnURL(%q) = %v, want nil", tc.url, err)
			}
			if !tc.ok && !errors.Is(err, ErrUntrustedRedirect) {
				t.Errorf("ValidateReturnURL(%q) = %v, want ErrUntrustedRedirect", tc.url, err)
			}
		})
	}
}

func TestCreatePublicCheckoutRejectsBeforeSideEffects(t *testing.T) {
	repo := newFakeRepo(activeSubscriber(1))
	stripe := &fakeProvider{name: "stripe"}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, &fakeProvider{name: "paddle"}), []string{"app.finpilot.io"})

	_, err := orch.CreatePublicCheckout(context.Background(), CheckoutRequest{
		SubscriberID: 1,
		PlanSlug:     "plus_monthly",
		CountryCode:  "US",
		SuccessURL:   "https://attacker.example/cb",
	})
	if !errors.Is(err, ErrUntrustedRedirect) {
		t.Fatalf("err = %v, want ErrUntrustedRedirect", err)
	}
	if stripe.customerCalls != 0 || stripe.checkoutCalls != 0 {
		t.Error("provider contacted despite rejected return url")
	}
	if len(repo.audits) != 0 {
		t.Error("audit written despite rejected return url")
	}
}

func TestCreatePortal(t *testing.T) {
	sub := activeSubscriber(1)
	sub.Provider = models.BillingProviderStripe
	sub.ProviderSubscriptionID = "sub_abc"
	repo := newFakeRepo(sub)
	stripe := &fakeProvider{name: "stripe", portalURL: "https://billing.stripe.com/p/sess_1"}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, &fakeProvider{name: "paddle"}), nil)

	got, err := orch.CreatePortal(context.Background(), 1, "https://app.finpilot.io/settings")
	if err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
	if got != "https://billing.stripe.com/p/sess_1" {
		t.Errorf("portal url = %q", got)
	}
}

func TestCreatePortalFallsBackToStoredIdentity(t *testing.T) {
	// Cancelled subscriber: no active provider but the customer slot
	// survives, so the portal still resolves.
	sub := activeSubscriber(2)
	sub.Provider = ""
	repo := newFakeRepo(sub)
	stripe := &fakeProvider{name: "stripe", portalURL: "https://billing.stripe.com/p/sess_2"}
	orch := NewCheckoutOrchestrator(repo, testProviders(stripe, &fakeProvider{name: "paddle"}), nil)

	if _, err := orch.CreatePortal(context.Background(), 2, "https://app.finpilot.io/settings"); err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
}

func TestCreatePortalWithoutIdentity(t *testing.T) {
	sub := activeSubscriber(3)
	sub.StripeCustomerID = ""
	repo := newFakeRepo(sub)
	orch := NewCheckoutOrchestrator(repo, testProviders(&fakeProvider{name: "stripe"}, &fakeProvider{name: "paddle"}), nil)

	_, err := orch.CreatePortal(context.Background(), 3, "https://app.finpilot.io/settings")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
