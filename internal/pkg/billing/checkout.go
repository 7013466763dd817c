package billing

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/entitlements"
	"github.com/finpilot/billing/internal/pkg/env"
)

// CheckoutOrchestrator builds provider checkout and portal sessions. It
// owns no durable session state; the provider-issued URL is returned
// unchanged and the provider remains the single source of truth for the
// session.
type CheckoutOrchestrator struct {
	repo         Repository
	providers    Providers
	registry     *CustomerRegistry
	allowedHosts map[string]struct{}
}

func NewCheckoutOrchestrator(repo Repository, providers Providers, allowedHosts []string) *CheckoutOrchestrator {
	hosts := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = struct{}{}
		}
	}
	return &CheckoutOrchestrator{
		repo:         repo,
		providers:    providers,
		registry:     NewCustomerRegistry(repo, providers),
		allowedHosts: hosts,
	}
}

// AllowedHostsFromEnv reads the comma-separated redirect allow-list.
func AllowedHostsFromEnv() []string {
	return strings.Split(env.GetEnv("CHECKOUT_ALLOWED_RETURN_HOSTS", ""), ",")
}

// CreateCheckout routes the subscriber to a provider, resolves the
// customer identity and returns the provider checkout URL.
func (o *CheckoutOrchestrator) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	sub, err := o.repo.GetSubscriber(req.SubscriberID)
	if err != nil {
		return nil, err
	}

	if !KnownPlanSlug(req.PlanSlug) {
		return nil, ErrUnknownPlan
	}
	requested := PlanForSlug(req.PlanSlug)
	if entitlements.Rank(entitlements.Normalize(sub.Plan)) >= entitlements.Rank(requested) {
		return nil, ErrAlreadySubscribed
	}

	providerID := Route(req.CountryCode, req.Product)
	provider := o.providers.Get(providerID)
	if provider == nil {
		return nil, fmt.Errorf("no client registered for provider %s", providerID)
	}

	customerID, err := o.registry.EnsureCustomer(ctx, sub.ID, providerID)
	if err != nil {
		return nil, err
	}

	audit := &models.CheckoutAudit{
		SubscriberID: sub.ID,
		Plan:         req.PlanSlug,
		Provider:     string(providerID),
		Product:      req.Product,
		OrgID:        req.OrgID,
		RequestID:    uuid.NewString(),
	}
	if err := o.repo.CreateCheckoutAudit(audit); err != nil {
		log.Printf("billing: failed to write checkout audit for subscriber %d: %v", sub.ID, err)
	}

	checkoutURL, err := provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:   customerID,
		PlanSlug:     req.PlanSlug,
		SubscriberID: sub.ID,
		Product:      req.Product,
		OrgID:        req.OrgID,
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return &CheckoutResult{CheckoutURL: checkoutURL, Provider: string(providerID)}, nil
}

// CreatePublicCheckout is the unauthenticated variant used by
// cross-product redirects. The return URL host must pass the allow-list
// before anything else happens; a mismatch is a hard failure with no side
// effects.
func (o *CheckoutOrchestrator) CreatePublicCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := o.ValidateReturnURL(req.SuccessURL); err != nil {
		return nil, err
	}
	if req.CancelURL == "" {
		req.CancelURL = req.SuccessURL
	} else if err := o.ValidateReturnURL(req.CancelURL); err != nil {
		return nil, err
	}
	return o.CreateCheckout(ctx, req)
}

// ValidateReturnURL enforces the redirect allow-list. This is a security
// boundary: only https URLs whose exact host is allow-listed pass.
func (o *CheckoutOrchestrator) ValidateReturnURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ErrUntrustedRedirect
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && env.IsDev()) {
		return ErrUntrustedRedirect
	}
	if _, ok := o.allowedHosts[strings.ToLower(u.Hostname())]; !ok {
		return ErrUntrustedRedirect
	}
	return nil
}

// CreatePortal builds a provider-hosted billing portal session for an
// existing billing profile.
func (o *CheckoutOrchestrator) CreatePortal(ctx context.Context, subscriberID uint, returnURL string) (string, error) {
	sub, err := o.repo.GetSubscriber(subscriberID)
	if err != nil {
		return "", err
	}

	providerID := ProviderID(sub.Provider)
	if providerID == "" {
		// No active subscription; fall back to whichever identity exists.
		switch {
		case sub.StripeCustomerID != "":
			providerID = ProviderStripe
		case sub.PaddleCustomerID != "":
			providerID = ProviderPaddle
		default:
			return "", ErrNotFound
		}
	}

	provider := o.providers.Get(providerID)
	if provider == nil {
		return "", fmt.Errorf("no client registered for provider %s", providerID)
	}

	customerID := sub.CustomerIDFor(string(providerID))
	if customerID == "" {
		return "", ErrNotFound
	}

	portalURL, err := provider.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return portalURL, nil
}
