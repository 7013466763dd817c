package billing

import "context"

// ProviderID tags the closed set of supported payment providers so
// dispatch stays exhaustive.
type ProviderID string

const (
	ProviderStripe ProviderID = "stripe"
	ProviderPaddle ProviderID = "paddle"
)

// CheckoutParams is the provider-facing session request. Metadata ties the
// resulting webhooks back to the subscriber.
type CheckoutParams struct {
	CustomerID   string
	PlanSlug     string
	SubscriberID uint
	Product      string
	OrgID        string
	SuccessURL   string
	CancelURL    string
}

// Provider is the capability interface every payment backend implements.
type Provider interface {
	Name() string
	EnsureCustomer(ctx context.Context, email, name string, subscriberID uint) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Providers resolves a ProviderID to its client.
type Providers map[ProviderID]Provider

// Get returns the provider for an id, nil if not registered.
func (p Providers) Get(id ProviderID) Provider {
	return p[id]
}
