package billing

import (
	"context"
	"fmt"
	"log"
)

// CustomerRegistry keeps the 1:1 mapping between a subscriber and a
// provider-scoped customer identity. Creation happens at most once per
// (subscriber, provider); afterwards the stored id is reused without any
// network call.
type CustomerRegistry struct {
	repo      Repository
	providers Providers
}

func NewCustomerRegistry(repo Repository, providers Providers) *CustomerRegistry {
	return &CustomerRegistry{repo: repo, providers: providers}
}

// EnsureCustomer returns the provider customer id for a subscriber,
// creating it on first use. A provider API failure leaves the subscriber
// row unmodified.
func (r *CustomerRegistry) EnsureCustomer(ctx context.Context, subscriberID uint, providerID ProviderID) (string, error) {
	sub, err := r.repo.GetSubscriber(subscriberID)
	if err != nil {
		return "", err
	}

	if id := sub.CustomerIDFor(string(providerID)); id != "" {
		return id, nil
	}

	provider := r.providers.Get(providerID)
	if provider == nil {
		return "", fmt.Errorf("no client registered for provider %s", providerID)
	}

	customerID, err := provider.EnsureCustomer(ctx, sub.Email, sub.Name, sub.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := r.repo.SetCustomerID(sub.ID, string(providerID), customerID); err != nil {
		// The provider-side customer exists but the local write failed.
		// The next attempt will create a second provider customer; log
		// the orphan so reconciliation can find it.
		log.Printf("billing: failed to persist %s customer %s for subscriber %d: %v", providerID, customerID, sub.ID, err)
		return "", err
	}
	return customerID, nil
}
