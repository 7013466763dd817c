package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/finpilot/billing/app/models"
)

// fakeRepo is an in-memory Repository for engine tests. Transaction
// restores a snapshot on error, mirroring a database rollback.
type fakeRepo struct {
	mu          sync.Mutex
	subscribers map[uint]*models.Subscriber
	events      []models.BillingEvent
	audits      []models.CheckoutAudit
	updateErr   error
	// afterResolve runs once after the next customer-id lookup, outside
	// the lock. Tests use it to interleave a concurrent write between a
	// processor's read and its apply.
	afterResolve func()
}

func newFakeRepo(subs ...*models.Subscriber) *fakeRepo {
	r := &fakeRepo{subscribers: make(map[uint]*models.Subscriber)}
	for _, s := range subs {
		r.subscribers[s.ID] = s
	}
	return r
}

func (r *fakeRepo) GetSubscriber(id uint) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sub
	return &clone, nil
}

func (r *fakeRepo) GetSubscriberByCustomerID(provider, customerID string) (*models.Subscriber, error) {
	r.mu.Lock()
	var found *models.Subscriber
	for _, sub := range r.subscribers {
		if sub.CustomerIDFor(provider) == customerID && customerID != "" {
			clone := *sub
			found = &clone
			break
		}
	}
	hook := r.afterResolve
	r.afterResolve = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *fakeRepo) SetCustomerID(subscriberID uint, provider, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[subscriberID]
	if !ok {
		return ErrNotFound
	}
	switch provider {
	case models.BillingProviderStripe:
		sub.StripeCustomerID = customerID
	case models.BillingProviderPaddle:
		sub.PaddleCustomerID = customerID
	default:
		return errors.New("unknown provider")
	}
	return nil
}

func (r *fakeRepo) UpdateSubscriber(subscriberID uint, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	sub, ok := r.subscribers[subscriberID]
	if !ok {
		return ErrNotFound
	}
	applySubscriberUpdates(sub, updates)
	return nil
}

func (r *fakeRepo) UpdateSubscriberIfSubscription(subscriberID uint, subscriptionID string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return false, r.updateErr
	}
	sub, ok := r.subscribers[subscriberID]
	if !ok || sub.ProviderSubscriptionID != subscriptionID {
		return false, nil
	}
	applySubscriberUpdates(sub, updates)
	return true, nil
}

func (r *fakeRepo) Transaction(fn func(Repository) error) error {
	r.mu.Lock()
	subsSnap := make(map[uint]*models.Subscriber, len(r.subscribers))
	for id, sub := range r.subscribers {
		clone := *sub
		subsSnap[id] = &clone
	}
	eventsSnap := append([]models.BillingEvent(nil), r.events...)
	auditsSnap := append([]models.CheckoutAudit(nil), r.audits...)
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.subscribers = subsSnap
		r.events = eventsSnap
		r.audits = auditsSnap
		r.mu.Unlock()
		return err
	}
	return nil
}

func applySubscriberUpdates(sub *models.Subscriber, updates map[string]interface{}) {
	for col, val := range updates {
		switch col {
		case "plan":
			sub.Plan = val.(string)
		case "plan_started_at":
			sub.PlanStartedAt = asTimePtr(val)
		case "plan_expires_at":
			sub.PlanExpiresAt = asTimePtr(val)
		case "provider":
			sub.Provider = val.(string)
		case "provider_subscription_id":
			sub.ProviderSubscriptionID = val.(string)
		}
	}
}

func (r *fakeRepo) CreateBillingEventIfNotExists(event *models.BillingEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.events {
		if existing.Provider == event.Provider && existing.ProviderEventID == event.ProviderEventID {
			return false, nil
		}
	}
	event.ID = uint(len(r.events) + 1)
	r.events = append(r.events, *event)
	return true, nil
}

func (r *fakeRepo) ListBillingEvents(subscriberID uint, limit int) ([]models.BillingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].SubscriberID == subscriberID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateCheckoutAudit(audit *models.CheckoutAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, *audit)
	return nil
}

func (r *fakeRepo) subscriber(id uint) models.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.subscribers[id]
}

func (r *fakeRepo) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func asTimePtr(val interface{}) *time.Time {
	if val == nil {
		return nil
	}
	switch t := val.(type) {
	case *time.Time:
		return t
	case time.Time:
		return &t
	}
	return nil
}

// fakeProvider records calls and returns canned values.
type fakeProvider struct {
	mu              sync.Mutex
	name            string
	customerCalls   int
	checkoutCalls   int
	customerID      string
	checkoutURL     string
	portalURL       string
	customerErr     error
	checkoutErr     error
	lastCheckout    CheckoutParams
	cancelledSubIDs []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) EnsureCustomer(ctx context.Context, email, name string, subscriberID uint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerCalls++
	if f.customerErr != nil {
		return "", f.customerErr
	}
	return f.customerID, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls++
	f.lastCheckout = params
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	return f.checkoutURL, nil
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return f.portalURL, nil
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledSubIDs = append(f.cancelledSubIDs, subscriptionID)
	return nil
}

// recordingDispatcher captures side-effect dispatches.
type recordingDispatcher struct {
	mu          sync.Mutex
	roleCalls   []string
	notifyCalls []string
}

func (d *recordingDispatcher) DispatchRoleUpgrade(orgID, product string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roleCalls = append(d.roleCalls, orgID+"/"+product)
}

func (d *recordingDispatcher) NotifyTierChange(email, plan string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifyCalls = append(d.notifyCalls, email+"/"+plan)
}

func (d *recordingDispatcher) roleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.roleCalls)
}
