package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/cache"
	"github.com/finpilot/billing/internal/pkg/entitlements"
)

// RoleDispatcher propagates cross-product role and tier changes. All
// implementations are best-effort: failures are logged, never returned.
type RoleDispatcher interface {
	DispatchRoleUpgrade(orgID, product string)
	NotifyTierChange(email, plan string)
}

// ReplayGuard deduplicates events that produce no ledger row and thus
// cannot rely on the ledger's unique index.
type ReplayGuard interface {
	// Seen marks (provider, eventID) and reports whether it was already
	// marked. Errors degrade to "not seen": re-applying an expiry refresh
	// is harmless, dropping a first delivery is not.
	Seen(ctx context.Context, provider, eventID string) bool
	// Forget clears the mark after a failed apply so the provider's
	// redelivery is processed instead of absorbed.
	Forget(ctx context.Context, provider, eventID string)
}

type redisReplayGuard struct{}

// NewReplayGuard returns a Redis-backed guard with a bounded replay window.
func NewReplayGuard() ReplayGuard {
	return redisReplayGuard{}
}

const replayWindow = 48 * time.Hour

func replayKey(provider, eventID string) string {
	return "billing:webhook:seen:" + provider + ":" + eventID
}

func (redisReplayGuard) Seen(ctx context.Context, provider, eventID string) bool {
	set, err := cache.GetClient().SetNX(ctx, replayKey(provider, eventID), 1, replayWindow).Result()
	if err != nil {
		log.Printf("billing: replay guard unavailable for %s/%s: %v", provider, eventID, err)
		return false
	}
	return !set
}

func (redisReplayGuard) Forget(ctx context.Context, provider, eventID string) {
	if err := cache.GetClient().Del(ctx, replayKey(provider, eventID)).Err(); err != nil {
		log.Printf("billing: failed to clear replay mark for %s/%s: %v", provider, eventID, err)
	}
}

// WebhookProcessor applies verified provider events to subscriber state
// and the append-only ledger. It is the only writer of tier state.
type WebhookProcessor struct {
	repo       Repository
	dispatcher RoleDispatcher
	guard      ReplayGuard
}

func NewWebhookProcessor(repo Repository, dispatcher RoleDispatcher, guard ReplayGuard) *WebhookProcessor {
	return &WebhookProcessor{repo: repo, dispatcher: dispatcher, guard: guard}
}

// applyOutcome carries what a committed transition earned in post-commit
// side effects.
type applyOutcome struct {
	tierChanged bool
	plan        string
	roleUpgrade bool
}

// Process ingests one normalized event. A nil return means the event was
// handled or deliberately dropped; an error means a transient internal
// failure the provider should redeliver.
func (p *WebhookProcessor) Process(ctx context.Context, ev *NormalizedEvent) error {
	if ev == nil {
		return nil
	}

	sub, err := p.resolveSubscriber(ev)
	if err != nil {
		if errors.Is(err, ErrUnmappedCustomer) {
			// Missing mappings usually mean the customer was created
			// out-of-band or the mapping write raced this delivery.
			// Dropped, not retried: a non-2xx here would cause storms.
			log.Printf("billing: dropping %s event %s: %v", ev.Provider, ev.EventID, err)
			return nil
		}
		return err
	}

	if ev.Kind == models.BillingEventUpdated {
		// No ledger row for period refreshes; guard against replays via
		// the bounded dedupe window instead.
		if p.guard != nil && p.guard.Seen(ctx, ev.Provider, ev.EventID) {
			return nil
		}
		if err := p.applyPeriodRefresh(sub, ev); err != nil {
			// The refresh never landed; clear the mark so the provider's
			// redelivery is not absorbed.
			if p.guard != nil {
				p.guard.Forget(ctx, ev.Provider, ev.EventID)
			}
			return err
		}
		return nil
	}

	// The ledger row doubles as the idempotency key, so it must commit
	// together with the state transition: a transient apply failure rolls
	// the row back and the provider's redelivery starts fresh.
	var created bool
	var outcome applyOutcome
	err = p.repo.Transaction(func(tx Repository) error {
		var txErr error
		created, txErr = tx.CreateBillingEventIfNotExists(p.ledgerRow(sub.ID, ev))
		if txErr != nil || !created {
			return txErr
		}

		switch ev.Kind {
		case models.BillingEventCreated:
			outcome, txErr = p.applySubscriptionCreated(tx, sub, ev)
		case models.BillingEventCancelled:
			outcome, txErr = p.applySubscriptionCancelled(tx, sub, ev)
		case models.BillingEventCheckoutCompleted:
			outcome, txErr = p.applyCheckoutCompleted(tx, sub, ev)
		case models.BillingEventPaymentSucceeded, models.BillingEventPaymentFailed, models.BillingEventRefunded:
			// Ledger only. Payment failure does not revoke the tier; the
			// provider-side retry and grace period are trusted.
		default:
			log.Printf("billing: ledger-only record for unknown event kind %q (%s/%s)", ev.Kind, ev.Provider, ev.EventID)
		}
		return txErr
	})
	if err != nil {
		return err
	}
	if !created {
		log.Printf("billing: duplicate %s event %s acknowledged", ev.Provider, ev.EventID)
		return nil
	}

	if outcome.tierChanged {
		invalidatePlanCache(sub.ID)
		p.dispatchSideEffects(sub, ev, outcome)
	}
	return nil
}

func (p *WebhookProcessor) resolveSubscriber(ev *NormalizedEvent) (*models.Subscriber, error) {
	if ev.CustomerID != "" {
		sub, err := p.repo.GetSubscriberByCustomerID(ev.Provider, ev.CustomerID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	// Checkout metadata carries the subscriber id directly; for checkout
	// completion and freshly created subscriptions the customer mapping
	// may not have landed yet.
	if ev.SubscriberID != 0 {
		sub, err := p.repo.GetSubscriber(ev.SubscriberID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrUnmappedCustomer
}

func (p *WebhookProcessor) ledgerRow(subscriberID uint, ev *NormalizedEvent) *models.BillingEvent {
	status := models.BillingEventStatusSucceeded
	if ev.Kind == models.BillingEventPaymentFailed {
		status = models.BillingEventStatusFailed
	}
	currency := ev.Currency
	if currency == "" {
		currency = "usd"
	}

	meta, _ := json.Marshal(map[string]string{
		"subscription_id": ev.SubscriptionID,
		"plan":            ev.PlanSlug,
		"product":         ev.Product,
		"org_id":          ev.OrgID,
	})

	return &models.BillingEvent{
		SubscriberID:    subscriberID,
		Provider:        ev.Provider,
		ProviderEventID: ev.EventID,
		Kind:            ev.Kind,
		Amount:          ev.Amount,
		Currency:        currency,
		Status:          status,
		Metadata:        string(meta),
	}
}

func (p *WebhookProcessor) applySubscriptionCreated(repo Repository, sub *models.Subscriber, ev *NormalizedEvent) (applyOutcome, error) {
	plan := PlanForSlug(ev.PlanSlug)
	if plan == entitlements.PlanFree {
		log.Printf("billing: subscription %s for subscriber %d has unmapped plan %q, granting free", ev.SubscriptionID, sub.ID, ev.PlanSlug)
	}

	startedAt := ev.PeriodStart
	if startedAt == nil {
		now := time.Now().UTC()
		startedAt = &now
	}

	if err := repo.UpdateSubscriber(sub.ID, map[string]interface{}{
		"plan":                     string(plan),
		"plan_started_at":          startedAt,
		"plan_expires_at":          ev.PeriodEnd,
		"provider":                 ev.Provider,
		"provider_subscription_id": ev.SubscriptionID,
	}); err != nil {
		return applyOutcome{}, err
	}
	return applyOutcome{tierChanged: true, plan: string(plan), roleUpgrade: true}, nil
}

func (p *WebhookProcessor) applyPeriodRefresh(sub *models.Subscriber, ev *NormalizedEvent) error {
	if ev.SubscriptionID == "" {
		log.Printf("billing: update event %s without subscription id for subscriber %d, skipping", ev.EventID, sub.ID)
		return nil
	}
	// The subscription-id condition runs in SQL, so a refresh for a
	// subscription that was replaced after the row was read cannot write.
	updated, err := p.repo.UpdateSubscriberIfSubscription(sub.ID, ev.SubscriptionID, map[string]interface{}{
		"plan_expires_at": ev.PeriodEnd,
	})
	if err != nil {
		return err
	}
	if !updated {
		// Out-of-order delivery: the matching created event has not been
		// applied yet. Degrade to a logged no-op.
		log.Printf("billing: update event %s for unknown subscription %s on subscriber %d, skipping", ev.EventID, ev.SubscriptionID, sub.ID)
	}
	return nil
}

func (p *WebhookProcessor) applySubscriptionCancelled(repo Repository, sub *models.Subscriber, ev *NormalizedEvent) (applyOutcome, error) {
	if ev.SubscriptionID == "" {
		log.Printf("billing: cancel event %s without subscription id for subscriber %d, skipping", ev.EventID, sub.ID)
		return applyOutcome{}, nil
	}
	// Customer-id slots survive cancellation for reconciliation. The
	// subscription-id condition runs in SQL so a stale cancel racing a
	// fresh grant cannot clobber the new linkage.
	updated, err := repo.UpdateSubscriberIfSubscription(sub.ID, ev.SubscriptionID, map[string]interface{}{
		"plan":                     string(entitlements.PlanFree),
		"plan_expires_at":          nil,
		"provider":                 "",
		"provider_subscription_id": "",
	})
	if err != nil {
		return applyOutcome{}, err
	}
	if !updated {
		log.Printf("billing: cancel event %s for unknown subscription %s on subscriber %d, skipping", ev.EventID, ev.SubscriptionID, sub.ID)
		return applyOutcome{}, nil
	}
	return applyOutcome{tierChanged: true, plan: string(entitlements.PlanFree)}, nil
}

func (p *WebhookProcessor) applyCheckoutCompleted(repo Repository, sub *models.Subscriber, ev *NormalizedEvent) (applyOutcome, error) {
	plan := PlanForSlug(ev.PlanSlug)
	if plan == entitlements.PlanFree {
		// Unrecognized plan slugs deliberately resolve low instead of
		// granting the top tier.
		log.Printf("billing: checkout %s for subscriber %d has unmapped plan %q, granting free", ev.EventID, sub.ID, ev.PlanSlug)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"plan":            string(plan),
		"plan_started_at": &now,
		// One-off grants carry no provider period; drop any expiry left
		// over from a previous subscription.
		"plan_expires_at": nil,
		"provider":        ev.Provider,
	}
	if ev.SubscriptionID != "" {
		updates["provider_subscription_id"] = ev.SubscriptionID
	}
	if err := repo.UpdateSubscriber(sub.ID, updates); err != nil {
		return applyOutcome{}, err
	}
	return applyOutcome{tierChanged: true, plan: string(plan), roleUpgrade: true}, nil
}

// invalidatePlanCache drops the usage meter's cached plan after a tier
// transition so limit checks see the new tier promptly.
func invalidatePlanCache(subscriberID uint) {
	key := fmt.Sprintf("billing:plan:%d", subscriberID)
	if err := cache.Delete(key); err != nil {
		log.Printf("billing: failed to invalidate plan cache for subscriber %d: %v", subscriberID, err)
	}
}

// dispatchSideEffects notifies external identity systems after a grant.
// Fire-and-forget: the webhook response never waits on these.
func (p *WebhookProcessor) dispatchSideEffects(sub *models.Subscriber, ev *NormalizedEvent, outcome applyOutcome) {
	if p.dispatcher == nil {
		return
	}
	if outcome.roleUpgrade && ev.OrgID != "" {
		go p.dispatcher.DispatchRoleUpgrade(ev.OrgID, ev.Product)
	}
	go p.dispatcher.NotifyTierChange(sub.Email, outcome.plan)
}
