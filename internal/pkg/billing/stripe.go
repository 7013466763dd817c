package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/env"
)

// StripeConfig holds the direct-processor credentials and the plan slug to
// Stripe price id mapping.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceIDs      map[string]string
}

// NewStripeConfigFromEnv reads the Stripe settings the way the rest of the
// app reads configuration.
func NewStripeConfigFromEnv() *StripeConfig {
	return &StripeConfig{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		PriceIDs: map[string]string{
			"plus_monthly": strings.TrimSpace(env.GetEnv("STRIPE_PRICE_PLUS_MONTHLY", "")),
			"plus_yearly":  strings.TrimSpace(env.GetEnv("STRIPE_PRICE_PLUS_YEARLY", "")),
			"max_monthly":  strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MAX_MONTHLY", "")),
			"max_yearly":   strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MAX_YEARLY", "")),
		},
	}
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	cfg *StripeConfig
}

func NewStripeProvider(cfg *StripeConfig) *StripeProvider {
	stripe.Key = cfg.SecretKey
	return &StripeProvider{cfg: cfg}
}

func (p *StripeProvider) Name() string {
	return models.BillingProviderStripe
}

func (p *StripeProvider) EnsureCustomer(ctx context.Context, email, name string, subscriberID uint) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("subscriber_id", strconv.FormatUint(uint64(subscriberID), 10))

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (string, error) {
	priceID, ok := p.cfg.PriceIDs[strings.ToLower(in.PlanSlug)]
	if !ok || priceID == "" {
		return "", fmt.Errorf("stripe: no price configured for plan %q", in.PlanSlug)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(in.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("subscriber_id", strconv.FormatUint(uint64(in.SubscriberID), 10))
	params.AddMetadata("plan", in.PlanSlug)
	if in.Product != "" {
		params.AddMetadata("product", in.Product)
	}
	if in.OrgID != "" {
		params.AddMetadata("org_id", in.OrgID)
	}
	// Mirror the metadata onto the subscription so subscription.* webhooks
	// carry it too.
	params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: map[string]string{
			"subscriber_id": strconv.FormatUint(uint64(in.SubscriberID), 10),
			"plan":          in.PlanSlug,
			"product":       in.Product,
			"org_id":        in.OrgID,
		},
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}
	return nil
}

// ParseWebhookEvent verifies the Stripe-Signature header and normalizes
// the event. A nil event with nil error means the event type is not one
// the processor handles.
func (p *StripeProvider) ParseWebhookEvent(payload []byte, signatureHeader string) (*NormalizedEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, p.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return p.normalizeEvent(&event, payload)
}

func (p *StripeProvider) normalizeEvent(event *stripe.Event, payload []byte) (*NormalizedEvent, error) {
	out := &NormalizedEvent{
		Provider: models.BillingProviderStripe,
		EventID:  event.ID,
		RawJSON:  string(payload),
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe: bad subscription payload: %w", err)
		}
		out.CustomerID = stripeCustomerID(sub.Customer)
		out.SubscriptionID = sub.ID
		out.PlanSlug = sub.Metadata["plan"]
		out.OrgID = sub.Metadata["org_id"]
		out.Product = sub.Metadata["product"]
		if start := sub.CurrentPeriodStart; start > 0 {
			t := time.Unix(start, 0).UTC()
			out.PeriodStart = &t
		}
		if end := sub.CurrentPeriodEnd; end > 0 {
			t := time.Unix(end, 0).UTC()
			out.PeriodEnd = &t
		}
		if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			price := sub.Items.Data[0].Price
			out.Amount = minorUnits(price.UnitAmount)
			out.Currency = string(price.Currency)
			if out.PlanSlug == "" {
				out.PlanSlug = p.planSlugForPrice(price.ID)
			}
		}
		switch event.Type {
		case "customer.subscription.created":
			out.Kind = models.BillingEventCreated
		case "customer.subscription.updated":
			out.Kind = models.BillingEventUpdated
		default:
			out.Kind = models.BillingEventCancelled
			out.Amount = decimal.Zero
		}

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("stripe: bad checkout session payload: %w", err)
		}
		out.Kind = models.BillingEventCheckoutCompleted
		out.CustomerID = stripeCustomerID(sess.Customer)
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
		out.PlanSlug = sess.Metadata["plan"]
		out.OrgID = sess.Metadata["org_id"]
		out.Product = sess.Metadata["product"]
		if raw := sess.Metadata["subscriber_id"]; raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
				out.SubscriberID = uint(id)
			}
		}
		out.Amount = minorUnits(sess.AmountTotal)
		out.Currency = string(sess.Currency)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: bad invoice payload: %w", err)
		}
		out.CustomerID = stripeCustomerID(inv.Customer)
		out.Currency = string(inv.Currency)
		if event.Type == "invoice.payment_succeeded" {
			out.Kind = models.BillingEventPaymentSucceeded
			out.Amount = minorUnits(inv.AmountPaid)
		} else {
			out.Kind = models.BillingEventPaymentFailed
			out.Amount = minorUnits(inv.AmountDue)
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("stripe: bad charge payload: %w", err)
		}
		out.Kind = models.BillingEventRefunded
		out.CustomerID = stripeCustomerID(ch.Customer)
		out.Amount = minorUnits(ch.AmountRefunded)
		out.Currency = string(ch.Currency)

	default:
		return nil, nil
	}

	return out, nil
}

func (p *StripeProvider) planSlugForPrice(priceID string) string {
	for slug, id := range p.cfg.PriceIDs {
		if id != "" && id == priceID {
			return slug
		}
	}
	return ""
}

func stripeCustomerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// minorUnits converts a provider amount in minor units (cents) to a
// normalized decimal.
func minorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
