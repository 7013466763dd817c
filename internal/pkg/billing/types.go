package billing

import (
	"strings"
	"time"

	"github.com/finpilot/billing/internal/pkg/entitlements"
	"github.com/shopspring/decimal"
)

// NormalizedEvent is the provider-agnostic shape the webhook processor
// consumes. Provider parsers (stripe.go, paddle.go) produce it from raw
// payloads after signature verification.
type NormalizedEvent struct {
	Provider       string
	EventID        string
	Kind           string
	CustomerID     string
	SubscriptionID string
	// SubscriberID is carried in checkout metadata and only trusted for
	// checkout-completed events, where no customer mapping may exist yet.
	SubscriberID uint
	PlanSlug     string
	Amount       decimal.Decimal
	Currency     string
	PeriodStart  *time.Time
	PeriodEnd    *time.Time
	OrgID        string
	Product      string
	RawJSON      string
}

// CheckoutRequest describes one checkout session to build.
type CheckoutRequest struct {
	SubscriberID uint
	PlanSlug     string `validate:"required"`
	Product      string
	CountryCode  string
	SuccessURL   string `validate:"required,url"`
	CancelURL    string `validate:"omitempty,url"`
	OrgID        string
}

// CheckoutResult carries the provider-issued URL back unchanged.
type CheckoutResult struct {
	CheckoutURL string `json:"checkout_url"`
	Provider    string `json:"provider"`
}

// PlanForSlug maps a checkout plan slug to an internal plan. Unrecognized
// slugs resolve to the free plan so a typo can never grant entitlements.
func PlanForSlug(slug string) entitlements.Plan {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case "plus", "plus_monthly", "plus_yearly":
		return entitlements.PlanPlus
	case "max", "max_monthly", "max_yearly":
		return entitlements.PlanMax
	default:
		return entitlements.PlanFree
	}
}

// KnownPlanSlug reports whether a slug maps to a recognized plan. The
// checkout path rejects unknown slugs outright; the webhook path keeps
// resolving them low via PlanForSlug, since those events must still be
// ingested.
func KnownPlanSlug(slug string) bool {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case "free", "plus", "plus_monthly", "plus_yearly", "max", "max_monthly", "max_yearly":
		return true
	default:
		return false
	}
}
