package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Billing event kinds written to the ledger.
const (
	BillingEventCreated           = "created"
	BillingEventUpdated           = "updated"
	BillingEventCancelled         = "cancelled"
	BillingEventPaymentSucceeded  = "payment_succeeded"
	BillingEventPaymentFailed     = "payment_failed"
	BillingEventRefunded          = "refunded"
	BillingEventCheckoutCompleted = "checkout_completed"
)

const (
	BillingEventStatusSucceeded = "succeeded"
	BillingEventStatusFailed    = "failed"
)

// BillingEvent is one immutable ledger row per processed provider
// notification. The (provider, provider_event_id) unique index makes
// duplicate webhook deliveries a no-op at the storage layer.
type BillingEvent struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SubscriberID    uint            `gorm:"not null;index" json:"subscriber_id"`
	Provider        string          `gorm:"type:varchar(20);not null;index:ux_billing_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string          `gorm:"type:varchar(191);not null;index:ux_billing_events_provider_event,unique,priority:2" json:"provider_event_id"`
	Kind            string          `gorm:"type:varchar(32);not null;index" json:"kind"`
	Amount          decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"amount"`
	Currency        string          `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Status          string          `gorm:"type:varchar(16);not null;default:'succeeded'" json:"status"`
	Metadata        string          `gorm:"type:longtext" json:"metadata"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
