package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
	BillingProviderPaddle = "paddle"
)

// Subscriber is the billable identity. Tier state is mutated exclusively by
// the webhook processor; customer-id slots are filled once by the customer
// registry and retained for reconciliation even after cancellation.
type Subscriber struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Email                  string     `gorm:"type:varchar(200);not null;uniqueIndex" json:"email"`
	Name                   string     `gorm:"type:varchar(200);default:''" json:"name"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	PlanStartedAt          *time.Time `gorm:"type:timestamp;default:null" json:"plan_started_at,omitempty"`
	PlanExpiresAt          *time.Time `gorm:"type:timestamp;default:null" json:"plan_expires_at,omitempty"`
	StripeCustomerID       string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	PaddleCustomerID       string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	Provider               string     `gorm:"type:varchar(20);default:''" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	OrgID                  string     `gorm:"type:varchar(191);default:'';index" json:"org_id,omitempty"`
	APITokenHash           string     `gorm:"type:varchar(64);default:'';index" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashAPIToken returns the SHA-256 hash for a bearer API token.
func HashAPIToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// CustomerIDFor returns the stored customer id slot for a provider.
func (s *Subscriber) CustomerIDFor(provider string) string {
	switch provider {
	case BillingProviderStripe:
		return s.StripeCustomerID
	case BillingProviderPaddle:
		return s.PaddleCustomerID
	default:
		return ""
	}
}
