package models

import "time"

// CheckoutAudit records a checkout initiation. This is not the ledger:
// the ledger only gets rows for confirmed provider webhooks.
type CheckoutAudit struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubscriberID uint      `gorm:"not null;index" json:"subscriber_id"`
	Plan         string    `gorm:"type:varchar(50);not null" json:"plan"`
	Provider     string    `gorm:"type:varchar(20);not null" json:"provider"`
	Product      string    `gorm:"type:varchar(50);default:''" json:"product"`
	OrgID        string    `gorm:"type:varchar(191);default:''" json:"org_id"`
	RequestID    string    `gorm:"type:varchar(36);default:''" json:"request_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
