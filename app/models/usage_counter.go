package models

import "time"

// UsageCounter is a per-(subscriber, feature, UTC day) monotonic count.
// A new day yields a new row, so counters reset implicitly. Increments go
// through an atomic upsert; the composite unique index is the invariant.
type UsageCounter struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubscriberID uint      `gorm:"not null;index:ux_usage_counters_key,unique,priority:1" json:"subscriber_id"`
	Feature      string    `gorm:"type:varchar(100);not null;index:ux_usage_counters_key,unique,priority:2" json:"feature"`
	Day          string    `gorm:"type:varchar(10);not null;index:ux_usage_counters_key,unique,priority:3" json:"day"`
	Count        int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UsageDay formats a point in time as the UTC calendar-day counter key.
func UsageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
