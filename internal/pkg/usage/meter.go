package usage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/cache"
	"github.com/finpilot/billing/internal/pkg/entitlements"
)

// ErrSubscriberNotFound is returned when the metered subscriber does not
// exist.
var ErrSubscriberNotFound = errors.New("subscriber not found")

const planCacheTTL = 60 * time.Second

// Meter tracks per-feature daily usage against tier caps. Counters live
// in the database behind a composite unique key; increments are atomic
// upserts, never application-level read-modify-write.
type Meter struct {
	db *gorm.DB
}

func NewMeter(db *gorm.DB) *Meter {
	return &Meter{db: db}
}

// FeatureUsage pairs today's count with the tier's cap for one feature.
type FeatureUsage struct {
	Feature string `json:"feature"`
	Count   int64  `json:"count"`
	// Limit is the daily cap; -1 means unlimited, 0 means the feature is
	// not available on the subscriber's plan.
	Limit int `json:"limit"`
}

// Record increments today's counter for (subscriber, feature), creating
// it at 1 if absent.
func (m *Meter) Record(ctx context.Context, subscriberID uint, feature string) error {
	day := models.UsageDay(time.Now())
	return m.db.WithContext(ctx).Exec(
		"INSERT INTO usage_counters (subscriber_id, feature, day, count, created_at, updated_at) VALUES (?, ?, ?, 1, NOW(), NOW())"+
			" ON DUPLICATE KEY UPDATE count = count + 1, updated_at = NOW()",
		subscriberID, feature, day,
	).Error
}

// CheckLimit reports whether the subscriber may invoke the feature today.
// The check is deliberately not serialized with Record: concurrent
// requests can each pass before either increments, overshooting the cap
// by at most the concurrency degree. RecordAndCheck closes that window.
func (m *Meter) CheckLimit(ctx context.Context, subscriberID uint, feature string) (bool, error) {
	plan, err := m.planFor(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	if plan == entitlements.PlanMax {
		return true, nil
	}

	limit := entitlements.DailyLimit(plan, feature)
	if limit == entitlements.Unlimited {
		return true, nil
	}
	if limit == 0 {
		return false, nil
	}

	count, err := m.todayCount(ctx, subscriberID, feature)
	if err != nil {
		return false, err
	}
	return count < int64(limit), nil
}

// RecordAndCheck atomically increments today's counter and reports
// whether the post-increment count is within the cap. This is the strict
// variant: there is no check-then-act window, but a denied call has
// still consumed a count.
func (m *Meter) RecordAndCheck(ctx context.Context, subscriberID uint, feature string) (bool, error) {
	plan, err := m.planFor(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	limit := entitlements.DailyLimit(plan, feature)
	if limit == 0 {
		return false, nil
	}

	day := models.UsageDay(time.Now())
	var post int64
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// LAST_INSERT_ID is connection-scoped, so both statements must
		// share the transaction's connection.
		res := tx.Exec(
			"INSERT INTO usage_counters (subscriber_id, feature, day, count, created_at, updated_at) VALUES (?, ?, ?, 1, NOW(), NOW())"+
				" ON DUPLICATE KEY UPDATE count = LAST_INSERT_ID(count + 1), updated_at = NOW()",
			subscriberID, feature, day,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			// Fresh row, first use today.
			post = 1
			return nil
		}
		return tx.Raw("SELECT LAST_INSERT_ID()").Scan(&post).Error
	})
	if err != nil {
		return false, err
	}

	if limit == entitlements.Unlimited {
		return true, nil
	}
	return post <= int64(limit), nil
}

// Usage returns today's counters joined with the subscriber's caps.
func (m *Meter) Usage(ctx context.Context, subscriberID uint) ([]FeatureUsage, error) {
	plan, err := m.planFor(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	day := models.UsageDay(time.Now())
	var counters []models.UsageCounter
	if err := m.db.WithContext(ctx).
		Where("subscriber_id = ? AND day = ?", subscriberID, day).
		Find(&counters).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(counters))
	for _, c := range counters {
		counts[c.Feature] = c.Count
	}

	features := entitlements.Features()
	out := make([]FeatureUsage, 0, len(features))
	for _, f := range features {
		out = append(out, FeatureUsage{
			Feature: f,
			Count:   counts[f],
			Limit:   entitlements.DailyLimit(plan, f),
		})
	}
	return out, nil
}

func (m *Meter) todayCount(ctx context.Context, subscriberID uint, feature string) (int64, error) {
	day := models.UsageDay(time.Now())
	var counter models.UsageCounter
	err := m.db.WithContext(ctx).
		Where("subscriber_id = ? AND feature = ? AND day = ?", subscriberID, feature, day).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}

// planFor resolves the subscriber's plan, serving the hot check path from
// a short-TTL cache entry.
func (m *Meter) planFor(ctx context.Context, subscriberID uint) (entitlements.Plan, error) {
	key := fmt.Sprintf("billing:plan:%d", subscriberID)
	if cached, err := cache.Get(key); err == nil && cached != "" {
		return entitlements.Normalize(cached), nil
	}

	var sub models.Subscriber
	if err := m.db.WithContext(ctx).First(&sub, subscriberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSubscriberNotFound
		}
		return "", err
	}

	if err := cache.Set(key, sub.Plan, planCacheTTL); err != nil {
		log.Printf("usage: failed to cache plan for subscriber %d: %v", subscriberID, err)
	}
	return entitlements.Normalize(sub.Plan), nil
}
