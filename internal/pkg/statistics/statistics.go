package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/cache"
	"github.com/finpilot/billing/internal/pkg/database"
	"github.com/finpilot/billing/internal/pkg/entitlements"
)

const (
	CacheKeySubscribersTotal = "statistics:subscribers:total"
	CacheKeySubscribersPlan  = "statistics:subscribers:plan:%s" // Format with plan name
	CacheKeyEventsDaily      = "statistics:events:daily:%s"     // Format with date YYYY-MM-DD
	CacheExpiration          = 30 * time.Minute
)

// StatisticsData summarizes the subscriber base and today's ledger volume.
type StatisticsData struct {
	TotalSubscribers int            `json:"total_subscribers"`
	PlanCounts       map[string]int `json:"plan_counts"`
	EventsToday      int            `json:"events_today"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached aggregates are stale.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()
	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached aggregates when stale.
func UpdateCacheIfNeeded() {
	if !ShouldUpdateCache() {
		return
	}
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if err := refreshCache(); err != nil {
		log.Printf("statistics: cache refresh failed: %v", err)
		return
	}
	lastCacheUpdate = time.Now()
}

func refreshCache() error {
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database unavailable")
	}

	var total int64
	if err := db.Model(&models.Subscriber{}).Count(&total).Error; err != nil {
		return err
	}
	if err := cache.Set(CacheKeySubscribersTotal, strconv.FormatInt(total, 10), CacheExpiration); err != nil {
		return err
	}

	for _, plan := range []entitlements.Plan{entitlements.PlanFree, entitlements.PlanPlus, entitlements.PlanMax} {
		var count int64
		if err := db.Model(&models.Subscriber{}).Where("plan = ?", string(plan)).Count(&count).Error; err != nil {
			return err
		}
		key := fmt.Sprintf(CacheKeySubscribersPlan, plan)
		if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			return err
		}
	}

	day := models.UsageDay(time.Now())
	var events int64
	if err := db.Model(&models.BillingEvent{}).
		Where("created_at >= ?", day+" 00:00:00").
		Count(&events).Error; err != nil {
		return err
	}
	return cache.Set(fmt.Sprintf(CacheKeyEventsDaily, day), strconv.FormatInt(events, 10), CacheExpiration)
}

// GetStatistics serves the aggregates from the cache, refreshing first when
// stale. Cache misses degrade to zero rather than hitting the database on
// the request path.
func GetStatistics() StatisticsData {
	UpdateCacheIfNeeded()

	data := StatisticsData{
		PlanCounts: make(map[string]int, 3),
	}
	data.TotalSubscribers = cachedInt(CacheKeySubscribersTotal)
	for _, plan := range []entitlements.Plan{entitlements.PlanFree, entitlements.PlanPlus, entitlements.PlanMax} {
		data.PlanCounts[string(plan)] = cachedInt(fmt.Sprintf(CacheKeySubscribersPlan, plan))
	}
	data.EventsToday = cachedInt(fmt.Sprintf(CacheKeyEventsDaily, models.UsageDay(time.Now())))
	return data
}

func cachedInt(key string) int {
	raw, err := cache.Get(key)
	if err != nil {
		if !cache.IsNotFound(err) {
			log.Printf("statistics: failed to read %s: %v", key, err)
		}
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
