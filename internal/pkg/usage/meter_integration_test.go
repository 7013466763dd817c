//go:build integration
// +build integration

package usage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/finpilot/billing/app/models"
	"github.com/finpilot/billing/internal/pkg/entitlements"
)

// integrationDB opens the MySQL instance named by TEST_DATABASE_DSN. The
// raw upsert SQL in the meter is MySQL-specific, so these tests cannot
// run against an in-memory substitute.
func integrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test that requires a MySQL connection (set TEST_DATABASE_DSN)")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Subscriber{}, &models.UsageCounter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedSubscriber(t *testing.T, db *gorm.DB, plan entitlements.Plan) *models.Subscriber {
	t.Helper()
	sub := &models.Subscriber{
		Email: fmt.Sprintf("meter-%d@example.com", time.Now().UnixNano()),
		Plan:  string(plan),
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	t.Cleanup(func() {
		db.Where("subscriber_id = ?", sub.ID).Delete(&models.UsageCounter{})
		db.Delete(sub)
	})
	return sub
}

func TestMeterRecordIncrements(t *testing.T) {
	db := integrationDB(t)
	sub := seedSubscriber(t, db, entitlements.PlanPlus)
	meter := NewMeter(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := meter.Record(ctx, sub.ID, entitlements.FeatureBankSync); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	var counter models.UsageCounter
	err := db.Where("subscriber_id = ? AND feature = ? AND day = ?",
		sub.ID, entitlements.FeatureBankSync, models.UsageDay(time.Now())).
		First(&counter).Error
	if err != nil {
		t.Fatalf("load counter: %v", err)
	}
	if counter.Count != 3 {
		t.Errorf("count = %d, want 3", counter.Count)
	}
}

func TestMeterRecordAndCheckEnforcesCap(t *testing.T) {
	db := integrationDB(t)
	sub := seedSubscriber(t, db, entitlements.PlanFree)
	meter := NewMeter(db)
	ctx := context.Background()

	// Free tier allows one CSV export per day.
	ok, err := meter.RecordAndCheck(ctx, sub.ID, entitlements.FeatureCSVExport)
	if err != nil {
		t.Fatalf("first RecordAndCheck: %v", err)
	}
	if !ok {
		t.Fatal("first use denied")
	}

	ok, err = meter.RecordAndCheck(ctx, sub.ID, entitlements.FeatureCSVExport)
	if err != nil {
		t.Fatalf("second RecordAndCheck: %v", err)
	}
	if ok {
		t.Fatal("second use allowed past the cap")
	}
}

func TestMeterRecordAndCheckFeatureNotOnPlan(t *testing.T) {
	db := integrationDB(t)
	sub := seedSubscriber(t, db, entitlements.PlanFree)
	meter := NewMeter(db)

	ok, err := meter.RecordAndCheck(context.Background(), sub.ID, entitlements.FeatureBankSync)
	if err != nil {
		t.Fatalf("RecordAndCheck: %v", err)
	}
	if ok {
		t.Fatal("zero-cap feature allowed")
	}
}

func TestMeterTopTierIsNeverCapped(t *testing.T) {
	db := integrationDB(t)
	sub := seedSubscriber(t, db, entitlements.PlanMax)
	meter := NewMeter(db)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := meter.RecordAndCheck(ctx, sub.ID, entitlements.FeatureCSVExport)
		if err != nil {
			t.Fatalf("RecordAndCheck %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("use %d denied on the top tier", i)
		}
	}
}

func TestMeterUsageListsAllFeatures(t *testing.T) {
	db := integrationDB(t)
	sub := seedSubscriber(t, db, entitlements.PlanPlus)
	meter := NewMeter(db)
	ctx := context.Background()

	if err := meter.Record(ctx, sub.ID, entitlements.FeatureAIInsights); err != nil {
		t.Fatalf("Record: %v", err)
	}

	usage, err := meter.Usage(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if len(usage) != len(entitlements.Features()) {
		t.Fatalf("features = %d, want %d", len(usage), len(entitlements.Features()))
	}
	byFeature := make(map[string]FeatureUsage, len(usage))
	for _, u := range usage {
		byFeature[u.Feature] = u
	}
	if got := byFeature[entitlements.FeatureAIInsights].Count; got != 1 {
		t.Errorf("ai_insights count = %d, want 1", got)
	}
	if got := byFeature[entitlements.FeatureBankSync].Count; got != 0 {
		t.Errorf("bank_sync count = %d, want 0", got)
	}
}
