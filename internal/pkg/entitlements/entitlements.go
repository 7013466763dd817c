package entitlements

import "strings"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPlus Plan = "plus"
	PlanMax  Plan = "max"
)

// Metered features. Each has a per-day cap per plan.
const (
	FeatureAIInsights = "ai_insights"
	FeatureBankSync   = "bank_sync"
	FeatureESGReport  = "esg_report"
	FeatureCSVExport  = "csv_export"
)

// Unlimited marks a feature without a daily cap on a plan. A cap of zero
// means the feature is not available on that plan at all.
const Unlimited = -1

// dailyLimits is loaded once at build time and never mutated. Changing a
// cap requires a deployment.
var dailyLimits = map[Plan]map[string]int{
	PlanFree: {
		FeatureAIInsights: 5,
		FeatureBankSync:   0,
		FeatureESGReport:  3,
		FeatureCSVExport:  1,
	},
	PlanPlus: {
		FeatureAIInsights: 50,
		FeatureBankSync:   10,
		FeatureESGReport:  Unlimited,
		FeatureCSVExport:  10,
	},
	PlanMax: {
		FeatureAIInsights: Unlimited,
		FeatureBankSync:   Unlimited,
		FeatureESGReport:  Unlimited,
		FeatureCSVExport:  Unlimited,
	},
}

// Normalize maps arbitrary input to a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPlus:
		return PlanPlus
	case PlanMax:
		return PlanMax
	default:
		return PlanFree
	}
}

// Rank orders plans for upgrade comparisons: free < plus < max.
func Rank(plan Plan) int {
	switch plan {
	case PlanMax:
		return 2
	case PlanPlus:
		return 1
	default:
		return 0
	}
}

// DailyLimit returns the per-day cap for a feature on a plan. Unknown
// features are unavailable (cap 0); the top plan is always unlimited.
func DailyLimit(plan Plan, feature string) int {
	if plan == PlanMax {
		return Unlimited
	}
	limits, ok := dailyLimits[plan]
	if !ok {
		limits = dailyLimits[PlanFree]
	}
	cap, ok := limits[feature]
	if !ok {
		return 0
	}
	return cap
}

// Features lists all metered features in a stable order.
func Features() []string {
	return []string{FeatureAIInsights, FeatureBankSync, FeatureESGReport, FeatureCSVExport}
}
