package entitlements

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "plus", want: PlanPlus},
		{in: "max", want: PlanMax},
		{in: " MAX ", want: PlanMax},
		{in: "invalid", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRank(t *testing.T) {
	if Rank(PlanFree) >= Rank(PlanPlus) {
		t.Fatalf("expected plus to outrank free")
	}
	if Rank(PlanPlus) >= Rank(PlanMax) {
		t.Fatalf("expected max to outrank plus")
	}
}

func TestDailyLimit(t *testing.T) {
	if got := DailyLimit(PlanFree, FeatureBankSync); got != 0 {
		t.Fatalf("expected bank sync to be unavailable on free, got %d", got)
	}
	if got := DailyLimit(PlanFree, FeatureAIInsights); got != 5 {
		t.Fatalf("expected free ai insights cap of 5, got %d", got)
	}
	if got := DailyLimit(PlanPlus, FeatureESGReport); got != Unlimited {
		t.Fatalf("expected plus esg report to be unlimited, got %d", got)
	}
	// Top plan is always unlimited, even for unknown features.
	if got := DailyLimit(PlanMax, "not_a_feature"); got != Unlimited {
		t.Fatalf("expected max to be unlimited for any feature, got %d", got)
	}
	// Unknown features are unavailable below the top plan.
	if got := DailyLimit(PlanPlus, "not_a_feature"); got != 0 {
		t.Fatalf("expected unknown feature to be unavailable, got %d", got)
	}
}
