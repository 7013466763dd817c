package billing

import (
	"testing"

	"github.com/finpilot/billing/internal/pkg/entitlements"
)

func TestPlanForSlug(t *testing.T) {
	tests := []struct {
		in   string
		want entitlements.Plan
	}{
		{in: "plus", want: entitlements.PlanPlus},
		{in: "plus_monthly", want: entitlements.PlanPlus},
		{in: "plus_yearly", want: entitlements.PlanPlus},
		{in: "MAX_MONTHLY", want: entitlements.PlanMax},
		{in: "max", want: entitlements.PlanMax},
		// Typos never grant entitlements.
		{in: "mxa_monthly", want: entitlements.PlanFree},
		{in: "", want: entitlements.PlanFree},
		{in: "enterprise", want: entitlements.PlanFree},
	}

	for _, tt := range tests {
		if got := PlanForSlug(tt.in); got != tt.want {
			t.Fatalf("PlanForSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKnownPlanSlug(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "free", want: true},
		{in: "plus_monthly", want: true},
		{in: " MAX_YEARLY ", want: true},
		{in: "mxa_monthly", want: false},
		{in: "plus-monthly", want: false},
		{in: "", want: false},
	}

	for _, tt := range tests {
		if got := KnownPlanSlug(tt.in); got != tt.want {
			t.Fatalf("KnownPlanSlug(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
