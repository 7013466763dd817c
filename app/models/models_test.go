package models

import (
	"testing"
	"time"
)

func TestUsageDay(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			"utc midnight",
			time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			"2026-03-01",
		},
		{
			"late evening west of utc rolls forward",
			time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("UTC-1", -3600)),
			"2026-03-02",
		},
		{
			"early morning east of utc rolls back",
			time.Date(2026, 3, 1, 1, 0, 0, 0, time.FixedZone("UTC+9", 9*3600)),
			"2026-02-28",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := UsageDay(tc.in); got != tc.want {
				t.Errorf("UsageDay(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestHashAPIToken(t *testing.T) {
	a := HashAPIToken("tok_secret")
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
	if HashAPIToken("  tok_secret  ") != a {
		t.Error("surrounding whitespace changes the hash")
	}
	if HashAPIToken("tok_other") == a {
		t.Error("distinct tokens collide")
	}
}
