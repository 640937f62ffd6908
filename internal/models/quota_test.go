package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestQuota_Remaining(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		used     string
		expected string
	}{
		{
			name:     "untouched quota",
			total:    "10.000000",
			used:     "0.000000",
			expected: "10",
		},
		{
			name:     "partially used",
			total:    "10.000000",
			used:     "9.999998",
			expected: "0.000002",
		},
		{
			name:     "overdraft goes negative",
			total:    "10.000000",
			used:     "10.000001",
			expected: "-0.000001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Quota{
				TotalQuota: decimal.RequireFromString(tt.total),
				UsedQuota:  decimal.RequireFromString(tt.used),
			}
			if got := q.Remaining(); !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Remaining() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestQuota_UsagePercent(t *testing.T) {
	q := &Quota{
		TotalQuota: decimal.RequireFromString("10"),
		UsedQuota:  decimal.RequireFromString("2.5"),
	}
	if got := q.UsagePercent(); got != 25.0 {
		t.Errorf("UsagePercent() = %v, want 25", got)
	}

	// Zero total reads as fully used
	q = &Quota{TotalQuota: decimal.Zero, UsedQuota: decimal.Zero}
	if got := q.UsagePercent(); got != 100.0 {
		t.Errorf("UsagePercent() with zero total = %v, want 100", got)
	}
}

func TestQuota_IsUsable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		isActive  bool
		deletedAt *time.Time
		expected  bool
	}{
		{
			name:     "active and not deleted",
			isActive: true,
			expected: true,
		},
		{
			name:     "inactive",
			isActive: false,
			expected: false,
		},
		{
			name:      "soft deleted",
			isActive:  true,
			deletedAt: &now,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Quota{IsActive: tt.isActive, DeletedAt: tt.deletedAt}
			if got := q.IsUsable(); got != tt.expected {
				t.Errorf("IsUsable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQuota_MaskedKey(t *testing.T) {
	q := &Quota{KeySuffix: "ab3d"}
	masked := q.MaskedKey()

	if !strings.HasPrefix(masked, APIKeyPrefix) {
		t.Errorf("MaskedKey() = %q, want %q prefix", masked, APIKeyPrefix)
	}
	if !strings.HasSuffix(masked, "ab3d") {
		t.Errorf("MaskedKey() = %q, want ab3d suffix", masked)
	}
	if strings.Contains(masked, "ab3d*") {
		t.Errorf("MaskedKey() suffix should be the final characters: %q", masked)
	}

	// Without a suffix there is nothing to show
	q = &Quota{}
	if got := q.MaskedKey(); got != "" {
		t.Errorf("MaskedKey() on empty suffix = %q, want empty", got)
	}
}
