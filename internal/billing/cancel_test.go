package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsImmediateCancellation(t *testing.T) {
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		t := base.Add(d)
		return &t
	}

	tests := []struct {
		name              string
		status            string
		cancelAtPeriodEnd bool
		canceledAt        *time.Time
		endsAt            *time.Time
		want              bool
	}{
		{"ends right at cancel", "canceled", false, at(0), at(0), true},
		{"ends 30s after cancel", "canceled", false, at(0), at(30 * time.Second), true},
		{"ends 59s after cancel", "canceled", false, at(0), at(59 * time.Second), true},
		{"ends exactly 60s after cancel", "canceled", false, at(0), at(60 * time.Second), false},
		{"ends a month after cancel", "canceled", false, at(0), at(30 * 24 * time.Hour), false},
		{"clock skew, ends before cancel", "canceled", false, at(10 * time.Second), at(0), true},
		{"british spelling", "cancelled", false, at(0), at(5 * time.Second), true},
		{"scheduled cancel never immediate", "canceled", true, at(0), at(0), false},
		{"active status never immediate", "active", false, at(0), at(0), false},
		{"missing canceledAt", "canceled", false, nil, at(0), false},
		{"missing endsAt", "canceled", false, at(0), nil, false},
		{"both timestamps missing", "canceled", false, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsImmediateCancellation(tt.status, tt.cancelAtPeriodEnd, tt.canceledAt, tt.endsAt)
			assert.Equal(t, tt.want, got)
		})
	}
}
