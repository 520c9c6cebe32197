package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"subsync/internal/types"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name              string
		providerStatus    string
		cancelAtPeriodEnd bool
		want              types.SubscriptionStatus
	}{
		{"active renewing", "active", false, types.StatusActiveRecurring},
		{"active with scheduled cancel", "active", true, types.StatusActiveEnding},
		{"incomplete treated as paid", "incomplete", false, types.StatusActiveRecurring},
		{"trialing treated as paid", "trialing", false, types.StatusActiveRecurring},
		{"canceled", "canceled", false, types.StatusInactive},
		{"cancelled british spelling", "cancelled", false, types.StatusInactive},
		{"incomplete_expired", "incomplete_expired", false, types.StatusInactive},
		{"unpaid", "unpaid", false, types.StatusInactive},
		{"past_due", "past_due", false, types.StatusInactive},
		{"unknown status never grants access", "some_future_status", false, types.StatusInactive},
		{"unknown status with cancel flag", "some_future_status", true, types.StatusInactive},
		{"empty status", "", false, types.StatusInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapStatus(tt.providerStatus, tt.cancelAtPeriodEnd)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapStatus_PaidImpliesPro(t *testing.T) {
	// Every status the mapper can produce must agree with the plan rule:
	// paid statuses carry pro, inactive carries none.
	statuses := []string{"active", "incomplete", "trialing", "canceled", "unpaid", "past_due", "bogus"}
	for _, ps := range statuses {
		for _, cancel := range []bool{false, true} {
			st := MapStatus(ps, cancel)
			plan := PlanForStatus(st)
			if st.IsPaid() {
				assert.Equal(t, types.PlanPro, plan, "status %q cancel=%v", ps, cancel)
			} else {
				assert.Equal(t, types.PlanNone, plan, "status %q cancel=%v", ps, cancel)
			}
		}
	}
}

func TestPlanUsageLimits(t *testing.T) {
	assert.Equal(t, 10000, types.PlanPro.UsageLimit())
	assert.Equal(t, 1000, types.PlanNone.UsageLimit())
	assert.Equal(t, 1000, types.Plan("unknown").UsageLimit())
}
