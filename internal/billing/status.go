// Package billing holds the pure subscription-state logic: mapping provider
// subscription statuses onto the local three-state model and detecting
// immediate cancellations. No I/O happens here; handlers feed it decoded
// webhook fields and persist the result.
package billing

import (
	"subsync/internal/types"
)

// MapStatus folds a provider subscription status and its cancel-at-period-end
// flag into the local three-state model. The mapping is total: any status not
// explicitly listed maps to inactive so that an unrecognized provider status
// can never grant paid access.
func MapStatus(providerStatus string, cancelAtPeriodEnd bool) types.SubscriptionStatus {
	switch providerStatus {
	case "active":
		if cancelAtPeriodEnd {
			return types.StatusActiveEnding
		}
		return types.StatusActiveRecurring
	case "incomplete", "trialing":
		// Payment still settling or in trial. Treated as paid until the
		// provider says otherwise; a failure arrives as its own event.
		return types.StatusActiveRecurring
	case "canceled", "cancelled", "incomplete_expired", "unpaid", "past_due":
		return types.StatusInactive
	default:
		return types.StatusInactive
	}
}

// PlanForStatus returns the plan implied by a local status: paid statuses
// carry the pro plan, inactive carries none.
func PlanForStatus(s types.SubscriptionStatus) types.Plan {
	if s.IsPaid() {
		return types.PlanPro
	}
	return types.PlanNone
}
