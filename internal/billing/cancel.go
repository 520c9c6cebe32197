package billing

import (
	"time"
)

// ImmediateCancelWindow is the maximum distance between a subscription's
// canceled-at and ends-at timestamps for the cancellation to count as
// immediate. Period-end cancellations have ends-at far in the future;
// immediate ones end within moments of the cancel call.
const ImmediateCancelWindow = 60 * time.Second

// IsImmediateCancellation reports whether a canceled subscription ended right
// away rather than running out its paid period. All four conditions must
// hold: the status is canceled, cancel-at-period-end is false, and both
// timestamps are present and within ImmediateCancelWindow of each other.
func IsImmediateCancellation(status string, cancelAtPeriodEnd bool, canceledAt, endsAt *time.Time) bool {
	if status != "canceled" && status != "cancelled" {
		return false
	}
	if cancelAtPeriodEnd {
		return false
	}
	if canceledAt == nil || endsAt == nil {
		return false
	}
	diff := endsAt.Sub(*canceledAt)
	if diff < 0 {
		diff = -diff
	}
	return diff < ImmediateCancelWindow
}
