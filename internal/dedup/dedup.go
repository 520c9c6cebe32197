// Package dedup provides idempotency tracking for webhook events. A Deduper
// answers, atomically, whether a given event key is being seen for the first
// time; handlers drop anything that isn't.
package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Deduper records processed event keys. MarkProcessed is an atomic
// check-and-set: it returns first=true exactly once per key across all
// callers, so concurrent deliveries of the same event cannot both proceed.
type Deduper interface {
	MarkProcessed(ctx context.Context, key string) (first bool, err error)
}

// ImmediateCancelKey derives the dedup key for an immediate cancellation.
// It deliberately omits any timestamp so that the provider resending the
// cancellation under different event kinds still collapses to one key.
func ImmediateCancelKey(subscriptionID string) string {
	return "immediate-cancel-" + subscriptionID
}

// EventKey derives the dedup key for a regular subscription event. The
// provider's modified-at timestamp distinguishes genuine state changes from
// redeliveries; when it is absent the delivery time is used, which makes the
// key unique and effectively disables dedup for that event.
func EventKey(kind, subscriptionID string, modifiedAt *time.Time) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if modifiedAt != nil {
		ts = strconv.FormatInt(modifiedAt.UnixMilli(), 10)
	}
	return fmt.Sprintf("%s-%s-%s", kind, subscriptionID, ts)
}
