// Package types defines the shared domain model for the subsync platform:
// the user profile row, the subscription plan/status enums, partial-update
// semantics for the profile store, the AppError taxonomy, and context helpers.
package types

import (
	"time"
)

// Plan identifies the paid tier a profile is subscribed to.
// PlanNone means no paid plan is active; it is persisted as NULL.
type Plan string

const (
	PlanNone Plan = ""
	PlanPro  Plan = "pro"
)

// Monthly usage quotas per tier.
const (
	FreeUsageLimit = 1000
	ProUsageLimit  = 10000
)

// UsageLimit returns the monthly usage quota dictated by the plan.
// The quota is fully determined by the plan; no other values are valid.
func (p Plan) UsageLimit() int {
	if p == PlanPro {
		return ProUsageLimit
	}
	return FreeUsageLimit
}

// SubscriptionStatus is the local three-state subscription model.
// Exactly one status holds at any time.
type SubscriptionStatus string

const (
	// StatusActiveRecurring: paid and set to renew at period end.
	StatusActiveRecurring SubscriptionStatus = "active_recurring"
	// StatusActiveEnding: paid, cancellation scheduled for period end.
	StatusActiveEnding SubscriptionStatus = "active_ending"
	// StatusInactive: no paid access.
	StatusInactive SubscriptionStatus = "inactive"
)

// IsPaid reports whether the status grants paid access.
func (s SubscriptionStatus) IsPaid() bool {
	return s == StatusActiveRecurring || s == StatusActiveEnding
}

// UserProfile is one row per caller identity, keyed by the identity
// provider's user id. It is mutated exclusively by billing webhook handlers,
// the downgrade endpoints, and the debug reset endpoint; it is never
// hard-deleted (identity "user deleted" events are logged only, to preserve
// billing history).
//
// Invariants:
//   - Plan == PlanPro iff Status is paid; Status == inactive implies PlanNone.
//   - MonthlyUsageLimit always equals Plan.UsageLimit().
//   - PolarCustomerID is sticky: ordinary webhook processing never clears
//     it. Only an immediate cancellation or a full reset does.
type UserProfile struct {
	ID                  string             `json:"id"`
	ClerkUserID         string             `json:"clerk_user_id"`
	Plan                Plan               `json:"subscription_plan"`
	Status              SubscriptionStatus `json:"subscription_status"`
	MonthlyUsageLimit   int                `json:"monthly_usage_limit"`
	TrialEndsAt         *time.Time         `json:"trial_ends_at,omitempty"`
	LastActiveAt        time.Time          `json:"last_active_date"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	PolarCustomerID     string             `json:"polar_customer_id,omitempty"`
	PolarSubscriptionID string             `json:"polar_subscription_id,omitempty"`
	CurrentPeriodEnd    *time.Time         `json:"current_period_end,omitempty"`
}

// ProfileUpdate carries a partial update for a profile row. Only fields whose
// pointer is non-nil are written; nil means "leave unchanged". Clearing a
// nullable column requires the explicit Clear* sentinel -- omission never
// clears.
type ProfileUpdate struct {
	Plan              *Plan
	Status            *SubscriptionStatus
	MonthlyUsageLimit *int
	TrialEndsAt       *time.Time
	LastActiveAt      *time.Time

	PolarCustomerID     *string
	PolarSubscriptionID *string
	CurrentPeriodEnd    *time.Time

	ClearPolarCustomerID     bool
	ClearPolarSubscriptionID bool
	ClearCurrentPeriodEnd    bool
	ClearTrialEndsAt         bool
}

// IsZero reports whether the update would write nothing.
func (u ProfileUpdate) IsZero() bool {
	return u.Plan == nil &&
		u.Status == nil &&
		u.MonthlyUsageLimit == nil &&
		u.TrialEndsAt == nil &&
		u.LastActiveAt == nil &&
		u.PolarCustomerID == nil &&
		u.PolarSubscriptionID == nil &&
		u.CurrentPeriodEnd == nil &&
		!u.ClearPolarCustomerID &&
		!u.ClearPolarSubscriptionID &&
		!u.ClearCurrentPeriodEnd &&
		!u.ClearTrialEndsAt
}

// Pointer helpers for building ProfileUpdate literals without intermediate
// variables.
func PlanPtr(p Plan) *Plan                               { return &p }
func StatusPtr(s SubscriptionStatus) *SubscriptionStatus { return &s }
func IntPtr(i int) *int                                  { return &i }
func StrPtr(s string) *string                            { return &s }
func TimePtr(t time.Time) *time.Time                     { return &t }

// DefaultProfileUpdate returns the update that restores a profile to the
// free-tier defaults, clearing every billing-provider linkage. Used by the
// immediate-cancellation path and the debug reset endpoint.
func DefaultProfileUpdate() ProfileUpdate {
	return ProfileUpdate{
		Plan:                     PlanPtr(PlanNone),
		Status:                   StatusPtr(StatusInactive),
		MonthlyUsageLimit:        IntPtr(FreeUsageLimit),
		ClearPolarCustomerID:     true,
		ClearPolarSubscriptionID: true,
		ClearCurrentPeriodEnd:    true,
		ClearTrialEndsAt:         true,
	}
}
