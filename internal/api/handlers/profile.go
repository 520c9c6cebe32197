// This file implements the subscription read endpoints and the debug
// endpoints used to inspect and reset billing state during development.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/core"
	"subsync/internal/external"
	"subsync/internal/types"
)

// SubscriptionResponse is the caller-facing view of their subscription state.
type SubscriptionResponse struct {
	Plan              types.Plan               `json:"plan"`
	Status            types.SubscriptionStatus `json:"subscription_status"`
	MonthlyUsageLimit int                      `json:"monthly_usage_limit"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end,omitempty"`
	HasBillingAccount bool                     `json:"has_billing_account"`
}

// DebugSubscriptionResponse pairs the local row with the provider's live view
// of the same subscription, so state drift is visible at a glance.
type DebugSubscriptionResponse struct {
	Local    *types.UserProfile     `json:"local"`
	Provider *external.Subscription `json:"provider,omitempty"`
	Drift    []string               `json:"drift,omitempty"`
}

// ProfileHandler serves the subscription read and debug endpoints for the
// authenticated caller.
type ProfileHandler struct {
	profiles ProfileActor
	service  external.BillingService
	logger   *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler with the provided
// dependencies.
func NewProfileHandler(profiles ProfileActor, service external.BillingService, logger *slog.Logger) *ProfileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileHandler{
		profiles: profiles,
		service:  service,
		logger:   logger,
	}
}

// RegisterRoutes mounts the subscription read and debug endpoints behind auth
// middleware.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/user/subscription", h.GetSubscription)
	r.Get("/debug/subscription", h.DebugSubscription)
	r.Post("/debug/reset-user", h.ResetUser)
}

// GetSubscription handles GET /user/subscription. The profile row is created
// lazily with free-tier defaults on first access, and last activity is
// refreshed as a side effect.
func (h *ProfileHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthRequired, "authentication required", nil))
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, SubscriptionResponse{
		Plan:              profile.Plan,
		Status:            profile.Status,
		MonthlyUsageLimit: profile.MonthlyUsageLimit,
		CurrentPeriodEnd:  profile.CurrentPeriodEnd,
		HasBillingAccount: profile.PolarCustomerID != "",
	})
}

// DebugSubscription handles GET /debug/subscription: returns the local row
// alongside the provider's live subscription snapshot and a list of drift
// observations. Webhook lag makes transient drift normal; persistent drift
// points at a missed or dropped event.
func (h *ProfileHandler) DebugSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthRequired, "authentication required", nil))
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := DebugSubscriptionResponse{Local: profile}

	if profile.PolarSubscriptionID != "" {
		sub, err := h.service.GetSubscription(r.Context(), profile.PolarSubscriptionID)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundSubscription {
				resp.Drift = append(resp.Drift, "local row references a subscription the provider no longer knows")
			} else {
				core.Error(w, r, err)
				return
			}
		} else {
			resp.Provider = sub
			resp.Drift = append(resp.Drift, driftObservations(profile, sub)...)
		}
	} else if profile.Status.IsPaid() {
		resp.Drift = append(resp.Drift, "paid status without a subscription id, backfill pending")
	}

	if len(resp.Drift) > 0 {
		h.logger.InfoContext(r.Context(), "billing state drift detected during read",
			"clerk_user_id", actor.UserID,
			"drift", resp.Drift,
		)
	}

	core.OK(w, r, resp)
}

// ResetUser handles POST /debug/reset-user: restores the caller's profile to
// free-tier defaults and clears every provider linkage. This endpoint and the
// immediate-cancellation path are the only writers allowed to clear the
// provider customer id.
func (h *ProfileHandler) ResetUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthRequired, "authentication required", nil))
		return
	}

	profile, err := h.profiles.Update(r.Context(), actor.UserID, types.DefaultProfileUpdate())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "reset profile to defaults", "clerk_user_id", actor.UserID)
	core.OK(w, r, profile)
}

// driftObservations compares the local row against the provider snapshot.
func driftObservations(p *types.UserProfile, sub *external.Subscription) []string {
	var drift []string
	if sub.Status == "active" && !p.Status.IsPaid() {
		drift = append(drift, "provider subscription is active but local status is inactive")
	}
	if sub.Status != "active" && p.Status.IsPaid() {
		drift = append(drift, "local status grants paid access but provider subscription is "+sub.Status)
	}
	if sub.CancelAtPeriodEnd && p.Status == types.StatusActiveRecurring {
		drift = append(drift, "provider has cancellation scheduled but local status is active_recurring")
	}
	if p.PolarCustomerID != "" && sub.CustomerID != "" && p.PolarCustomerID != sub.CustomerID {
		drift = append(drift, "customer id mismatch between local row and provider")
	}
	return drift
}
