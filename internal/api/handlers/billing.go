// This file implements the synchronous billing actions a user can take on
// their own subscription: starting a checkout, scheduling or reverting a
// period-end downgrade, and opening the provider's self-serve portal.
//
// Each action performs the remote provider call first and the local store
// mutation second. There is no distributed transaction: if the local write
// fails after a successful remote call, the next webhook delivery reconciles
// the drift.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/billing"
	"subsync/internal/core"
	"subsync/internal/external"
	"subsync/internal/types"
)

// ProfileActor is the subset of the profile store the billing actions need.
type ProfileActor interface {
	GetOrCreate(ctx context.Context, clerkUserID string) (*types.UserProfile, error)
	Update(ctx context.Context, clerkUserID string, u types.ProfileUpdate) (*types.UserProfile, error)
}

// --- Request/Response Models ---

// CheckoutRequest is the body for POST /billing/create-checkout. UserID must
// match the authenticated caller; it is carried explicitly so the handler can
// enforce "you may only act on your own subscription" rather than trusting
// the client silently.
type CheckoutRequest struct {
	UserID string     `json:"user_id" validate:"required"`
	Plan   types.Plan `json:"plan" validate:"required,oneof=pro"`
}

// CheckoutActionResponse is the response for POST /billing/create-checkout.
// Exactly one of CheckoutURL or Updated is meaningful: a new customer gets a
// hosted checkout URL, an existing subscriber gets an in-place product switch.
type CheckoutActionResponse struct {
	CheckoutURL string `json:"checkout_url,omitempty"`
	Updated     bool   `json:"updated,omitempty"`
	Message     string `json:"message,omitempty"`
}

// DowngradeRequest is the body for the schedule/cancel downgrade endpoints.
type DowngradeRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// DowngradeResponse reports the post-action subscription state.
type DowngradeResponse struct {
	Status           types.SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodEnd *string                  `json:"current_period_end,omitempty"`
}

// PortalRequest is the body for POST /billing/customer-portal.
type PortalRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// PortalResponse carries the minted portal session URL.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// --- Billing Handler ---

// BillingHandler handles synchronous billing actions initiated by the user.
type BillingHandler struct {
	service      external.BillingService
	identity     external.IdentityService
	profiles     ProfileActor
	validator    *core.Validator
	appURL       string
	proProductID string
	logger       *slog.Logger
}

// NewBillingHandler creates a new BillingHandler with the provided
// dependencies. appURL is the public application URL checkout redirects back
// to; proProductID is the provider product backing the paid tier.
func NewBillingHandler(
	service external.BillingService,
	identity external.IdentityService,
	profiles ProfileActor,
	v *core.Validator,
	appURL string,
	proProductID string,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		service:      service,
		identity:     identity,
		profiles:     profiles,
		validator:    v,
		appURL:       appURL,
		proProductID: proProductID,
		logger:       logger,
	}
}

// RegisterRoutes mounts the billing action endpoints. All of them sit behind
// auth middleware via the parent router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/create-checkout", h.CreateCheckout)
	r.Post("/billing/schedule-downgrade", h.ScheduleDowngrade)
	r.Post("/billing/cancel-downgrade", h.CancelDowngrade)
	r.Post("/billing/customer-portal", h.CustomerPortal)
}

// authorize decodes nothing; it enforces the ownership rule shared by every
// billing action: the authenticated caller must be the user named in the
// request body, checked before any store or provider call is made.
func authorize(r *http.Request, requestedUserID string) error {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		return types.NewAppError(types.ErrCodeAuthRequired, "authentication required", nil)
	}
	if actor.UserID != requestedUserID {
		return types.NewAppError(
			types.ErrCodePermissionUserMismatch,
			"you may only act on your own subscription",
			nil,
		)
	}
	return nil
}

// CreateCheckout handles POST /billing/create-checkout.
//
// Two outcomes:
//   - No active paid subscription: a hosted checkout session is created and
//     its URL returned. The caller id is stamped into session metadata so the
//     completion webhook can correlate back to the profile.
//   - Active paid subscription with a known subscription id: the provider
//     subscription is switched to the requested product in place, avoiding a
//     second concurrent subscription and duplicate billing. Requesting the
//     plan already held is rejected outright.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		core.Error(w, r, err)
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if profile.Status.IsPaid() {
		if profile.Plan == req.Plan {
			// Buying the plan you already have would mint a second checkout
			// against the same subscription.
			core.Error(w, r, types.NewAppError(
				types.ErrCodeConflictAlreadyPro,
				"you are already subscribed to this plan",
				nil,
			))
			return
		}
		if profile.PolarSubscriptionID == "" {
			// Paid but the subscription id has not been backfilled yet
			// (checkout completed moments ago). Starting a second checkout
			// now would double-bill.
			core.Error(w, r, types.NewAppError(
				types.ErrCodeConflictAlreadyPro,
				"subscription is still being set up, try again shortly",
				nil,
			))
			return
		}

		sub, err := h.service.UpdateSubscription(r.Context(), profile.PolarSubscriptionID, external.SubscriptionUpdate{
			ProductID: types.StrPtr(h.proProductID),
		})
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to switch subscription product",
				"clerk_user_id", req.UserID,
				"subscription_id", profile.PolarSubscriptionID,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}

		status := billing.MapStatus(sub.Status, sub.CancelAtPeriodEnd)
		plan := billing.PlanForStatus(status)
		update := types.ProfileUpdate{
			Plan:              types.PlanPtr(plan),
			Status:            types.StatusPtr(status),
			MonthlyUsageLimit: types.IntPtr(plan.UsageLimit()),
		}
		if sub.CurrentPeriodEnd != nil {
			update.CurrentPeriodEnd = sub.CurrentPeriodEnd
		}
		if _, err := h.profiles.Update(r.Context(), req.UserID, update); err != nil {
			core.Error(w, r, err)
			return
		}

		core.OK(w, r, CheckoutActionResponse{
			Updated: true,
			Message: "subscription updated",
		})
		return
	}

	// New customer flow: seed the checkout with the user's email so the
	// provider creates a matching customer record.
	email := ""
	if user, err := h.identity.GetUser(r.Context(), req.UserID); err == nil {
		email = user.Email
	} else {
		h.logger.WarnContext(r.Context(), "could not fetch user email for checkout",
			"clerk_user_id", req.UserID,
			"error", err,
		)
	}

	checkout, err := h.service.CreateCheckout(r.Context(), external.CheckoutParams{
		ProductID:     h.proProductID,
		ClerkUserID:   req.UserID,
		CustomerEmail: email,
		SuccessURL:    h.appURL + "/billing?success=true",
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"clerk_user_id", req.UserID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, CheckoutActionResponse{CheckoutURL: checkout.URL})
}

// ScheduleDowngrade handles POST /billing/schedule-downgrade: flags the
// provider subscription to cancel at period end, then flips the local status
// to active_ending. Plan and quota stay at the paid tier until expiry.
func (h *BillingHandler) ScheduleDowngrade(w http.ResponseWriter, r *http.Request) {
	var req DowngradeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		core.Error(w, r, err)
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if profile.Status == types.StatusActiveEnding {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictAlreadyScheduled,
			"cancellation is already scheduled",
			nil,
		))
		return
	}
	if !profile.Status.IsPaid() || profile.PolarSubscriptionID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"no active paid subscription",
			nil,
		))
		return
	}

	cancel := true
	sub, err := h.service.UpdateSubscription(r.Context(), profile.PolarSubscriptionID, external.SubscriptionUpdate{
		CancelAtPeriodEnd: &cancel,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to schedule cancellation",
			"clerk_user_id", req.UserID,
			"subscription_id", profile.PolarSubscriptionID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	update := types.ProfileUpdate{Status: types.StatusPtr(types.StatusActiveEnding)}
	if sub.CurrentPeriodEnd != nil {
		update.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	updated, err := h.profiles.Update(r.Context(), req.UserID, update)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, downgradeResponse(updated))
}

// CancelDowngrade handles POST /billing/cancel-downgrade: clears the
// provider's cancel-at-period-end flag and restores active_recurring.
func (h *BillingHandler) CancelDowngrade(w http.ResponseWriter, r *http.Request) {
	var req DowngradeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		core.Error(w, r, err)
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if profile.Status != types.StatusActiveEnding || profile.PolarSubscriptionID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictNotScheduled,
			"no cancellation is scheduled",
			nil,
		))
		return
	}

	cancel := false
	_, err = h.service.UpdateSubscription(r.Context(), profile.PolarSubscriptionID, external.SubscriptionUpdate{
		CancelAtPeriodEnd: &cancel,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to revert scheduled cancellation",
			"clerk_user_id", req.UserID,
			"subscription_id", profile.PolarSubscriptionID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	updated, err := h.profiles.Update(r.Context(), req.UserID, types.ProfileUpdate{
		Status: types.StatusPtr(types.StatusActiveRecurring),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, downgradeResponse(updated))
}

// CustomerPortal handles POST /billing/customer-portal: mints a self-serve
// billing portal session for the stored provider customer.
func (h *BillingHandler) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		core.Error(w, r, err)
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if profile.PolarCustomerID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"no billing account exists for this user",
			nil,
		))
		return
	}

	url, err := h.service.CustomerPortalURL(r.Context(), profile.PolarCustomerID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			"clerk_user_id", req.UserID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, PortalResponse{PortalURL: url})
}

func downgradeResponse(p *types.UserProfile) DowngradeResponse {
	resp := DowngradeResponse{Status: p.Status}
	if p.CurrentPeriodEnd != nil {
		s := p.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		resp.CurrentPeriodEnd = &s
	}
	return resp
}
