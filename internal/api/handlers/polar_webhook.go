// Package handlers contains the HTTP handler implementations for the subsync API.
//
// This file implements the Polar webhook handler: the reconciliation entry
// point that folds asynchronous billing events into the local three-state
// subscription model on user_profiles.
//
// The handler is NOT behind auth middleware -- it is called directly by Polar.
// Security is provided by verifying the webhook signature header using
// HMAC-SHA256.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/billing"
	"subsync/internal/core"
	"subsync/internal/dedup"
	"subsync/internal/external"
	"subsync/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload (64 KB).
// Provider payloads are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// polarSignatureHeader carries the hex HMAC-SHA256 signature of the raw body.
const polarSignatureHeader = "Polar-Signature"

// ProfileReconciler is the subset of the profile store the webhook handler
// needs: resolve a profile from provider linkage and apply partial updates.
type ProfileReconciler interface {
	GetByPolarCustomerID(ctx context.Context, customerID string) (*types.UserProfile, error)
	Update(ctx context.Context, clerkUserID string, u types.ProfileUpdate) (*types.UserProfile, error)
}

// PolarWebhookHandler handles asynchronous billing events from Polar.
// It is unauthenticated (no JWT) but verifies the provider signature, and it
// is the only writer of subscription state driven by the provider.
type PolarWebhookHandler struct {
	verifier external.WebhookVerifier
	profiles ProfileReconciler
	deduper  dedup.Deduper
	locks    *userLock
	secret   types.SecretString
	logger   *slog.Logger
}

// NewPolarWebhookHandler creates a new PolarWebhookHandler with the provided
// dependencies.
func NewPolarWebhookHandler(
	verifier external.WebhookVerifier,
	profiles ProfileReconciler,
	deduper dedup.Deduper,
	secret types.SecretString,
	logger *slog.Logger,
) *PolarWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolarWebhookHandler{
		verifier: verifier,
		profiles: profiles,
		deduper:  deduper,
		locks:    newUserLock(),
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Polar webhook endpoint. This is separate from
// BillingHandler.RegisterRoutes because webhook routes are public (no auth
// middleware).
func (h *PolarWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/polar", h.Handle)
}

// Handle processes an incoming Polar webhook delivery:
//  1. Reads the raw body with a size limit.
//  2. Verifies the signature header against the signing secret.
//  3. Parses the event envelope.
//  4. Routes by event type; each route resolves the local user, runs the
//     dedup check, and applies a partial profile update under the user's lock.
//
// Business-rule rejections (unknown event type, missing fields, unresolvable
// user, duplicate delivery) are logged and acknowledged with 200 so the
// provider does not retry. Internal failures (store or dedup backend errors)
// return 500 so the provider redelivers.
func (h *PolarWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidEvent,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get(polarSignatureHeader)
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing webhook signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidEvent,
			"missing "+polarSignatureHeader+" header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event polarWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing billing webhook event",
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, nil)
}

// routeEvent dispatches the webhook event to the appropriate handler method
// based on the event type. Unhandled types are acknowledged without effect.
func (h *PolarWebhookHandler) routeEvent(ctx context.Context, event *polarWebhookEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventSubscriptionCreated:
		return h.handleSubscriptionCreated(ctx, event)

	case external.EventSubscriptionUpdated:
		return h.handleSubscriptionChanged(ctx, event, false)

	case external.EventSubscriptionCanceled:
		return h.handleSubscriptionChanged(ctx, event, true)

	case external.EventOrderPaid:
		return h.handleOrderPaid(ctx, event)

	case external.EventPaymentFailed:
		return h.handlePaymentFailed(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted processes checkout.completed events: the user has
// finished the hosted checkout flow, so the profile is promoted to the paid
// tier immediately. The subscription id is frequently absent at this point;
// order.paid backfills it shortly after.
func (h *PolarWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *polarWebhookEvent) error {
	var checkout polarCheckout
	if err := json.Unmarshal(event.Data, &checkout); err != nil {
		h.logger.WarnContext(ctx, "malformed checkout payload, skipping", "error", err)
		return nil
	}

	clerkUserID := checkout.Metadata["clerk_user_id"]
	if clerkUserID == "" {
		h.logger.WarnContext(ctx, "checkout event carries no user metadata, skipping",
			"checkout_id", checkout.ID,
		)
		return nil
	}

	unlock := h.locks.Lock(clerkUserID)
	defer unlock()

	first, err := h.deduper.MarkProcessed(ctx, dedup.EventKey(event.Type, checkout.ID, checkout.ModifiedAt))
	if err != nil {
		return err
	}
	if !first {
		h.logger.InfoContext(ctx, "duplicate checkout event, skipping", "checkout_id", checkout.ID)
		return nil
	}

	update := types.ProfileUpdate{
		Plan:                types.PlanPtr(types.PlanPro),
		Status:              types.StatusPtr(types.StatusActiveRecurring),
		MonthlyUsageLimit:   types.IntPtr(types.ProUsageLimit),
		PolarCustomerID:     types.StrPtr(checkout.CustomerID),
		PolarSubscriptionID: types.StrPtr(checkout.SubscriptionID),
	}
	return h.applyUpdate(ctx, clerkUserID, update, event.Type)
}

// handleSubscriptionCreated processes subscription.created events. The payload
// must carry the full subscription identity; an incomplete payload is dropped
// rather than guessed at.
func (h *PolarWebhookHandler) handleSubscriptionCreated(ctx context.Context, event *polarWebhookEvent) error {
	var sub polarSubscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		h.logger.WarnContext(ctx, "malformed subscription payload, skipping", "error", err)
		return nil
	}

	if sub.ID == "" || sub.Status == "" || sub.CustomerID == "" || sub.CurrentPeriodEnd == nil {
		h.logger.WarnContext(ctx, "incomplete subscription.created payload, skipping",
			"subscription_id", sub.ID,
		)
		return nil
	}

	clerkUserID, err := h.resolveUser(ctx, sub.Metadata, sub.CustomerID)
	if err != nil {
		return err
	}
	if clerkUserID == "" {
		h.logger.WarnContext(ctx, "cannot resolve user for subscription event, skipping",
			"subscription_id", sub.ID,
			"customer_id", sub.CustomerID,
		)
		return nil
	}

	unlock := h.locks.Lock(clerkUserID)
	defer unlock()

	first, err := h.deduper.MarkProcessed(ctx, dedup.EventKey(event.Type, sub.ID, sub.ModifiedAt))
	if err != nil {
		return err
	}
	if !first {
		h.logger.InfoContext(ctx, "duplicate subscription event, skipping", "subscription_id", sub.ID)
		return nil
	}

	status := billing.MapStatus(sub.Status, sub.CancelAtPeriodEnd)
	update := updateForStatus(status, &sub)
	return h.applyUpdate(ctx, clerkUserID, update, event.Type)
}

// handleSubscriptionChanged processes subscription.updated and
// subscription.canceled events. The two share the immediate-cancellation
// short circuit: a cancellation whose effective end lands within
// ImmediateCancelWindow of the cancel timestamp means the user opted out of
// the remainder of the period, so the profile is restored to free-tier
// defaults at once. Both event kinds key that path on the same dedup entry so
// the pair of deliveries Polar emits for one user action collapses into a
// single state change.
func (h *PolarWebhookHandler) handleSubscriptionChanged(ctx context.Context, event *polarWebhookEvent, canceled bool) error {
	var sub polarSubscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		h.logger.WarnContext(ctx, "malformed subscription payload, skipping", "error", err)
		return nil
	}
	if sub.ID == "" {
		h.logger.WarnContext(ctx, "subscription event missing id, skipping", "event_type", event.Type)
		return nil
	}

	clerkUserID, err := h.resolveUser(ctx, sub.Metadata, sub.CustomerID)
	if err != nil {
		return err
	}
	if clerkUserID == "" {
		h.logger.WarnContext(ctx, "cannot resolve user for subscription event, skipping",
			"subscription_id", sub.ID,
			"customer_id", sub.CustomerID,
		)
		return nil
	}

	unlock := h.locks.Lock(clerkUserID)
	defer unlock()

	// The immediate-cancellation check runs before the generic dedup key is
	// ever computed: its key is shared across updated/canceled deliveries so
	// whichever arrives first wins and the other becomes a no-op.
	if billing.IsImmediateCancellation(sub.Status, sub.CancelAtPeriodEnd, sub.CanceledAt, sub.EndsAt) {
		first, err := h.deduper.MarkProcessed(ctx, dedup.ImmediateCancelKey(sub.ID))
		if err != nil {
			return err
		}
		if !first {
			h.logger.InfoContext(ctx, "immediate cancellation already applied, skipping",
				"subscription_id", sub.ID,
			)
			return nil
		}
		h.logger.InfoContext(ctx, "applying immediate cancellation",
			"subscription_id", sub.ID,
			"clerk_user_id", clerkUserID,
		)
		return h.applyUpdate(ctx, clerkUserID, types.DefaultProfileUpdate(), event.Type)
	}

	first, err := h.deduper.MarkProcessed(ctx, dedup.EventKey(event.Type, sub.ID, sub.ModifiedAt))
	if err != nil {
		return err
	}
	if !first {
		h.logger.InfoContext(ctx, "duplicate subscription event, skipping", "subscription_id", sub.ID)
		return nil
	}

	var update types.ProfileUpdate
	switch {
	case canceled:
		// A non-immediate cancellation runs to the end of the paid period:
		// access continues, renewal stops. The period end already on the row
		// stays authoritative, so only the status flips.
		update = types.ProfileUpdate{
			Status: types.StatusPtr(types.StatusActiveEnding),
		}

	case sub.Status == "canceled" || sub.Status == "cancelled":
		update = inactiveUpdate()

	case sub.CancelAtPeriodEnd && sub.Status == "active":
		update = types.ProfileUpdate{
			Status:           types.StatusPtr(types.StatusActiveEnding),
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
		}

	default:
		update = updateForStatus(billing.MapStatus(sub.Status, sub.CancelAtPeriodEnd), &sub)
	}

	return h.applyUpdate(ctx, clerkUserID, update, event.Type)
}

// handleOrderPaid processes order.paid events. The embedded subscription
// snapshot is authoritative here: this is the event that reliably carries the
// subscription id after a checkout, so it backfills the linkage the checkout
// event could not.
func (h *PolarWebhookHandler) handleOrderPaid(ctx context.Context, event *polarWebhookEvent) error {
	var order polarOrder
	if err := json.Unmarshal(event.Data, &order); err != nil {
		h.logger.WarnContext(ctx, "malformed order payload, skipping", "error", err)
		return nil
	}
	sub := order.Subscription
	if sub == nil || sub.ID == "" {
		h.logger.WarnContext(ctx, "order event carries no subscription, skipping", "order_id", order.ID)
		return nil
	}

	metadata := order.Metadata
	if len(sub.Metadata) > 0 {
		metadata = sub.Metadata
	}
	customerID := order.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}

	clerkUserID, err := h.resolveUser(ctx, metadata, customerID)
	if err != nil {
		return err
	}
	if clerkUserID == "" {
		h.logger.WarnContext(ctx, "cannot resolve user for order event, skipping",
			"order_id", order.ID,
			"customer_id", customerID,
		)
		return nil
	}

	unlock := h.locks.Lock(clerkUserID)
	defer unlock()

	first, err := h.deduper.MarkProcessed(ctx, dedup.EventKey(event.Type, order.ID, order.ModifiedAt))
	if err != nil {
		return err
	}
	if !first {
		h.logger.InfoContext(ctx, "duplicate order event, skipping", "order_id", order.ID)
		return nil
	}

	if sub.CustomerID == "" {
		sub.CustomerID = customerID
	}
	update := updateForStatus(billing.MapStatus(sub.Status, sub.CancelAtPeriodEnd), sub)
	return h.applyUpdate(ctx, clerkUserID, update, event.Type)
}

// handlePaymentFailed processes payment failure events: paid access is
// revoked unconditionally. Provider linkage stays on the row so a later
// successful payment can restore the subscription.
func (h *PolarWebhookHandler) handlePaymentFailed(ctx context.Context, event *polarWebhookEvent) error {
	var sub polarSubscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		h.logger.WarnContext(ctx, "malformed subscription payload, skipping", "error", err)
		return nil
	}
	if sub.ID == "" {
		h.logger.WarnContext(ctx, "payment failure event missing subscription id, skipping")
		return nil
	}

	clerkUserID, err := h.resolveUser(ctx, sub.Metadata, sub.CustomerID)
	if err != nil {
		return err
	}
	if clerkUserID == "" {
		h.logger.WarnContext(ctx, "cannot resolve user for payment failure, skipping",
			"subscription_id", sub.ID,
		)
		return nil
	}

	unlock := h.locks.Lock(clerkUserID)
	defer unlock()

	first, err := h.deduper.MarkProcessed(ctx, dedup.EventKey(event.Type, sub.ID, sub.ModifiedAt))
	if err != nil {
		return err
	}
	if !first {
		h.logger.InfoContext(ctx, "duplicate payment failure event, skipping", "subscription_id", sub.ID)
		return nil
	}

	h.logger.WarnContext(ctx, "revoking paid access after payment failure",
		"subscription_id", sub.ID,
		"clerk_user_id", clerkUserID,
	)
	update := types.ProfileUpdate{
		Plan:              types.PlanPtr(types.PlanNone),
		Status:            types.StatusPtr(types.StatusInactive),
		MonthlyUsageLimit: types.IntPtr(types.FreeUsageLimit),
	}
	return h.applyUpdate(ctx, clerkUserID, update, event.Type)
}

// resolveUser maps an event to a local user id: the clerk_user_id stamped
// into provider metadata at checkout time wins, and the provider customer id
// linkage is the fallback. An empty result with a nil error means the event
// cannot be correlated and must be skipped; errors are store failures.
func (h *PolarWebhookHandler) resolveUser(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if id := metadata["clerk_user_id"]; id != "" {
		return id, nil
	}
	if customerID == "" {
		return "", nil
	}
	profile, err := h.profiles.GetByPolarCustomerID(ctx, customerID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundProfile {
			return "", nil
		}
		return "", err
	}
	return profile.ClerkUserID, nil
}

// applyUpdate writes the partial update, treating a vanished profile as a
// skippable condition rather than a processing failure.
func (h *PolarWebhookHandler) applyUpdate(ctx context.Context, clerkUserID string, update types.ProfileUpdate, eventType string) error {
	profile, err := h.profiles.Update(ctx, clerkUserID, update)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundProfile {
			h.logger.WarnContext(ctx, "no profile row for webhook event, skipping",
				"clerk_user_id", clerkUserID,
				"event_type", eventType,
			)
			return nil
		}
		return err
	}

	h.logger.InfoContext(ctx, "reconciled subscription state",
		"clerk_user_id", clerkUserID,
		"event_type", eventType,
		"plan", string(profile.Plan),
		"status", string(profile.Status),
	)
	return nil
}

// updateForStatus builds the partial update that aligns a profile with a
// mapped subscription status, carrying over whichever provider fields the
// payload supplied. Plan and usage limit are always derived from the status
// so the plan/status pairing can never drift.
func updateForStatus(status types.SubscriptionStatus, sub *polarSubscription) types.ProfileUpdate {
	if !status.IsPaid() {
		return inactiveUpdate()
	}

	plan := billing.PlanForStatus(status)
	update := types.ProfileUpdate{
		Plan:              types.PlanPtr(plan),
		Status:            types.StatusPtr(status),
		MonthlyUsageLimit: types.IntPtr(plan.UsageLimit()),
	}
	if sub.ID != "" {
		update.PolarSubscriptionID = types.StrPtr(sub.ID)
	}
	if sub.CustomerID != "" {
		update.PolarCustomerID = types.StrPtr(sub.CustomerID)
	}
	if sub.CurrentPeriodEnd != nil {
		update.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	return update
}

// inactiveUpdate demotes a profile to the free tier while keeping the
// provider customer linkage, so a returning subscriber reconnects to the
// same billing customer.
func inactiveUpdate() types.ProfileUpdate {
	return types.ProfileUpdate{
		Plan:                     types.PlanPtr(types.PlanNone),
		Status:                   types.StatusPtr(types.StatusInactive),
		MonthlyUsageLimit:        types.IntPtr(types.FreeUsageLimit),
		ClearPolarSubscriptionID: true,
		ClearCurrentPeriodEnd:    true,
	}
}

// ---------------------------------------------------------------------------
// Polar Event Parsing
// ---------------------------------------------------------------------------

// polarWebhookEvent is the provider's delivery envelope. Data is decoded per
// event type into the minimal struct that type needs; vendor fields outside
// that set are ignored.
type polarWebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// polarSubscription is the minimal subscription object carried by
// subscription.* and payment failure events.
type polarSubscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CustomerID        string            `json:"customer_id"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time        `json:"current_period_end"`
	CanceledAt        *time.Time        `json:"canceled_at"`
	EndsAt            *time.Time        `json:"ends_at"`
	ModifiedAt        *time.Time        `json:"modified_at"`
	Metadata          map[string]string `json:"metadata"`
}

// polarCheckout is the minimal checkout object from checkout.completed
// events. SubscriptionID is routinely empty this early in the flow.
type polarCheckout struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id"`
	ModifiedAt     *time.Time        `json:"modified_at"`
	Metadata       map[string]string `json:"metadata"`
}

// polarOrder is the minimal order object from order.paid events, including
// the embedded subscription snapshot.
type polarOrder struct {
	ID           string             `json:"id"`
	CustomerID   string             `json:"customer_id"`
	ModifiedAt   *time.Time         `json:"modified_at"`
	Metadata     map[string]string  `json:"metadata"`
	Subscription *polarSubscription `json:"subscription"`
}
