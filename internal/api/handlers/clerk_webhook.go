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

	"subsync/internal/core"
	"subsync/internal/external"
	"subsync/internal/types"
)

// ProfileProvisioner is the subset of the profile store the identity webhook
// needs: seed a free-tier row on signup and refresh activity on updates.
type ProfileProvisioner interface {
	Create(ctx context.Context, clerkUserID string) (*types.UserProfile, error)
	TouchLastActive(ctx context.Context, clerkUserID string, at time.Time) error
}

// ClerkWebhookHandler handles identity lifecycle events from Clerk. Deliveries
// arrive through the provider's webhook relay and are verified with the full
// header set rather than a single signature value.
type ClerkWebhookHandler struct {
	verifier external.IdentityWebhookVerifier
	profiles ProfileProvisioner
	logger   *slog.Logger
}

// NewClerkWebhookHandler creates a new ClerkWebhookHandler with the provided
// dependencies.
func NewClerkWebhookHandler(
	verifier external.IdentityWebhookVerifier,
	profiles ProfileProvisioner,
	logger *slog.Logger,
) *ClerkWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClerkWebhookHandler{
		verifier: verifier,
		profiles: profiles,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Clerk webhook endpoint on the public router.
func (h *ClerkWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/clerk", h.Handle)
}

// Handle processes an incoming Clerk webhook delivery. Profile rows are never
// deleted from here: a user.deleted event is logged and acknowledged so that
// billing history survives identity churn.
func (h *ClerkWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
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

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		h.logger.WarnContext(r.Context(), "identity webhook verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event clerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	if event.Data.ID == "" {
		h.logger.WarnContext(r.Context(), "identity event missing user id, skipping",
			"event_type", event.Type,
		)
		core.OK(w, r, nil)
		return
	}

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "identity event processing failed",
			"event_type", event.Type,
			"clerk_user_id", event.Data.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, nil)
}

func (h *ClerkWebhookHandler) routeEvent(ctx context.Context, event *clerkWebhookEvent) error {
	switch event.Type {
	case external.EventUserCreated:
		return h.handleUserCreated(ctx, event.Data.ID)

	case external.EventUserUpdated:
		return h.handleUserUpdated(ctx, event.Data.ID)

	case external.EventUserDeleted:
		// Deliberately no row mutation. The profile outlives the identity so
		// past billing state remains queryable.
		h.logger.InfoContext(ctx, "identity user deleted, retaining profile",
			"clerk_user_id", event.Data.ID,
		)
		return nil

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled identity event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleUserCreated seeds a free-tier profile. Redelivery or a racing signup
// request may have created the row already; that is success, not a conflict.
func (h *ClerkWebhookHandler) handleUserCreated(ctx context.Context, clerkUserID string) error {
	_, err := h.profiles.Create(ctx, clerkUserID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictProfileExists {
			h.logger.InfoContext(ctx, "profile already provisioned", "clerk_user_id", clerkUserID)
			return nil
		}
		return err
	}

	h.logger.InfoContext(ctx, "provisioned free-tier profile", "clerk_user_id", clerkUserID)
	return nil
}

// handleUserUpdated refreshes activity. A missing row means the user.created
// delivery was lost or is still in flight, so it is provisioned here.
func (h *ClerkWebhookHandler) handleUserUpdated(ctx context.Context, clerkUserID string) error {
	err := h.profiles.TouchLastActive(ctx, clerkUserID, time.Now().UTC())
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundProfile {
			h.logger.InfoContext(ctx, "no profile for updated user, provisioning",
				"clerk_user_id", clerkUserID,
			)
			return h.handleUserCreated(ctx, clerkUserID)
		}
		return err
	}
	return nil
}

// clerkWebhookEvent is the minimal identity event envelope.
type clerkWebhookEvent struct {
	Type string         `json:"type"`
	Data clerkEventData `json:"data"`
}

type clerkEventData struct {
	ID string `json:"id"`
}
