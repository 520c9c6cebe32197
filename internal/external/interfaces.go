package external

import (
	"context"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// Billing Integration (Polar)
// ---------------------------------------------------------------------------

// Subscription is the provider-side subscription snapshot the service cares
// about. Deliberately minimal; vendor fields not used by reconciliation are
// not carried.
type Subscription struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	ProductID         string     `json:"product_id"`
	CustomerID        string     `json:"customer_id"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CanceledAt        *time.Time `json:"canceled_at"`
	EndsAt            *time.Time `json:"ends_at"`
}

// Checkout is a provider checkout session: the hosted payment page the user
// is redirected to.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutParams configures a new checkout session. ClerkUserID travels in
// the session metadata so the completion webhook can be correlated back to a
// local profile.
type CheckoutParams struct {
	ProductID     string
	ClerkUserID   string
	CustomerEmail string
	SuccessURL    string
}

// BillingService abstracts interactions with the payment provider (Polar).
// Implementations translate between domain types and vendor-specific APIs.
type BillingService interface {
	// CreateCheckout creates a hosted checkout session for the given product.
	CreateCheckout(ctx context.Context, params CheckoutParams) (*Checkout, error)

	// GetSubscription retrieves the current provider-side state of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// UpdateSubscription patches a live subscription: switch product in place
	// and/or flip the cancel-at-period-end flag. Nil fields are left untouched.
	UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*Subscription, error)

	// CustomerPortalURL creates a self-serve billing portal session for the
	// given provider customer and returns its URL.
	CustomerPortalURL(ctx context.Context, customerID string) (string, error)
}

// SubscriptionUpdate is a partial update to a provider subscription.
type SubscriptionUpdate struct {
	ProductID         *string `json:"product_id,omitempty"`
	CancelAtPeriodEnd *bool   `json:"cancel_at_period_end,omitempty"`
}

// WebhookVerifier abstracts billing webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Billing event type constants prevent magic strings in webhook handlers.
const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventCheckoutCompleted    = "checkout.completed"
	EventOrderPaid            = "order.paid"
	EventPaymentFailed        = "subscription.payment_failed"
)

// ---------------------------------------------------------------------------
// Identity Integration (Clerk)
// ---------------------------------------------------------------------------

// IdentityUser is the subset of an identity-provider user record the service
// reads: enough to seed a checkout session.
type IdentityUser struct {
	ID    string
	Email string
	Name  string
}

// IdentityService abstracts read access to the identity provider's user API.
type IdentityService interface {
	// GetUser fetches a user record by its provider id.
	GetUser(ctx context.Context, userID string) (*IdentityUser, error)
}

// IdentityWebhookVerifier abstracts identity webhook signature checking. The
// provider signs deliveries through its webhook relay, so verification needs
// the full header set, not a single signature value.
type IdentityWebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// Identity event type constants.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)
