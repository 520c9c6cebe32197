package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"subsync/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stub implementations allow the application to boot in local/test mode
// without requiring real external service credentials. They log all
// actions and return predictable, safe default values.
// ---------------------------------------------------------------------------

// StubBillingService implements BillingService by logging calls and returning
// test-safe defaults. Used when APP_ENV=local.
type StubBillingService struct {
	logger *slog.Logger
}

// NewStubBillingService creates a new StubBillingService.
func NewStubBillingService(logger *slog.Logger) *StubBillingService {
	return &StubBillingService{logger: logger}
}

func (s *StubBillingService) CreateCheckout(ctx context.Context, params CheckoutParams) (*Checkout, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckout called",
		"clerk_user_id", params.ClerkUserID,
		"product_id", params.ProductID,
	)
	return &Checkout{
		ID:  fmt.Sprintf("chk_stub_%s", params.ClerkUserID),
		URL: "https://checkout.stub.local/session",
	}, nil
}

func (s *StubBillingService) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s.logger.InfoContext(ctx, "stub: GetSubscription called",
		"subscription_id", subscriptionID,
	)
	return &Subscription{
		ID:     subscriptionID,
		Status: "active",
	}, nil
}

func (s *StubBillingService) UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*Subscription, error) {
	s.logger.InfoContext(ctx, "stub: UpdateSubscription called",
		"subscription_id", subscriptionID,
	)
	sub := &Subscription{
		ID:     subscriptionID,
		Status: "active",
	}
	if update.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	if update.ProductID != nil {
		sub.ProductID = *update.ProductID
	}
	return sub, nil
}

func (s *StubBillingService) CustomerPortalURL(ctx context.Context, customerID string) (string, error) {
	s.logger.InfoContext(ctx, "stub: CustomerPortalURL called",
		"customer_id", customerID,
	)
	return "https://portal.stub.local/session", nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// Used when APP_ENV=local.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: billing webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

// StubIdentityService implements IdentityService with a fixed test user.
// Used when APP_ENV=local.
type StubIdentityService struct {
	logger *slog.Logger
}

// NewStubIdentityService creates a new StubIdentityService.
func NewStubIdentityService(logger *slog.Logger) *StubIdentityService {
	return &StubIdentityService{logger: logger}
}

func (s *StubIdentityService) GetUser(ctx context.Context, userID string) (*IdentityUser, error) {
	s.logger.InfoContext(ctx, "stub: GetUser called",
		"user_id", userID,
	)
	return &IdentityUser{
		ID:    userID,
		Email: "stub@example.com",
		Name:  "Stub User",
	}, nil
}

// StubAuthenticator treats the bearer token as the user id itself, so local
// requests can impersonate any user without real session tokens. Used when
// APP_ENV=local.
type StubAuthenticator struct {
	logger *slog.Logger
}

// NewStubAuthenticator creates a new StubAuthenticator.
func NewStubAuthenticator(logger *slog.Logger) *StubAuthenticator {
	return &StubAuthenticator{logger: logger}
}

func (s *StubAuthenticator) Authenticate(ctx context.Context, token string) (types.Actor, error) {
	s.logger.InfoContext(ctx, "stub: Authenticate called", "user_id", token)
	return types.Actor{UserID: token}, nil
}

// StubIdentityVerifier implements IdentityWebhookVerifier by always
// succeeding. Used when APP_ENV=local.
type StubIdentityVerifier struct {
	logger *slog.Logger
}

// NewStubIdentityVerifier creates a new StubIdentityVerifier.
func NewStubIdentityVerifier(logger *slog.Logger) *StubIdentityVerifier {
	return &StubIdentityVerifier{logger: logger}
}

func (s *StubIdentityVerifier) Verify(payload []byte, headers http.Header) error {
	s.logger.Info("stub: identity webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ BillingService = (*StubBillingService)(nil)
var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
var _ IdentityService = (*StubIdentityService)(nil)
var _ IdentityWebhookVerifier = (*StubIdentityVerifier)(nil)
