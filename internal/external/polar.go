package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"subsync/internal/types"
)

// polarAPIBase is the default Polar API base URL.
// Overridable in tests via PolarClientConfig.BaseURL.
const polarAPIBase = "https://api.polar.sh"

// PolarClientConfig holds the configuration for creating a PolarClient.
type PolarClientConfig struct {
	AccessToken types.SecretString
	BaseURL     string // Override for testing; defaults to polarAPIBase
	Logger      *slog.Logger
}

// PolarClient implements BillingService by making direct HTTP calls to the
// Polar REST API through BaseClient. This routes all requests through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and makes testing with httptest straightforward.
type PolarClient struct {
	base        *BaseClient
	accessToken types.SecretString
	baseURL     string
	logger      *slog.Logger
}

// NewPolarClient creates a new PolarClient.
func NewPolarClient(httpClient *http.Client, cfg PolarClientConfig) *PolarClient {
	base := NewBaseClient(
		httpClient,
		"polar",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"subsync/1.0",
	)
	return NewPolarClientWithBase(base, cfg)
}

// NewPolarClientWithBase creates a PolarClient with a pre-configured
// BaseClient. Useful for testing when you want to control retry behavior.
func NewPolarClientWithBase(base *BaseClient, cfg PolarClientConfig) *PolarClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = polarAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PolarClient{
		base:        base,
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// ---------------------------------------------------------------------------
// BillingService Implementation
// ---------------------------------------------------------------------------

// CreateCheckout creates a hosted checkout session. The caller's user id is
// planted in the session metadata so checkout.completed can be correlated
// back to a local profile even when the customer record is brand new.
func (c *PolarClient) CreateCheckout(ctx context.Context, params CheckoutParams) (*Checkout, error) {
	body := map[string]any{
		"products":             []string{params.ProductID},
		"success_url":          params.SuccessURL,
		"external_customer_id": params.ClerkUserID,
		"metadata": map[string]string{
			"clerk_user_id": params.ClerkUserID,
		},
	}
	if params.CustomerEmail != "" {
		body["customer_email"] = params.CustomerEmail
	}

	var checkout Checkout
	if err := c.doJSON(ctx, http.MethodPost, "/v1/checkouts/", body, &checkout, "CreateCheckout"); err != nil {
		return nil, err
	}
	return &checkout, nil
}

// GetSubscription retrieves the provider-side state of a subscription.
func (c *PolarClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub polarSubscription
	path := "/v1/subscriptions/" + subscriptionID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &sub, "GetSubscription"); err != nil {
		return nil, err
	}
	return mapPolarSubscription(&sub), nil
}

// UpdateSubscription patches a live subscription. Used for in-place plan
// switches and for scheduling or reverting a period-end cancellation.
func (c *PolarClient) UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*Subscription, error) {
	var sub polarSubscription
	path := "/v1/subscriptions/" + subscriptionID
	if err := c.doJSON(ctx, http.MethodPatch, path, update, &sub, "UpdateSubscription"); err != nil {
		return nil, err
	}
	return mapPolarSubscription(&sub), nil
}

// CustomerPortalURL creates a customer session and returns the hosted portal
// URL where the customer manages payment methods and invoices.
func (c *PolarClient) CustomerPortalURL(ctx context.Context, customerID string) (string, error) {
	body := map[string]string{"customer_id": customerID}
	var session polarCustomerSession
	if err := c.doJSON(ctx, http.MethodPost, "/v1/customer-sessions/", body, &session, "CustomerPortalURL"); err != nil {
		return "", err
	}
	return session.CustomerPortalURL, nil
}

// ---------------------------------------------------------------------------
// Transport Helpers
// ---------------------------------------------------------------------------

// doJSON issues a JSON request against the Polar API and decodes a JSON
// response into out. A nil body sends no payload; a nil out discards the
// response body.
func (c *PolarClient) doJSON(ctx context.Context, method, path string, body any, out any, operation string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected,
				fmt.Sprintf("%s: failed to encode request", operation), err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s: failed to build request", operation), err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken.Unmask())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return c.wrapPolarError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp, operation)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPolar,
			fmt.Sprintf("%s: failed to decode Polar response", operation), err)
	}
	return nil
}

// polarErrorResponse represents the JSON error body returned by the Polar API.
type polarErrorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail"`
}

// handleErrorResponse reads a Polar error response and maps it to a types.AppError.
func (c *PolarClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamPolar,
			fmt.Sprintf("%s: Polar returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var polarErr polarErrorResponse
	_ = json.Unmarshal(body, &polarErr)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("%s: Polar resource not found", operation),
			nil,
		)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Polar rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Polar server error (%d)", operation, resp.StatusCode),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamPolar,
			fmt.Sprintf("%s: Polar error (%d): %s", operation, resp.StatusCode, polarErr.Error),
			nil,
		)
	}
}

// wrapPolarError wraps a BaseClient transport error with context.
func (c *PolarClient) wrapPolarError(operation string, err error) error {
	// BaseClient errors already carry the right upstream error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamPolar,
		fmt.Sprintf("%s: Polar request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Polar Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type polarSubscription struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	ProductID         string     `json:"product_id"`
	CustomerID        string     `json:"customer_id"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CanceledAt        *time.Time `json:"canceled_at"`
	EndsAt            *time.Time `json:"ends_at"`
}

type polarCustomerSession struct {
	ID                string `json:"id"`
	CustomerPortalURL string `json:"customer_portal_url"`
}

func mapPolarSubscription(s *polarSubscription) *Subscription {
	return &Subscription{
		ID:                s.ID,
		Status:            s.Status,
		ProductID:         s.ProductID,
		CustomerID:        s.CustomerID,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CanceledAt:        s.CanceledAt,
		EndsAt:            s.EndsAt,
	}
}

// Compile-time assertion that PolarClient satisfies BillingService.
var _ BillingService = (*PolarClient)(nil)
