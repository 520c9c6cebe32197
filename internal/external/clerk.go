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

	svix "github.com/svix/svix-webhooks/go"

	"subsync/internal/types"
)

// clerkAPIBase is the default Clerk Backend API base URL.
const clerkAPIBase = "https://api.clerk.com"

// ClerkClientConfig holds the configuration for creating a ClerkClient.
type ClerkClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // Override for testing; defaults to clerkAPIBase
	Logger    *slog.Logger
}

// ClerkClient implements IdentityService against the Clerk Backend API.
// Only user reads are needed: checkout creation wants the user's email so
// the provider can prefill it.
type ClerkClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewClerkClient creates a new ClerkClient.
func NewClerkClient(httpClient *http.Client, cfg ClerkClientConfig) *ClerkClient {
	base := NewBaseClient(
		httpClient,
		"clerk",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"subsync/1.0",
	)
	return NewClerkClientWithBase(base, cfg)
}

// NewClerkClientWithBase creates a ClerkClient with a pre-configured BaseClient.
func NewClerkClientWithBase(base *BaseClient, cfg ClerkClientConfig) *ClerkClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = clerkAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ClerkClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

type clerkEmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type clerkUser struct {
	ID                    string              `json:"id"`
	FirstName             string              `json:"first_name"`
	LastName              string              `json:"last_name"`
	PrimaryEmailAddressID string              `json:"primary_email_address_id"`
	EmailAddresses        []clerkEmailAddress `json:"email_addresses"`
}

// GetUser fetches a user record by its provider id.
func (c *ClerkClient) GetUser(ctx context.Context, userID string) (*IdentityUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/users/"+userID, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "GetUser: failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamClerk, "GetUser: Clerk request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile,
			fmt.Sprintf("GetUser: no Clerk user %s", userID), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppError(types.ErrCodeUpstreamClerk,
			fmt.Sprintf("GetUser: Clerk error (%d)", resp.StatusCode), nil)
	}

	var u clerkUser
	if err := decodeJSONBody(resp, &u); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamClerk, "GetUser: failed to decode Clerk response", err)
	}

	email := ""
	for _, addr := range u.EmailAddresses {
		if addr.ID == u.PrimaryEmailAddressID {
			email = addr.EmailAddress
			break
		}
	}
	if email == "" && len(u.EmailAddresses) > 0 {
		email = u.EmailAddresses[0].EmailAddress
	}

	return &IdentityUser{
		ID:    u.ID,
		Email: email,
		Name:  strings.TrimSpace(u.FirstName + " " + u.LastName),
	}, nil
}

type clerkSession struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// Authenticate verifies a session token against the Clerk Backend API and
// returns the actor it belongs to. Satisfies core.Authenticator.
func (c *ClerkClient) Authenticate(ctx context.Context, token string) (types.Actor, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeInternalUnexpected, "Authenticate: failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokens/verify", bytes.NewReader(body))
	if err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeInternalUnexpected, "Authenticate: failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey.Unmask())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return types.Actor{}, err
		}
		return types.Actor{}, types.NewAppError(types.ErrCodeUpstreamClerk, "Authenticate: Clerk request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token rejected", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.Actor{}, types.NewAppError(types.ErrCodeUpstreamClerk,
			fmt.Sprintf("Authenticate: Clerk error (%d)", resp.StatusCode), nil)
	}

	var session clerkSession
	if err := decodeJSONBody(resp, &session); err != nil {
		return types.Actor{}, types.NewAppError(types.ErrCodeUpstreamClerk, "Authenticate: failed to decode Clerk response", err)
	}
	if session.UserID == "" || (session.Status != "" && session.Status != "active") {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session is not active", nil)
	}

	return types.Actor{UserID: session.UserID}, nil
}

// decodeJSONBody decodes a bounded JSON response body into out.
func decodeJSONBody(resp *http.Response, out any) error {
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// Compile-time assertion that ClerkClient satisfies IdentityService.
var _ IdentityService = (*ClerkClient)(nil)

// ---------------------------------------------------------------------------
// Identity Webhook Verification (Svix)
// ---------------------------------------------------------------------------

// ClerkVerifier implements IdentityWebhookVerifier using the provider's svix
// verification library. The provider delivers webhooks through svix, which
// signs with its own multi-header scheme (svix-id, svix-timestamp,
// svix-signature), so verification is delegated rather than hand-rolled.
type ClerkVerifier struct {
	wh *svix.Webhook
}

// NewClerkVerifier creates a verifier for the given svix signing secret
// (the "whsec_..." value from the provider dashboard).
func NewClerkVerifier(secret types.SecretString) (*ClerkVerifier, error) {
	wh, err := svix.NewWebhook(secret.Unmask())
	if err != nil {
		return nil, fmt.Errorf("invalid svix webhook secret: %w", err)
	}
	return &ClerkVerifier{wh: wh}, nil
}

// Verify validates the payload against the svix signature headers.
func (v *ClerkVerifier) Verify(payload []byte, headers http.Header) error {
	return v.wh.Verify(payload, headers)
}

// Compile-time assertion that ClerkVerifier satisfies IdentityWebhookVerifier.
var _ IdentityWebhookVerifier = (*ClerkVerifier)(nil)
