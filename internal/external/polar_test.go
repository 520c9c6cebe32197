package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/types"
)

func newTestPolarClient(t *testing.T, handler http.Handler) *PolarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := NewBaseClient(
		srv.Client(),
		"polar-test",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
		"subsync-test/1.0",
		WithSleepFunc(func(time.Duration) {}),
	)
	return NewPolarClientWithBase(base, PolarClientConfig{
		AccessToken: "polar_at_test",
		BaseURL:     srv.URL,
	})
}

func TestPolarClient_CreateCheckout(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	c := newTestPolarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkouts/", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"chk_1","url":"https://polar.sh/checkout/chk_1"}`))
	}))

	checkout, err := c.CreateCheckout(context.Background(), CheckoutParams{
		ProductID:     "prod_pro",
		ClerkUserID:   "user_1",
		CustomerEmail: "u@example.com",
		SuccessURL:    "https://app.example.com/success",
	})
	require.NoError(t, err)
	assert.Equal(t, "chk_1", checkout.ID)
	assert.Equal(t, "https://polar.sh/checkout/chk_1", checkout.URL)

	assert.Equal(t, "Bearer polar_at_test", gotAuth)
	meta, ok := gotBody["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user_1", meta["clerk_user_id"])
	assert.Equal(t, "user_1", gotBody["external_customer_id"])
	assert.Equal(t, "u@example.com", gotBody["customer_email"])
}

func TestPolarClient_GetSubscription(t *testing.T) {
	c := newTestPolarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "sub_1",
			"status": "active",
			"product_id": "prod_pro",
			"customer_id": "cus_1",
			"cancel_at_period_end": true,
			"current_period_end": "2026-04-01T00:00:00Z"
		}`))
	}))

	sub, err := c.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, 2026, sub.CurrentPeriodEnd.Year())
}

func TestPolarClient_UpdateSubscription(t *testing.T) {
	var gotBody map[string]any
	c := newTestPolarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","status":"active","cancel_at_period_end":true}`))
	}))

	cancel := true
	sub, err := c.UpdateSubscription(context.Background(), "sub_1", SubscriptionUpdate{
		CancelAtPeriodEnd: &cancel,
	})
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	// Only the set field travels on the wire.
	assert.Equal(t, true, gotBody["cancel_at_period_end"])
	_, hasProduct := gotBody["product_id"]
	assert.False(t, hasProduct)
}

func TestPolarClient_CustomerPortalURL(t *testing.T) {
	c := newTestPolarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/customer-sessions/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"cs_1","customer_portal_url":"https://polar.sh/portal/cs_1"}`))
	}))

	url, err := c.CustomerPortalURL(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "https://polar.sh/portal/cs_1", url)
}

func TestPolarClient_NotFound(t *testing.T) {
	c := newTestPolarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))

	_, err := c.GetSubscription(context.Background(), "sub_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

func TestPolarClient_ServerErrorAfterRetries(t *testing.T) {
	calls := 0
	c := newTestPolarClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.GetSubscription(context.Background(), "sub_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.Equal(t, 2, calls)
}
