package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guied/internal/billing"
	"guied/internal/core"
	"guied/internal/external"
	"guied/internal/types"
)

var testCheckoutSettings = CheckoutSettings{
	NotificationURL: "https://api.guied.app/webhook/mercadopago",
	BackURLs: external.BackURLs{
		Success: "https://guied.app/success",
		Failure: "https://guied.app/failure",
		Pending: "https://guied.app/pending",
	},
	PixOnly: true,
}

func newTestCheckoutHandler(provider *mockCheckoutProvider) *CheckoutHandler {
	return NewCheckoutHandler(provider, billing.NewStaticCatalog("BRL"), testCheckoutSettings, testValidator(), testLogger())
}

func TestCreateCheckout_Success(t *testing.T) {
	provider := &mockCheckoutProvider{}
	h := newTestCheckoutHandler(provider)

	rec := serve(h.RegisterRoutes, jsonRequest(http.MethodPost, "/create-checkout",
		`{"user_id":"`+testSub+`","plan":"pro"}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CreateCheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pref-1", resp.PreferenceID)
	assert.Equal(t, "https://mp.example/checkout/pref-1", resp.InitPoint)

	require.Len(t, provider.requests, 1)
	in := provider.requests[0]
	assert.Equal(t, testSub+"|pro", in.ExternalReference)
	assert.Equal(t, map[string]string{"user_id": testSub, "plan": "pro"}, in.Metadata)
	assert.Equal(t, testCheckoutSettings.NotificationURL, in.NotificationURL)
	assert.Equal(t, testCheckoutSettings.BackURLs, in.BackURLs)
	assert.True(t, in.PixOnly)
	assert.Equal(t, 9.90, in.UnitPrice)
	assert.Equal(t, "BRL", in.Currency)
}

func TestCreateCheckout_PlanNormalization(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		plan  types.Plan
		price float64
	}{
		{"pro plus", `{"user_id":"` + testSub + `","plan":"PRO_PLUS"}`, types.PlanProPlus, 19.90},
		{"missing plan", `{"user_id":"` + testSub + `"}`, types.PlanPro, 9.90},
		{"unknown plan", `{"user_id":"` + testSub + `","plan":"enterprise"}`, types.PlanPro, 9.90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockCheckoutProvider{}
			rec := serve(newTestCheckoutHandler(provider).RegisterRoutes,
				jsonRequest(http.MethodPost, "/create-checkout", tt.body))

			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, provider.requests, 1)
			assert.Equal(t, string(tt.plan), provider.requests[0].Metadata["plan"])
			assert.Equal(t, billing.EncodeReference(testSub, tt.plan), provider.requests[0].ExternalReference)
			assert.Equal(t, tt.price, provider.requests[0].UnitPrice)
		})
	}
}

func TestCreateCheckout_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"missing user id", `{"plan":"pro"}`, types.ErrCodeValidationInvalidUserID},
		{"malformed user id", `{"user_id":"abc","plan":"pro"}`, types.ErrCodeValidationInvalidUserID},
		{"malformed json", `{"user_id":`, types.ErrCodeValidationInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockCheckoutProvider{}
			rec := serve(newTestCheckoutHandler(provider).RegisterRoutes,
				jsonRequest(http.MethodPost, "/create-checkout", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body core.APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.code), body.Error.Code)
			assert.NotEmpty(t, body.Error.RequestID)
			assert.Empty(t, provider.requests, "no provider call on invalid input")
		})
	}
}

func TestCreateCheckout_ProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   types.ErrorCode
	}{
		{
			name: "provider rejected",
			err: types.NewAppErrorWithDetails(types.ErrCodeUpstreamProviderRejected, "payment provider rejected the request", nil,
				map[string]any{"provider_status": 400, "provider_message": "invalid back_urls"}),
			status: http.StatusBadRequest,
			code:   types.ErrCodeUpstreamProviderRejected,
		},
		{
			name:   "provider unavailable",
			err:    types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open", nil),
			status: http.StatusBadGateway,
			code:   types.ErrCodeUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockCheckoutProvider{
				createFn: func(context.Context, external.PreferenceRequest) (*external.Preference, error) {
					return nil, tt.err
				},
			}
			rec := serve(newTestCheckoutHandler(provider).RegisterRoutes,
				jsonRequest(http.MethodPost, "/create-checkout", `{"user_id":"`+testSub+`"}`))

			assert.Equal(t, tt.status, rec.Code)
			var body core.APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.code), body.Error.Code)
		})
	}
}

func TestCreateCheckout_RejectionDetailsSurface(t *testing.T) {
	provider := &mockCheckoutProvider{
		createFn: func(context.Context, external.PreferenceRequest) (*external.Preference, error) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamProviderRejected, "payment provider rejected the request", nil,
				map[string]any{"provider_message": "invalid back_urls"})
		},
	}
	rec := serve(newTestCheckoutHandler(provider).RegisterRoutes,
		jsonRequest(http.MethodPost, "/create-checkout", `{"user_id":"`+testSub+`"}`))

	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid back_urls", body.Error.Details["provider_message"])
}

func TestCreateCheckout_NilPreference(t *testing.T) {
	provider := &mockCheckoutProvider{
		createFn: func(context.Context, external.PreferenceRequest) (*external.Preference, error) {
			return nil, nil
		},
	}
	rec := serve(newTestCheckoutHandler(provider).RegisterRoutes,
		jsonRequest(http.MethodPost, "/create-checkout", `{"user_id":"`+testSub+`"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
