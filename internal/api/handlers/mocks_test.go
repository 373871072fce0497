package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"guied/internal/billing"
	"guied/internal/core"
	"guied/internal/external"
	"guied/internal/types"
)

const testSub = "11111111-1111-1111-1111-111111111111"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

// serve routes req through a chi router with the request id middleware, the
// same way the server mounts handlers.
func serve(register func(chi.Router), req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(core.RequestIDMiddleware)
	register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// =============================================================================
// Mock Implementations
// =============================================================================

type mockCheckoutProvider struct {
	createFn func(ctx context.Context, in external.PreferenceRequest) (*external.Preference, error)
	requests []external.PreferenceRequest
}

func (m *mockCheckoutProvider) CreatePreference(ctx context.Context, in external.PreferenceRequest) (*external.Preference, error) {
	m.requests = append(m.requests, in)
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &external.Preference{ID: "pref-1", InitPoint: "https://mp.example/checkout/pref-1"}, nil
}

type mockProcessor struct {
	mu      sync.Mutex
	calls   []billing.Notification
	outcome billing.Outcome
	err     error
}

func (m *mockProcessor) Process(ctx context.Context, n billing.Notification) (billing.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, n)
	return m.outcome, m.err
}

type mockPublisher struct {
	msgs []types.ReconcileMessage
	err  error
}

func (m *mockPublisher) Publish(ctx context.Context, msg types.ReconcileMessage) error {
	m.msgs = append(m.msgs, msg)
	return m.err
}

type verifyCall struct {
	header, requestID, dataID string
}

type mockVerifier struct {
	calls []verifyCall
	err   error
}

func (m *mockVerifier) Verify(header, requestID, dataID string) error {
	m.calls = append(m.calls, verifyCall{header, requestID, dataID})
	return m.err
}

type mockEntitlementService struct {
	statusFn func(ctx context.Context, userID string) (types.Entitlement, error)
	cancelFn func(ctx context.Context, userID string) error
	eraseFn  func(ctx context.Context, userID string) error

	statusCalls []string
	cancelCalls []string
	eraseCalls  []string
}

func (m *mockEntitlementService) Status(ctx context.Context, userID string) (types.Entitlement, error) {
	m.statusCalls = append(m.statusCalls, userID)
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return types.FreeEntitlement(nil), nil
}

func (m *mockEntitlementService) Cancel(ctx context.Context, userID string) error {
	m.cancelCalls = append(m.cancelCalls, userID)
	if m.cancelFn != nil {
		return m.cancelFn(ctx, userID)
	}
	return nil
}

func (m *mockEntitlementService) Erase(ctx context.Context, userID string) error {
	m.eraseCalls = append(m.eraseCalls, userID)
	if m.eraseFn != nil {
		return m.eraseFn(ctx, userID)
	}
	return nil
}
