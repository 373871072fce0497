package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"guied/internal/types"
)

const mercadoPagoAPIBase = "https://api.mercadopago.com"

// maxErrorBody caps how much of a provider error body is read for diagnostics.
const maxErrorBody = 16 << 10

// MercadoPagoConfig holds the settings for MercadoPagoClient.
type MercadoPagoConfig struct {
	AccessToken types.SecretString
	BaseURL     string
	MaxRetries  int
	Logger      *slog.Logger
}

// MercadoPagoClient talks to the Mercado Pago REST API: checkout preference
// creation plus the payment and merchant order reads used on callback.
type MercadoPagoClient struct {
	base    *BaseClient
	token   types.SecretString
	baseURL string
	logger  *slog.Logger
	newKey  func() string
}

// NewMercadoPagoClient creates a MercadoPagoClient. httpClient.Timeout bounds
// every call.
func NewMercadoPagoClient(httpClient *http.Client, cfg MercadoPagoConfig, opts ...BaseClientOption) *MercadoPagoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mercadoPagoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := NoRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries

	return &MercadoPagoClient{
		base:    NewBaseClient(httpClient, "mercadopago", policy, "Guied-Subscriptions/1.0", opts...),
		token:   cfg.AccessToken,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		newKey:  uuid.NewString,
	}
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

// BackURLs are where the buyer is sent after the checkout flow.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest describes one checkout preference.
type PreferenceRequest struct {
	Title             string
	UnitPrice         float64
	Currency          string
	ExternalReference string
	Metadata          map[string]string
	NotificationURL   string
	BackURLs          BackURLs
	PixOnly           bool
}

// Preference is the created checkout.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPaymentType struct {
	ID string `json:"id"`
}

type mpPaymentMethods struct {
	DefaultPaymentMethodID string          `json:"default_payment_method_id,omitempty"`
	ExcludedPaymentTypes   []mpPaymentType `json:"excluded_payment_types,omitempty"`
}

type mpPreferenceBody struct {
	Items             []mpItem          `json:"items"`
	PaymentMethods    *mpPaymentMethods `json:"payment_methods,omitempty"`
	BackURLs          BackURLs          `json:"back_urls"`
	AutoReturn        string            `json:"auto_return"`
	NotificationURL   string            `json:"notification_url"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CreatePreference creates a checkout preference. Each call carries a fresh
// X-Idempotency-Key so a retried attempt cannot create a second preference.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, in PreferenceRequest) (*Preference, error) {
	body := mpPreferenceBody{
		Items: []mpItem{{
			Title:      in.Title,
			Quantity:   1,
			UnitPrice:  in.UnitPrice,
			CurrencyID: in.Currency,
		}},
		BackURLs:          in.BackURLs,
		AutoReturn:        "approved",
		NotificationURL:   in.NotificationURL,
		ExternalReference: in.ExternalReference,
		Metadata:          in.Metadata,
	}
	if in.PixOnly {
		body.PaymentMethods = &mpPaymentMethods{
			DefaultPaymentMethodID: "pix",
			ExcludedPaymentTypes: []mpPaymentType{
				{ID: "credit_card"},
				{ID: "debit_card"},
				{ID: "ticket"},
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode preference", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build preference request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", c.newKey())
	c.setAuth(req)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapTransportError("CreatePreference", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.handleErrorResponse(resp, "CreatePreference")
	}

	var pref Preference
	if err := json.NewDecoder(resp.Body).Decode(&pref); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnexpectedPayload, "CreatePreference: undecodable response", err)
	}
	if pref.ID == "" || pref.InitPoint == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnexpectedPayload, "CreatePreference: response missing id or init_point", nil)
	}
	return &pref, nil
}

// ---------------------------------------------------------------------------
// Payment reads
// ---------------------------------------------------------------------------

// flexID accepts an id the provider sends as a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type mpPayment struct {
	ID                flexID         `json:"id"`
	Status            string         `json:"status"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	Order             *struct {
		ID flexID `json:"id"`
	} `json:"order"`
}

// GetPayment fetches one payment. A 404 is returned as ErrCodeNotFoundPayment.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*types.PaymentRecord, error) {
	var p mpPayment
	if err := c.getJSON(ctx, "GetPayment", "/v1/payments/"+url.PathEscape(paymentID), &p); err != nil {
		return nil, err
	}

	rec := &types.PaymentRecord{
		ID:                string(p.ID),
		Status:            types.ParsePaymentStatus(p.Status),
		RawStatus:         p.Status,
		ExternalReference: p.ExternalReference,
		Metadata:          flattenMetadata(p.Metadata),
	}
	if rec.ID == "" {
		rec.ID = paymentID
	}
	if p.Order != nil {
		rec.OrderID = string(p.Order.ID)
	}
	return rec, nil
}

type mpMerchantOrder struct {
	ID                flexID `json:"id"`
	ExternalReference string `json:"external_reference"`
	Payments          []struct {
		ID     flexID `json:"id"`
		Status string `json:"status"`
	} `json:"payments"`
}

// GetMerchantOrder fetches a merchant order. Approved payments are listed
// first so the fetcher picks the one that can activate a subscription.
func (c *MercadoPagoClient) GetMerchantOrder(ctx context.Context, orderID string) (*types.MerchantOrder, error) {
	var o mpMerchantOrder
	if err := c.getJSON(ctx, "GetMerchantOrder", "/merchant_orders/"+url.PathEscape(orderID), &o); err != nil {
		return nil, err
	}

	out := &types.MerchantOrder{ID: string(o.ID), ExternalReference: o.ExternalReference}
	var rest []string
	for _, p := range o.Payments {
		if p.ID == "" {
			continue
		}
		if p.Status == string(types.PaymentStatusApproved) {
			out.PaymentIDs = append(out.PaymentIDs, string(p.ID))
		} else {
			rest = append(rest, string(p.ID))
		}
	}
	out.PaymentIDs = append(out.PaymentIDs, rest...)
	return out, nil
}

func (c *MercadoPagoClient) getJSON(ctx context.Context, op, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build request", err)
	}
	c.setAuth(req)

	resp, err := c.base.Do(req)
	if err != nil {
		return c.wrapTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return types.NewAppError(types.ErrCodeNotFoundPayment, op+": resource not found", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnexpectedPayload, op+": undecodable response", err)
	}
	return nil
}

func (c *MercadoPagoClient) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	req.Header.Set("Accept", "application/json")
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

type mpErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  any    `json:"status"`
	Cause   []struct {
		Code        any    `json:"code"`
		Description string `json:"description"`
	} `json:"cause"`
}

// handleErrorResponse maps a non-success response. 4xx means the provider
// refused our request; anything else is the provider failing.
func (c *MercadoPagoClient) handleErrorResponse(resp *http.Response, op string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body mpErrorBody
	details := map[string]any{"provider_status": resp.StatusCode}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			details["provider_message"] = body.Message
		}
		if body.Error != "" {
			details["provider_error"] = body.Error
		}
		if len(body.Cause) > 0 {
			causes := make([]string, 0, len(body.Cause))
			for _, cause := range body.Cause {
				causes = append(causes, strings.TrimSpace(fmt.Sprintf("%v %s", cause.Code, cause.Description)))
			}
			details["provider_cause"] = causes
		}
	} else if len(raw) > 0 {
		details["provider_body"] = string(raw)
	}

	c.logger.Warn("mercado pago request rejected",
		"operation", op,
		"status", resp.StatusCode,
		"message", body.Message,
	)

	code := types.ErrCodeUpstreamPaymentProvider
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		code = types.ErrCodeUpstreamProviderRejected
	}
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("%s: payment provider returned %d", op, resp.StatusCode), nil, details)
}

// wrapTransportError keeps AppErrors from BaseClient and wraps anything else.
func (c *MercadoPagoClient) wrapTransportError(op string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamPaymentProvider, op+": request failed", err)
}

// flattenMetadata keeps scalar metadata values as strings. The provider
// echoes metadata back as JSON, so numbers may arrive as float64.
func flattenMetadata(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		}
	}
	return out
}

// HTTPClient returns an *http.Client suitable for provider calls.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
