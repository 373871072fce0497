// Package handlers contains the HTTP handlers of the subscription API.
// Each handler depends on narrow interfaces, validates its input with
// core.Validator and reports failures through core.Error.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"guied/internal/billing"
	"guied/internal/core"
	"guied/internal/external"
	"guied/internal/types"
)

// CheckoutProvider creates hosted checkout sessions.
type CheckoutProvider interface {
	CreatePreference(ctx context.Context, in external.PreferenceRequest) (*external.Preference, error)
}

// CheckoutSettings holds the static parts of every preference.
type CheckoutSettings struct {
	NotificationURL string
	BackURLs        external.BackURLs
	PixOnly         bool
}

// CreateCheckoutRequest is the body of POST /create-checkout.
type CreateCheckoutRequest struct {
	UserID string `json:"user_id" validate:"required,subscriber_id"`
	Plan   string `json:"plan"`
}

// CreateCheckoutResponse carries the hosted checkout link.
type CreateCheckoutResponse struct {
	InitPoint    string `json:"init_point"`
	PreferenceID string `json:"preference_id"`
}

// CheckoutHandler creates checkout preferences for paid plans.
type CheckoutHandler struct {
	provider  CheckoutProvider
	catalog   billing.Catalog
	settings  CheckoutSettings
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(
	provider CheckoutProvider,
	catalog billing.Catalog,
	settings CheckoutSettings,
	v *core.Validator,
	logger *slog.Logger,
) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		provider:  provider,
		catalog:   catalog,
		settings:  settings,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts POST /create-checkout.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-checkout", h.Create)
}

// Create validates the subscriber, normalizes the plan and asks the
// provider for a preference whose external_reference and metadata both
// identify the subscriber and plan.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan := billing.NormalizePlan(req.Plan)
	item := h.catalog.LineItem(plan)

	pref, err := h.provider.CreatePreference(r.Context(), external.PreferenceRequest{
		Title:             item.Title,
		UnitPrice:         item.UnitPrice,
		Currency:          item.Currency,
		ExternalReference: billing.EncodeReference(req.UserID, plan),
		Metadata: map[string]string{
			"user_id": req.UserID,
			"plan":    string(plan),
		},
		NotificationURL: h.settings.NotificationURL,
		BackURLs:        h.settings.BackURLs,
		PixOnly:         h.settings.PixOnly,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout preference",
			"user_id", req.UserID,
			"plan", plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}
	if pref == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnexpectedPayload,
			"checkout provider returned no preference", nil))
		return
	}

	h.logger.InfoContext(r.Context(), "checkout preference created",
		"user_id", req.UserID,
		"plan", plan,
		"preference_id", pref.ID,
	)
	core.JSON(w, r, http.StatusOK, CreateCheckoutResponse{
		InitPoint:    pref.InitPoint,
		PreferenceID: pref.ID,
	})
}

var _ CheckoutProvider = (*external.MercadoPagoClient)(nil)
