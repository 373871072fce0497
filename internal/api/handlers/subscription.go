package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"guied/internal/core"
	"guied/internal/types"
)

// EntitlementService answers and mutates a subscriber's entitlement.
type EntitlementService interface {
	Status(ctx context.Context, userID string) (types.Entitlement, error)
	Cancel(ctx context.Context, userID string) error
	Erase(ctx context.Context, userID string) error
}

// SubscriberRequest is the body of the cancel and delete endpoints.
type SubscriberRequest struct {
	UserID string `json:"user_id" validate:"required,subscriber_id"`
}

// SuccessResponse acknowledges a mutation.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SubscriptionHandler serves entitlement queries, cancellation and account
// erasure.
type SubscriptionHandler struct {
	service   EntitlementService
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(service EntitlementService, v *core.Validator, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{service: service, validator: v, logger: logger}
}

// RegisterRoutes mounts the subscriber endpoints.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscription-status", h.Status)
	r.Post("/cancel-subscription", h.Cancel)
	r.Post("/delete-account", h.DeleteAccount)
}

// Status handles GET /subscription-status?user_id= (userId is accepted as
// an alias).
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		userID = q.Get("userId")
	}

	ent, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.logFailure(r, "failed to resolve entitlement", userID, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, ent)
}

// Cancel handles POST /cancel-subscription. Canceling a subscriber with
// nothing active still succeeds.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.decodeSubscriber(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), userID); err != nil {
		h.logFailure(r, "failed to cancel subscription", userID, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, SuccessResponse{Success: true})
}

// DeleteAccount handles POST /delete-account: subscription data first, then
// the identity provider account.
func (h *SubscriptionHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.decodeSubscriber(w, r)
	if !ok {
		return
	}

	if err := h.service.Erase(r.Context(), userID); err != nil {
		h.logFailure(r, "failed to delete account", userID, err)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account deleted", "user_id", userID)
	core.JSON(w, r, http.StatusOK, SuccessResponse{Success: true})
}

func (h *SubscriptionHandler) decodeSubscriber(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req SubscriberRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return "", false
	}
	if err := h.validator.Validate(req); err != nil {
		core.Error(w, r, err)
		return "", false
	}
	return req.UserID, true
}

// logFailure logs server-side failures; client input errors are already
// covered by the request log.
func (h *SubscriptionHandler) logFailure(r *http.Request, msg, userID string, err error) {
	if types.IsClientError(err) {
		return
	}
	h.logger.ErrorContext(r.Context(), msg, "user_id", userID, "error", err)
}
