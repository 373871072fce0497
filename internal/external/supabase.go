package external

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"guied/internal/types"
)

// SupabaseConfig holds the admin credentials for the identity provider.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey types.SecretString
	Logger         *slog.Logger
}

// SupabaseAdminClient calls the Supabase GoTrue admin API.
type SupabaseAdminClient struct {
	base    *BaseClient
	baseURL string
	key     types.SecretString
	logger  *slog.Logger
}

// NewSupabaseAdminClient creates a SupabaseAdminClient.
func NewSupabaseAdminClient(httpClient *http.Client, cfg SupabaseConfig, opts ...BaseClientOption) *SupabaseAdminClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SupabaseAdminClient{
		base:    NewBaseClient(httpClient, "supabase", NoRetryPolicy(), "Guied-Subscriptions/1.0", opts...),
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		key:     cfg.ServiceRoleKey,
		logger:  logger,
	}
}

// DeleteUser removes the user from the identity provider. A user that is
// already gone counts as deleted.
func (c *SupabaseAdminClient) DeleteUser(ctx context.Context, userID string) error {
	endpoint := c.baseURL + "/auth/v1/admin/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build identity delete request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.key.Unmask())
	req.Header.Set("apikey", c.key.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamIdentityProvider, "identity provider unreachable", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		c.logger.InfoContext(ctx, "identity already absent", "user_id", userID)
		return nil
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamIdentityProvider,
			"identity provider refused user deletion",
			nil,
			map[string]any{"provider_status": resp.StatusCode, "provider_body": string(body)},
		)
	}
}
