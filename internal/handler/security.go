package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "api_key"

type userIDKey struct{}

// requireAPIKey rejects requests without a valid API key.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing api key")
			return
		}
		lg := zctx.From(r.Context()).With(zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), lg)))
	})
}

// requireUser takes the shopper id from X-User-ID.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(httpmiddleware.UserIDHeader)
		if userID == "" {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		lg := zctx.From(ctx).With(zap.String("user_id", userID))
		next.ServeHTTP(w, r.WithContext(zctx.Base(ctx, lg)))
	})
}

func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
