package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/database"
)

// ClientIDHeader carries the authenticated client id, set by the gateway in
// front of this service. Authentication itself is out of scope here.
const ClientIDHeader = "X-Client-ID"

type contextKey string

const clientIDKey contextKey = "clientID"

// GetClientID retrieves the authenticated client id from context.
func GetClientID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(clientIDKey).(uuid.UUID)
	return id, ok
}

// SetClientID stores the authenticated client id in context.
func SetClientID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// Client validates the client id header and attaches a client-scoped
// database connection to the request context.
type Client struct {
	provider *database.ClientScopeProvider
	logger   *zap.Logger
}

// NewClient creates the client identity middleware.
func NewClient(provider *database.ClientScopeProvider, logger *zap.Logger) *Client {
	return &Client{provider: provider, logger: logger}
}

// Require wraps a handler, rejecting requests without a valid client id and
// scoping the database connection to that client for the request's duration.
func (m *Client) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(ClientIDHeader)
		if raw == "" {
			http.Error(w, `{"error":"missing_client_id"}`, http.StatusUnauthorized)
			return
		}

		clientID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid_client_id"}`, http.StatusUnauthorized)
			return
		}

		ctx, cleanup, err := m.provider.WithClientScope(r.Context(), clientID)
		if err != nil {
			m.logger.Error("Failed to acquire client scope", zap.Error(err))
			http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
			return
		}
		defer cleanup()

		ctx = SetClientID(ctx, clientID)
		next(w, r.WithContext(ctx))
	}
}
