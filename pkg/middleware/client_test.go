package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestClientRequire_RejectsBadHeaders(t *testing.T) {
	// The header checks fire before any scope acquisition, so no provider
	// is needed for the rejection paths.
	m := NewClient(nil, zap.NewNop())
	handler := m.Require(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not be called")
	})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed uuid", "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
			if tt.header != "" {
				req.Header.Set(ClientIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()

			handler(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestClientIDContext(t *testing.T) {
	id := uuid.New()
	ctx := SetClientID(context.Background(), id)

	got, ok := GetClientID(ctx)
	if !ok || got != id {
		t.Errorf("GetClientID = %v, %v; want %v, true", got, ok, id)
	}

	if _, ok := GetClientID(context.Background()); ok {
		t.Error("expected no client id on empty context")
	}
}
