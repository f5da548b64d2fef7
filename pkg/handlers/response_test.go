package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomline/loomline-engine/pkg/apperrors"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantTag  string
	}{
		{"validation", apperrors.Validationf("quantity must be positive"), http.StatusBadRequest, "validation_error"},
		{"permission", apperrors.Permissionf("factory not owned"), http.StatusForbidden, "permission_denied"},
		{"not found", apperrors.NotFoundf("lot missing"), http.StatusNotFound, "not_found"},
		{"conflict", apperrors.Conflictf("lock timed out"), http.StatusConflict, "conflict"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, tag := statusForError(tt.err)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if tag != tt.wantTag {
				t.Errorf("tag = %q, want %q", tag, tt.wantTag)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := ErrorResponse(rec, http.StatusBadRequest, "validation_error", "quantity must be positive"); err != nil {
		t.Fatalf("ErrorResponse failed: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "validation_error" {
		t.Errorf("error = %q, want validation_error", body["error"])
	}
	if body["message"] != "quantity must be positive" {
		t.Errorf("message = %q", body["message"])
	}
}
