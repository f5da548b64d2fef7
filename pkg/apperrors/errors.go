package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error kinds returned by the engine. Callers branch with errors.Is; the
// wrapped message carries the offending identifiers.
var (
	ErrValidation = errors.New("validation error")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Validationf returns a validation error with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Permissionf returns a permission error with a formatted detail message.
func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// NotFoundf returns a not-found error with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf returns a conflict error with a formatted detail message.
// Conflicts (lock timeouts, concurrent mutations) are safe to retry with
// backoff at the caller's discretion; the engine never retries implicitly.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// JoinIDs renders a list of ids for inclusion in error messages.
func JoinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}
