package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loomline/loomline-engine/pkg/apperrors"
)

// Postgres SQLSTATE codes that indicate a retryable concurrency conflict.
const (
	sqlstateLockNotAvailable    = "55P03" // lock_timeout expired
	sqlstateSerializationFailed = "40001"
	sqlstateDeadlockDetected    = "40P01"
)

// MapConflict translates lock-timeout and serialization failures into the
// engine's conflict kind so callers can retry with backoff. Other errors
// pass through unchanged.
func MapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateLockNotAvailable:
			return apperrors.Conflictf("lock acquisition timed out: %s", pgErr.Message)
		case sqlstateSerializationFailed, sqlstateDeadlockDetected:
			return apperrors.Conflictf("concurrent mutation detected: %s", pgErr.Message)
		}
	}
	return err
}
