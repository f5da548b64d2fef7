package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/models"
)

// LotRepository provides data access for production lots.
type LotRepository interface {
	Create(ctx context.Context, lot *models.Lot) error

	// GetByID returns the lot or nil if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Lot, error)

	// GetByIDForUpdate locks the lot row for the remainder of the current
	// transaction, bounding the wait with the given lock timeout. A timeout
	// surfaces as a retryable conflict. This is the per-lot serialization
	// point for sync, advance, and approval operations.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID, lockTimeout time.Duration) (*models.Lot, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status models.LotStatus) error
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Lot, error)
}

type lotRepository struct{}

// NewLotRepository creates a new LotRepository.
func NewLotRepository() LotRepository {
	return &lotRepository{}
}

var _ LotRepository = (*lotRepository)(nil)

const lotColumns = `id, client_id, style_ref, quantity, status, defect_rate, inspected_progress, created_at, updated_at`

func (r *lotRepository) Create(ctx context.Context, lot *models.Lot) error {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return fmt.Errorf("no client scope in context")
	}

	now := time.Now()
	lot.CreatedAt = now
	lot.UpdatedAt = now
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.Status == "" {
		lot.Status = models.LotStatusPlanned
	}

	query := `
		INSERT INTO lots (id, client_id, style_ref, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := scope.Conn.Exec(ctx, query,
		lot.ID, lot.ClientID, lot.StyleRef, lot.Quantity, lot.Status,
		lot.CreatedAt, lot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}

	return nil
}

func (r *lotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1`

	lot, err := scanLotRow(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return lot, nil
}

func (r *lotRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID, lockTimeout time.Duration) (*models.Lot, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	// SET LOCAL only takes effect inside the caller's transaction, which is
	// exactly where row locking is meaningful.
	_, err := scope.Conn.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1 FOR UPDATE`

	lot, err := scanLotRow(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.MapConflict(err)
	}
	return lot, nil
}

func (r *lotRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.LotStatus) error {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return fmt.Errorf("no client scope in context")
	}

	query := `
		UPDATE lots
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update lot status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("lot not found")
	}

	return nil
}

func (r *lotRepository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Lot, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `SELECT ` + lotColumns + ` FROM lots WHERE client_id = $1 ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		lot, err := scanLotRow(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

func scanLotRow(row pgx.Row) (*models.Lot, error) {
	var lot models.Lot
	err := row.Scan(
		&lot.ID, &lot.ClientID, &lot.StyleRef, &lot.Quantity, &lot.Status,
		&lot.DefectRate, &lot.InspectedProgress, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan lot: %w", err)
	}
	return &lot, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
