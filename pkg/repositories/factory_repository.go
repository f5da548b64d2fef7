package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/models"
)

// FactoryRepository provides access to factories and their capability sets.
type FactoryRepository interface {
	// GetByID returns the factory or nil if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Factory, error)

	// OwnedIDs returns which of the given factory ids belong to the client.
	OwnedIDs(ctx context.Context, clientID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error)

	// GetCapableRoles returns the set of role ids the factory is certified
	// to perform.
	GetCapableRoles(ctx context.Context, factoryID uuid.UUID) (map[uuid.UUID]bool, error)
}

type factoryRepository struct{}

// NewFactoryRepository creates a new FactoryRepository.
func NewFactoryRepository() FactoryRepository {
	return &factoryRepository{}
}

var _ FactoryRepository = (*factoryRepository)(nil)

func (r *factoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Factory, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `
		SELECT id, client_id, name, country, created_at, updated_at
		FROM factories
		WHERE id = $1`

	var f models.Factory
	err := scope.Conn.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.ClientID, &f.Name, &f.Country, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get factory: %w", err)
	}
	return &f, nil
}

func (r *factoryRepository) OwnedIDs(ctx context.Context, clientID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `SELECT id FROM factories WHERE client_id = $1 AND id = ANY($2)`

	rows, err := scope.Conn.Query(ctx, query, clientID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned factories: %w", err)
	}
	defer rows.Close()

	owned := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan factory id: %w", err)
		}
		owned[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owned factories: %w", err)
	}

	return owned, nil
}

func (r *factoryRepository) GetCapableRoles(ctx context.Context, factoryID uuid.UUID) (map[uuid.UUID]bool, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `SELECT role_id FROM factory_roles WHERE factory_id = $1`

	rows, err := scope.Conn.Query(ctx, query, factoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query factory capabilities: %w", err)
	}
	defer rows.Close()

	capable := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		capable[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capabilities: %w", err)
	}

	return capable, nil
}
