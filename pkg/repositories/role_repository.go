package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loomline/loomline-engine/pkg/apperrors"
	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/models"
)

// RoleRepository provides read access to the production role catalog.
type RoleRepository interface {
	// GetByIDs returns the catalog entries for the given ids, keyed by id.
	// Fails with a validation error enumerating any unknown ids rather than
	// silently dropping them.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Role, error)

	// List returns the full catalog ordered by default sequence.
	List(ctx context.Context) ([]*models.Role, error)
}

type roleRepository struct{}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository() RoleRepository {
	return &roleRepository{}
}

var _ RoleRepository = (*roleRepository)(nil)

func (r *roleRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Role, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Role{}, nil
	}

	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `
		SELECT id, key, name, description, default_sequence, default_co2_kg, created_at
		FROM roles
		WHERE id = ANY($1)`

	rows, err := scope.Conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	found := make(map[uuid.UUID]*models.Role, len(ids))
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Key, &role.Name, &role.Description,
			&role.DefaultSequence, &role.DefaultCO2Kg, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		found[role.ID] = &role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.Validationf("unknown role(s): %s", apperrors.JoinIDs(missing))
	}

	return found, nil
}

func (r *roleRepository) List(ctx context.Context) ([]*models.Role, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `
		SELECT id, key, name, description, default_sequence, default_co2_kg, created_at
		FROM roles
		ORDER BY default_sequence`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.Key, &role.Name, &role.Description,
			&role.DefaultSequence, &role.DefaultCO2Kg, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	return roles, nil
}
