package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/models"
)

// SupplierRepository persists the per-lot supplier list and its role
// assignments. The list is replaced wholesale on every plan edit; callers
// are responsible for wrapping delete + reinsert in one transaction.
type SupplierRepository interface {
	// ListByLot returns the lot's suppliers with nested role assignments,
	// ordered by (supplier.sequence, role.sequence).
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]*models.Supplier, error)

	// DeleteByLot removes all suppliers and role assignments for the lot.
	DeleteByLot(ctx context.Context, lotID uuid.UUID) error

	// CreateBatch inserts the given suppliers and their role assignments.
	CreateBatch(ctx context.Context, suppliers []*models.Supplier) error

	// UpdateAssignmentProgress persists status and timing changes for one
	// role assignment.
	UpdateAssignmentProgress(ctx context.Context, a *models.RoleAssignment) error
}

type supplierRepository struct{}

// NewSupplierRepository creates a new SupplierRepository.
func NewSupplierRepository() SupplierRepository {
	return &supplierRepository{}
}

var _ SupplierRepository = (*supplierRepository)(nil)

func (r *supplierRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]*models.Supplier, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	supplierQuery := `
		SELECT id, lot_id, factory_id, sequence, stage, is_primary, created_at, updated_at
		FROM lot_suppliers
		WHERE lot_id = $1
		ORDER BY sequence`

	rows, err := scope.Conn.Query(ctx, supplierQuery, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []*models.Supplier
	byID := make(map[uuid.UUID]*models.Supplier)
	for rows.Next() {
		var s models.Supplier
		if err := rows.Scan(&s.ID, &s.LotID, &s.FactoryID, &s.Sequence, &s.Stage,
			&s.IsPrimary, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		s.Roles = []*models.RoleAssignment{}
		suppliers = append(suppliers, &s)
		byID[s.ID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suppliers: %w", err)
	}
	rows.Close()

	if len(suppliers) == 0 {
		return suppliers, nil
	}

	assignmentQuery := `
		SELECT a.id, a.supplier_id, a.role_id, a.sequence, a.status,
		       a.started_at, a.completed_at, a.co2_kg, a.notes,
		       a.created_at, a.updated_at
		FROM lot_supplier_roles a
		JOIN lot_suppliers s ON a.supplier_id = s.id
		WHERE s.lot_id = $1
		ORDER BY s.sequence, a.sequence`

	aRows, err := scope.Conn.Query(ctx, assignmentQuery, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	defer aRows.Close()

	for aRows.Next() {
		var a models.RoleAssignment
		if err := aRows.Scan(&a.ID, &a.SupplierID, &a.RoleID, &a.Sequence, &a.Status,
			&a.StartedAt, &a.CompletedAt, &a.CO2Kg, &a.Notes,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		if s, ok := byID[a.SupplierID]; ok {
			s.Roles = append(s.Roles, &a)
		}
	}
	if err := aRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role assignments: %w", err)
	}

	return suppliers, nil
}

func (r *supplierRepository) DeleteByLot(ctx context.Context, lotID uuid.UUID) error {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return fmt.Errorf("no client scope in context")
	}

	// lot_supplier_roles cascades from lot_suppliers.
	_, err := scope.Conn.Exec(ctx, `DELETE FROM lot_suppliers WHERE lot_id = $1`, lotID)
	if err != nil {
		return fmt.Errorf("failed to delete suppliers: %w", err)
	}

	return nil
}

func (r *supplierRepository) CreateBatch(ctx context.Context, suppliers []*models.Supplier) error {
	if len(suppliers) == 0 {
		return nil
	}

	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return fmt.Errorf("no client scope in context")
	}

	now := time.Now()

	supplierRows := make([][]any, 0, len(suppliers))
	var assignmentRows [][]any
	for _, s := range suppliers {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CreatedAt = now
		s.UpdatedAt = now
		supplierRows = append(supplierRows, []any{
			s.ID, s.LotID, s.FactoryID, s.Sequence, s.Stage, s.IsPrimary,
			s.CreatedAt, s.UpdatedAt,
		})

		for _, a := range s.Roles {
			if a.ID == uuid.Nil {
				a.ID = uuid.New()
			}
			a.SupplierID = s.ID
			a.CreatedAt = now
			a.UpdatedAt = now
			if a.Status == "" {
				a.Status = models.RoleStatusNotStarted
			}
			assignmentRows = append(assignmentRows, []any{
				a.ID, a.SupplierID, a.RoleID, a.Sequence, a.Status,
				a.StartedAt, a.CompletedAt, a.CO2Kg, a.Notes,
				a.CreatedAt, a.UpdatedAt,
			})
		}
	}

	_, err := scope.Conn.CopyFrom(
		ctx,
		pgx.Identifier{"lot_suppliers"},
		[]string{"id", "lot_id", "factory_id", "sequence", "stage", "is_primary", "created_at", "updated_at"},
		pgx.CopyFromRows(supplierRows),
	)
	if err != nil {
		return fmt.Errorf("failed to batch create suppliers: %w", err)
	}

	if len(assignmentRows) > 0 {
		_, err = scope.Conn.CopyFrom(
			ctx,
			pgx.Identifier{"lot_supplier_roles"},
			[]string{"id", "supplier_id", "role_id", "sequence", "status",
				"started_at", "completed_at", "co2_kg", "notes", "created_at", "updated_at"},
			pgx.CopyFromRows(assignmentRows),
		)
		if err != nil {
			return fmt.Errorf("failed to batch create role assignments: %w", err)
		}
	}

	return nil
}

func (r *supplierRepository) UpdateAssignmentProgress(ctx context.Context, a *models.RoleAssignment) error {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return fmt.Errorf("no client scope in context")
	}

	a.UpdatedAt = time.Now()

	query := `
		UPDATE lot_supplier_roles
		SET status = $2,
		    started_at = $3,
		    completed_at = $4,
		    updated_at = $5
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, a.ID, a.Status, a.StartedAt, a.CompletedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update role assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("role assignment not found")
	}

	return nil
}
