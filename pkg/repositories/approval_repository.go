package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/models"
)

// ApprovalRepository appends and reads immutable approval decisions.
// There are deliberately no update or delete operations.
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.Approval) error
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]*models.Approval, error)
}

type approvalRepository struct{}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository() ApprovalRepository {
	return &approvalRepository{}
}

var _ ApprovalRepository = (*approvalRepository)(nil)

func (r *approvalRepository) Create(ctx context.Context, approval *models.Approval) error {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return fmt.Errorf("no client scope in context")
	}

	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	if approval.DecidedAt.IsZero() {
		approval.DecidedAt = time.Now()
	}

	query := `
		INSERT INTO lot_approvals (id, lot_id, decider_id, decision, note, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := scope.Conn.Exec(ctx, query,
		approval.ID, approval.LotID, approval.DeciderID, approval.Decision,
		approval.Note, approval.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}

	return nil
}

func (r *approvalRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]*models.Approval, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	query := `
		SELECT id, lot_id, decider_id, decision, note, decided_at
		FROM lot_approvals
		WHERE lot_id = $1
		ORDER BY decided_at`

	rows, err := scope.Conn.Query(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.Approval
	for rows.Next() {
		var a models.Approval
		if err := rows.Scan(&a.ID, &a.LotID, &a.DeciderID, &a.Decision, &a.Note, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}
