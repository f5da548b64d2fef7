package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/apperrors"
	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/events"
	"github.com/loomline/loomline-engine/pkg/models"
	"github.com/loomline/loomline-engine/pkg/repositories"
)

// LotService handles lot lifecycle: creation, explicit status transitions,
// and the quality-approval pipeline. All transitions are validated against
// the lot status table; approvals are recorded as immutable rows.
type LotService interface {
	Create(ctx context.Context, clientID uuid.UUID, styleRef string, quantity int) (*models.Lot, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Lot, error)

	// SubmitForApproval moves an inspected lot to PENDING_APPROVAL.
	SubmitForApproval(ctx context.Context, lotID uuid.UUID) (*models.Lot, error)

	// Approve records an APPROVE decision and moves the lot to APPROVED.
	// Requires current status PENDING_APPROVAL.
	Approve(ctx context.Context, lotID, deciderID uuid.UUID, note *string) (*models.Lot, error)

	// Reject records a REJECT decision and moves the lot to REJECTED.
	// The note is required. REJECTED is terminal: a rejected lot cannot
	// re-enter the pipeline.
	Reject(ctx context.Context, lotID, deciderID uuid.UUID, note string) (*models.Lot, error)

	// Ship moves an approved lot to SHIPPED.
	Ship(ctx context.Context, lotID uuid.UUID) (*models.Lot, error)

	// Approvals returns the lot's decision history in decision order.
	Approvals(ctx context.Context, lotID uuid.UUID) ([]*models.Approval, error)
}

type lotService struct {
	lotRepo      repositories.LotRepository
	approvalRepo repositories.ApprovalRepository
	sink         events.Sink
	logger       *zap.Logger
	lockTimeout  time.Duration
}

// LotServiceDeps contains dependencies for LotService.
type LotServiceDeps struct {
	LotRepo      repositories.LotRepository
	ApprovalRepo repositories.ApprovalRepository
	Sink         events.Sink
	Logger       *zap.Logger
	LockTimeout  time.Duration
}

// NewLotService creates a new LotService.
func NewLotService(deps *LotServiceDeps) LotService {
	lockTimeout := deps.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 3 * time.Second
	}
	return &lotService{
		lotRepo:      deps.LotRepo,
		approvalRepo: deps.ApprovalRepo,
		sink:         deps.Sink,
		logger:       deps.Logger,
		lockTimeout:  lockTimeout,
	}
}

func (s *lotService) Create(ctx context.Context, clientID uuid.UUID, styleRef string, quantity int) (*models.Lot, error) {
	if strings.TrimSpace(styleRef) == "" {
		return nil, apperrors.Validationf("style_ref required")
	}
	if quantity <= 0 {
		return nil, apperrors.Validationf("quantity must be positive, got %d", quantity)
	}

	lot := &models.Lot{
		ClientID: clientID,
		StyleRef: styleRef,
		Quantity: quantity,
		Status:   models.LotStatusPlanned,
	}
	if err := s.lotRepo.Create(ctx, lot); err != nil {
		return nil, err
	}

	return lot, nil
}

func (s *lotService) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Lot, error) {
	return s.lotRepo.ListByClient(ctx, clientID)
}

func (s *lotService) SubmitForApproval(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	return s.transitionLocked(ctx, lotID, models.LotStatusPendingApproval, nil)
}

func (s *lotService) Approve(ctx context.Context, lotID, deciderID uuid.UUID, note *string) (*models.Lot, error) {
	decision := &models.Approval{
		LotID:     lotID,
		DeciderID: deciderID,
		Decision:  models.ApprovalDecisionApprove,
		Note:      note,
	}

	lot, err := s.transitionLocked(ctx, lotID, models.LotStatusApproved, decision)
	if err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, events.LotApproved, map[string]any{
		"lot_id":     lotID.String(),
		"decider_id": deciderID.String(),
	})

	return lot, nil
}

func (s *lotService) Reject(ctx context.Context, lotID, deciderID uuid.UUID, note string) (*models.Lot, error) {
	if strings.TrimSpace(note) == "" {
		return nil, apperrors.Validationf("note required to reject a lot")
	}

	decision := &models.Approval{
		LotID:     lotID,
		DeciderID: deciderID,
		Decision:  models.ApprovalDecisionReject,
		Note:      &note,
	}

	lot, err := s.transitionLocked(ctx, lotID, models.LotStatusRejected, decision)
	if err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, events.LotRejected, map[string]any{
		"lot_id":     lotID.String(),
		"decider_id": deciderID.String(),
		"note":       note,
	})

	return lot, nil
}

func (s *lotService) Ship(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	return s.transitionLocked(ctx, lotID, models.LotStatusShipped, nil)
}

func (s *lotService) Approvals(ctx context.Context, lotID uuid.UUID) ([]*models.Approval, error) {
	lot, err := s.lotRepo.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, apperrors.NotFoundf("lot %s", lotID)
	}
	return s.approvalRepo.ListByLot(ctx, lotID)
}

// transitionLocked validates and applies one status transition under the
// per-lot lock, recording the approval decision (if any) in the same
// transaction so a partial write is never observable.
func (s *lotService) transitionLocked(ctx context.Context, lotID uuid.UUID, target models.LotStatus, decision *models.Approval) (*models.Lot, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	lot, err := s.lotRepo.GetByIDForUpdate(ctx, lotID, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, apperrors.NotFoundf("lot %s", lotID)
	}

	if decision != nil && lot.Status != models.LotStatusPendingApproval {
		return nil, apperrors.Validationf("lot %s is not awaiting approval (status: %s)", lotID, lot.Status)
	}
	if !lot.Status.CanTransitionTo(target) {
		return nil, apperrors.Validationf("invalid status transition from %s to %s", lot.Status, target)
	}

	if decision != nil {
		if err := s.approvalRepo.Create(ctx, decision); err != nil {
			return nil, err
		}
	}

	if err := s.lotRepo.UpdateStatus(ctx, lotID, target); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.MapConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}

	previous := lot.Status
	lot.Status = target
	s.sink.Emit(ctx, events.LotStatusChanged, map[string]any{
		"lot_id": lotID.String(),
		"from":   string(previous),
		"to":     string(target),
	})

	return lot, nil
}
