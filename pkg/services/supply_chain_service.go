package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/apperrors"
	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/events"
	"github.com/loomline/loomline-engine/pkg/models"
	"github.com/loomline/loomline-engine/pkg/repositories"
)

// SupplyChainService owns the lot supply-chain progression: plan sync,
// stage advancement, the single-active-stage invariant, and the derived
// lot-status transitions that stage completion triggers.
type SupplyChainService interface {
	// SyncPlan replaces the lot's persisted supplier plan with the
	// normalized form of the request, carrying forward progress timestamps
	// for unchanged (factory, role) pairs. The whole operation is atomic.
	SyncPlan(ctx context.Context, clientID, lotID uuid.UUID, req *models.SyncPlanRequest) (*models.LotView, error)

	// Advance completes the current in-progress role assignment and
	// activates the next eligible one in global order.
	Advance(ctx context.Context, lotID uuid.UUID) (*models.LotView, error)

	// GetSupplyChain returns the lot with its supplier plan. The invariant
	// repair pass runs defensively on this read path.
	GetSupplyChain(ctx context.Context, lotID uuid.UUID) (*models.LotView, error)
}

type supplyChainService struct {
	lotRepo      repositories.LotRepository
	supplierRepo repositories.SupplierRepository
	roleRepo     repositories.RoleRepository
	factoryRepo  repositories.FactoryRepository
	normalizer   PlanNormalizer
	sink         events.Sink
	logger       *zap.Logger
	lockTimeout  time.Duration
}

// SupplyChainServiceDeps contains dependencies for SupplyChainService.
type SupplyChainServiceDeps struct {
	LotRepo      repositories.LotRepository
	SupplierRepo repositories.SupplierRepository
	RoleRepo     repositories.RoleRepository
	FactoryRepo  repositories.FactoryRepository
	Normalizer   PlanNormalizer // Optional: defaults to NewPlanNormalizer() if nil
	Sink         events.Sink
	Logger       *zap.Logger
	LockTimeout  time.Duration
}

// NewSupplyChainService creates a new SupplyChainService.
func NewSupplyChainService(deps *SupplyChainServiceDeps) SupplyChainService {
	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = NewPlanNormalizer()
	}
	lockTimeout := deps.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 3 * time.Second
	}
	return &supplyChainService{
		lotRepo:      deps.LotRepo,
		supplierRepo: deps.SupplierRepo,
		roleRepo:     deps.RoleRepo,
		factoryRepo:  deps.FactoryRepo,
		normalizer:   normalizer,
		sink:         deps.Sink,
		logger:       deps.Logger,
		lockTimeout:  lockTimeout,
	}
}

func (s *supplyChainService) SyncPlan(ctx context.Context, clientID, lotID uuid.UUID, req *models.SyncPlanRequest) (*models.LotView, error) {
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

	catalog, err := s.roleRepo.GetByIDs(ctx, collectRoleIDs(req))
	if err != nil {
		return nil, err
	}

	owned, err := s.factoryRepo.OwnedIDs(ctx, clientID, collectFactoryIDs(req))
	if err != nil {
		return nil, err
	}

	plan, err := s.normalizer.Normalize(req, catalog, owned)
	if err != nil {
		return nil, err
	}

	if err := s.validateCapabilities(ctx, plan); err != nil {
		return nil, err
	}

	// Key prior assignments by (factory, role) so progress survives a
	// re-submitted plan.
	prior, err := s.supplierRepo.ListByLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	carry := make(map[models.AssignmentKey]*models.RoleAssignment)
	for _, sup := range prior {
		for _, a := range sup.Roles {
			carry[models.AssignmentKey{FactoryID: sup.FactoryID, RoleID: a.RoleID}] = a
		}
	}

	if err := s.supplierRepo.DeleteByLot(ctx, lotID); err != nil {
		return nil, err
	}

	suppliers := buildSuppliers(lotID, plan, catalog, carry)
	if err := s.supplierRepo.CreateBatch(ctx, suppliers); err != nil {
		return nil, err
	}

	suppliers, err = s.repairAndPersist(ctx, lotID, suppliers)
	if err != nil {
		return nil, err
	}

	lot, statusChanges, err := s.applyDerivedStatus(ctx, lot, suppliers)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.MapConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.emitStatusChanges(ctx, lotID, statusChanges)
	s.sink.Emit(ctx, events.LotPlanSynced, map[string]any{
		"lot_id":             lotID.String(),
		"supplier_count":     len(suppliers),
		"primary_factory_id": plan.PrimaryFactoryID.String(),
	})

	return buildView(lot, suppliers), nil
}

func (s *supplyChainService) Advance(ctx context.Context, lotID uuid.UUID) (*models.LotView, error) {
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

	suppliers, err := s.supplierRepo.ListByLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	ordered := flattenAssignments(suppliers)
	if len(ordered) == 0 {
		return nil, apperrors.Validationf("no roles configured for lot %s", lotID)
	}

	now := time.Now()
	changed := advanceAssignments(ordered, now)
	for _, a := range changed {
		if err := s.supplierRepo.UpdateAssignmentProgress(ctx, a); err != nil {
			return nil, err
		}
	}

	suppliers, err = s.repairAndPersist(ctx, lotID, suppliers)
	if err != nil {
		return nil, err
	}

	lot, statusChanges, err := s.applyDerivedStatus(ctx, lot, suppliers)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.MapConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.emitStatusChanges(ctx, lotID, statusChanges)
	if len(changed) > 0 {
		s.sink.Emit(ctx, events.LotStageAdvanced, map[string]any{
			"lot_id":     lotID.String(),
			"lot_status": string(lot.Status),
		})
	}

	return buildView(lot, suppliers), nil
}

func (s *supplyChainService) GetSupplyChain(ctx context.Context, lotID uuid.UUID) (*models.LotView, error) {
	scope, ok := database.GetClientScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no client scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	lot, err := s.lotRepo.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, apperrors.NotFoundf("lot %s", lotID)
	}

	suppliers, err := s.supplierRepo.ListByLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	// Repair runs on the read path too, so a client never observes two
	// in-progress assignments.
	suppliers, err = s.repairAndPersist(ctx, lotID, suppliers)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.MapConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return buildView(lot, suppliers), nil
}

// validateCapabilities checks every planned role against the enacting
// factory's capability set.
func (s *supplyChainService) validateCapabilities(ctx context.Context, plan *models.NormalizedPlan) error {
	for _, supplier := range plan.Suppliers {
		if len(supplier.Roles) == 0 {
			continue
		}
		capable, err := s.factoryRepo.GetCapableRoles(ctx, supplier.FactoryID)
		if err != nil {
			return err
		}
		var unsupported []uuid.UUID
		for _, role := range supplier.Roles {
			if !capable[role.RoleID] {
				unsupported = append(unsupported, role.RoleID)
			}
		}
		if len(unsupported) > 0 {
			return apperrors.Permissionf("factory %s cannot perform role(s): %s",
				supplier.FactoryID, apperrors.JoinIDs(unsupported))
		}
	}
	return nil
}

// repairAndPersist enforces the single-active-stage invariant: the first
// in-progress assignment in global order is authoritative; any later one is
// forcibly reset. Violations indicate an upstream bug and are logged.
// The pass is idempotent and safe to run on every read.
func (s *supplyChainService) repairAndPersist(ctx context.Context, lotID uuid.UUID, suppliers []*models.Supplier) ([]*models.Supplier, error) {
	now := time.Now()
	changed, reset := repairProgress(flattenAssignments(suppliers), now)

	if len(reset) > 0 {
		s.logger.Warn("supply-chain invariant violation repaired",
			zap.String("lot_id", lotID.String()),
			zap.Strings("reset_assignment_ids", reset))
	}

	for _, a := range changed {
		if err := s.supplierRepo.UpdateAssignmentProgress(ctx, a); err != nil {
			return nil, err
		}
	}

	return suppliers, nil
}

// statusChange is one applied lot-status transition, reported back to the
// caller so events fire only after the surrounding transaction commits.
type statusChange struct {
	from models.LotStatus
	to   models.LotStatus
}

// applyDerivedStatus routes stage-driven lot transitions through the same
// transition table explicit requests use. From PLANNED, full completion
// steps through IN_PRODUCTION before INSPECTION. It persists the steps but
// does not emit events; the transitions are returned for post-commit
// emission.
func (s *supplyChainService) applyDerivedStatus(ctx context.Context, lot *models.Lot, suppliers []*models.Supplier) (*models.Lot, []statusChange, error) {
	ordered := flattenAssignments(suppliers)

	anyInProgress := false
	allCompleted := len(ordered) > 0
	for _, a := range ordered {
		if a.Status == models.RoleStatusInProgress {
			anyInProgress = true
		}
		if a.Status != models.RoleStatusCompleted {
			allCompleted = false
		}
	}

	var targets []models.LotStatus
	switch {
	case allCompleted && lot.Status == models.LotStatusPlanned:
		targets = []models.LotStatus{models.LotStatusInProduction, models.LotStatusInspection}
	case allCompleted && lot.Status == models.LotStatusInProduction:
		targets = []models.LotStatus{models.LotStatusInspection}
	case anyInProgress && lot.Status == models.LotStatusPlanned:
		targets = []models.LotStatus{models.LotStatusInProduction}
	}

	var applied []statusChange
	for _, target := range targets {
		if !lot.Status.CanTransitionTo(target) {
			return nil, nil, fmt.Errorf("derived transition from %s to %s not allowed by table", lot.Status, target)
		}
		if err := s.lotRepo.UpdateStatus(ctx, lot.ID, target); err != nil {
			return nil, nil, err
		}
		applied = append(applied, statusChange{from: lot.Status, to: target})
		lot.Status = target
	}

	return lot, applied, nil
}

// emitStatusChanges announces committed derived transitions, one event per
// persisted step.
func (s *supplyChainService) emitStatusChanges(ctx context.Context, lotID uuid.UUID, changes []statusChange) {
	for _, c := range changes {
		s.sink.Emit(ctx, events.LotStatusChanged, map[string]any{
			"lot_id": lotID.String(),
			"from":   string(c.from),
			"to":     string(c.to),
		})
	}
}

// ============================================================================
// Pure helpers
// ============================================================================

// flattenAssignments returns the lot's assignments in global order: all of
// supplier i before all of supplier i+1, role sequence within a supplier.
func flattenAssignments(suppliers []*models.Supplier) []*models.RoleAssignment {
	var ordered []*models.RoleAssignment
	for _, s := range suppliers {
		ordered = append(ordered, s.Roles...)
	}
	return ordered
}

// advanceAssignments applies one advancement step to the ordered assignment
// list and returns the assignments it mutated.
func advanceAssignments(ordered []*models.RoleAssignment, now time.Time) []*models.RoleAssignment {
	var changed []*models.RoleAssignment

	var current *models.RoleAssignment
	currentIdx := -1
	for i, a := range ordered {
		if a.Status == models.RoleStatusInProgress {
			current = a
			currentIdx = i
			break
		}
	}

	if current == nil {
		// Nothing active: start the first unfinished assignment, if any.
		for _, a := range ordered {
			if a.Status != models.RoleStatusCompleted {
				activate(a, now)
				return append(changed, a)
			}
		}
		return nil
	}

	current.Status = models.RoleStatusCompleted
	completedAt := now
	current.CompletedAt = &completedAt
	if current.StartedAt == nil {
		current.StartedAt = &completedAt
	}
	changed = append(changed, current)

	for _, a := range ordered[currentIdx+1:] {
		if a.Status != models.RoleStatusCompleted {
			activate(a, now)
			return append(changed, a)
		}
	}

	return changed
}

func activate(a *models.RoleAssignment, now time.Time) {
	a.Status = models.RoleStatusInProgress
	if a.StartedAt == nil {
		startedAt := now
		a.StartedAt = &startedAt
	}
	a.CompletedAt = nil
}

// repairProgress scans assignments in global order; the first in-progress
// one is kept (its started-at backfilled), every subsequent in-progress one
// is reset to NOT_STARTED with timestamps cleared. Returns the mutated
// assignments and the ids of those reset.
func repairProgress(ordered []*models.RoleAssignment, now time.Time) (changed []*models.RoleAssignment, reset []string) {
	seenActive := false
	for _, a := range ordered {
		if a.Status != models.RoleStatusInProgress {
			continue
		}
		if !seenActive {
			seenActive = true
			if a.StartedAt == nil {
				startedAt := now
				a.StartedAt = &startedAt
				changed = append(changed, a)
			}
			continue
		}
		a.Status = models.RoleStatusNotStarted
		a.StartedAt = nil
		a.CompletedAt = nil
		changed = append(changed, a)
		reset = append(reset, a.ID.String())
	}
	return changed, reset
}

// buildSuppliers materializes the normalized plan into persistable rows,
// carrying forward progress for unchanged (factory, role) keys and filling
// CO₂ defaults from the catalog.
func buildSuppliers(lotID uuid.UUID, plan *models.NormalizedPlan, catalog map[uuid.UUID]*models.Role, carry map[models.AssignmentKey]*models.RoleAssignment) []*models.Supplier {
	var suppliers []*models.Supplier
	for _, ns := range plan.Suppliers {
		supplier := &models.Supplier{
			ID:        uuid.New(),
			LotID:     lotID,
			FactoryID: ns.FactoryID,
			Sequence:  ns.Sequence,
			Stage:     ns.Stage,
			IsPrimary: ns.IsPrimary,
		}
		for _, nr := range ns.Roles {
			a := &models.RoleAssignment{
				ID:       uuid.New(),
				RoleID:   nr.RoleID,
				Sequence: nr.Sequence,
				Status:   models.RoleStatusNotStarted,
				CO2Kg:    nr.CO2Kg,
				Notes:    nr.Notes,
			}
			if prev, ok := carry[models.AssignmentKey{FactoryID: ns.FactoryID, RoleID: nr.RoleID}]; ok {
				a.Status = prev.Status
				a.StartedAt = prev.StartedAt
				a.CompletedAt = prev.CompletedAt
				if a.CO2Kg == nil {
					a.CO2Kg = prev.CO2Kg
				}
				if a.Notes == nil {
					a.Notes = prev.Notes
				}
			}
			if a.CO2Kg == nil {
				defaultCO2 := catalog[nr.RoleID].DefaultCO2Kg
				a.CO2Kg = &defaultCO2
			}
			supplier.Roles = append(supplier.Roles, a)
		}
		suppliers = append(suppliers, supplier)
	}
	return suppliers
}

func buildView(lot *models.Lot, suppliers []*models.Supplier) *models.LotView {
	view := &models.LotView{Lot: lot, Suppliers: suppliers}
	for _, s := range suppliers {
		if s.IsPrimary {
			view.PrimaryFactoryID = s.FactoryID
			break
		}
	}
	return view
}

func collectRoleIDs(req *models.SyncPlanRequest) []uuid.UUID {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, s := range req.Suppliers {
		for _, r := range s.Roles {
			if !seen[r.RoleID] {
				seen[r.RoleID] = true
				ids = append(ids, r.RoleID)
			}
		}
	}
	return ids
}

func collectFactoryIDs(req *models.SyncPlanRequest) []uuid.UUID {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, s := range req.Suppliers {
		if !seen[s.FactoryID] {
			seen[s.FactoryID] = true
			ids = append(ids, s.FactoryID)
		}
	}
	if req.FactoryID != nil && *req.FactoryID != uuid.Nil && !seen[*req.FactoryID] {
		ids = append(ids, *req.FactoryID)
	}
	return ids
}
