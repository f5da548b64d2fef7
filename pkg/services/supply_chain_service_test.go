package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/events"
	"github.com/loomline/loomline-engine/pkg/models"
)

// ============================================================================
// Mocks
// ============================================================================

type mockLotRepo struct {
	lots          map[uuid.UUID]*models.Lot
	statusUpdates []models.LotStatus
}

func newMockLotRepo() *mockLotRepo {
	return &mockLotRepo{lots: make(map[uuid.UUID]*models.Lot)}
}

func (m *mockLotRepo) Create(ctx context.Context, lot *models.Lot) error {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	m.lots[lot.ID] = lot
	return nil
}

func (m *mockLotRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	return m.lots[id], nil
}

func (m *mockLotRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID, lockTimeout time.Duration) (*models.Lot, error) {
	return m.lots[id], nil
}

func (m *mockLotRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.LotStatus) error {
	m.statusUpdates = append(m.statusUpdates, status)
	if lot, ok := m.lots[id]; ok {
		lot.Status = status
	}
	return nil
}

func (m *mockLotRepo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Lot, error) {
	var out []*models.Lot
	for _, lot := range m.lots {
		if lot.ClientID == clientID {
			out = append(out, lot)
		}
	}
	return out, nil
}

type mockSupplierRepo struct {
	suppliers       map[uuid.UUID][]*models.Supplier
	progressUpdates []*models.RoleAssignment
}

func newMockSupplierRepo() *mockSupplierRepo {
	return &mockSupplierRepo{suppliers: make(map[uuid.UUID][]*models.Supplier)}
}

func (m *mockSupplierRepo) ListByLot(ctx context.Context, lotID uuid.UUID) ([]*models.Supplier, error) {
	return m.suppliers[lotID], nil
}

func (m *mockSupplierRepo) DeleteByLot(ctx context.Context, lotID uuid.UUID) error {
	delete(m.suppliers, lotID)
	return nil
}

func (m *mockSupplierRepo) CreateBatch(ctx context.Context, suppliers []*models.Supplier) error {
	if len(suppliers) > 0 {
		m.suppliers[suppliers[0].LotID] = suppliers
	}
	return nil
}

func (m *mockSupplierRepo) UpdateAssignmentProgress(ctx context.Context, a *models.RoleAssignment) error {
	m.progressUpdates = append(m.progressUpdates, a)
	return nil
}

// ============================================================================
// Assignment builders
// ============================================================================

func assignment(status models.RoleStatus) *models.RoleAssignment {
	return &models.RoleAssignment{ID: uuid.New(), RoleID: uuid.New(), Status: status}
}

func supplierWith(assignments ...*models.RoleAssignment) *models.Supplier {
	return &models.Supplier{ID: uuid.New(), FactoryID: uuid.New(), Roles: assignments}
}

// ============================================================================
// Advancement
// ============================================================================

func TestAdvanceAssignments_ActivatesFirstWhenNoneActive(t *testing.T) {
	first := assignment(models.RoleStatusNotStarted)
	second := assignment(models.RoleStatusNotStarted)
	now := time.Now()

	changed := advanceAssignments([]*models.RoleAssignment{first, second}, now)

	if len(changed) != 1 || changed[0] != first {
		t.Fatalf("expected only first assignment changed, got %d changes", len(changed))
	}
	if first.Status != models.RoleStatusInProgress {
		t.Errorf("first status = %s, want IN_PROGRESS", first.Status)
	}
	if first.StartedAt == nil || !first.StartedAt.Equal(now) {
		t.Errorf("expected started_at set to now, got %v", first.StartedAt)
	}
	if second.Status != models.RoleStatusNotStarted {
		t.Errorf("second status = %s, want NOT_STARTED", second.Status)
	}
}

func TestAdvanceAssignments_CompletesCurrentAndActivatesNext(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	current := assignment(models.RoleStatusInProgress)
	current.StartedAt = &started
	next := assignment(models.RoleStatusNotStarted)
	now := time.Now()

	changed := advanceAssignments([]*models.RoleAssignment{current, next}, now)

	if len(changed) != 2 {
		t.Fatalf("expected 2 changed assignments, got %d", len(changed))
	}
	if current.Status != models.RoleStatusCompleted {
		t.Errorf("current status = %s, want COMPLETED", current.Status)
	}
	if current.CompletedAt == nil || !current.CompletedAt.Equal(now) {
		t.Errorf("expected completed_at set, got %v", current.CompletedAt)
	}
	if current.StartedAt == nil || !current.StartedAt.Equal(started) {
		t.Errorf("expected original started_at preserved, got %v", current.StartedAt)
	}
	if next.Status != models.RoleStatusInProgress {
		t.Errorf("next status = %s, want IN_PROGRESS", next.Status)
	}
}

func TestAdvanceAssignments_SkipsCompletedWhenActivatingNext(t *testing.T) {
	current := assignment(models.RoleStatusInProgress)
	alreadyDone := assignment(models.RoleStatusCompleted)
	eligible := assignment(models.RoleStatusNotStarted)
	now := time.Now()

	changed := advanceAssignments([]*models.RoleAssignment{current, alreadyDone, eligible}, now)

	if len(changed) != 2 {
		t.Fatalf("expected 2 changed assignments, got %d", len(changed))
	}
	if eligible.Status != models.RoleStatusInProgress {
		t.Errorf("eligible status = %s, want IN_PROGRESS", eligible.Status)
	}
	if alreadyDone.Status != models.RoleStatusCompleted {
		t.Errorf("completed assignment must not change, got %s", alreadyDone.Status)
	}
}

func TestAdvanceAssignments_LastStageCompletesWithoutSuccessor(t *testing.T) {
	current := assignment(models.RoleStatusInProgress)
	now := time.Now()

	changed := advanceAssignments([]*models.RoleAssignment{current}, now)

	if len(changed) != 1 {
		t.Fatalf("expected 1 changed assignment, got %d", len(changed))
	}
	if current.Status != models.RoleStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", current.Status)
	}
}

func TestAdvanceAssignments_AllCompletedIsNoOp(t *testing.T) {
	a := assignment(models.RoleStatusCompleted)
	b := assignment(models.RoleStatusCompleted)

	changed := advanceAssignments([]*models.RoleAssignment{a, b}, time.Now())

	if len(changed) != 0 {
		t.Fatalf("expected no changes, got %d", len(changed))
	}
}

func TestAdvanceAssignments_BackfillsMissingStartedAt(t *testing.T) {
	// An in-progress assignment without started_at gets it backfilled at
	// completion time.
	current := assignment(models.RoleStatusInProgress)
	now := time.Now()

	advanceAssignments([]*models.RoleAssignment{current}, now)

	if current.StartedAt == nil || !current.StartedAt.Equal(now) {
		t.Errorf("expected started_at backfilled, got %v", current.StartedAt)
	}
}

// ============================================================================
// Invariant repair
// ============================================================================

func TestRepairProgress_ResetsLaterActiveAssignments(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	first := assignment(models.RoleStatusInProgress)
	first.StartedAt = &started
	second := assignment(models.RoleStatusInProgress)
	second.StartedAt = &started
	third := assignment(models.RoleStatusInProgress)

	changed, reset := repairProgress([]*models.RoleAssignment{first, second, third}, time.Now())

	if len(reset) != 2 {
		t.Fatalf("expected 2 reset ids, got %d", len(reset))
	}
	if len(changed) != 2 {
		t.Fatalf("expected 2 changed assignments, got %d", len(changed))
	}
	if first.Status != models.RoleStatusInProgress {
		t.Errorf("first active assignment must survive, got %s", first.Status)
	}
	for i, a := range []*models.RoleAssignment{second, third} {
		if a.Status != models.RoleStatusNotStarted {
			t.Errorf("reset assignment %d status = %s, want NOT_STARTED", i, a.Status)
		}
		if a.StartedAt != nil || a.CompletedAt != nil {
			t.Errorf("reset assignment %d should have timestamps cleared", i)
		}
	}
}

func TestRepairProgress_BackfillsStartedAtOnSurvivor(t *testing.T) {
	active := assignment(models.RoleStatusInProgress)
	now := time.Now()

	changed, reset := repairProgress([]*models.RoleAssignment{active}, now)

	if len(reset) != 0 {
		t.Fatalf("expected no resets, got %d", len(reset))
	}
	if len(changed) != 1 {
		t.Fatalf("expected survivor reported as changed (backfill), got %d", len(changed))
	}
	if active.StartedAt == nil || !active.StartedAt.Equal(now) {
		t.Errorf("expected started_at backfilled, got %v", active.StartedAt)
	}
}

func TestRepairProgress_HealthyChainUntouched(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	done := assignment(models.RoleStatusCompleted)
	active := assignment(models.RoleStatusInProgress)
	active.StartedAt = &started
	pending := assignment(models.RoleStatusNotStarted)

	changed, reset := repairProgress([]*models.RoleAssignment{done, active, pending}, time.Now())

	if len(changed) != 0 || len(reset) != 0 {
		t.Fatalf("expected no changes on healthy chain, got %d changed, %d reset", len(changed), len(reset))
	}
}

// ============================================================================
// Plan materialization and carry-forward
// ============================================================================

func TestBuildSuppliers_CarriesForwardProgress(t *testing.T) {
	lotID := uuid.New()
	factoryID := uuid.New()
	started := time.Now().Add(-2 * time.Hour)
	completed := time.Now().Add(-time.Hour)
	priorNotes := "batch 12 rework"

	prior := &models.RoleAssignment{
		RoleID:      dyeingID,
		Status:      models.RoleStatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		CO2Kg:       floatPtr(7.5),
		Notes:       &priorNotes,
	}
	carry := map[models.AssignmentKey]*models.RoleAssignment{
		{FactoryID: factoryID, RoleID: dyeingID}: prior,
	}

	plan := &models.NormalizedPlan{
		PrimaryFactoryID: factoryID,
		Suppliers: []models.NormalizedSupplier{
			{FactoryID: factoryID, IsPrimary: true, Roles: []models.NormalizedRole{
				{RoleID: dyeingID, Sequence: 0},
				{RoleID: sewingID, Sequence: 1},
			}},
		},
	}

	suppliers := buildSuppliers(lotID, plan, testCatalog(), carry)

	if len(suppliers) != 1 {
		t.Fatalf("expected 1 supplier, got %d", len(suppliers))
	}
	roles := suppliers[0].Roles

	carried := roles[0]
	if carried.Status != models.RoleStatusCompleted {
		t.Errorf("carried status = %s, want COMPLETED", carried.Status)
	}
	if carried.StartedAt == nil || !carried.StartedAt.Equal(started) {
		t.Errorf("carried started_at = %v, want %v", carried.StartedAt, started)
	}
	if carried.CompletedAt == nil || !carried.CompletedAt.Equal(completed) {
		t.Errorf("carried completed_at = %v, want %v", carried.CompletedAt, completed)
	}
	if carried.CO2Kg == nil || *carried.CO2Kg != 7.5 {
		t.Errorf("carried co2 = %v, want 7.5", carried.CO2Kg)
	}
	if carried.Notes == nil || *carried.Notes != priorNotes {
		t.Errorf("carried notes = %v, want %q", carried.Notes, priorNotes)
	}

	fresh := roles[1]
	if fresh.Status != models.RoleStatusNotStarted {
		t.Errorf("fresh assignment status = %s, want NOT_STARTED", fresh.Status)
	}
	if fresh.StartedAt != nil || fresh.CompletedAt != nil {
		t.Error("fresh assignment should have no timestamps")
	}
}

func TestBuildSuppliers_CO2DefaultsFromCatalog(t *testing.T) {
	lotID := uuid.New()
	factoryID := uuid.New()

	plan := &models.NormalizedPlan{
		PrimaryFactoryID: factoryID,
		Suppliers: []models.NormalizedSupplier{
			{FactoryID: factoryID, IsPrimary: true, Roles: []models.NormalizedRole{
				{RoleID: dyeingID},
				{RoleID: cuttingID, CO2Kg: floatPtr(1.5)},
			}},
		},
	}

	suppliers := buildSuppliers(lotID, plan, testCatalog(), nil)

	roles := suppliers[0].Roles
	if roles[0].CO2Kg == nil || *roles[0].CO2Kg != 6.8 {
		t.Errorf("expected catalog default 6.8 for dyeing, got %v", roles[0].CO2Kg)
	}
	if roles[1].CO2Kg == nil || *roles[1].CO2Kg != 1.5 {
		t.Errorf("expected explicit 1.5 for cutting, got %v", roles[1].CO2Kg)
	}
}

func TestFlattenAssignments_GlobalOrder(t *testing.T) {
	a1 := assignment(models.RoleStatusCompleted)
	a2 := assignment(models.RoleStatusInProgress)
	b1 := assignment(models.RoleStatusNotStarted)

	ordered := flattenAssignments([]*models.Supplier{
		supplierWith(a1, a2),
		supplierWith(b1),
	})

	want := []*models.RoleAssignment{a1, a2, b1}
	if len(ordered) != len(want) {
		t.Fatalf("expected %d assignments, got %d", len(want), len(ordered))
	}
	for i := range want {
		if ordered[i] != want[i] {
			t.Errorf("assignment at position %d out of order", i)
		}
	}
}

// ============================================================================
// Derived lot status
// ============================================================================

func newTestSupplyChainService(lotRepo *mockLotRepo, supplierRepo *mockSupplierRepo, sink events.Sink) *supplyChainService {
	return &supplyChainService{
		lotRepo:      lotRepo,
		supplierRepo: supplierRepo,
		normalizer:   NewPlanNormalizer(),
		sink:         sink,
		logger:       zap.NewNop(),
		lockTimeout:  time.Second,
	}
}

func TestApplyDerivedStatus(t *testing.T) {
	tests := []struct {
		name        string
		current     models.LotStatus
		assignments []models.RoleStatus
		wantStatus  models.LotStatus
		wantUpdates []models.LotStatus
	}{
		{
			name:        "planned with active stage enters production",
			current:     models.LotStatusPlanned,
			assignments: []models.RoleStatus{models.RoleStatusInProgress, models.RoleStatusNotStarted},
			wantStatus:  models.LotStatusInProduction,
			wantUpdates: []models.LotStatus{models.LotStatusInProduction},
		},
		{
			name:        "production with all stages done enters inspection",
			current:     models.LotStatusInProduction,
			assignments: []models.RoleStatus{models.RoleStatusCompleted, models.RoleStatusCompleted},
			wantStatus:  models.LotStatusInspection,
			wantUpdates: []models.LotStatus{models.LotStatusInspection},
		},
		{
			name:        "planned with all stages done steps through production",
			current:     models.LotStatusPlanned,
			assignments: []models.RoleStatus{models.RoleStatusCompleted},
			wantStatus:  models.LotStatusInspection,
			wantUpdates: []models.LotStatus{models.LotStatusInProduction, models.LotStatusInspection},
		},
		{
			name:        "inspection unchanged by further completion",
			current:     models.LotStatusInspection,
			assignments: []models.RoleStatus{models.RoleStatusCompleted},
			wantStatus:  models.LotStatusInspection,
			wantUpdates: nil,
		},
		{
			name:        "empty plan never derives a transition",
			current:     models.LotStatusPlanned,
			assignments: nil,
			wantStatus:  models.LotStatusPlanned,
			wantUpdates: nil,
		},
		{
			name:        "planned with untouched plan stays planned",
			current:     models.LotStatusPlanned,
			assignments: []models.RoleStatus{models.RoleStatusNotStarted, models.RoleStatusNotStarted},
			wantStatus:  models.LotStatusPlanned,
			wantUpdates: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lotRepo := newMockLotRepo()
			sink := events.NewCaptureSink()
			svc := newTestSupplyChainService(lotRepo, newMockSupplierRepo(), sink)

			lot := &models.Lot{ID: uuid.New(), Status: tt.current}
			lotRepo.lots[lot.ID] = lot

			var assignments []*models.RoleAssignment
			for _, status := range tt.assignments {
				assignments = append(assignments, assignment(status))
			}
			suppliers := []*models.Supplier{supplierWith(assignments...)}
			if len(assignments) == 0 {
				suppliers = nil
			}

			got, changes, err := svc.applyDerivedStatus(context.Background(), lot, suppliers)
			if err != nil {
				t.Fatalf("applyDerivedStatus failed: %v", err)
			}

			if got.Status != tt.wantStatus {
				t.Errorf("lot status = %s, want %s", got.Status, tt.wantStatus)
			}
			if len(lotRepo.statusUpdates) != len(tt.wantUpdates) {
				t.Fatalf("status updates = %v, want %v", lotRepo.statusUpdates, tt.wantUpdates)
			}
			for i, want := range tt.wantUpdates {
				if lotRepo.statusUpdates[i] != want {
					t.Errorf("status update %d = %s, want %s", i, lotRepo.statusUpdates[i], want)
				}
			}

			// Transitions are reported for post-commit emission, one per
			// persisted step; nothing is announced from inside the helper.
			if len(changes) != len(tt.wantUpdates) {
				t.Fatalf("reported %d transitions, want %d", len(changes), len(tt.wantUpdates))
			}
			for i, want := range tt.wantUpdates {
				if changes[i].to != want {
					t.Errorf("transition %d target = %s, want %s", i, changes[i].to, want)
				}
			}
			if got := len(sink.Events()); got != 0 {
				t.Errorf("emitted %d events before commit, want 0", got)
			}
		})
	}
}

func TestEmitStatusChanges(t *testing.T) {
	sink := events.NewCaptureSink()
	svc := newTestSupplyChainService(newMockLotRepo(), newMockSupplierRepo(), sink)
	lotID := uuid.New()

	svc.emitStatusChanges(context.Background(), lotID, []statusChange{
		{from: models.LotStatusPlanned, to: models.LotStatusInProduction},
		{from: models.LotStatusInProduction, to: models.LotStatusInspection},
	})

	got := sink.Events()
	if len(got) != 2 {
		t.Fatalf("emitted %d events, want 2", len(got))
	}
	if got[0].Type != events.LotStatusChanged {
		t.Errorf("event type = %s, want %s", got[0].Type, events.LotStatusChanged)
	}
	if got[1].Payload["from"] != string(models.LotStatusInProduction) ||
		got[1].Payload["to"] != string(models.LotStatusInspection) {
		t.Errorf("unexpected payload for second step: %v", got[1].Payload)
	}
}

func TestBuildView_PrimaryFactory(t *testing.T) {
	primary := supplierWith()
	primary.IsPrimary = true
	secondary := supplierWith()

	view := buildView(&models.Lot{ID: uuid.New()}, []*models.Supplier{secondary, primary})

	if view.PrimaryFactoryID != primary.FactoryID {
		t.Errorf("primary factory = %v, want %v", view.PrimaryFactoryID, primary.FactoryID)
	}
}
