package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loomline/loomline-engine/pkg/database"
	"github.com/loomline/loomline-engine/pkg/models"
	"github.com/loomline/loomline-engine/pkg/testhelpers"
)

func scopedContext(t *testing.T, tdb *testhelpers.TestDB, clientID uuid.UUID) context.Context {
	t.Helper()
	provider := database.NewClientScopeProvider(tdb.DB)
	ctx, cleanup, err := provider.WithClientScope(context.Background(), clientID)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return ctx
}

func insertFactory(t *testing.T, tdb *testhelpers.TestDB, clientID uuid.UUID, name string, roleIDs ...uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	var factoryID uuid.UUID
	err := tdb.Pool.QueryRow(ctx,
		`INSERT INTO factories (client_id, name) VALUES ($1, $2) RETURNING id`,
		clientID, name).Scan(&factoryID)
	require.NoError(t, err)

	for _, roleID := range roleIDs {
		_, err := tdb.Pool.Exec(ctx,
			`INSERT INTO factory_roles (factory_id, role_id) VALUES ($1, $2)`,
			factoryID, roleID)
		require.NoError(t, err)
	}
	return factoryID
}

func TestRoleRepository_SeededCatalog(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	ctx := scopedContext(t, tdb, uuid.New())
	repo := NewRoleRepository()

	roles, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 7)

	// Seeded in pipeline order.
	require.Equal(t, "spinning", roles[0].Key)
	require.Equal(t, "packing", roles[6].Key)
	for i := 1; i < len(roles); i++ {
		require.Greater(t, roles[i].DefaultSequence, roles[i-1].DefaultSequence)
	}

	catalog, err := repo.GetByIDs(ctx, []uuid.UUID{roles[0].ID, roles[1].ID})
	require.NoError(t, err)
	require.Len(t, catalog, 2)

	_, err = repo.GetByIDs(ctx, []uuid.UUID{roles[0].ID, uuid.New()})
	require.Error(t, err)
}

func TestLotRepository_Lifecycle(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	clientID := uuid.New()
	ctx := scopedContext(t, tdb, clientID)
	repo := NewLotRepository()

	lot := &models.Lot{ClientID: clientID, StyleRef: "SS26-TEE-001", Quantity: 500}
	require.NoError(t, repo.Create(ctx, lot))
	require.Equal(t, models.LotStatusPlanned, lot.Status)

	got, err := repo.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "SS26-TEE-001", got.StyleRef)
	require.Equal(t, 500, got.Quantity)

	missing, err := repo.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, repo.UpdateStatus(ctx, lot.ID, models.LotStatusInProduction))
	got, err = repo.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	require.Equal(t, models.LotStatusInProduction, got.Status)

	lots, err := repo.ListByClient(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, lots, 1)
}

func TestLotRepository_GetByIDForUpdate(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	clientID := uuid.New()
	ctx := scopedContext(t, tdb, clientID)
	repo := NewLotRepository()

	lot := &models.Lot{ClientID: clientID, StyleRef: "SS26-DRS-002", Quantity: 100}
	require.NoError(t, repo.Create(ctx, lot))

	// The lock only matters inside a transaction; repository calls on the
	// scoped connection join it.
	scope, ok := database.GetClientScope(ctx)
	require.True(t, ok)
	tx, err := scope.Conn.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	locked, err := repo.GetByIDForUpdate(ctx, lot.ID, time.Second)
	require.NoError(t, err)
	require.NotNil(t, locked)
	require.Equal(t, lot.ID, locked.ID)

	missing, err := repo.GetByIDForUpdate(ctx, uuid.New(), time.Second)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, tx.Rollback(ctx))
}

func TestSupplierRepository_SyncRoundTrip(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	clientID := uuid.New()
	ctx := scopedContext(t, tdb, clientID)

	roleRepo := NewRoleRepository()
	lotRepo := NewLotRepository()
	supplierRepo := NewSupplierRepository()

	roles, err := roleRepo.List(ctx)
	require.NoError(t, err)
	dyeing, sewing := roles[1], roles[4]

	factoryID := insertFactory(t, tdb, clientID, "Mill A", dyeing.ID, sewing.ID)

	lot := &models.Lot{ClientID: clientID, StyleRef: "SS26-JKT-003", Quantity: 250}
	require.NoError(t, lotRepo.Create(ctx, lot))

	stage := "assembly"
	suppliers := []*models.Supplier{
		{
			LotID:     lot.ID,
			FactoryID: factoryID,
			Sequence:  0,
			Stage:     &stage,
			IsPrimary: true,
			Roles: []*models.RoleAssignment{
				{RoleID: dyeing.ID, Sequence: 0, Status: models.RoleStatusNotStarted},
				{RoleID: sewing.ID, Sequence: 1, Status: models.RoleStatusNotStarted},
			},
		},
	}
	require.NoError(t, supplierRepo.CreateBatch(ctx, suppliers))

	listed, err := supplierRepo.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.True(t, listed[0].IsPrimary)
	require.Len(t, listed[0].Roles, 2)
	require.Equal(t, dyeing.ID, listed[0].Roles[0].RoleID)
	require.Equal(t, sewing.ID, listed[0].Roles[1].RoleID)

	// Progress updates persist across a re-list.
	started := time.Now()
	active := listed[0].Roles[0]
	active.Status = models.RoleStatusInProgress
	active.StartedAt = &started
	require.NoError(t, supplierRepo.UpdateAssignmentProgress(ctx, active))

	listed, err = supplierRepo.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleStatusInProgress, listed[0].Roles[0].Status)
	require.NotNil(t, listed[0].Roles[0].StartedAt)

	require.NoError(t, supplierRepo.DeleteByLot(ctx, lot.ID))
	listed, err = supplierRepo.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestFactoryRepository_OwnershipAndCapabilities(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	clientID := uuid.New()
	ctx := scopedContext(t, tdb, clientID)

	roleRepo := NewRoleRepository()
	factoryRepo := NewFactoryRepository()

	roles, err := roleRepo.List(ctx)
	require.NoError(t, err)
	cutting := roles[3]

	ownedID := insertFactory(t, tdb, clientID, "Cut House", cutting.ID)
	foreignID := insertFactory(t, tdb, uuid.New(), "Other Tenant Mill")

	ownership, err := factoryRepo.OwnedIDs(ctx, clientID, []uuid.UUID{ownedID, foreignID})
	require.NoError(t, err)
	require.True(t, ownership[ownedID])
	require.False(t, ownership[foreignID])

	capable, err := factoryRepo.GetCapableRoles(ctx, ownedID)
	require.NoError(t, err)
	require.True(t, capable[cutting.ID])
	require.False(t, capable[roles[0].ID])
}

func TestApprovalRepository_AppendOnlyHistory(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	clientID := uuid.New()
	ctx := scopedContext(t, tdb, clientID)

	lotRepo := NewLotRepository()
	approvalRepo := NewApprovalRepository()

	lot := &models.Lot{ClientID: clientID, StyleRef: "SS26-SKT-004", Quantity: 80}
	require.NoError(t, lotRepo.Create(ctx, lot))

	note := "seam slippage above tolerance"
	first := &models.Approval{
		LotID:     lot.ID,
		DeciderID: uuid.New(),
		Decision:  models.ApprovalDecisionReject,
		Note:      &note,
	}
	require.NoError(t, approvalRepo.Create(ctx, first))
	require.NotEqual(t, uuid.Nil, first.ID)
	require.False(t, first.DecidedAt.IsZero())

	second := &models.Approval{
		LotID:     lot.ID,
		DeciderID: uuid.New(),
		Decision:  models.ApprovalDecisionApprove,
		DecidedAt: first.DecidedAt.Add(time.Minute),
	}
	require.NoError(t, approvalRepo.Create(ctx, second))

	history, err := approvalRepo.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.ApprovalDecisionReject, history[0].Decision)
	require.Equal(t, models.ApprovalDecisionApprove, history[1].Decision)
	require.NotNil(t, history[0].Note)
}
