package services

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/loomline/loomline-engine/pkg/apperrors"
	"github.com/loomline/loomline-engine/pkg/models"
)

// PlanNormalizer turns a raw, possibly duplicated and unordered supplier
// plan into its canonical form: deduplicated by factory, ordered by the role
// catalog's pipeline sequence, with exactly one primary factory. It is pure:
// no I/O, no side effects; the role catalog and the client's owned-factory
// set are passed in.
type PlanNormalizer interface {
	Normalize(req *models.SyncPlanRequest, catalog map[uuid.UUID]*models.Role, ownedFactories map[uuid.UUID]bool) (*models.NormalizedPlan, error)
}

type planNormalizer struct{}

// NewPlanNormalizer creates a new PlanNormalizer.
func NewPlanNormalizer() PlanNormalizer {
	return &planNormalizer{}
}

var _ PlanNormalizer = (*planNormalizer)(nil)

// mergedSupplier is a working entry during dedup, tracking the original
// input index for stable tie-breaking.
type mergedSupplier struct {
	factoryID  uuid.UUID
	inputIndex int
	sequence   *int
	stage      *string
	isPrimary  bool
	roles      []mergedRole
	roleIndex  map[uuid.UUID]int
}

type mergedRole struct {
	roleID   uuid.UUID
	sequence *int
	co2Kg    *float64
	notes    *string
}

func (n *planNormalizer) Normalize(req *models.SyncPlanRequest, catalog map[uuid.UUID]*models.Role, ownedFactories map[uuid.UUID]bool) (*models.NormalizedPlan, error) {
	inputs := req.Suppliers

	// An empty list falls back to a single primary-factory entry.
	if len(inputs) == 0 {
		if req.FactoryID == nil || *req.FactoryID == uuid.Nil {
			return nil, apperrors.Validationf("at least one supplier required")
		}
		primary := true
		inputs = []models.SupplierPlanInput{{FactoryID: *req.FactoryID, IsPrimary: &primary}}
	}

	merged := dedupeSuppliers(inputs)

	if err := validateOwnership(merged, ownedFactories); err != nil {
		return nil, err
	}

	if err := validateRoles(merged, catalog); err != nil {
		return nil, err
	}

	// Sort each supplier's roles by catalog default sequence, ties broken by
	// original input order, then reassign role-local sequence 0..n-1.
	for i := range merged {
		roles := merged[i].roles
		sort.SliceStable(roles, func(a, b int) bool {
			return catalog[roles[a].roleID].DefaultSequence < catalog[roles[b].roleID].DefaultSequence
		})
	}

	// Suppliers performing earlier-in-pipeline roles sort first; ties keep
	// submission order.
	sort.SliceStable(merged, func(a, b int) bool {
		sa, sb := minRoleSequence(merged[a], catalog), minRoleSequence(merged[b], catalog)
		if sa != sb {
			return sa < sb
		}
		return merged[a].inputIndex < merged[b].inputIndex
	})

	primaryID := resolvePrimary(merged, req.FactoryID)

	plan := &models.NormalizedPlan{PrimaryFactoryID: primaryID}
	for i, m := range merged {
		supplier := models.NormalizedSupplier{
			FactoryID: m.factoryID,
			Sequence:  i,
			Stage:     m.stage,
			IsPrimary: m.factoryID == primaryID,
		}
		for j, role := range m.roles {
			supplier.Roles = append(supplier.Roles, models.NormalizedRole{
				RoleID:   role.roleID,
				Sequence: j,
				CO2Kg:    role.co2Kg,
				Notes:    role.notes,
			})
		}
		plan.Suppliers = append(plan.Suppliers, supplier)
	}

	return plan, nil
}

// dedupeSuppliers merges duplicate factory entries. The first occurrence's
// explicit fields win; primary flags are OR-ed; role lists are unioned with
// role-level dedup by role id under the same first-wins rule.
func dedupeSuppliers(inputs []models.SupplierPlanInput) []*mergedSupplier {
	var merged []*mergedSupplier
	byFactory := make(map[uuid.UUID]*mergedSupplier)

	for i, in := range inputs {
		m, seen := byFactory[in.FactoryID]
		if !seen {
			m = &mergedSupplier{
				factoryID:  in.FactoryID,
				inputIndex: i,
				sequence:   in.Sequence,
				stage:      in.Stage,
				roleIndex:  make(map[uuid.UUID]int),
			}
			byFactory[in.FactoryID] = m
			merged = append(merged, m)
		} else {
			if m.sequence == nil {
				m.sequence = in.Sequence
			}
			if m.stage == nil {
				m.stage = in.Stage
			}
		}
		if in.IsPrimary != nil && *in.IsPrimary {
			m.isPrimary = true
		}

		for _, role := range in.Roles {
			if idx, dup := m.roleIndex[role.RoleID]; dup {
				existing := &m.roles[idx]
				if existing.sequence == nil {
					existing.sequence = role.Sequence
				}
				if existing.co2Kg == nil {
					existing.co2Kg = role.CO2Kg
				}
				if existing.notes == nil {
					existing.notes = role.Notes
				}
				continue
			}
			m.roleIndex[role.RoleID] = len(m.roles)
			m.roles = append(m.roles, mergedRole{
				roleID:   role.RoleID,
				sequence: role.Sequence,
				co2Kg:    role.CO2Kg,
				notes:    role.Notes,
			})
		}
	}

	return merged
}

func validateOwnership(merged []*mergedSupplier, owned map[uuid.UUID]bool) error {
	var offending []uuid.UUID
	for _, m := range merged {
		if !owned[m.factoryID] {
			offending = append(offending, m.factoryID)
		}
	}
	if len(offending) > 0 {
		return apperrors.Permissionf("factory(ies) not owned by client: %s", apperrors.JoinIDs(offending))
	}
	return nil
}

func validateRoles(merged []*mergedSupplier, catalog map[uuid.UUID]*models.Role) error {
	var missing []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range merged {
		for _, role := range m.roles {
			if _, ok := catalog[role.roleID]; !ok && !seen[role.roleID] {
				seen[role.roleID] = true
				missing = append(missing, role.roleID)
			}
		}
	}
	if len(missing) > 0 {
		return apperrors.Validationf("unknown role(s): %s", apperrors.JoinIDs(missing))
	}
	return nil
}

// minRoleSequence is the earliest catalog position among the supplier's
// roles; suppliers with no roles sort last.
func minRoleSequence(m *mergedSupplier, catalog map[uuid.UUID]*models.Role) int {
	min := math.MaxInt
	for _, role := range m.roles {
		if seq := catalog[role.roleID].DefaultSequence; seq < min {
			min = seq
		}
	}
	return min
}

// resolvePrimary picks the primary factory: the first supplier flagged
// primary wins, then the explicit fallback, then the first supplier in
// sorted order.
func resolvePrimary(merged []*mergedSupplier, fallback *uuid.UUID) uuid.UUID {
	var flagged []*mergedSupplier
	for _, m := range merged {
		if m.isPrimary {
			flagged = append(flagged, m)
		}
	}
	if len(flagged) > 0 {
		first := flagged[0]
		for _, m := range flagged[1:] {
			if m.inputIndex < first.inputIndex {
				first = m
			}
		}
		return first.factoryID
	}

	if fallback != nil && *fallback != uuid.Nil {
		for _, m := range merged {
			if m.factoryID == *fallback {
				return m.factoryID
			}
		}
	}

	return merged[0].factoryID
}
