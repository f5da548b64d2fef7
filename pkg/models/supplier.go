package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Role Assignment Status
// ============================================================================

// RoleStatus is the progress status of one role assignment.
// Forward-only: NOT_STARTED → IN_PROGRESS → COMPLETED. The invariant-repair
// routine is the only path back to NOT_STARTED.
type RoleStatus string

const (
	RoleStatusNotStarted RoleStatus = "NOT_STARTED"
	RoleStatusInProgress RoleStatus = "IN_PROGRESS"
	RoleStatusCompleted  RoleStatus = "COMPLETED"
)

// ValidRoleStatuses contains all valid role assignment status values.
var ValidRoleStatuses = []RoleStatus{
	RoleStatusNotStarted,
	RoleStatusInProgress,
	RoleStatusCompleted,
}

// IsValidRoleStatus checks if the given status is valid.
func IsValidRoleStatus(s RoleStatus) bool {
	for _, v := range ValidRoleStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Supplier and Role Assignment Models
// ============================================================================

// Supplier is a factory's participation record within one lot. Sequence is
// 0-based and contiguous; exactly one supplier per lot is primary. Suppliers
// are owned by the lot and replaced wholesale on every plan edit.
type Supplier struct {
	ID        uuid.UUID `json:"id"`
	LotID     uuid.UUID `json:"lot_id"`
	FactoryID uuid.UUID `json:"factory_id"`
	Sequence  int       `json:"sequence"`
	Stage     *string   `json:"stage,omitempty"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Roles []*RoleAssignment `json:"roles"`
}

// RoleAssignment is one production role performed by one supplier within one
// lot. Sequence is 0-based and scoped to the supplier. Across the entire lot
// at most one assignment is IN_PROGRESS at any time.
type RoleAssignment struct {
	ID          uuid.UUID  `json:"id"`
	SupplierID  uuid.UUID  `json:"supplier_id"`
	RoleID      uuid.UUID  `json:"role_id"`
	Sequence    int        `json:"sequence"`
	Status      RoleStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CO2Kg       *float64   `json:"co2_kg,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AssignmentKey is the natural key used to carry timing data forward across
// plan edits: the same factory performing the same role keeps its history.
type AssignmentKey struct {
	FactoryID uuid.UUID
	RoleID    uuid.UUID
}
