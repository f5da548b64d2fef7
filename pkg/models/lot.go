package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Lot Status
// ============================================================================

// LotStatus is the top-level status of a production lot.
// State machine:
//
//	PLANNED → IN_PRODUCTION → INSPECTION → PENDING_APPROVAL → APPROVED → SHIPPED
//	                                                        ↘ REJECTED
//
// REJECTED and SHIPPED are terminal.
type LotStatus string

const (
	LotStatusPlanned         LotStatus = "PLANNED"
	LotStatusInProduction    LotStatus = "IN_PRODUCTION"
	LotStatusInspection      LotStatus = "INSPECTION"
	LotStatusPendingApproval LotStatus = "PENDING_APPROVAL"
	LotStatusApproved        LotStatus = "APPROVED"
	LotStatusRejected        LotStatus = "REJECTED"
	LotStatusShipped         LotStatus = "SHIPPED"
)

// ValidLotStatuses contains all valid lot status values.
var ValidLotStatuses = []LotStatus{
	LotStatusPlanned,
	LotStatusInProduction,
	LotStatusInspection,
	LotStatusPendingApproval,
	LotStatusApproved,
	LotStatusRejected,
	LotStatusShipped,
}

// lotTransitions is the single source of truth for allowed transitions.
// Derived transitions (triggered by stage advancement) go through the same
// table as explicit caller requests.
var lotTransitions = map[LotStatus][]LotStatus{
	LotStatusPlanned:         {LotStatusInProduction},
	LotStatusInProduction:    {LotStatusInspection},
	LotStatusInspection:      {LotStatusPendingApproval},
	LotStatusPendingApproval: {LotStatusApproved, LotStatusRejected},
	LotStatusApproved:        {LotStatusShipped},
	LotStatusRejected:        {},
	LotStatusShipped:         {},
}

// IsValidLotStatus checks if the given status is valid.
func IsValidLotStatus(s LotStatus) bool {
	_, ok := lotTransitions[s]
	return ok
}

// IsTerminal returns true if no further transitions are allowed.
func (s LotStatus) IsTerminal() bool {
	return len(lotTransitions[s]) == 0 && IsValidLotStatus(s)
}

// CanTransitionTo returns true if transitioning to the target is allowed.
func (s LotStatus) CanTransitionTo(target LotStatus) bool {
	for _, t := range lotTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from s.
func (s LotStatus) AllowedTransitions() []LotStatus {
	return lotTransitions[s]
}

// ============================================================================
// Lot Model
// ============================================================================

// Lot is a production batch tracked from planning to shipment. Lots are
// never deleted; terminal states are retained for audit.
type Lot struct {
	ID       uuid.UUID `json:"id"`
	ClientID uuid.UUID `json:"client_id"`
	StyleRef string    `json:"style_ref"`
	Quantity int       `json:"quantity"`
	Status   LotStatus `json:"status"`

	// Derived quality metrics owned by the inspection pipeline; the engine
	// reads them into views and never writes them.
	DefectRate        *float64 `json:"defect_rate,omitempty"`
	InspectedProgress *float64 `json:"inspected_progress,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LotView is the lot together with its supply chain, returned by sync,
// advance, and approval operations.
type LotView struct {
	Lot              *Lot        `json:"lot"`
	Suppliers        []*Supplier `json:"suppliers"`
	PrimaryFactoryID uuid.UUID   `json:"primary_factory_id"`
}
