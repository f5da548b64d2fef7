package models

import "github.com/google/uuid"

// SupplierPlanInput is one raw supplier entry as submitted by a client.
// The list may contain duplicates and arbitrary ordering; the normalizer
// produces the canonical form.
type SupplierPlanInput struct {
	FactoryID uuid.UUID       `json:"factory_id"`
	Sequence  *int            `json:"sequence,omitempty"`
	Stage     *string         `json:"stage,omitempty"`
	IsPrimary *bool           `json:"is_primary,omitempty"`
	Roles     []RolePlanInput `json:"roles,omitempty"`
}

// RolePlanInput is one raw role entry within a supplier plan entry.
type RolePlanInput struct {
	RoleID   uuid.UUID `json:"role_id"`
	Sequence *int      `json:"sequence,omitempty"`
	CO2Kg    *float64  `json:"co2_kg,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
}

// SyncPlanRequest is the full sync input: the supplier list plus an optional
// fallback factory used when the list is empty.
type SyncPlanRequest struct {
	Suppliers []SupplierPlanInput `json:"suppliers"`
	FactoryID *uuid.UUID          `json:"factory_id,omitempty"`
}

// NormalizedSupplier is a canonical supplier entry produced by the
// normalizer: finalized sequence, role list sorted and re-sequenced, primary
// flag resolved.
type NormalizedSupplier struct {
	FactoryID uuid.UUID
	Sequence  int
	Stage     *string
	IsPrimary bool
	Roles     []NormalizedRole
}

// NormalizedRole is a canonical role entry within a normalized supplier.
type NormalizedRole struct {
	RoleID   uuid.UUID
	Sequence int
	CO2Kg    *float64
	Notes    *string
}

// NormalizedPlan is the output of plan normalization: a deduplicated,
// sequence-ordered supplier list with exactly one primary factory.
type NormalizedPlan struct {
	Suppliers        []NormalizedSupplier
	PrimaryFactoryID uuid.UUID
}
