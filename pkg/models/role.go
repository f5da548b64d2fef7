package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a named production step from the shared catalog (e.g. dyeing,
// cutting, sewing). Read-only reference data from the engine's perspective.
type Role struct {
	ID              uuid.UUID `json:"id"`
	Key             string    `json:"key"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	DefaultSequence int       `json:"default_sequence"`
	DefaultCO2Kg    float64   `json:"default_co2_kg"`
	CreatedAt       time.Time `json:"created_at"`
}
