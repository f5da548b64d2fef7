package models

import (
	"time"

	"github.com/google/uuid"
)

// Factory is a supplier factory owned by a client. Its capability set (the
// roles it is certified to perform) lives in factory_roles and is consulted
// when a supplier plan is synced.
type Factory struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	Name      string    `json:"name"`
	Country   *string   `json:"country,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
