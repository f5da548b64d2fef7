package models

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalDecision is the outcome of a quality-approval review.
type ApprovalDecision string

const (
	ApprovalDecisionApprove ApprovalDecision = "APPROVE"
	ApprovalDecisionReject  ApprovalDecision = "REJECT"
)

// Approval is an immutable record of one approval or rejection decision.
// A lot accumulates a history of approvals across resubmissions; rows are
// never mutated or deleted.
type Approval struct {
	ID        uuid.UUID        `json:"id"`
	LotID     uuid.UUID        `json:"lot_id"`
	DeciderID uuid.UUID        `json:"decider_id"`
	Decision  ApprovalDecision `json:"decision"`
	Note      *string          `json:"note,omitempty"`
	DecidedAt time.Time        `json:"decided_at"`
}
