package model

import "time"

// ApprovalStatus is the decision state of an Approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalKindDealWon is requested when a sales rep closes a deal whose
// value reaches the configured approval threshold.
const ApprovalKindDealWon = "deal_won"

// Approval is a change that waits for a manager's decision before it is
// applied.
type Approval struct {
	ID           int64          `json:"id" db:"id"`
	Kind         string         `json:"kind" db:"kind"`
	DealID       int64          `json:"deal_id" db:"deal_id"`
	RequestedBy  int64          `json:"requested_by" db:"requested_by"`
	Status       ApprovalStatus `json:"status" db:"status"`
	DecidedBy    *int64         `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
	Note         string         `json:"note" db:"note"` // requester's justification
	DecisionNote *string        `json:"decision_note,omitempty" db:"decision_note"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}
