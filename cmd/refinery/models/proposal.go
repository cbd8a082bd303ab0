package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProposalStatus represents the lifecycle state of a proposal
type ProposalStatus string

const (
	ProposalProcessing ProposalStatus = "processing"
	ProposalCompleted  ProposalStatus = "completed"
	ProposalFailed     ProposalStatus = "failed"
	ProposalResolved   ProposalStatus = "resolved"
)

// Resolution records how a proposal was resolved
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
)

// Proposal tracks one refinement request against a draft. Never deleted:
// resolution is terminal but the row is retained for audit.
// Maps to: proposals table
type Proposal struct {
	ID      uuid.UUID `db:"id" json:"id"`
	DraftID uuid.UUID `db:"draft_id" json:"draft_id"`

	// External runtime execution handle; unique, and the reverse lookup
	// key from streaming events back to the proposal.
	ThreadID string `db:"thread_id" json:"thread_id"`

	Instructions     string  `db:"instructions" json:"instructions"`
	ContextFilePath  *string `db:"context_file_path" json:"context_file_path,omitempty"`
	ContextSelection *string `db:"context_selection" json:"context_selection,omitempty"`

	Status     ProposalStatus `db:"status" json:"status"`
	Resolution *Resolution    `db:"resolution" json:"resolution,omitempty"`

	// Snapshot of the runtime's generated files (path → {content, type});
	// null until processing leaves the processing state.
	GeneratedFiles map[string]interface{} `db:"generated_files" json:"generated_files,omitempty"`

	// Opaque audit record, managed by the audit trail builder.
	AuditTrail json.RawMessage `db:"audit_trail" json:"-"`

	CreatedBy   uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ResolvedBy  *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsResolved reports whether the proposal has reached its terminal state
func (p *Proposal) IsResolved() bool {
	return p.Status == ProposalResolved
}

// CanApprove reports whether the proposal is ready for approval
func (p *Proposal) CanApprove() bool {
	return p.Status == ProposalCompleted
}

// ProposalAccess grants a user access to a proposal. Created for the
// requester at proposal-creation time; the sole access-control check for
// read, approve and reject.
// Maps to: proposal_access table
type ProposalAccess struct {
	ProposalID uuid.UUID `db:"proposal_id" json:"proposal_id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	GrantedAt  time.Time `db:"granted_at" json:"granted_at"`
}

// CreateRefinementRequest is the body of POST /api/workflows/:id/refinements
type CreateRefinementRequest struct {
	Instructions     string  `json:"instructions"`
	ContextFilePath  *string `json:"context_file_path,omitempty"`
	ContextSelection *string `json:"context_selection,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
