package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow owns at most one live draft. The is_locked flag, combined with a
// row lock held for the duration of a transaction, is the mutual-exclusion
// mechanism for draft creation and file application.
// Maps to: workflows table
type Workflow struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedBy   uuid.UUID `db:"created_by" json:"created_by"`
	IsLocked    bool      `db:"is_locked" json:"is_locked"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CreateWorkflowRequest is the body of POST /api/workflows
type CreateWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
