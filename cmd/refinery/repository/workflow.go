package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/draftwell/refinery/cmd/refinery/models"
	"github.com/draftwell/refinery/common/db"
)

// WorkflowRepository handles database operations for workflows
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	query := `
		INSERT INTO workflows (id, name, description, created_by, is_locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		wf.ID,
		wf.Name,
		wf.Description,
		wf.CreatedBy,
		wf.IsLocked,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetForOwner retrieves a workflow owned by the given user. A workflow that
// exists under another owner is reported as not found, never as denied.
func (r *WorkflowRepository) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, created_by, is_locked, created_at, updated_at
		FROM workflows
		WHERE id = $1 AND created_by = $2
	`

	wf := &models.Workflow{}
	err := r.db.QueryRow(ctx, query, id, ownerID).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&wf.CreatedBy,
		&wf.IsLocked,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("workflow %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return wf, nil
}

// GetForOwnerLocked loads a workflow under an exclusive row lock held for the
// duration of tx. Concurrent draft operations on the same workflow serialize
// here.
func (r *WorkflowRepository) GetForOwnerLocked(ctx context.Context, tx pgx.Tx, id, ownerID uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, created_by, is_locked, created_at, updated_at
		FROM workflows
		WHERE id = $1 AND created_by = $2
		FOR UPDATE
	`

	wf := &models.Workflow{}
	err := tx.QueryRow(ctx, query, id, ownerID).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&wf.CreatedBy,
		&wf.IsLocked,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("workflow %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow: %w", err)
	}

	return wf, nil
}

// UpdateMeta updates a workflow's name and description
func (r *WorkflowRepository) UpdateMeta(ctx context.Context, id, ownerID uuid.UUID, name, description string) (*models.Workflow, error) {
	query := `
		UPDATE workflows
		SET name = $3, description = $4, updated_at = NOW()
		WHERE id = $1 AND created_by = $2
		RETURNING id, name, description, created_by, is_locked, created_at, updated_at
	`

	wf := &models.Workflow{}
	err := r.db.QueryRow(ctx, query, id, ownerID, name, description).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&wf.CreatedBy,
		&wf.IsLocked,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("workflow %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}
