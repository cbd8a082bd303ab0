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

// DraftRepository handles database operations for drafts and their files
type DraftRepository struct {
	db *db.DB
}

// NewDraftRepository creates a new draft repository
func NewDraftRepository(db *db.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// GetByWorkflow returns the workflow's live draft, or nil when none exists.
// Runs inside tx so the caller's workflow row lock covers the read.
func (r *DraftRepository) GetByWorkflow(ctx context.Context, tx pgx.Tx, workflowID uuid.UUID) (*models.Draft, error) {
	query := `
		SELECT id, workflow_id, name, description, created_by, created_at, updated_at
		FROM drafts
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	draft := &models.Draft{}
	err := tx.QueryRow(ctx, query, workflowID).Scan(
		&draft.ID,
		&draft.WorkflowID,
		&draft.Name,
		&draft.Description,
		&draft.CreatedBy,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	return draft, nil
}

// Create inserts a new draft within tx
func (r *DraftRepository) Create(ctx context.Context, tx pgx.Tx, draft *models.Draft) error {
	query := `
		INSERT INTO drafts (id, workflow_id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		draft.ID,
		draft.WorkflowID,
		draft.Name,
		draft.Description,
		draft.CreatedBy,
	).Scan(&draft.CreatedAt, &draft.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}

	return nil
}

// GetOwnedByUser retrieves a draft only when the owning workflow belongs to
// the given user
func (r *DraftRepository) GetOwnedByUser(ctx context.Context, draftID, userID uuid.UUID) (*models.Draft, error) {
	query := `
		SELECT d.id, d.workflow_id, d.name, d.description, d.created_by, d.created_at, d.updated_at
		FROM drafts d
		JOIN workflows w ON w.id = d.workflow_id
		WHERE d.id = $1 AND w.created_by = $2
	`

	draft := &models.Draft{}
	err := r.db.QueryRow(ctx, query, draftID, userID).Scan(
		&draft.ID,
		&draft.WorkflowID,
		&draft.Name,
		&draft.Description,
		&draft.CreatedBy,
		&draft.CreatedAt,
		&draft.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("draft %s", draftID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	return draft, nil
}

// UpsertFiles inserts or updates one row per entry, keyed by
// (draft_id, file_path). Re-applying the same entries is idempotent; the
// returned count reflects entries processed.
func (r *DraftRepository) UpsertFiles(ctx context.Context, tx pgx.Tx, draftID uuid.UUID, entries []models.FileEntry) (int, error) {
	query := `
		INSERT INTO draft_files (id, draft_id, file_path, content, file_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (draft_id, file_path)
		DO UPDATE SET
			content = EXCLUDED.content,
			file_type = EXCLUDED.file_type,
			updated_at = EXCLUDED.updated_at
	`

	applied := 0
	for _, entry := range entries {
		_, err := tx.Exec(ctx, query,
			uuid.New(),
			draftID,
			entry.Path,
			entry.Content,
			entry.Type,
		)
		if err != nil {
			return applied, fmt.Errorf("failed to upsert draft file %s: %w", entry.Path, err)
		}
		applied++
	}

	return applied, nil
}

// TouchUpdatedAt bumps the draft's updated_at after its files change
func (r *DraftRepository) TouchUpdatedAt(ctx context.Context, tx pgx.Tx, draftID uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE drafts SET updated_at = NOW() WHERE id = $1`, draftID)
	if err != nil {
		return fmt.Errorf("failed to touch draft: %w", err)
	}
	return nil
}

// GetFiles lists a draft's files ordered by path
func (r *DraftRepository) GetFiles(ctx context.Context, draftID uuid.UUID) ([]*models.DraftFile, error) {
	query := `
		SELECT id, draft_id, file_path, content, file_type, created_at, updated_at
		FROM draft_files
		WHERE draft_id = $1
		ORDER BY file_path ASC
	`

	rows, err := r.db.Query(ctx, query, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list draft files: %w", err)
	}
	defer rows.Close()

	var files []*models.DraftFile
	for rows.Next() {
		file := &models.DraftFile{}
		err := rows.Scan(
			&file.ID,
			&file.DraftID,
			&file.FilePath,
			&file.Content,
			&file.FileType,
			&file.CreatedAt,
			&file.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft file: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating draft files: %w", err)
	}

	return files, nil
}
